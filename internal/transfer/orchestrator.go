// Package transfer moves package files from one distribution point to
// another and keeps the destination's package records in step.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/Ning0612/dpsync/internal/core/checksum"
	"github.com/Ning0612/dpsync/internal/core/diff"
	"github.com/Ning0612/dpsync/internal/domain"
	"github.com/Ning0612/dpsync/internal/dp"
	"github.com/Ning0612/dpsync/internal/fsutil"
	"github.com/Ning0612/dpsync/internal/logger"
	"github.com/Ning0612/dpsync/internal/pkgapi"
	"github.com/Ning0612/dpsync/internal/progress"
)

// Summary messages logged once per batch
const (
	msgAllTransferred  = "all files were transferred"
	msgSomeTransferred = "not all files were transferred"
	msgNoneTransferred = "no files were transferred"
	msgCanceled        = "file transfer was canceled"
)

// Orchestrator drives transfers between two distribution points
type Orchestrator struct {
	hasher              checksum.Calculator
	log                 logger.Logger
	stagingDir          string
	continueOnDeleteErr bool
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithHasher sets the calculator used for package record checksums
func WithHasher(h checksum.Calculator) Option {
	return func(o *Orchestrator) { o.hasher = h }
}

// WithLogger sets the logger
func WithLogger(l logger.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// WithStagingDir sets where bundles are zipped
func WithStagingDir(dir string) Option {
	return func(o *Orchestrator) { o.stagingDir = dir }
}

// WithContinueOnDeleteError keeps deleting after a failed delete
func WithContinueOnDeleteError(tolerate bool) Option {
	return func(o *Orchestrator) { o.continueOnDeleteErr = tolerate }
}

// New creates an orchestrator
func New(opts ...Option) *Orchestrator {
	o := &Orchestrator{
		stagingDir: filepath.Join(os.TempDir(), "dpsync-staging"),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.hasher == nil {
		o.hasher = checksum.NewDefaultHasher()
	}
	if o.log == nil {
		o.log = logger.Get()
	}
	return o
}

// FilesToSynchronize returns the source files that must be copied to dst
func (o *Orchestrator) FilesToSynchronize(src, dst dp.DistributionPoint, selection []domain.DpFile, forceSync bool) []domain.DpFile {
	plan := diff.FilesToSynchronize(selection, src.Files(), dst.Files(), forceSync)
	for _, f := range plan.Skipped {
		o.log.Debug("file already on destination", "file", f.Name, "destination", dst.Name())
	}
	return plan.Files
}

// CopyFilesToDst copies files from src to dst in order. A failed file is
// logged and counted and the batch continues; cancellation of either point
// or ctx stops the batch before the next phase starts.
func (o *Orchestrator) CopyFilesToDst(ctx context.Context, src, dst dp.DistributionPoint, files []domain.DpFile, tracker *progress.Tracker) domain.TransferResult {
	src.SetInProgressDestination(dst)
	defer src.SetInProgressDestination(nil)

	stages := int64(1)
	if src.WillDownloadFiles() {
		stages = 2
	}
	tracker.SetTotalSize(domain.TotalSize(files) * stages)

	var (
		result   domain.TransferResult
		canceled bool
	)
	for _, file := range files {
		if o.canceled(ctx, src, dst) {
			canceled = true
			break
		}

		tracker.StartFile(file.Name, file.Size)
		stored, err := o.copyFile(ctx, src, dst, file, tracker)
		if err != nil {
			if domain.IsCanceled(err) || o.canceled(ctx, src, dst) {
				canceled = true
				break
			}
			o.log.Error("file transfer failed",
				"file", file.Name,
				"source", src.Name(),
				"destination", dst.Name(),
				"error", err,
			)
			result.FilesFailed++
			continue
		}

		dst.MarkPresent(stored)
		result.FilesTransferred++
		if file.Size > 0 {
			result.BytesTransferred += file.Size
			tracker.AddTransferred(file.Size * stages)
		}
		tracker.FileCompleted()
		o.log.Debug("file transferred", "file", stored.Name, "destination", dst.Name())
	}
	tracker.Finish()

	result.Status = o.logSummary(canceled, result, src, dst)
	return result
}

// logSummary logs the single batch summary and returns its status
func (o *Orchestrator) logSummary(canceled bool, result domain.TransferResult, src, dst dp.DistributionPoint) domain.TransferStatus {
	args := []any{
		"source", src.Name(),
		"destination", dst.Name(),
		"transferred", result.FilesTransferred,
		"failed", result.FilesFailed,
		"bytes", result.BytesTransferred,
	}
	switch {
	case canceled:
		o.log.Warn(msgCanceled, args...)
		return domain.TransferCanceled
	case result.FilesFailed > 0 && result.FilesTransferred == 0:
		o.log.Error(msgNoneTransferred, args...)
		return domain.TransferFailed
	case result.FilesFailed > 0:
		o.log.Warn(msgSomeTransferred, args...)
		return domain.TransferPartial
	}
	o.log.Info(msgAllTransferred, args...)
	return domain.TransferSuccess
}

func (o *Orchestrator) canceled(ctx context.Context, src, dst dp.DistributionPoint) bool {
	return ctx.Err() != nil || src.IsCanceled() || dst.IsCanceled()
}

// copyFile moves one file through staging, metadata and transfer
func (o *Orchestrator) copyFile(ctx context.Context, src, dst dp.DistributionPoint, file domain.DpFile, tracker *progress.Tracker) (domain.DpFile, error) {
	staged, moveFrom, cleanup, err := o.stage(ctx, src, file, tracker)
	if err != nil {
		return domain.DpFile{}, err
	}
	defer cleanup()

	if o.canceled(ctx, src, dst) {
		return domain.DpFile{}, domain.ErrCanceled
	}

	api := dst.PackageAPI()
	if api != nil && dst.UpdatesMetadataBeforeTransfer() {
		if staged, err = o.addOrUpdatePackage(ctx, api, staged, moveFrom); err != nil {
			return domain.DpFile{}, fmt.Errorf("package record for %s: %w", staged.Name, err)
		}
		if o.canceled(ctx, src, dst) {
			return domain.DpFile{}, domain.ErrCanceled
		}
	}

	if err := dst.TransferFile(ctx, staged, moveFrom, tracker); err != nil {
		return domain.DpFile{}, err
	}

	if api != nil && !dst.UpdatesMetadataBeforeTransfer() {
		if o.canceled(ctx, src, dst) {
			return domain.DpFile{}, domain.ErrCanceled
		}
		if staged, err = o.addOrUpdatePackage(ctx, api, staged, moveFrom); err != nil {
			return domain.DpFile{}, fmt.Errorf("package record for %s: %w", staged.Name, err)
		}
	}

	stored := staged.Clone()
	stored.LocalPath = ""
	return stored, nil
}

// stage produces the record and local bytes that dst receives. The source
// record is never modified; cleanup removes whatever staging left behind.
func (o *Orchestrator) stage(ctx context.Context, src dp.DistributionPoint, file domain.DpFile, tracker *progress.Tracker) (domain.DpFile, string, func(), error) {
	noop := func() {}

	if src.WillDownloadFiles() {
		path, err := src.DownloadFile(ctx, file, tracker)
		if err != nil {
			return domain.DpFile{}, "", noop, fmt.Errorf("download %s: %w", file.Name, err)
		}
		staged := file.Clone()
		staged.LocalPath = path
		return staged, path, func() { removeStaged(path) }, nil
	}

	if file.IsFluffy() && !hasFile(src.Files(), dp.ZipName(file.Name)) {
		return o.zipBundle(ctx, file)
	}
	return file, "", noop, nil
}

// zipBundle compresses a bundle package into a new record for its zip
func (o *Orchestrator) zipBundle(ctx context.Context, file domain.DpFile) (domain.DpFile, string, func(), error) {
	noop := func() {}
	if file.LocalPath == "" {
		return domain.DpFile{}, "", noop, fmt.Errorf("%s: no local bundle to zip: %w", file.Name, domain.ErrNotFound)
	}
	if err := os.MkdirAll(o.stagingDir, 0755); err != nil {
		return domain.DpFile{}, "", noop, fsutil.MapError(err)
	}

	name := dp.ZipName(file.Name)
	path := filepath.Join(o.stagingDir, uuid.NewString()+"-"+name)
	size, err := fsutil.ZipBundle(ctx, file.LocalPath, path)
	if err != nil {
		return domain.DpFile{}, "", noop, fmt.Errorf("zip %s: %w", file.Name, err)
	}
	o.log.Debug("bundle zipped", "file", file.Name, "zip", path, "size", size)

	zipped := domain.NewDpFile(name, path, size)
	return zipped, path, func() { removeStaged(path) }, nil
}

func removeStaged(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Get().Warn("remove staged file", "path", path, "error", err)
	}
}

func hasFile(files []domain.DpFile, name string) bool {
	for _, f := range files {
		if strings.EqualFold(f.Name, name) {
			return true
		}
	}
	return false
}

// addOrUpdatePackage makes the package record for file match its content.
// A duplicate add is retried as an update after reloading the records; this
// works around records created moments earlier by another path.
func (o *Orchestrator) addOrUpdatePackage(ctx context.Context, api pkgapi.API, file domain.DpFile, localPath string) (domain.DpFile, error) {
	file, err := o.ensureSHA512(ctx, file, localPath)
	if err != nil {
		return file, err
	}

	if pkg, ok := api.FindByFileName(file.Name); ok {
		return file, api.UpdatePackage(ctx, pkg, file)
	}

	_, err = api.AddPackage(ctx, file)
	if err == nil || !errors.Is(err, domain.ErrDuplicateEntry) {
		return file, err
	}

	o.log.Warn("package record already exists, updating instead", "file", file.Name)
	if lerr := api.LoadPackages(ctx); lerr != nil {
		return file, fmt.Errorf("reload packages: %w", lerr)
	}
	pkg, ok := api.FindByFileName(file.Name)
	if !ok {
		return file, err
	}
	return file, api.UpdatePackage(ctx, pkg, file)
}

// ensureSHA512 returns file with a SHA-512 checksum, hashing the local bytes when needed
func (o *Orchestrator) ensureSHA512(ctx context.Context, file domain.DpFile, localPath string) (domain.DpFile, error) {
	if _, ok := file.Checksums.Find(domain.ChecksumSHA512); ok {
		return file, nil
	}
	if localPath == "" {
		localPath = file.LocalPath
	}
	if localPath == "" || file.IsDir {
		o.log.Debug("no local bytes to hash", "file", file.Name)
		return file, nil
	}

	sums, err := o.hasher.CalculateFile(ctx, localPath, domain.ChecksumSHA512)
	if err != nil {
		return file, fmt.Errorf("hash %s: %w", file.Name, err)
	}
	sha, _ := sums.Find(domain.ChecksumSHA512)

	file = file.Clone()
	file.Checksums.Update(sha)
	return file, nil
}

// DeleteFilesNotOnSource deletes destination files whose names are absent
// from the source catalog and returns how many were deleted. The first
// failure stops the loop unless WithContinueOnDeleteError is set.
func (o *Orchestrator) DeleteFilesNotOnSource(ctx context.Context, src, dst dp.DistributionPoint, tracker *progress.Tracker) (int, error) {
	var (
		deleted int
		errs    []error
	)
	for _, file := range diff.FilesNotOnSource(src.Files(), dst.Files()) {
		if o.canceled(ctx, src, dst) {
			return deleted, domain.ErrCanceled
		}
		if err := dst.DeleteFile(ctx, file, tracker); err != nil {
			err = fmt.Errorf("delete %s from %s: %w", file.Name, dst.Name(), err)
			if !o.continueOnDeleteErr || domain.IsCanceled(err) {
				return deleted, err
			}
			o.log.Error("file delete failed", "file", file.Name, "error", err)
			errs = append(errs, err)
			continue
		}
		dst.MarkRemoved(file.Name)
		deleted++
		o.log.Info("file deleted", "file", file.Name, "destination", dst.Name())
	}
	return deleted, errors.Join(errs...)
}

// DeletePackagesNotOnSource deletes destination package records whose file
// name is absent from the source catalog; a bundle covers its zip
func (o *Orchestrator) DeletePackagesNotOnSource(ctx context.Context, src, dst dp.DistributionPoint) (int, error) {
	api := dst.PackageAPI()
	if api == nil {
		return 0, nil
	}

	names := diff.SourceNames(src.Files())

	var (
		deleted int
		errs    []error
	)
	for _, pkg := range api.Packages() {
		if pkg.FileName == "" {
			continue
		}
		if _, ok := names[pkg.FileName]; ok {
			continue
		}
		if o.canceled(ctx, src, dst) {
			return deleted, domain.ErrCanceled
		}
		if err := api.DeletePackage(ctx, pkg.ID); err != nil {
			err = fmt.Errorf("delete package %s (%s): %w", pkg.Name, pkg.ID, err)
			if !o.continueOnDeleteErr || domain.IsCanceled(err) {
				return deleted, err
			}
			o.log.Error("package delete failed", "package", pkg.Name, "error", err)
			errs = append(errs, err)
			continue
		}
		if dst.DeletesViaPackages() {
			dst.MarkRemoved(pkg.FileName)
		}
		deleted++
		o.log.Info("package deleted", "package", pkg.Name, "file", pkg.FileName)
	}
	return deleted, errors.Join(errs...)
}

package dp

import (
	"context"

	"github.com/Ning0612/dpsync/internal/domain"
	"github.com/Ning0612/dpsync/internal/pkgapi"
	"github.com/Ning0612/dpsync/internal/progress"
)

// DistributionPoint defines the interface for package file stores.
// All implementations keep their own catalog, must honor ctx on every
// blocking call, and return domain-level errors.
type DistributionPoint interface {
	// ID returns a stable identifier
	ID() string

	// Name returns the configured name
	Name() string

	// Capability reports read/write support
	Capability() domain.Capability

	// Files returns a snapshot of the catalog
	Files() []domain.DpFile

	// FilesLoaded is true after a successful ListFiles
	FilesLoaded() bool

	// MarkPresent records a transferred file in the catalog
	MarkPresent(file domain.DpFile)

	// MarkRemoved drops a deleted file from the catalog
	MarkRemoved(name string) bool

	// Prepare performs idempotent setup such as mounting a share
	Prepare(ctx context.Context) error

	// Cleanup performs idempotent teardown; callers log failures
	Cleanup(ctx context.Context) error

	// ListFiles replaces the catalog.
	// limitToKnownTypes applies the package file-type filter.
	ListFiles(ctx context.Context, limitToKnownTypes bool) error

	// DownloadFile stages file locally and returns the local path.
	// Variants that never stage return "" and no error.
	DownloadFile(ctx context.Context, file domain.DpFile, tracker *progress.Tracker) (string, error)

	// TransferFile copies file into this distribution point.
	// When moveFrom is set the bytes at that path are consumed.
	TransferFile(ctx context.Context, file domain.DpFile, moveFrom string, tracker *progress.Tracker) error

	// DeleteFile removes one file
	DeleteFile(ctx context.Context, file domain.DpFile, tracker *progress.Tracker) error

	// Cancel stops work on this point, the destination it is feeding and its package API
	Cancel()

	// IsCanceled reports whether Cancel was called
	IsCanceled() bool

	// NeedsCredentialPrompt reports whether credentials are missing
	NeedsCredentialPrompt() bool

	// WillDownloadFiles is true when files must be staged locally before another point can receive them
	WillDownloadFiles() bool

	// UpdatesMetadataBeforeTransfer is true when the package record must exist before the bytes
	UpdatesMetadataBeforeTransfer() bool

	// DeletesViaPackages is true when DeleteFile is a no-op and removal happens by deleting package records
	DeletesViaPackages() bool

	// PackageAPI returns the package-metadata collaborator, or nil
	PackageAPI() pkgapi.API

	// SetInProgressDestination registers the point currently receiving files from this one
	SetInProgressDestination(dst DistributionPoint)
}

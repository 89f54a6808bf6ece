package dp

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/Ning0612/dpsync/internal/core/session"
	"github.com/Ning0612/dpsync/internal/domain"
	"github.com/Ning0612/dpsync/internal/logger"
	"github.com/Ning0612/dpsync/internal/pkgapi"
	"github.com/Ning0612/dpsync/internal/progress"
)

// Base holds the state shared by every variant. Variants embed *Base and
// override ListFiles, TransferFile and DeleteFile; the defaults report
// domain.ErrProgramming.
type Base struct {
	id         string
	name       string
	capability domain.Capability
	packages   pkgapi.API
	log        logger.Logger

	mu          sync.RWMutex
	catalog     domain.DpFiles
	filesLoaded bool
	inProgress  DistributionPoint

	canceled atomic.Bool
	sessions *session.Registry
}

// NewBase creates the shared state of a distribution point
func NewBase(name string, capability domain.Capability, packages pkgapi.API) *Base {
	return &Base{
		id:         uuid.NewString(),
		name:       name,
		capability: capability,
		packages:   packages,
		log:        logger.With("dp", name),
		sessions:   session.NewRegistry(),
	}
}

// ID implements DistributionPoint
func (b *Base) ID() string { return b.id }

// Name implements DistributionPoint
func (b *Base) Name() string { return b.name }

// Capability implements DistributionPoint
func (b *Base) Capability() domain.Capability { return b.capability }

// Logger returns the point's logger
func (b *Base) Logger() logger.Logger { return b.log }

// Files implements DistributionPoint
func (b *Base) Files() []domain.DpFile {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.catalog.Snapshot()
}

// FindFile looks a catalog record up by name
func (b *Base) FindFile(name string) (domain.DpFile, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.catalog.FindByName(name)
}

// FilesLoaded implements DistributionPoint
func (b *Base) FilesLoaded() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.filesLoaded
}

// SetFiles replaces the catalog and marks it loaded
func (b *Base) SetFiles(files []domain.DpFile) {
	b.mu.Lock()
	b.catalog.Replace(files)
	b.filesLoaded = true
	b.mu.Unlock()
}

// MarkPresent implements DistributionPoint
func (b *Base) MarkPresent(file domain.DpFile) {
	b.mu.Lock()
	b.catalog.Upsert(file.Clone())
	b.mu.Unlock()
}

// MarkRemoved implements DistributionPoint
func (b *Base) MarkRemoved(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.catalog.Remove(name)
}

// Prepare implements DistributionPoint (no-op)
func (b *Base) Prepare(ctx context.Context) error { return nil }

// Cleanup implements DistributionPoint (no-op)
func (b *Base) Cleanup(ctx context.Context) error { return nil }

// ListFiles must be overridden
func (b *Base) ListFiles(ctx context.Context, limitToKnownTypes bool) error {
	return fmt.Errorf("%s: ListFiles not implemented: %w", b.name, domain.ErrProgramming)
}

// DownloadFile is unsupported by default
func (b *Base) DownloadFile(ctx context.Context, file domain.DpFile, tracker *progress.Tracker) (string, error) {
	return "", nil
}

// TransferFile must be overridden
func (b *Base) TransferFile(ctx context.Context, file domain.DpFile, moveFrom string, tracker *progress.Tracker) error {
	return fmt.Errorf("%s: TransferFile not implemented: %w", b.name, domain.ErrProgramming)
}

// DeleteFile must be overridden
func (b *Base) DeleteFile(ctx context.Context, file domain.DpFile, tracker *progress.Tracker) error {
	return fmt.Errorf("%s: DeleteFile not implemented: %w", b.name, domain.ErrProgramming)
}

// Cancel implements DistributionPoint
func (b *Base) Cancel() {
	if b.canceled.Swap(true) {
		return
	}
	b.log.Info("canceling")
	b.sessions.CancelAll()

	b.mu.RLock()
	dst := b.inProgress
	b.mu.RUnlock()
	if dst != nil {
		dst.Cancel()
	}
	if b.packages != nil {
		b.packages.Cancel()
	}
}

// IsCanceled implements DistributionPoint
func (b *Base) IsCanceled() bool { return b.canceled.Load() }

// ResetCancel clears the canceled flag before a new run
func (b *Base) ResetCancel() {
	b.canceled.Store(false)
	b.sessions.Reset()
}

// Session returns a context that Cancel tears down. Call release when done.
func (b *Base) Session(ctx context.Context) (context.Context, context.CancelFunc) {
	return b.sessions.Track(ctx)
}

// CheckCanceled returns domain.ErrCanceled after Cancel or when ctx is done
func (b *Base) CheckCanceled(ctx context.Context) error {
	if b.IsCanceled() {
		return domain.ErrCanceled
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %v", domain.ErrCanceled, ctx.Err())
	}
	return nil
}

// NeedsCredentialPrompt implements DistributionPoint
func (b *Base) NeedsCredentialPrompt() bool { return false }

// WillDownloadFiles implements DistributionPoint
func (b *Base) WillDownloadFiles() bool { return false }

// UpdatesMetadataBeforeTransfer implements DistributionPoint
func (b *Base) UpdatesMetadataBeforeTransfer() bool { return false }

// DeletesViaPackages implements DistributionPoint
func (b *Base) DeletesViaPackages() bool { return false }

// PackageAPI implements DistributionPoint
func (b *Base) PackageAPI() pkgapi.API { return b.packages }

// SetInProgressDestination implements DistributionPoint
func (b *Base) SetInProgressDestination(dst DistributionPoint) {
	b.mu.Lock()
	b.inProgress = dst
	b.mu.Unlock()
}

// RequireWrite returns domain.ErrReadOnly when the point cannot be written
func (b *Base) RequireWrite() error {
	if !b.capability.CanWrite() {
		return fmt.Errorf("%s: %w", b.name, domain.ErrReadOnly)
	}
	return nil
}

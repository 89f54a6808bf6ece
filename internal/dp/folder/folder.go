// Package folder implements a distribution point on a local directory.
package folder

import (
	"context"
	"fmt"

	"github.com/Ning0612/dpsync/internal/core/checksum"
	"github.com/Ning0612/dpsync/internal/domain"
	"github.com/Ning0612/dpsync/internal/dp"
	"github.com/Ning0612/dpsync/internal/pkgapi"
	"github.com/Ning0612/dpsync/internal/progress"
)

// Folder is a distribution point backed by a local directory
type Folder struct {
	*dp.Base
	store *dp.LocalStore
}

// New creates a folder distribution point rooted at root.
// packages may be nil when no package server is associated.
func New(name, root string, capability domain.Capability, hasher checksum.Calculator, hashOnList bool, packages pkgapi.API) *Folder {
	return &Folder{
		Base:  dp.NewBase(name, capability, packages),
		store: dp.NewLocalStore(root, hasher, hashOnList),
	}
}

// Root returns the directory the folder operates on
func (f *Folder) Root() string {
	return f.store.Root()
}

// SetRoot points the folder at another directory
func (f *Folder) SetRoot(root string) {
	f.store.SetRoot(root)
}

// Prepare verifies the directory exists
func (f *Folder) Prepare(ctx context.Context) error {
	if err := f.store.CheckRoot(); err != nil {
		return fmt.Errorf("prepare %s: %w", f.Name(), err)
	}
	return nil
}

// ListFiles implements dp.DistributionPoint
func (f *Folder) ListFiles(ctx context.Context, limitToKnownTypes bool) error {
	ctx, release := f.Session(ctx)
	defer release()

	files, err := f.store.List(ctx, limitToKnownTypes)
	if err != nil {
		return fmt.Errorf("list %s: %w", f.Name(), err)
	}
	f.SetFiles(files)
	f.Logger().Debug("listed files", "count", len(files), "root", f.store.Root())
	return nil
}

// TransferFile implements dp.DistributionPoint
func (f *Folder) TransferFile(ctx context.Context, file domain.DpFile, moveFrom string, tracker *progress.Tracker) error {
	if err := f.RequireWrite(); err != nil {
		return err
	}
	if err := f.CheckCanceled(ctx); err != nil {
		return err
	}
	ctx, release := f.Session(ctx)
	defer release()

	if _, err := f.store.Transfer(ctx, file, moveFrom, tracker); err != nil {
		return fmt.Errorf("transfer %s to %s: %w", file.Name, f.Name(), err)
	}
	return nil
}

// DeleteFile implements dp.DistributionPoint
func (f *Folder) DeleteFile(ctx context.Context, file domain.DpFile, tracker *progress.Tracker) error {
	if err := f.RequireWrite(); err != nil {
		return err
	}
	if err := f.CheckCanceled(ctx); err != nil {
		return err
	}
	if err := f.store.Delete(ctx, file); err != nil {
		return fmt.Errorf("delete %s from %s: %w", file.Name, f.Name(), err)
	}
	return nil
}

// Package fileshare implements a distribution point on a mounted network share.
package fileshare

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Ning0612/dpsync/internal/core/checksum"
	"github.com/Ning0612/dpsync/internal/domain"
	"github.com/Ning0612/dpsync/internal/dp/folder"
	"github.com/Ning0612/dpsync/internal/pkgapi"
)

// Share is a folder distribution point whose root is a mounted share
type Share struct {
	*folder.Folder

	spec    ShareSpec
	mounter Mounter

	mu        sync.Mutex
	mountPath string
}

// New creates a file share distribution point
func New(name string, spec ShareSpec, capability domain.Capability, mounter Mounter, hasher checksum.Calculator, hashOnList bool, packages pkgapi.API) *Share {
	if mounter == nil {
		mounter = StaticMounter{}
	}
	return &Share{
		Folder:  folder.New(name, spec.MountPath, capability, hasher, hashOnList, packages),
		spec:    spec,
		mounter: mounter,
	}
}

// Spec returns the share description
func (s *Share) Spec() ShareSpec {
	return s.spec
}

// NeedsCredentialPrompt reports a missing username or password
func (s *Share) NeedsCredentialPrompt() bool {
	return s.spec.Username == "" || s.spec.Password == ""
}

// Prepare mounts the share; it is a no-op when already mounted
func (s *Share) Prepare(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mountPath != "" {
		return nil
	}
	if err := s.spec.Validate(); err != nil {
		return fmt.Errorf("prepare %s: %w", s.Name(), err)
	}

	path, err := s.mounter.Mount(ctx, s.spec)
	if err != nil {
		var mountErr *domain.MountError
		if errors.As(err, &mountErr) {
			return fmt.Errorf("prepare %s: %w", s.Name(), err)
		}
		return fmt.Errorf("prepare %s: %w", s.Name(), &domain.MountError{Reason: domain.MountFailed, Err: err})
	}

	s.SetRoot(path)
	if err := s.Folder.Prepare(ctx); err != nil {
		if uerr := s.mounter.Unmount(ctx, path); uerr != nil {
			s.Logger().Warn("unmount after failed prepare", "path", path, "error", uerr)
		}
		return err
	}

	s.mountPath = path
	s.Logger().Info("share mounted", "address", s.spec.Address, "share", s.spec.ShareName, "path", path)
	return nil
}

// Cleanup unmounts the share; it is a no-op when not mounted
func (s *Share) Cleanup(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mountPath == "" {
		return nil
	}
	if err := s.mounter.Unmount(ctx, s.mountPath); err != nil {
		return fmt.Errorf("cleanup %s: %w", s.Name(), err)
	}
	s.Logger().Info("share unmounted", "path", s.mountPath)
	s.mountPath = ""
	return nil
}

// Mounted reports whether Prepare succeeded and Cleanup has not run
func (s *Share) Mounted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mountPath != ""
}

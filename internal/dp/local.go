package dp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Ning0612/dpsync/internal/core/checksum"
	"github.com/Ning0612/dpsync/internal/domain"
	"github.com/Ning0612/dpsync/internal/fsutil"
	"github.com/Ning0612/dpsync/internal/progress"
)

// listHashAlgorithms are computed for each flat file when hashing on list
var listHashAlgorithms = []domain.ChecksumType{domain.ChecksumMD5, domain.ChecksumSHA512}

// LocalStore implements listing and file operations on a directory.
// Folder and file-share points share it.
type LocalStore struct {
	root       string
	hasher     checksum.Calculator
	hashOnList bool
}

// NewLocalStore creates a store rooted at root.
// hasher may be nil when hashOnList is false.
func NewLocalStore(root string, hasher checksum.Calculator, hashOnList bool) *LocalStore {
	return &LocalStore{root: root, hasher: hasher, hashOnList: hashOnList}
}

// Root returns the directory the store operates on
func (s *LocalStore) Root() string {
	return s.root
}

// SetRoot changes the root, e.g. after a share is mounted
func (s *LocalStore) SetRoot(root string) {
	s.root = root
}

// CheckRoot verifies the root exists and is a directory
func (s *LocalStore) CheckRoot() error {
	info, err := os.Stat(s.root)
	if err != nil {
		return fsutil.MapError(err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s: %w", s.root, domain.ErrNotDirectory)
	}
	return nil
}

// resolvePath safely resolves a file name to an absolute path within root.
// Returns an error if the name attempts to escape the root directory.
func (s *LocalStore) resolvePath(name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if clean == "." || filepath.IsAbs(clean) {
		return "", fmt.Errorf("%q: %w", name, domain.ErrPermissionDenied)
	}

	fullPath := filepath.Join(s.root, clean)

	// filepath.Rel handles root="/a" and fullPath="/ab"
	rel, err := filepath.Rel(s.root, fullPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%q: %w", name, domain.ErrPermissionDenied)
	}
	return fullPath, nil
}

// List enumerates the root directory
func (s *LocalStore) List(ctx context.Context, limitToKnownTypes bool) ([]domain.DpFile, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fsutil.MapError(err)
	}
	if limitToKnownTypes {
		entries = FilterEntries(entries)
	}

	files := make([]domain.DpFile, 0, len(entries))
	for _, entry := range entries {
		if ctx.Err() != nil {
			return nil, fsutil.MapError(ctx.Err())
		}
		if fsutil.IsPlaceholder(entry.Name()) || strings.HasPrefix(entry.Name(), ".") {
			continue
		}

		path := filepath.Join(s.root, entry.Name())
		size, err := fsutil.Size(path)
		if err != nil {
			continue // Skip entries we can't read
		}

		file := domain.NewDpFile(entry.Name(), path, size)
		file.IsDir = entry.IsDir()

		if s.hashOnList && s.hasher != nil && !file.IsDir {
			sums, err := s.hasher.CalculateFile(ctx, path, listHashAlgorithms...)
			if err != nil {
				if ctx.Err() != nil {
					return nil, fsutil.MapError(ctx.Err())
				}
				// Fall back to size comparison for this file
			} else {
				file.Checksums = sums
			}
		}

		files = append(files, file)
	}
	return files, nil
}

// Transfer writes file into the root and returns the stored record
func (s *LocalStore) Transfer(ctx context.Context, file domain.DpFile, moveFrom string, tracker *progress.Tracker) (domain.DpFile, error) {
	dst, err := s.resolvePath(file.Name)
	if err != nil {
		return domain.DpFile{}, err
	}

	if moveFrom != "" {
		err = fsutil.Move(ctx, moveFrom, dst, tracker)
	} else {
		if file.LocalPath == "" {
			return domain.DpFile{}, fmt.Errorf("%s: no local copy to transfer: %w", file.Name, domain.ErrNotFound)
		}
		err = fsutil.Copy(ctx, file.LocalPath, dst, tracker)
	}
	if err != nil {
		return domain.DpFile{}, err
	}

	stored := file.Clone()
	stored.LocalPath = dst
	return stored, nil
}

// Delete removes file from the root
func (s *LocalStore) Delete(ctx context.Context, file domain.DpFile) error {
	path, err := s.resolvePath(file.Name)
	if err != nil {
		return err
	}
	return fsutil.Remove(path)
}

// Package fsutil provides the file-system operations used by local
// distribution points and the transfer staging step.
package fsutil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/Ning0612/dpsync/internal/domain"
	"github.com/Ning0612/dpsync/internal/logger"
	"github.com/Ning0612/dpsync/internal/progress"
)

// placeholderPrefix marks in-flight files written by Copy and Move
const placeholderPrefix = ".dpsync-"

// Size returns the size of a file, or the total size of a directory tree
func Size(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, MapError(err)
	}
	if !info.IsDir() {
		return info.Size(), nil
	}

	var total int64
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			fi, err := d.Info()
			if err != nil {
				return err
			}
			total += fi.Size()
		}
		return nil
	})
	if err != nil {
		return 0, MapError(err)
	}
	return total, nil
}

// Copy copies a file or directory tree from src to dst, replacing dst.
// File bytes are reported to tracker.
func Copy(ctx context.Context, src, dst string, tracker *progress.Tracker) error {
	info, err := os.Stat(src)
	if err != nil {
		return MapError(err)
	}
	if info.IsDir() {
		return copyTree(ctx, src, dst, tracker)
	}
	return replaceWithContent(ctx, src, dst, tracker)
}

// Move moves src to dst so that dst gets the permissions a new file in its
// directory would get: a placeholder is created in the destination
// directory, filled with the source bytes, renamed over dst, and the
// original is then removed on a best-effort basis.
func Move(ctx context.Context, src, dst string, tracker *progress.Tracker) error {
	info, err := os.Stat(src)
	if err != nil {
		return MapError(err)
	}
	if info.IsDir() {
		if err := copyTree(ctx, src, dst, tracker); err != nil {
			return err
		}
	} else if err := replaceWithContent(ctx, src, dst, tracker); err != nil {
		return err
	}

	if err := os.RemoveAll(src); err != nil {
		logger.Get().Warn("failed to remove moved file", "path", src, "error", err)
	}
	return nil
}

// Remove deletes a file or directory tree
func Remove(path string) error {
	if _, err := os.Lstat(path); err != nil {
		return MapError(err)
	}
	return MapError(os.RemoveAll(path))
}

// replaceWithContent writes src into a placeholder next to dst, then renames it over dst
func replaceWithContent(ctx context.Context, src, dst string, tracker *progress.Tracker) error {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return MapError(err)
	}

	in, err := os.Open(src)
	if err != nil {
		return MapError(err)
	}
	defer in.Close()

	placeholder := filepath.Join(dir, placeholderPrefix+uuid.NewString())
	out, err := os.OpenFile(placeholder, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return MapError(err)
	}

	_, copyErr := io.Copy(out, progress.NewReader(&ctxReader{ctx: ctx, r: in}, tracker))
	closeErr := out.Close()

	if copyErr != nil {
		os.Remove(placeholder)
		return MapError(copyErr)
	}
	if closeErr != nil {
		os.Remove(placeholder)
		return MapError(closeErr)
	}

	// Directories are not replaced by rename
	if fi, err := os.Lstat(dst); err == nil && fi.IsDir() {
		if err := os.RemoveAll(dst); err != nil {
			os.Remove(placeholder)
			return MapError(err)
		}
	}

	if err := os.Rename(placeholder, dst); err != nil {
		os.Remove(placeholder)
		return MapError(err)
	}
	return nil
}

func copyTree(ctx context.Context, src, dst string, tracker *progress.Tracker) error {
	staging := filepath.Join(filepath.Dir(dst), placeholderPrefix+uuid.NewString())
	var copied int64

	err := filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(staging, rel)

		switch {
		case d.IsDir():
			return os.MkdirAll(target, 0755)
		case d.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(p)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		case d.Type().IsRegular():
			n, err := copyRegular(ctx, p, target)
			copied += n
			tracker.UpdateFile(copied)
			return err
		}
		return nil
	})
	if err != nil {
		os.RemoveAll(staging)
		return MapError(err)
	}

	if err := os.RemoveAll(dst); err != nil {
		os.RemoveAll(staging)
		return MapError(err)
	}
	if err := os.Rename(staging, dst); err != nil {
		os.RemoveAll(staging)
		return MapError(err)
	}
	return nil
}

func copyRegular(ctx context.Context, src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return 0, err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return 0, err
	}
	n, copyErr := io.Copy(out, &ctxReader{ctx: ctx, r: in})
	closeErr := out.Close()
	if copyErr != nil {
		return n, copyErr
	}
	return n, closeErr
}

// ctxReader stops reading once ctx is done
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// IsPlaceholder reports whether name belongs to an in-flight copy
func IsPlaceholder(name string) bool {
	return strings.HasPrefix(name, placeholderPrefix)
}

// MapError converts OS errors to domain errors
func MapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrCanceled, err)
	}
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %v", domain.ErrNotFound, err)
	}
	if errors.Is(err, fs.ErrPermission) {
		return fmt.Errorf("%w: %v", domain.ErrPermissionDenied, err)
	}
	return err
}

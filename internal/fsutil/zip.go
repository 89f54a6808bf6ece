package fsutil

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zip"
)

// ZipBundle compresses the bundle directory at dir into zipPath and returns
// the size of the archive. Entries are stored under the bundle's own name
// so that unzipping recreates the bundle.
func ZipBundle(ctx context.Context, dir, zipPath string) (int64, error) {
	tmp := filepath.Join(filepath.Dir(zipPath), placeholderPrefix+uuid.NewString())
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return 0, MapError(err)
	}

	zw := zip.NewWriter(out)
	parent := filepath.Dir(dir)

	walkErr := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(parent, p)
		if err != nil {
			return err
		}

		header, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)

		switch {
		case d.IsDir():
			header.Name += "/"
			_, err := zw.CreateHeader(header)
			return err
		case d.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(p)
			if err != nil {
				return err
			}
			w, err := zw.CreateHeader(header)
			if err != nil {
				return err
			}
			_, err = io.WriteString(w, link)
			return err
		case d.Type().IsRegular():
			header.Method = zip.Deflate
			w, err := zw.CreateHeader(header)
			if err != nil {
				return err
			}
			in, err := os.Open(p)
			if err != nil {
				return err
			}
			defer in.Close()
			_, err = io.Copy(w, &ctxReader{ctx: ctx, r: in})
			return err
		}
		return nil
	})

	zipErr := zw.Close()
	closeErr := out.Close()
	for _, err := range []error{walkErr, zipErr, closeErr} {
		if err != nil {
			os.Remove(tmp)
			return 0, MapError(err)
		}
	}

	if err := os.Rename(tmp, zipPath); err != nil {
		os.Remove(tmp)
		return 0, MapError(err)
	}
	return Size(zipPath)
}

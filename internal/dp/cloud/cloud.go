// Package cloud implements the cloud distribution point that has no file
// listing API. Its catalog is the package server's package list, bytes are
// uploaded against an existing package record, and files are removed by
// deleting the package record.
package cloud

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/Ning0612/dpsync/internal/domain"
	"github.com/Ning0612/dpsync/internal/dp"
	"github.com/Ning0612/dpsync/internal/pkgapi"
	"github.com/Ning0612/dpsync/internal/progress"
	"github.com/Ning0612/dpsync/internal/server"
)

// uploadField is the form field carrying the file
const uploadField = "file"

// Cloud is a distribution point whose catalog comes from package records
type Cloud struct {
	*dp.Base
	conn *server.Connection
}

// New creates a cloud distribution point. packages must be the JSON flavor
// because only it has an upload endpoint.
func New(name string, capability domain.Capability, conn *server.Connection, packages pkgapi.API) (*Cloud, error) {
	if packages == nil || packages.Flavor() != domain.APIJSON {
		return nil, fmt.Errorf("%s: cloud distribution point needs the json package api: %w", name, domain.ErrConfigInvalid)
	}
	return &Cloud{
		Base: dp.NewBase(name, capability, packages),
		conn: conn,
	}, nil
}

// UpdatesMetadataBeforeTransfer is true: bytes are uploaded against a package id
func (c *Cloud) UpdatesMetadataBeforeTransfer() bool { return true }

// DeletesViaPackages is true: deleting the package record removes the file
func (c *Cloud) DeletesViaPackages() bool { return true }

// Cancel also tears down requests on the server connection
func (c *Cloud) Cancel() {
	c.Base.Cancel()
	c.conn.Cancel()
}

// ResetCancel allows work again after Cancel
func (c *Cloud) ResetCancel() {
	c.Base.ResetCancel()
	c.conn.Reset()
}

// ListFiles rebuilds the catalog from the package records
func (c *Cloud) ListFiles(ctx context.Context, limitToKnownTypes bool) error {
	ctx, release := c.Session(ctx)
	defer release()

	api := c.PackageAPI()
	if err := api.LoadPackages(ctx); err != nil {
		return fmt.Errorf("list %s: %w", c.Name(), err)
	}

	pkgs := api.Packages()
	files := make([]domain.DpFile, 0, len(pkgs))
	for _, p := range pkgs {
		if p.FileName == "" {
			continue
		}
		files = append(files, p.ToDpFile())
	}
	if limitToKnownTypes {
		files = dp.FilterFiles(files)
	}

	c.SetFiles(files)
	c.Logger().Debug("listed files from package records", "count", len(files))
	return nil
}

// TransferFile uploads file to the package record of the same file name
func (c *Cloud) TransferFile(ctx context.Context, file domain.DpFile, moveFrom string, tracker *progress.Tracker) error {
	if err := c.RequireWrite(); err != nil {
		return err
	}
	if err := c.CheckCanceled(ctx); err != nil {
		return err
	}

	path := moveFrom
	if path == "" {
		path = file.LocalPath
	}
	if path == "" {
		return fmt.Errorf("%s: no local copy to upload: %w", file.Name, domain.ErrNotFound)
	}

	pkg, ok := c.PackageAPI().FindByFileName(file.Name)
	if !ok {
		return fmt.Errorf("%s: no package record to upload to: %w", file.Name, domain.ErrNotFound)
	}

	ctx, release := c.Session(ctx)
	defer release()

	if err := c.upload(ctx, pkg.ID, path, file.Name, tracker); err != nil {
		return fmt.Errorf("upload %s to %s: %w", file.Name, c.Name(), err)
	}

	if moveFrom != "" {
		if err := os.Remove(moveFrom); err != nil && !os.IsNotExist(err) {
			c.Logger().Warn("remove staged file", "path", moveFrom, "error", err)
		}
	}
	return nil
}

// upload streams a multipart form to the package upload endpoint
func (c *Cloud) upload(ctx context.Context, id, path, name string, tracker *progress.Tracker) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)

	go func() {
		part, err := form.CreateFormFile(uploadField, filepath.Base(name))
		if err == nil {
			_, err = io.Copy(part, progress.NewReader(f, tracker))
		}
		if err == nil {
			err = form.Close()
		}
		pw.CloseWithError(err)
	}()

	resp, err := c.conn.Do(ctx, server.Request{
		Method:      http.MethodPost,
		Path:        "/api/v1/packages/" + id + "/upload",
		Body:        pr,
		ContentType: form.FormDataContentType(),
		Accept:      "application/json",
		Transfer:    true,
	})
	if err != nil {
		pr.CloseWithError(err)
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// DeleteFile is a no-op; the file goes away with its package record
func (c *Cloud) DeleteFile(ctx context.Context, file domain.DpFile, tracker *progress.Tracker) error {
	return nil
}

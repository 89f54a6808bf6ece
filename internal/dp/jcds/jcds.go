// Package jcds implements the cloud distribution point that has its own file
// listing API. Uploads go straight to the backing bucket as multipart uploads
// with temporary credentials handed out by the package server.
package jcds

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/Ning0612/dpsync/internal/domain"
	"github.com/Ning0612/dpsync/internal/dp"
	"github.com/Ning0612/dpsync/internal/fsutil"
	"github.com/Ning0612/dpsync/internal/multipart"
	"github.com/Ning0612/dpsync/internal/pkgapi"
	"github.com/Ning0612/dpsync/internal/progress"
	"github.com/Ning0612/dpsync/internal/server"
)

const (
	filesPath = "/api/v1/jcds/files"
	renewPath = "/api/v1/jcds/renew-credentials"
)

// remoteFile is one entry of the file listing
type remoteFile struct {
	FileName string `json:"fileName"`
	Length   int64  `json:"length"`
	MD5      string `json:"md5"`
	SHA3     string `json:"sha3"`
	Region   string `json:"region"`
}

func (f remoteFile) toDpFile() domain.DpFile {
	file := domain.NewDpFile(f.FileName, "", f.Length)
	if f.MD5 != "" {
		file.Checksums.Update(domain.Checksum{Type: domain.ChecksumMD5, Value: f.MD5})
	}
	if f.SHA3 != "" {
		file.Checksums.Update(domain.Checksum{Type: domain.ChecksumSHA3512, Value: f.SHA3})
	}
	return file
}

// uploadCredentials are returned by the initiate and renew calls
type uploadCredentials struct {
	AccessKeyID     string    `json:"accessKeyID"`
	SecretAccessKey string    `json:"secretAccessKey"`
	SessionToken    string    `json:"sessionToken"`
	Region          string    `json:"region"`
	Expiration      time.Time `json:"expiration"`
	BucketName      string    `json:"bucketName"`
	Path            string    `json:"path"`
	UUID            string    `json:"uuid"`
}

func (c uploadCredentials) toCredentials() multipart.Credentials {
	return multipart.Credentials{
		AccessKeyID:     c.AccessKeyID,
		SecretAccessKey: c.SecretAccessKey,
		SessionToken:    c.SessionToken,
		Region:          c.Region,
		Bucket:          c.BucketName,
		Prefix:          c.Path,
		Expiration:      c.Expiration,
	}
}

// downloadLocation is the pre-signed address of one file
type downloadLocation struct {
	URI string `json:"uri"`
}

// JCDS is a cloud distribution point with a listing API
type JCDS struct {
	*dp.Base
	conn       *server.Connection
	uploader   *multipart.Uploader
	stagingDir string
}

// Option configures a JCDS
type Option func(*JCDS)

// WithUploader replaces the default multipart uploader
func WithUploader(u *multipart.Uploader) Option {
	return func(j *JCDS) { j.uploader = u }
}

// WithStagingDir sets where downloaded files are staged
func WithStagingDir(dir string) Option {
	return func(j *JCDS) { j.stagingDir = dir }
}

// New creates a JCDS distribution point on conn
func New(name string, capability domain.Capability, conn *server.Connection, packages pkgapi.API, opts ...Option) *JCDS {
	j := &JCDS{
		Base:       dp.NewBase(name, capability, packages),
		conn:       conn,
		stagingDir: filepath.Join(os.TempDir(), "dpsync-staging"),
	}
	for _, opt := range opts {
		opt(j)
	}
	if j.uploader == nil {
		j.uploader = multipart.NewUploader(multipart.WithLogger(j.Logger()))
	}
	return j
}

// WillDownloadFiles is true: the bytes live in a bucket and are staged locally
func (j *JCDS) WillDownloadFiles() bool { return true }

// Cancel also tears down requests on the server connection
func (j *JCDS) Cancel() {
	j.Base.Cancel()
	j.conn.Cancel()
}

// ResetCancel allows work again after Cancel
func (j *JCDS) ResetCancel() {
	j.Base.ResetCancel()
	j.conn.Reset()
}

// ListFiles implements dp.DistributionPoint
func (j *JCDS) ListFiles(ctx context.Context, limitToKnownTypes bool) error {
	ctx, release := j.Session(ctx)
	defer release()

	var remote []remoteFile
	if err := j.conn.GetJSON(ctx, filesPath, &remote); err != nil {
		return fmt.Errorf("list %s: %w", j.Name(), err)
	}

	files := make([]domain.DpFile, 0, len(remote))
	for _, r := range remote {
		files = append(files, r.toDpFile())
	}
	if limitToKnownTypes {
		files = dp.FilterFiles(files)
	}

	j.SetFiles(files)
	j.Logger().Debug("listed files", "count", len(files))
	return nil
}

// DownloadFile stages file in the staging directory and returns its path
func (j *JCDS) DownloadFile(ctx context.Context, file domain.DpFile, tracker *progress.Tracker) (string, error) {
	if err := j.CheckCanceled(ctx); err != nil {
		return "", err
	}
	ctx, release := j.Session(ctx)
	defer release()

	var loc downloadLocation
	if err := j.conn.GetJSON(ctx, filesPath+"/"+url.PathEscape(file.Name), &loc); err != nil {
		return "", fmt.Errorf("locate %s: %w", file.Name, err)
	}
	if loc.URI == "" {
		return "", fmt.Errorf("locate %s: %w: empty uri", file.Name, domain.ErrInvalidResponse)
	}

	resp, err := j.conn.Fetch(ctx, loc.URI)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", file.Name, err)
	}
	defer resp.Body.Close()

	if err := os.MkdirAll(j.stagingDir, 0755); err != nil {
		return "", fsutil.MapError(err)
	}
	path := filepath.Join(j.stagingDir, uuid.NewString()+"-"+filepath.Base(file.Name))
	out, err := os.Create(path)
	if err != nil {
		return "", fsutil.MapError(err)
	}

	_, err = io.Copy(progress.NewWriter(out, tracker), resp.Body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		if ctx.Err() != nil {
			return "", fmt.Errorf("download %s: %w", file.Name, domain.ErrCanceled)
		}
		return "", fmt.Errorf("download %s: %w", file.Name, err)
	}

	j.Logger().Debug("file staged", "file", file.Name, "path", path)
	return path, nil
}

// TransferFile uploads file to the bucket as a multipart object
func (j *JCDS) TransferFile(ctx context.Context, file domain.DpFile, moveFrom string, tracker *progress.Tracker) error {
	if err := j.RequireWrite(); err != nil {
		return err
	}
	if err := j.CheckCanceled(ctx); err != nil {
		return err
	}

	path := moveFrom
	if path == "" {
		path = file.LocalPath
	}
	if path == "" {
		return fmt.Errorf("%s: no local copy to upload: %w", file.Name, domain.ErrNotFound)
	}

	ctx, release := j.Session(ctx)
	defer release()

	creds, err := j.requestCredentials(ctx, filesPath)
	if err != nil {
		return fmt.Errorf("initiate upload of %s: %w", file.Name, err)
	}

	res, err := j.uploader.Upload(ctx, multipart.Request{
		Path:        path,
		Name:        file.Name,
		Credentials: creds,
		Renew:       func(ctx context.Context) (multipart.Credentials, error) { return j.requestCredentials(ctx, renewPath) },
		Tracker:     tracker,
	})
	if err != nil {
		return fmt.Errorf("upload %s to %s: %w", file.Name, j.Name(), err)
	}
	j.Logger().Info("file uploaded", "file", file.Name, "parts", res.Parts, "elapsed", res.Elapsed)

	if moveFrom != "" {
		if err := os.Remove(moveFrom); err != nil && !os.IsNotExist(err) {
			j.Logger().Warn("remove staged file", "path", moveFrom, "error", err)
		}
	}
	return nil
}

// requestCredentials asks the server for bucket credentials
func (j *JCDS) requestCredentials(ctx context.Context, path string) (multipart.Credentials, error) {
	var resp uploadCredentials
	if err := j.conn.SendJSON(ctx, http.MethodPost, path, nil, &resp); err != nil {
		return multipart.Credentials{}, err
	}
	if resp.AccessKeyID == "" || resp.BucketName == "" {
		return multipart.Credentials{}, fmt.Errorf("%w: incomplete upload credentials", domain.ErrInvalidResponse)
	}
	return resp.toCredentials(), nil
}

// DeleteFile implements dp.DistributionPoint
func (j *JCDS) DeleteFile(ctx context.Context, file domain.DpFile, tracker *progress.Tracker) error {
	if err := j.RequireWrite(); err != nil {
		return err
	}
	if err := j.CheckCanceled(ctx); err != nil {
		return err
	}
	ctx, release := j.Session(ctx)
	defer release()

	if err := j.conn.SendJSON(ctx, http.MethodDelete, filesPath+"/"+url.PathEscape(file.Name), nil, nil); err != nil {
		return fmt.Errorf("delete %s from %s: %w", file.Name, j.Name(), err)
	}
	return nil
}

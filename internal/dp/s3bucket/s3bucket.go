// Package s3bucket implements a distribution point on a plain S3 bucket.
// Listing, downloads and deletes go through the AWS SDK; uploads use the
// multipart engine so every cloud destination shares one upload path.
package s3bucket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"

	"github.com/Ning0612/dpsync/internal/domain"
	"github.com/Ning0612/dpsync/internal/dp"
	"github.com/Ning0612/dpsync/internal/fsutil"
	"github.com/Ning0612/dpsync/internal/multipart"
	"github.com/Ning0612/dpsync/internal/pkgapi"
	"github.com/Ning0612/dpsync/internal/progress"
)

// ObjectAPI is the part of the S3 client the bucket uses
type ObjectAPI interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Config locates the bucket
type Config struct {
	Bucket string
	Region string

	// Prefix is prepended to every file name, e.g. "packages/"
	Prefix string

	// AccessKeyID and SecretKey are optional; the default AWS chain is used without them
	AccessKeyID string
	SecretKey   string

	// Endpoint selects an S3-compatible service with path-style addressing
	Endpoint string
}

// Bucket is an S3 distribution point
type Bucket struct {
	*dp.Base
	cfg        Config
	client     ObjectAPI
	creds      aws.CredentialsProvider
	uploader   *multipart.Uploader
	stagingDir string
}

// Option configures a Bucket
type Option func(*Bucket)

// WithUploader replaces the default multipart uploader
func WithUploader(u *multipart.Uploader) Option {
	return func(b *Bucket) { b.uploader = u }
}

// WithStagingDir sets where downloaded files are staged
func WithStagingDir(dir string) Option {
	return func(b *Bucket) { b.stagingDir = dir }
}

// New loads the AWS configuration and creates a bucket distribution point
func New(ctx context.Context, name string, capability domain.Capability, cfg Config, packages pkgapi.API, opts ...Option) (*Bucket, error) {
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretKey, "")))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config for %s: %w", name, err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewWithClient(name, capability, cfg, client, awsCfg.Credentials, packages, opts...), nil
}

// NewWithClient creates a bucket distribution point on an existing client
func NewWithClient(name string, capability domain.Capability, cfg Config, client ObjectAPI, creds aws.CredentialsProvider, packages pkgapi.API, opts ...Option) *Bucket {
	b := &Bucket{
		Base:       dp.NewBase(name, capability, packages),
		cfg:        cfg,
		client:     client,
		creds:      creds,
		stagingDir: filepath.Join(os.TempDir(), "dpsync-staging"),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.uploader == nil {
		uopts := []multipart.Option{multipart.WithLogger(b.Logger())}
		if cfg.Endpoint != "" {
			uopts = append(uopts, multipart.WithEndpoint(cfg.Endpoint))
		}
		b.uploader = multipart.NewUploader(uopts...)
	}
	return b
}

// WillDownloadFiles is true: objects are staged locally before another point receives them
func (b *Bucket) WillDownloadFiles() bool { return true }

func (b *Bucket) key(name string) string {
	return b.cfg.Prefix + name
}

// ListFiles implements dp.DistributionPoint
func (b *Bucket) ListFiles(ctx context.Context, limitToKnownTypes bool) error {
	ctx, release := b.Session(ctx)
	defer release()

	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(b.cfg.Bucket),
		Prefix:    aws.String(b.cfg.Prefix),
		Delimiter: aws.String("/"),
	})

	var files []domain.DpFile
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("list %s: %w", b.Name(), mapError(ctx, err))
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), b.cfg.Prefix)
			if name == "" {
				continue
			}
			file := domain.NewDpFile(name, "", aws.ToInt64(obj.Size))
			if md5, ok := etagMD5(aws.ToString(obj.ETag)); ok {
				file.Checksums.Update(domain.Checksum{Type: domain.ChecksumMD5, Value: md5})
			}
			files = append(files, file)
		}
	}
	if limitToKnownTypes {
		files = dp.FilterFiles(files)
	}

	b.SetFiles(files)
	b.Logger().Debug("listed objects", "count", len(files), "bucket", b.cfg.Bucket)
	return nil
}

// etagMD5 returns the MD5 digest carried by a single-part object ETag
func etagMD5(etag string) (string, bool) {
	etag = strings.Trim(etag, `"`)
	if len(etag) != 32 || strings.Contains(etag, "-") {
		return "", false
	}
	return strings.ToLower(etag), true
}

// DownloadFile stages an object in the staging directory
func (b *Bucket) DownloadFile(ctx context.Context, file domain.DpFile, tracker *progress.Tracker) (string, error) {
	if err := b.CheckCanceled(ctx); err != nil {
		return "", err
	}
	ctx, release := b.Session(ctx)
	defer release()

	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(b.key(file.Name)),
	})
	if err != nil {
		return "", fmt.Errorf("download %s: %w", file.Name, mapError(ctx, err))
	}
	defer out.Body.Close()

	if err := os.MkdirAll(b.stagingDir, 0755); err != nil {
		return "", fsutil.MapError(err)
	}
	path := filepath.Join(b.stagingDir, uuid.NewString()+"-"+filepath.Base(file.Name))
	f, err := os.Create(path)
	if err != nil {
		return "", fsutil.MapError(err)
	}

	_, err = io.Copy(progress.NewWriter(f, tracker), out.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return "", fmt.Errorf("download %s: %w", file.Name, mapError(ctx, err))
	}
	return path, nil
}

// TransferFile uploads file as a multipart object
func (b *Bucket) TransferFile(ctx context.Context, file domain.DpFile, moveFrom string, tracker *progress.Tracker) error {
	if err := b.RequireWrite(); err != nil {
		return err
	}
	if err := b.CheckCanceled(ctx); err != nil {
		return err
	}

	path := moveFrom
	if path == "" {
		path = file.LocalPath
	}
	if path == "" {
		return fmt.Errorf("%s: no local copy to upload: %w", file.Name, domain.ErrNotFound)
	}

	ctx, release := b.Session(ctx)
	defer release()

	creds, err := b.credentials(ctx)
	if err != nil {
		return err
	}
	if _, err := b.uploader.Upload(ctx, multipart.Request{
		Path:        path,
		Name:        file.Name,
		Credentials: creds,
		Renew:       b.credentials,
		Tracker:     tracker,
	}); err != nil {
		return fmt.Errorf("upload %s to %s: %w", file.Name, b.Name(), err)
	}

	if moveFrom != "" {
		if err := os.Remove(moveFrom); err != nil && !os.IsNotExist(err) {
			b.Logger().Warn("remove staged file", "path", moveFrom, "error", err)
		}
	}
	return nil
}

// credentials retrieves signing credentials from the AWS provider chain
func (b *Bucket) credentials(ctx context.Context) (multipart.Credentials, error) {
	c, err := b.creds.Retrieve(ctx)
	if err != nil {
		return multipart.Credentials{}, fmt.Errorf("retrieve aws credentials: %w: %v", domain.ErrAuthentication, err)
	}
	mc := multipart.Credentials{
		AccessKeyID:     c.AccessKeyID,
		SecretAccessKey: c.SecretAccessKey,
		SessionToken:    c.SessionToken,
		Region:          b.cfg.Region,
		Bucket:          b.cfg.Bucket,
		Prefix:          b.cfg.Prefix,
	}
	if c.CanExpire {
		mc.Expiration = c.Expires
	}
	return mc, nil
}

// DeleteFile implements dp.DistributionPoint
func (b *Bucket) DeleteFile(ctx context.Context, file domain.DpFile, tracker *progress.Tracker) error {
	if err := b.RequireWrite(); err != nil {
		return err
	}
	if err := b.CheckCanceled(ctx); err != nil {
		return err
	}
	ctx, release := b.Session(ctx)
	defer release()

	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(b.key(file.Name)),
	})
	if err != nil {
		return fmt.Errorf("delete %s from %s: %w", file.Name, b.Name(), mapError(ctx, err))
	}
	return nil
}

// mapError maps SDK errors onto the domain taxonomy
func mapError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %v", domain.ErrCanceled, err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NoSuchBucket", "NotFound":
			return fmt.Errorf("%w: %v", domain.ErrNotFound, err)
		case "AccessDenied", "Forbidden":
			return fmt.Errorf("%w: %v", domain.ErrForbidden, err)
		case "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken":
			return fmt.Errorf("%w: %v", domain.ErrAuthentication, err)
		}
		if apiErr.ErrorFault() == smithy.FaultServer {
			return fmt.Errorf("%w: %v", domain.ErrTransient, err)
		}
	}
	return err
}

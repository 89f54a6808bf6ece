// Package multipart uploads large files to an S3-compatible bucket in
// fixed-size parts, signing each request with temporary credentials.
package multipart

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Ning0612/dpsync/internal/domain"
	"github.com/Ning0612/dpsync/internal/logger"
	"github.com/Ning0612/dpsync/internal/progress"
)

const (
	// DefaultChunkSize is the size of every part but the last
	DefaultChunkSize int64 = 10 * 1024 * 1024

	// MaxFileSize is the largest file accepted for upload (30 GB)
	MaxFileSize int64 = 30 * 1000 * 1000 * 1000

	// RenewBuffer is how close to expiry credentials are renewed
	RenewBuffer = 5 * time.Minute

	// PartTimeout bounds a single part upload
	PartTimeout = time.Hour

	// abortTimeout bounds the best-effort abort call
	abortTimeout = 30 * time.Second

	maxErrorBody = 64 * 1024
)

// RenewFunc returns fresh credentials for an upload in progress
type RenewFunc func(ctx context.Context) (Credentials, error)

// Request describes one file upload
type Request struct {
	// Path is the local file
	Path string

	// Name is appended to the credentials prefix to form the object key
	Name string

	// Credentials used until they come within RenewBuffer of expiry
	Credentials Credentials

	// Renew is called for fresh credentials; nil means credentials cannot be renewed
	Renew RenewFunc

	// Tracker receives per-file byte progress
	Tracker *progress.Tracker
}

// Result summarizes a completed upload
type Result struct {
	SessionID string
	UploadID  string
	Key       string
	Parts     int
	Size      int64
	Elapsed   time.Duration
}

// Uploader runs multipart uploads. It keeps no per-upload state and is safe
// for concurrent use.
type Uploader struct {
	endpoint  string
	newClient func() *http.Client
	chunkSize int64
	maxSize   int64
	log       logger.Logger
	now       func() time.Time
}

// Option configures an Uploader
type Option func(*Uploader)

// WithEndpoint sends path-style requests to endpoint instead of the
// virtual-hosted AWS bucket address
func WithEndpoint(endpoint string) Option {
	return func(u *Uploader) { u.endpoint = strings.TrimRight(endpoint, "/") }
}

// WithClientFactory sets how the per-part HTTP clients are created
func WithClientFactory(f func() *http.Client) Option {
	return func(u *Uploader) { u.newClient = f }
}

// WithChunkSize overrides DefaultChunkSize
func WithChunkSize(n int64) Option {
	return func(u *Uploader) { u.chunkSize = n }
}

// WithMaxFileSize overrides MaxFileSize
func WithMaxFileSize(n int64) Option {
	return func(u *Uploader) { u.maxSize = n }
}

// WithLogger sets the logger
func WithLogger(l logger.Logger) Option {
	return func(u *Uploader) { u.log = l }
}

// WithClock sets the time source used for signing and expiry checks
func WithClock(now func() time.Time) Option {
	return func(u *Uploader) { u.now = now }
}

// NewUploader creates an uploader
func NewUploader(opts ...Option) *Uploader {
	u := &Uploader{
		newClient: func() *http.Client { return &http.Client{Timeout: PartTimeout} },
		chunkSize: DefaultChunkSize,
		maxSize:   MaxFileSize,
		log:       logger.Get(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// PartCount returns ceil(size / chunkSize); an empty file still needs one part
func PartCount(size, chunkSize int64) int {
	if size <= 0 {
		return 1
	}
	return int((size + chunkSize - 1) / chunkSize)
}

// Upload sends the file at req.Path as a multipart object.
// A part that fails is retried once; a second failure aborts the upload.
func (u *Uploader) Upload(ctx context.Context, req Request) (*Result, error) {
	info, err := os.Stat(req.Path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", req.Path, err)
	}
	size := info.Size()
	if size > u.maxSize {
		return nil, fmt.Errorf("%s is %d bytes: %w", req.Name, size, domain.ErrFileTooLarge)
	}

	f, err := os.Open(req.Path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", req.Path, err)
	}
	defer f.Close()

	key := req.Credentials.Prefix + req.Name
	sess := newSession(key, req.Credentials, PartCount(size, u.chunkSize), u.now())
	log := u.log.With("upload", sess.ID, "key", key, "parts", sess.TotalParts)

	if err := u.ensureCredentials(ctx, sess, req.Renew); err != nil {
		return nil, err
	}
	if err := u.initiate(ctx, sess); err != nil {
		return nil, err
	}
	log.Debug("multipart upload initiated", "upload_id", sess.UploadID)

	if err := u.uploadParts(ctx, sess, f, size, req); err != nil {
		u.abort(ctx, sess, log)
		return nil, err
	}

	if err := u.complete(ctx, sess); err != nil {
		u.abort(ctx, sess, log)
		return nil, err
	}

	elapsed := sess.Elapsed(u.now())
	log.Info("multipart upload completed", "size", size, "elapsed", elapsed)

	return &Result{
		SessionID: sess.ID,
		UploadID:  sess.UploadID,
		Key:       key,
		Parts:     sess.TotalParts,
		Size:      size,
		Elapsed:   elapsed,
	}, nil
}

func (u *Uploader) uploadParts(ctx context.Context, sess *Session, f *os.File, size int64, req Request) error {
	queue := make([]int, 0, sess.TotalParts)
	for n := 1; n <= sess.TotalParts; n++ {
		queue = append(queue, n)
	}
	failures := make(map[int]int)

	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]

		if ctx.Err() != nil {
			return fmt.Errorf("upload %s: %w", sess.Key, domain.ErrCanceled)
		}
		if err := u.ensureCredentials(ctx, sess, req.Renew); err != nil {
			return err
		}

		offset := int64(n-1) * u.chunkSize
		length := min(u.chunkSize, size-offset)

		etag, err := u.uploadPart(ctx, sess, n, io.NewSectionReader(f, offset, length), length, offset, req.Tracker)
		if err == nil {
			sess.addPart(Part{Number: n, ETag: etag, Size: length})
			continue
		}
		if ctx.Err() != nil || domain.IsCanceled(err) {
			return fmt.Errorf("upload %s: %w", sess.Key, domain.ErrCanceled)
		}

		failures[n]++
		if failures[n] > 1 {
			return fmt.Errorf("upload %s part %d failed twice: %w", sess.Key, n, err)
		}
		u.log.Warn("part upload failed, requeued", "key", sess.Key, "part", n, "error", err)
		queue = append(queue, n)
	}
	return nil
}

// ensureCredentials renews the session credentials when they are about to expire
func (u *Uploader) ensureCredentials(ctx context.Context, sess *Session, renew RenewFunc) error {
	if !sess.Credentials().ExpiresWithin(RenewBuffer, u.now()) {
		return nil
	}
	if renew == nil {
		return fmt.Errorf("upload %s: %w", sess.Key, domain.ErrCredentialsExpired)
	}

	creds, err := renew(ctx)
	if err != nil {
		return fmt.Errorf("renew upload credentials: %w", err)
	}
	sess.setCredentials(creds)
	u.log.Debug("upload credentials renewed", "key", sess.Key, "expiration", creds.Expiration)
	return nil
}

func (u *Uploader) initiate(ctx context.Context, sess *Session) error {
	resp, err := u.send(ctx, u.newClient(), sess, http.MethodPost, "uploads=", nil, 0)
	if err != nil {
		return fmt.Errorf("initiate upload %s: %w", sess.Key, err)
	}
	defer resp.Body.Close()

	var result initiateResult
	if err := xml.NewDecoder(resp.Body).Decode(&result); err != nil || result.UploadID == "" {
		return fmt.Errorf("initiate upload %s: %w: no UploadId", sess.Key, domain.ErrInvalidResponse)
	}
	sess.UploadID = result.UploadID
	return nil
}

func (u *Uploader) uploadPart(ctx context.Context, sess *Session, n int, r io.Reader, length, offset int64, tracker *progress.Tracker) (string, error) {
	// each part gets its own client so a stuck part can be torn down on its own
	client := u.newClient()
	defer client.CloseIdleConnections()

	query := "partNumber=" + strconv.Itoa(n) + "&uploadId=" + uriEncode(sess.UploadID, false)
	resp, err := u.send(ctx, client, sess, http.MethodPut, query, progress.NewReaderAt(r, tracker, offset), length)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	etag := resp.Header.Get("ETag")
	if etag == "" {
		return "", fmt.Errorf("part %d: %w: missing ETag", n, domain.ErrInvalidResponse)
	}
	return etag, nil
}

func (u *Uploader) complete(ctx context.Context, sess *Session) error {
	body, err := sess.completionXML()
	if err != nil {
		return fmt.Errorf("complete upload %s: %w", sess.Key, err)
	}

	query := "uploadId=" + uriEncode(sess.UploadID, false)
	resp, err := u.send(ctx, u.newClient(), sess, http.MethodPost, query, bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return fmt.Errorf("complete upload %s: %w", sess.Key, err)
	}
	defer resp.Body.Close()

	// a 200 can still carry an error document
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var failed errorResult
	if xml.Unmarshal(data, &failed) == nil && failed.Code != "" {
		return fmt.Errorf("complete upload %s: %w", sess.Key, &domain.APIError{
			Method:     http.MethodPost,
			URL:        sess.Key,
			StatusCode: resp.StatusCode,
			Code:       failed.Code,
			Message:    failed.Message,
		})
	}
	return nil
}

// abort is best effort; the upload has already failed
func (u *Uploader) abort(ctx context.Context, sess *Session, log logger.Logger) {
	if sess.UploadID == "" {
		return
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), abortTimeout)
	defer cancel()

	resp, err := u.send(actx, u.newClient(), sess, http.MethodDelete, "uploadId="+uriEncode(sess.UploadID, false), nil, 0)
	if err != nil {
		log.Warn("abort multipart upload failed", "error", err)
		return
	}
	resp.Body.Close()
	log.Info("multipart upload aborted", "elapsed", sess.Elapsed(u.now()))
}

// objectURL returns the object address; query must already be canonical
func (u *Uploader) objectURL(creds Credentials, key, query string) (*url.URL, error) {
	base := u.endpoint
	path := "/" + key
	if base == "" {
		base = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", creds.Bucket, creds.Region)
	} else {
		path = "/" + creds.Bucket + path
	}

	target, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	target.Path = path
	target.RawPath = encodePath(path)
	target.RawQuery = query
	return target, nil
}

func (u *Uploader) send(ctx context.Context, client *http.Client, sess *Session, method, query string, body io.Reader, length int64) (*http.Response, error) {
	creds := sess.Credentials()
	target, err := u.objectURL(creds, sess.Key, query)
	if err != nil {
		return nil, err
	}

	if body == nil || length == 0 {
		body = http.NoBody
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.ContentLength = length
	NewSigner(creds).Sign(req, u.now())

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s %s: %w: %v", method, sess.Key, domain.ErrCanceled, err)
		}
		return nil, fmt.Errorf("%s %s: %w: %v", method, sess.Key, domain.ErrTransient, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, readError(method, sess.Key, resp)
	}
	return resp, nil
}

// readError surfaces the <Message> of an S3 error document
func readError(method, key string, resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	apiErr := &domain.APIError{
		Method:     method,
		URL:        key,
		StatusCode: resp.StatusCode,
	}

	var parsed errorResult
	if xml.Unmarshal(data, &parsed) == nil {
		apiErr.Code = parsed.Code
		apiErr.Message = parsed.Message
	} else {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	return apiErr
}

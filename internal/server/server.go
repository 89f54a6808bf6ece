// Package server talks to a package server: bearer-token authentication,
// JSON and XML requests with bounded timeouts, and cancellation of every
// in-flight request.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"golang.org/x/oauth2"

	"github.com/Ning0612/dpsync/internal/core/session"
	"github.com/Ning0612/dpsync/internal/domain"
	"github.com/Ning0612/dpsync/internal/logger"
)

const (
	// DefaultTimeout bounds metadata calls
	DefaultTimeout = 60 * time.Second

	// TransferTimeout bounds uploads and downloads
	TransferTimeout = time.Hour

	// TokenExpiryBuffer refreshes a bearer token this long before it expires
	TokenExpiryBuffer = 5 * time.Minute

	// maxErrorBody caps how much of an error response is read
	maxErrorBody = 64 * 1024
)

// Connection is an authenticated client for one package server
type Connection struct {
	name     string
	base     *url.URL
	tokens   oauth2.TokenSource
	client   *http.Client
	transfer *http.Client
	plain    *http.Client
	sessions *session.Registry
	log      logger.Logger
}

type options struct {
	httpClient *http.Client
	log        logger.Logger
}

// Option configures a Connection
type Option func(*options)

// WithHTTPClient sets the underlying client used for token and API requests
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithLogger sets the logger
func WithLogger(l logger.Logger) Option {
	return func(o *options) { o.log = l }
}

// New creates a connection. secret is the client secret or the password.
func New(cfg domain.ServerConfig, secret string, opts ...Option) (*Connection, error) {
	o := options{httpClient: &http.Client{}, log: logger.Get()}
	for _, opt := range opts {
		opt(&o)
	}

	base, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("server %s: bad url %q: %w", cfg.Name, cfg.URL, domain.ErrConfigInvalid)
	}
	if cfg.ClientID == "" || secret == "" {
		return nil, fmt.Errorf("server %s: missing credentials: %w", cfg.Name, domain.ErrAuthentication)
	}

	var src oauth2.TokenSource
	switch cfg.Auth {
	case domain.AuthBasic:
		src = &basicTokenSource{
			client:   o.httpClient,
			url:      base.String() + "/api/v1/auth/token",
			username: cfg.ClientID,
			password: secret,
		}
	case domain.AuthClientCredentials, "":
		src = newClientCredentialsSource(o.httpClient, base.String()+"/api/oauth/token", cfg.ClientID, secret)
	default:
		return nil, fmt.Errorf("server %s: unknown auth %q: %w", cfg.Name, cfg.Auth, domain.ErrConfigInvalid)
	}
	tokens := oauth2.ReuseTokenSourceWithExpiry(nil, src, TokenExpiryBuffer)

	baseTransport := o.httpClient.Transport
	if baseTransport == nil {
		baseTransport = http.DefaultTransport
	}
	authed := &oauth2.Transport{Source: tokens, Base: baseTransport}

	return &Connection{
		name:     cfg.Name,
		base:     base,
		tokens:   tokens,
		client:   &http.Client{Transport: authed, Timeout: DefaultTimeout},
		transfer: &http.Client{Transport: authed, Timeout: TransferTimeout},
		plain:    &http.Client{Transport: baseTransport, Timeout: TransferTimeout},
		sessions: session.NewRegistry(),
		log:      o.log.With("server", cfg.Name),
	}, nil
}

// Name returns the configured server name
func (c *Connection) Name() string { return c.name }

// BaseURL returns the server base URL
func (c *Connection) BaseURL() string { return c.base.String() }

// Host returns the server host, used to derive secret-store service names
func (c *Connection) Host() string { return c.base.Host }

// URL joins path onto the base URL
func (c *Connection) URL(path string) string {
	return c.base.String() + path
}

// Token returns a valid bearer token, fetching a new one when stale
func (c *Connection) Token() (string, error) {
	tok, err := c.tokens.Token()
	if err != nil {
		return "", mapTokenError(err)
	}
	return tok.AccessToken, nil
}

// Cancel tears down every in-flight request
func (c *Connection) Cancel() {
	c.sessions.CancelAll()
}

// Reset allows requests again after Cancel
func (c *Connection) Reset() {
	c.sessions.Reset()
}

// Request describes one API call
type Request struct {
	Method      string
	Path        string
	Body        io.Reader
	ContentType string
	Accept      string

	// ContentLength is set for streamed upload bodies
	ContentLength int64

	// Transfer selects the long timeout
	Transfer bool
}

// Do performs the request and returns the response for a 2xx status.
// Other statuses become a *domain.APIError. The caller closes the body.
func (c *Connection) Do(ctx context.Context, r Request) (*http.Response, error) {
	ctx, release := c.sessions.Track(ctx)

	req, err := http.NewRequestWithContext(ctx, r.Method, c.URL(r.Path), r.Body)
	if err != nil {
		release()
		return nil, err
	}
	if r.ContentType != "" {
		req.Header.Set("Content-Type", r.ContentType)
	}
	if r.Accept != "" {
		req.Header.Set("Accept", r.Accept)
	}
	if r.ContentLength > 0 {
		req.ContentLength = r.ContentLength
	}

	client := c.client
	if r.Transfer {
		client = c.transfer
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		release()
		return nil, c.mapTransportError(ctx, r, err)
	}
	c.log.Debug("request", "method", r.Method, "path", r.Path, "status", resp.StatusCode, "elapsed", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer release()
		defer resp.Body.Close()
		return nil, readAPIError(r.Method, r.Path, resp)
	}

	resp.Body = &releasingBody{ReadCloser: resp.Body, release: release}
	return resp, nil
}

// Fetch downloads an absolute URL, such as a pre-signed object URL, without
// the bearer token. Cancel tears it down like any other request.
func (c *Connection) Fetch(ctx context.Context, rawURL string) (*http.Response, error) {
	ctx, release := c.sessions.Track(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		release()
		return nil, err
	}

	resp, err := c.plain.Do(req)
	if err != nil {
		release()
		return nil, c.mapTransportError(ctx, Request{Method: http.MethodGet, Path: req.URL.Path}, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer release()
		defer resp.Body.Close()
		return nil, readAPIError(http.MethodGet, req.URL.Path, resp)
	}

	resp.Body = &releasingBody{ReadCloser: resp.Body, release: release}
	return resp, nil
}

// GetJSON performs a GET and decodes the JSON response into out
func (c *Connection) GetJSON(ctx context.Context, path string, out any) error {
	return c.SendJSON(ctx, http.MethodGet, path, nil, out)
}

// SendJSON encodes in (when non-nil) and decodes the response into out (when non-nil)
func (c *Connection) SendJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}

	resp, err := c.Do(ctx, Request{Method: method, Path: path, Body: body, ContentType: contentType, Accept: "application/json"})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w: %v", method, path, domain.ErrInvalidResponse, err)
	}
	return nil
}

// versionResponse is the body of the version endpoint
type versionResponse struct {
	Version string `json:"version"`
}

// Version returns the server version with build metadata stripped
func (c *Connection) Version(ctx context.Context) (*semver.Version, error) {
	var resp versionResponse
	if err := c.GetJSON(ctx, "/api/v1/jamf-pro-version", &resp); err != nil {
		return nil, err
	}

	// "11.5.1-t1712345678" carries a build stamp in the pre-release field
	v, err := semver.NewVersion(resp.Version)
	if err != nil {
		return nil, fmt.Errorf("parse version %q: %w: %v", resp.Version, domain.ErrInvalidResponse, err)
	}
	plain, err := v.SetPrerelease("")
	if err != nil {
		return nil, err
	}
	return &plain, nil
}

// releasingBody untracks the session when the body is closed
type releasingBody struct {
	io.ReadCloser
	release context.CancelFunc
}

func (b *releasingBody) Close() error {
	err := b.ReadCloser.Close()
	b.release()
	return err
}

// errorResponse is the JSON error body of the modern API
type errorResponse struct {
	HTTPStatus int `json:"httpStatus"`
	Errors     []struct {
		Code        string `json:"code"`
		Field       string `json:"field"`
		Description string `json:"description"`
	} `json:"errors"`
}

func readAPIError(method, path string, resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	apiErr := &domain.APIError{
		Method:     method,
		URL:        path,
		StatusCode: resp.StatusCode,
	}

	var parsed errorResponse
	if json.Unmarshal(data, &parsed) == nil && len(parsed.Errors) > 0 {
		apiErr.Code = parsed.Errors[0].Code
		apiErr.Message = parsed.Errors[0].Description
		return apiErr
	}

	apiErr.Message = strings.TrimSpace(stripTags(string(data)))
	return apiErr
}

// stripTags reduces an HTML error page to its text
func stripTags(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
			b.WriteRune(' ')
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func (c *Connection) mapTransportError(ctx context.Context, r Request, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%s %s: %w: %v", r.Method, r.Path, domain.ErrCanceled, err)
	}
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return mapTokenError(retrieveErr)
	}
	var authErr *domain.APIError
	if errors.As(err, &authErr) {
		return authErr
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%s %s: %w: %v", r.Method, r.Path, domain.ErrTransient, err)
	}
	return fmt.Errorf("%s %s: %w", r.Method, r.Path, err)
}

func mapTokenError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
		path := ""
		if retrieveErr.Response.Request != nil {
			path = retrieveErr.Response.Request.URL.Path
		}
		return &domain.APIError{
			Method:     http.MethodPost,
			URL:        path,
			StatusCode: retrieveErr.Response.StatusCode,
			Code:       retrieveErr.ErrorCode,
			Message:    retrieveErr.ErrorDescription,
		}
	}
	return err
}

package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"sync"

	"github.com/Ning0612/dpsync/internal/config"
	"github.com/Ning0612/dpsync/internal/core/checksum"
	"github.com/Ning0612/dpsync/internal/domain"
	"github.com/Ning0612/dpsync/internal/dp"
	"github.com/Ning0612/dpsync/internal/dp/cloud"
	"github.com/Ning0612/dpsync/internal/dp/fileshare"
	"github.com/Ning0612/dpsync/internal/dp/folder"
	"github.com/Ning0612/dpsync/internal/dp/jcds"
	"github.com/Ning0612/dpsync/internal/dp/s3bucket"
	"github.com/Ning0612/dpsync/internal/keychain"
	"github.com/Ning0612/dpsync/internal/logger"
	"github.com/Ning0612/dpsync/internal/pkgapi"
	"github.com/Ning0612/dpsync/internal/server"
	"github.com/Ning0612/dpsync/internal/transfer"
)

// SecretReader looks up secrets that are not in the configuration
type SecretReader interface {
	Get(service, account string) (string, error)
}

// Factory builds distribution points and their collaborators from the configuration.
// Server connections and package APIs are shared by every point on the same server.
type Factory struct {
	cfg        *config.Config
	secrets    SecretReader
	hasher     checksum.Calculator
	mounter    fileshare.Mounter
	httpClient *http.Client
	log        logger.Logger

	mu    sync.Mutex
	conns map[string]*server.Connection
	apis  map[string]pkgapi.API
}

// FactoryOption configures a Factory
type FactoryOption func(*Factory)

// WithSecrets sets the secret store
func WithSecrets(s SecretReader) FactoryOption {
	return func(f *Factory) { f.secrets = s }
}

// WithMounter sets how file shares are mounted
func WithMounter(m fileshare.Mounter) FactoryOption {
	return func(f *Factory) { f.mounter = m }
}

// WithHTTPClient sets the client used for server requests
func WithHTTPClient(c *http.Client) FactoryOption {
	return func(f *Factory) { f.httpClient = c }
}

// WithFactoryLogger sets the logger
func WithFactoryLogger(l logger.Logger) FactoryOption {
	return func(f *Factory) { f.log = l }
}

// NewFactory creates a factory for cfg
func NewFactory(cfg *config.Config, opts ...FactoryOption) *Factory {
	f := &Factory{
		cfg:     cfg,
		hasher:  checksum.NewDefaultHasher(),
		mounter: fileshare.CommandMounter{},
		log:     logger.Get(),
		conns:   make(map[string]*server.Connection),
		apis:    make(map[string]pkgapi.API),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.httpClient == nil {
		f.httpClient = &http.Client{}
	}
	return f
}

// StagingDir is where downloads and zipped bundles are staged
func (f *Factory) StagingDir() string {
	return filepath.Join(f.cfg.DataDir, "staging")
}

// LockDir holds the per-pair sync locks
func (f *Factory) LockDir() string {
	return filepath.Join(f.cfg.DataDir, "locks")
}

// Orchestrator returns a transfer orchestrator sharing the factory's hasher and staging dir
func (f *Factory) Orchestrator(opts ...transfer.Option) *transfer.Orchestrator {
	base := []transfer.Option{
		transfer.WithHasher(f.hasher),
		transfer.WithLogger(f.log),
		transfer.WithStagingDir(f.StagingDir()),
	}
	return transfer.New(append(base, opts...)...)
}

// secret returns the configured value, or the stored one
func (f *Factory) secret(configured, service, account string) (string, error) {
	if configured != "" || f.secrets == nil || account == "" {
		return configured, nil
	}
	s, err := f.secrets.Get(service, account)
	if errors.Is(err, domain.ErrNotFound) {
		return "", nil
	}
	return s, err
}

func serverService(sc *domain.ServerConfig) string {
	host := sc.URL
	if u, err := url.Parse(sc.URL); err == nil && u.Host != "" {
		host = u.Host
	}
	return keychain.ServiceForServer(host)
}

// SecretLocation returns the secret store entry holding the secret of a
// server or distribution point
func (f *Factory) SecretLocation(name string) (service, account string, err error) {
	if sc, err := f.cfg.GetServer(name); err == nil {
		return serverService(sc), sc.ClientID, nil
	}

	dc, err := f.cfg.GetDistributionPoint(name)
	if err != nil {
		return "", "", err
	}
	switch dc.Type {
	case domain.DPTypeFileShare:
		return keychain.ServiceForShare(dc.Address), dc.Username, nil
	case domain.DPTypeS3:
		if dc.AccessKeyID == "" {
			return "", "", fmt.Errorf("%w: %s uses the default AWS credential chain", domain.ErrConfigInvalid, name)
		}
		return keychain.ServiceForBucket(dc.Bucket), dc.AccessKeyID, nil
	case domain.DPTypeJCDS, domain.DPTypeCloud:
		return f.SecretLocation(dc.Server)
	}
	return "", "", fmt.Errorf("%w: %s has no secret", domain.ErrConfigInvalid, name)
}

// Connection returns the shared connection to a configured server
func (f *Factory) Connection(name string) (*server.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if c, ok := f.conns[name]; ok {
		return c, nil
	}

	sc, err := f.cfg.GetServer(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, name)
	}

	secret, err := f.secret(sc.Secret, serverService(sc), sc.ClientID)
	if err != nil {
		return nil, fmt.Errorf("server %s: read secret: %w", name, err)
	}

	conn, err := server.New(*sc, secret,
		server.WithHTTPClient(f.httpClient),
		server.WithLogger(f.log),
	)
	if err != nil {
		return nil, err
	}
	f.conns[name] = conn
	return conn, nil
}

// PackageAPI returns the shared package API of a configured server
func (f *Factory) PackageAPI(ctx context.Context, name string) (pkgapi.API, error) {
	f.mu.Lock()
	api, ok := f.apis[name]
	f.mu.Unlock()
	if ok {
		return api, nil
	}

	conn, err := f.Connection(name)
	if err != nil {
		return nil, err
	}
	sc, _ := f.cfg.GetServer(name)

	api, err = pkgapi.New(ctx, conn, sc.API)
	if err != nil {
		return nil, fmt.Errorf("server %s: %w", name, err)
	}

	f.mu.Lock()
	f.apis[name] = api
	f.mu.Unlock()

	f.log.Debug("package api selected", "server", name, "flavor", api.Flavor())
	return api, nil
}

// DistributionPoint builds the named distribution point
func (f *Factory) DistributionPoint(ctx context.Context, name string) (dp.DistributionPoint, error) {
	dc, err := f.cfg.GetDistributionPoint(name)
	if err != nil {
		return nil, err
	}
	capability := dc.Capability()

	switch dc.Type {
	case domain.DPTypeFolder:
		return folder.New(dc.Name, dc.Path, capability, f.hasher, dc.HashOnList, nil), nil

	case domain.DPTypeFileShare:
		password, err := f.secret(dc.Password, keychain.ServiceForShare(dc.Address), dc.Username)
		if err != nil {
			return nil, fmt.Errorf("distribution point %s: read password: %w", name, err)
		}
		spec := fileshare.ShareSpec{
			Address:   dc.Address,
			ShareName: dc.ShareName,
			Username:  dc.Username,
			Password:  password,
			MountPath: dc.MountPath,
		}
		return fileshare.New(dc.Name, spec, capability, f.mounter, f.hasher, dc.HashOnList, nil), nil

	case domain.DPTypeJCDS:
		conn, err := f.Connection(dc.Server)
		if err != nil {
			return nil, err
		}
		api, err := f.PackageAPI(ctx, dc.Server)
		if err != nil {
			return nil, err
		}
		return jcds.New(dc.Name, capability, conn, api, jcds.WithStagingDir(f.StagingDir())), nil

	case domain.DPTypeCloud:
		conn, err := f.Connection(dc.Server)
		if err != nil {
			return nil, err
		}
		api, err := f.PackageAPI(ctx, dc.Server)
		if err != nil {
			return nil, err
		}
		c, err := cloud.New(dc.Name, capability, conn, api)
		if err != nil {
			return nil, err
		}
		return c, nil

	case domain.DPTypeS3:
		secretKey, err := f.secret(dc.SecretKey, keychain.ServiceForBucket(dc.Bucket), dc.AccessKeyID)
		if err != nil {
			return nil, fmt.Errorf("distribution point %s: read secret key: %w", name, err)
		}
		b, err := s3bucket.New(ctx, dc.Name, capability, s3bucket.Config{
			Bucket:      dc.Bucket,
			Region:      dc.Region,
			Prefix:      dc.Prefix,
			AccessKeyID: dc.AccessKeyID,
			SecretKey:   secretKey,
			Endpoint:    dc.Endpoint,
		}, nil, s3bucket.WithStagingDir(f.StagingDir()))
		if err != nil {
			return nil, err
		}
		return b, nil
	}

	return nil, fmt.Errorf("%w: distribution point %s has invalid type: %s", domain.ErrConfigInvalid, name, dc.Type)
}

// NewTask builds both points of a pair and a SyncTask that locks the pair
// under the data directory
func (f *Factory) NewTask(ctx context.Context, source, destination string, opts ...TaskOption) (*SyncTask, error) {
	if source == destination {
		return nil, fmt.Errorf("%w: source and destination are both %s", domain.ErrConfigInvalid, source)
	}

	src, err := f.DistributionPoint(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	if !src.Capability().CanRead() {
		return nil, fmt.Errorf("source %s cannot be read: %w", source, domain.ErrPermissionDenied)
	}

	dst, err := f.DistributionPoint(ctx, destination)
	if err != nil {
		return nil, fmt.Errorf("destination: %w", err)
	}
	if !dst.Capability().CanWrite() {
		return nil, fmt.Errorf("destination %s: %w", destination, domain.ErrReadOnly)
	}

	base := []TaskOption{
		WithOrchestrator(f.Orchestrator()),
		WithLockDir(f.LockDir()),
	}
	return NewSyncTask(src, dst, append(base, opts...)...), nil
}

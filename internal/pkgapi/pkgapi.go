// Package pkgapi keeps package metadata records on a package server in step
// with the files on its distribution points. Two flavors exist: the classic
// XML API and the JSON API; the server version decides which one is used.
package pkgapi

import (
	"context"
	"fmt"
	"sync"

	"github.com/Masterminds/semver/v3"

	"github.com/Ning0612/dpsync/internal/domain"
	"github.com/Ning0612/dpsync/internal/server"
)

// jsonAPIMinVersion is the first server version with the JSON packages API
var jsonAPIMinVersion = semver.MustParse("11.5.0")

// Package is a package metadata record
type Package struct {
	// ID is the remote identifier
	ID string

	// Name is the display name
	Name string

	// FileName matches DpFile.Name
	FileName string

	// Size in bytes, or domain.UnknownSize
	Size int64

	// Checksums recorded on the server
	Checksums domain.Checksums

	// Fields holds the full remote record; it is sent back unchanged on update
	Fields map[string]any
}

// API is the package-metadata collaborator
type API interface {
	// Flavor reports which backend API is used
	Flavor() domain.APIFlavor

	// LoadPackages refreshes the cached package list
	LoadPackages(ctx context.Context) error

	// Packages returns the cached package list
	Packages() []Package

	// FindByFileName returns the cached record for a file name
	FindByFileName(fileName string) (Package, bool)

	// AddPackage creates a record for file and returns its remote id.
	// A record that already exists yields domain.ErrDuplicateEntry.
	AddPackage(ctx context.Context, file domain.DpFile) (string, error)

	// UpdatePackage rewrites pkg with the size and checksum of file
	UpdatePackage(ctx context.Context, pkg Package, file domain.DpFile) error

	// DeletePackage removes a record
	DeletePackage(ctx context.Context, id string) error

	// Cancel tears down in-flight requests
	Cancel()
}

// New returns the API flavor for conn. APIAuto asks the server for its version.
func New(ctx context.Context, conn *server.Connection, flavor domain.APIFlavor) (API, error) {
	switch flavor {
	case domain.APIClassic:
		return NewClassic(conn), nil
	case domain.APIJSON:
		return NewJSON(conn), nil
	case domain.APIAuto, "":
		v, err := conn.Version(ctx)
		if err != nil {
			return nil, fmt.Errorf("select package api: %w", err)
		}
		if v.LessThan(jsonAPIMinVersion) {
			return NewClassic(conn), nil
		}
		return NewJSON(conn), nil
	}
	return nil, fmt.Errorf("unknown package api %q: %w", flavor, domain.ErrConfigInvalid)
}

// cache is the package list shared by both flavors
type cache struct {
	mu       sync.RWMutex
	packages []Package
	loaded   bool
}

func (c *cache) replace(pkgs []Package) {
	c.mu.Lock()
	c.packages = pkgs
	c.loaded = true
	c.mu.Unlock()
}

func (c *cache) list() []Package {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Package, len(c.packages))
	copy(out, c.packages)
	return out
}

func (c *cache) findByFileName(fileName string) (Package, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, p := range c.packages {
		if p.FileName == fileName {
			return p, true
		}
	}
	return Package{}, false
}

func (c *cache) upsert(pkg Package) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, p := range c.packages {
		if p.ID == pkg.ID {
			c.packages[i] = pkg
			return
		}
	}
	c.packages = append(c.packages, pkg)
}

func (c *cache) remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, p := range c.packages {
		if p.ID == id {
			c.packages = append(c.packages[:i], c.packages[i+1:]...)
			return
		}
	}
}

// hashOf picks the checksum recorded on a package record
func hashOf(file domain.DpFile) (domain.Checksum, bool) {
	return file.Checksums.Best()
}

// ToDpFile converts a package record into a file record
func (p Package) ToDpFile() domain.DpFile {
	f := domain.NewDpFile(p.FileName, "", p.Size)
	f.Checksums = p.Checksums.Clone()
	return f
}

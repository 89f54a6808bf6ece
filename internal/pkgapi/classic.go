package pkgapi

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Ning0612/dpsync/internal/domain"
	"github.com/Ning0612/dpsync/internal/server"
)

const (
	classicPackagesPath = "/JSSResource/packages"
	xmlContentType      = "application/xml"

	// duplicateNameMarker appears in the conflict page of a duplicate record
	duplicateNameMarker = "Duplicate name"
)

// Classic implements API against the XML packages endpoints
type Classic struct {
	conn  *server.Connection
	cache cache
}

// NewClassic creates a classic API client
func NewClassic(conn *server.Connection) *Classic {
	return &Classic{conn: conn}
}

// Flavor implements API
func (c *Classic) Flavor() domain.APIFlavor { return domain.APIClassic }

// Packages implements API
func (c *Classic) Packages() []Package { return c.cache.list() }

// FindByFileName implements API
func (c *Classic) FindByFileName(fileName string) (Package, bool) {
	return c.cache.findByFileName(fileName)
}

// Cancel implements API
func (c *Classic) Cancel() { c.conn.Cancel() }

// classicList is the package index
type classicList struct {
	XMLName  xml.Name `xml:"packages"`
	Packages []struct {
		ID   string `xml:"id"`
		Name string `xml:"name"`
	} `xml:"package"`
}

// classicPackage is one package record
type classicPackage struct {
	XMLName   xml.Name `xml:"package"`
	ID        string   `xml:"id,omitempty"`
	Name      string   `xml:"name"`
	Filename  string   `xml:"filename"`
	HashType  string   `xml:"hash_type,omitempty"`
	HashValue string   `xml:"hash_value,omitempty"`
}

// LoadPackages implements API
func (c *Classic) LoadPackages(ctx context.Context) error {
	var list classicList
	if err := c.getXML(ctx, classicPackagesPath, &list); err != nil {
		return fmt.Errorf("list packages: %w", err)
	}

	pkgs := make([]Package, 0, len(list.Packages))
	for _, entry := range list.Packages {
		var rec classicPackage
		if err := c.getXML(ctx, classicPackagesPath+"/id/"+entry.ID, &rec); err != nil {
			return fmt.Errorf("get package %s: %w", entry.ID, err)
		}
		pkgs = append(pkgs, rec.toPackage())
	}

	c.cache.replace(pkgs)
	return nil
}

func (p classicPackage) toPackage() Package {
	var sums domain.Checksums
	if t, ok := domain.ParseChecksumType(p.HashType); ok && p.HashValue != "" {
		sums.Update(domain.Checksum{Type: t, Value: p.HashValue})
	}
	return Package{
		ID:        p.ID,
		Name:      p.Name,
		FileName:  p.Filename,
		Size:      domain.UnknownSize,
		Checksums: sums,
	}
}

func newClassicRecord(name string, file domain.DpFile) classicPackage {
	rec := classicPackage{Name: name, Filename: file.Name}
	if sum, ok := hashOf(file); ok {
		rec.HashType = string(sum.Type)
		rec.HashValue = sum.Value
	}
	return rec
}

// AddPackage implements API
func (c *Classic) AddPackage(ctx context.Context, file domain.DpFile) (string, error) {
	rec := newClassicRecord(file.Name, file)

	var created classicPackage
	if err := c.sendXML(ctx, http.MethodPost, classicPackagesPath+"/id/0", rec, &created); err != nil {
		if isClassicDuplicate(err) {
			return "", fmt.Errorf("add package %s: %w: %w", file.Name, domain.ErrDuplicateEntry, err)
		}
		return "", fmt.Errorf("add package %s: %w", file.Name, err)
	}
	if created.ID == "" {
		return "", fmt.Errorf("add package %s: %w: missing id", file.Name, domain.ErrInvalidResponse)
	}

	rec.ID = created.ID
	pkg := rec.toPackage()
	pkg.Size = file.Size
	c.cache.upsert(pkg)
	return created.ID, nil
}

// UpdatePackage implements API
func (c *Classic) UpdatePackage(ctx context.Context, pkg Package, file domain.DpFile) error {
	name := pkg.Name
	if name == "" {
		name = file.Name
	}
	rec := newClassicRecord(name, file)

	if err := c.sendXML(ctx, http.MethodPut, classicPackagesPath+"/id/"+pkg.ID, rec, nil); err != nil {
		return fmt.Errorf("update package %s: %w", pkg.ID, err)
	}

	rec.ID = pkg.ID
	updated := rec.toPackage()
	updated.Size = file.Size
	c.cache.upsert(updated)
	return nil
}

// DeletePackage implements API
func (c *Classic) DeletePackage(ctx context.Context, id string) error {
	resp, err := c.conn.Do(ctx, server.Request{
		Method: http.MethodDelete,
		Path:   classicPackagesPath + "/id/" + id,
		Accept: xmlContentType,
	})
	if err != nil {
		return fmt.Errorf("delete package %s: %w", id, err)
	}
	resp.Body.Close()
	c.cache.remove(id)
	return nil
}

func (c *Classic) getXML(ctx context.Context, path string, out any) error {
	resp, err := c.conn.Do(ctx, server.Request{Method: http.MethodGet, Path: path, Accept: xmlContentType})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := xml.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w: %v", path, domain.ErrInvalidResponse, err)
	}
	return nil
}

func (c *Classic) sendXML(ctx context.Context, method, path string, in, out any) error {
	body, err := xml.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}

	resp, err := c.conn.Do(ctx, server.Request{
		Method:      method,
		Path:        path,
		Body:        bytes.NewReader(append([]byte(xml.Header), body...)),
		ContentType: xmlContentType,
		Accept:      xmlContentType,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := xml.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w: %v", path, domain.ErrInvalidResponse, err)
	}
	return nil
}

func isClassicDuplicate(err error) bool {
	var apiErr *domain.APIError
	return errors.As(err, &apiErr) &&
		apiErr.StatusCode == http.StatusConflict &&
		strings.Contains(apiErr.Message, duplicateNameMarker)
}

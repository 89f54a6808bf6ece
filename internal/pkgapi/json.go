package pkgapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/Ning0612/dpsync/internal/domain"
	"github.com/Ning0612/dpsync/internal/server"
)

const (
	jsonPackagesPath = "/api/v1/packages"
	jsonPageSize     = 200

	// duplicateFieldCode marks a record that already exists
	duplicateFieldCode = "DUPLICATE_FIELD"
)

// JSON implements API against the JSON packages endpoints
type JSON struct {
	conn  *server.Connection
	cache cache
}

// NewJSON creates a JSON API client
func NewJSON(conn *server.Connection) *JSON {
	return &JSON{conn: conn}
}

// Flavor implements API
func (j *JSON) Flavor() domain.APIFlavor { return domain.APIJSON }

// Packages implements API
func (j *JSON) Packages() []Package { return j.cache.list() }

// FindByFileName implements API
func (j *JSON) FindByFileName(fileName string) (Package, bool) {
	return j.cache.findByFileName(fileName)
}

// Cancel implements API
func (j *JSON) Cancel() { j.conn.Cancel() }

// jsonPage is one page of the package list
type jsonPage struct {
	TotalCount int               `json:"totalCount"`
	Results    []json.RawMessage `json:"results"`
}

// jsonPackage holds the fields the synchronizer reads
type jsonPackage struct {
	ID          string  `json:"id"`
	PackageName string  `json:"packageName"`
	FileName    string  `json:"fileName"`
	Size        flexInt `json:"size"`
	MD5         string  `json:"md5"`
	SHA256      string  `json:"sha256"`
	HashType    string  `json:"hashType"`
	HashValue   string  `json:"hashValue"`
}

// LoadPackages implements API
func (j *JSON) LoadPackages(ctx context.Context) error {
	var pkgs []Package
	for page := 0; ; page++ {
		var resp jsonPage
		path := fmt.Sprintf("%s?page=%d&page-size=%d&sort=id%%3Aasc", jsonPackagesPath, page, jsonPageSize)
		if err := j.conn.GetJSON(ctx, path, &resp); err != nil {
			return fmt.Errorf("list packages: %w", err)
		}

		for _, raw := range resp.Results {
			pkg, err := decodeJSONPackage(raw)
			if err != nil {
				return err
			}
			pkgs = append(pkgs, pkg)
		}

		if len(resp.Results) < jsonPageSize || len(pkgs) >= resp.TotalCount {
			break
		}
	}

	j.cache.replace(pkgs)
	return nil
}

func decodeJSONPackage(raw json.RawMessage) (Package, error) {
	var typed jsonPackage
	if err := json.Unmarshal(raw, &typed); err != nil {
		return Package{}, fmt.Errorf("decode package: %w: %v", domain.ErrInvalidResponse, err)
	}
	fields := map[string]any{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Package{}, fmt.Errorf("decode package: %w: %v", domain.ErrInvalidResponse, err)
	}

	var sums domain.Checksums
	if typed.MD5 != "" {
		sums.Update(domain.Checksum{Type: domain.ChecksumMD5, Value: typed.MD5})
	}
	if typed.SHA256 != "" {
		sums.Update(domain.Checksum{Type: domain.ChecksumSHA256, Value: typed.SHA256})
	}
	if t, ok := domain.ParseChecksumType(typed.HashType); ok && typed.HashValue != "" {
		sums.Update(domain.Checksum{Type: t, Value: typed.HashValue})
	}

	size := int64(typed.Size)
	if size <= 0 {
		size = domain.UnknownSize
	}

	return Package{
		ID:        typed.ID,
		Name:      typed.PackageName,
		FileName:  typed.FileName,
		Size:      size,
		Checksums: sums,
		Fields:    fields,
	}, nil
}

// newJSONRecord returns the fields of a new package record
func newJSONRecord(file domain.DpFile) map[string]any {
	return map[string]any{
		"packageName":          file.Name,
		"fileName":             file.Name,
		"categoryId":           "-1",
		"priority":             10,
		"fillUserTemplate":     false,
		"uninstall":            false,
		"rebootRequired":       false,
		"osInstall":            false,
		"suppressUpdates":      false,
		"suppressFromDock":     false,
		"suppressEula":         false,
		"suppressRegistration": false,
	}
}

// applyFile writes the transferable attributes of file into a record
func applyFile(fields map[string]any, file domain.DpFile) {
	fields["fileName"] = file.Name
	if file.Size >= 0 {
		fields["size"] = strconv.FormatInt(file.Size, 10)
	}
	if sum, ok := hashOf(file); ok {
		fields["hashType"] = string(sum.Type)
		fields["hashValue"] = sum.Value
	}
	if md5, ok := file.Checksums.Find(domain.ChecksumMD5); ok {
		fields["md5"] = md5.Value
	}
}

// createResponse is the body returned when a record is created
type createResponse struct {
	ID   string `json:"id"`
	Href string `json:"href"`
}

// AddPackage implements API
func (j *JSON) AddPackage(ctx context.Context, file domain.DpFile) (string, error) {
	fields := newJSONRecord(file)
	applyFile(fields, file)

	var resp createResponse
	if err := j.conn.SendJSON(ctx, http.MethodPost, jsonPackagesPath, fields, &resp); err != nil {
		if isJSONDuplicate(err) {
			return "", fmt.Errorf("add package %s: %w: %w", file.Name, domain.ErrDuplicateEntry, err)
		}
		return "", fmt.Errorf("add package %s: %w", file.Name, err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("add package %s: %w: missing id", file.Name, domain.ErrInvalidResponse)
	}

	fields["id"] = resp.ID
	pkg, err := decodeFields(fields)
	if err != nil {
		return "", err
	}
	j.cache.upsert(pkg)
	return resp.ID, nil
}

// UpdatePackage implements API
func (j *JSON) UpdatePackage(ctx context.Context, pkg Package, file domain.DpFile) error {
	fields := make(map[string]any, len(pkg.Fields))
	for k, v := range pkg.Fields {
		fields[k] = v
	}
	if len(fields) == 0 {
		fields = newJSONRecord(file)
		fields["packageName"] = pkg.Name
	}
	applyFile(fields, file)

	path := jsonPackagesPath + "/" + pkg.ID
	if err := j.conn.SendJSON(ctx, http.MethodPut, path, fields, nil); err != nil {
		return fmt.Errorf("update package %s: %w", pkg.ID, err)
	}

	fields["id"] = pkg.ID
	updated, err := decodeFields(fields)
	if err != nil {
		return err
	}
	j.cache.upsert(updated)
	return nil
}

// DeletePackage implements API
func (j *JSON) DeletePackage(ctx context.Context, id string) error {
	if err := j.conn.SendJSON(ctx, http.MethodDelete, jsonPackagesPath+"/"+id, nil, nil); err != nil {
		return fmt.Errorf("delete package %s: %w", id, err)
	}
	j.cache.remove(id)
	return nil
}

func decodeFields(fields map[string]any) (Package, error) {
	raw, err := json.Marshal(fields)
	if err != nil {
		return Package{}, err
	}
	return decodeJSONPackage(raw)
}

func isJSONDuplicate(err error) bool {
	var apiErr *domain.APIError
	return errors.As(err, &apiErr) &&
		apiErr.StatusCode == http.StatusBadRequest &&
		apiErr.Code == duplicateFieldCode
}

// flexInt accepts a JSON number or a numeric string
type flexInt int64

func (f *flexInt) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if len(data) == 0 || string(data) == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return err
	}
	*f = flexInt(n)
	return nil
}

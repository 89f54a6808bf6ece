package service

import (
	"context"
	"errors"
	"testing"

	"github.com/Ning0612/dpsync/internal/config"
	"github.com/Ning0612/dpsync/internal/domain"
	"github.com/Ning0612/dpsync/internal/dp/fileshare"
	"github.com/Ning0612/dpsync/internal/dp/folder"
	"github.com/Ning0612/dpsync/internal/dp/jcds"
	"github.com/Ning0612/dpsync/internal/dp/s3bucket"
	"github.com/Ning0612/dpsync/internal/keychain"
)

type fakeSecrets map[string]string

func (s fakeSecrets) Get(service, account string) (string, error) {
	if v, ok := s[service+"|"+account]; ok {
		return v, nil
	}
	return "", domain.ErrNotFound
}

const factoryYAML = `
servers:
  - name: prod
    url: https://example.jamfcloud.com
    client_id: abc
    api: json
  - name: old
    url: https://old.example.com:8443
    auth: basic
    client_id: admin
    secret: pw
    api: classic
  - name: nosecret
    url: https://none.example.com
    client_id: nobody
    api: json
distribution_points:
  - {name: local, type: folder, path: /srv/pkgs, read_only: true}
  - {name: share, type: fileshare, address: smb://fs1, share: CasperShare, username: svc, mount_path: /mnt/casper}
  - {name: cloud, type: jcds, server: prod}
  - {name: upload, type: cloud, server: prod}
  - {name: legacy, type: cloud, server: old}
  - {name: broken, type: jcds, server: nosecret}
  - {name: bucket, type: s3, bucket: pkgs, region: us-east-1, access_key_id: AKID, endpoint: "http://127.0.0.1:9000"}
`

func newTestFactory(t *testing.T) *Factory {
	t.Helper()
	cfg, err := config.LoadFromString(factoryYAML)
	if err != nil {
		t.Fatalf("LoadFromString() error = %v", err)
	}
	cfg.DataDir = t.TempDir()

	secrets := fakeSecrets{
		keychain.ServiceForServer("example.jamfcloud.com") + "|abc": "client-secret",
		keychain.ServiceForShare("smb://fs1") + "|svc":              "share-pass",
		keychain.ServiceForBucket("pkgs") + "|AKID":                 "bucket-secret",
	}
	return NewFactory(cfg, WithSecrets(secrets), WithMounter(fileshare.StaticMounter{}))
}

func TestFactory_Folder(t *testing.T) {
	f := newTestFactory(t)

	point, err := f.DistributionPoint(context.Background(), "local")
	if err != nil {
		t.Fatalf("DistributionPoint() error = %v", err)
	}
	fo, ok := point.(*folder.Folder)
	if !ok {
		t.Fatalf("got %T, want *folder.Folder", point)
	}
	if fo.Root() != "/srv/pkgs" {
		t.Errorf("Root() = %q", fo.Root())
	}
	if point.Capability() != domain.CapabilityRead {
		t.Errorf("Capability() = %v, want read", point.Capability())
	}
	if point.PackageAPI() != nil {
		t.Error("folder must not have a package api")
	}
}

func TestFactory_FileSharePasswordFromSecrets(t *testing.T) {
	f := newTestFactory(t)

	point, err := f.DistributionPoint(context.Background(), "share")
	if err != nil {
		t.Fatalf("DistributionPoint() error = %v", err)
	}
	share, ok := point.(*fileshare.Share)
	if !ok {
		t.Fatalf("got %T, want *fileshare.Share", point)
	}
	if share.Spec().Password != "share-pass" {
		t.Errorf("password = %q", share.Spec().Password)
	}
	if share.NeedsCredentialPrompt() {
		t.Error("NeedsCredentialPrompt() = true with a stored password")
	}
}

func TestFactory_SharedConnection(t *testing.T) {
	f := newTestFactory(t)
	ctx := context.Background()

	point, err := f.DistributionPoint(ctx, "cloud")
	if err != nil {
		t.Fatalf("DistributionPoint() error = %v", err)
	}
	if _, ok := point.(*jcds.JCDS); !ok {
		t.Fatalf("got %T, want *jcds.JCDS", point)
	}
	if point.PackageAPI() == nil || point.PackageAPI().Flavor() != domain.APIJSON {
		t.Error("jcds point should carry the json package api")
	}

	upload, err := f.DistributionPoint(ctx, "upload")
	if err != nil {
		t.Fatalf("DistributionPoint(upload) error = %v", err)
	}
	if upload.PackageAPI() != point.PackageAPI() {
		t.Error("points on one server should share the package api")
	}

	c1, _ := f.Connection("prod")
	c2, _ := f.Connection("prod")
	if c1 != c2 {
		t.Error("Connection() should be cached")
	}
}

func TestFactory_Errors(t *testing.T) {
	f := newTestFactory(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		point   string
		wantErr error
	}{
		{"unknown point", "nope", domain.ErrDistributionPointNotFound},
		{"cloud needs json api", "legacy", domain.ErrConfigInvalid},
		{"missing server secret", "broken", domain.ErrAuthentication},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			point, err := f.DistributionPoint(ctx, tt.point)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("DistributionPoint() error = %v, want %v", err, tt.wantErr)
			}
			if point != nil {
				t.Errorf("DistributionPoint() = %v, want nil", point)
			}
		})
	}
}

func TestFactory_S3Bucket(t *testing.T) {
	f := newTestFactory(t)

	point, err := f.DistributionPoint(context.Background(), "bucket")
	if err != nil {
		t.Fatalf("DistributionPoint() error = %v", err)
	}
	if _, ok := point.(*s3bucket.Bucket); !ok {
		t.Fatalf("got %T, want *s3bucket.Bucket", point)
	}
	if !point.WillDownloadFiles() {
		t.Error("bucket should stage downloads")
	}
}

func TestFactory_Dirs(t *testing.T) {
	f := newTestFactory(t)
	if f.StagingDir() == f.LockDir() {
		t.Error("staging and lock dirs must differ")
	}
	if f.Orchestrator() == nil {
		t.Error("Orchestrator() = nil")
	}
}

func TestFactory_SecretLocation(t *testing.T) {
	f := newTestFactory(t)

	tests := []struct {
		name        string
		wantService string
		wantAccount string
		wantErr     error
	}{
		{"prod", keychain.ServiceForServer("example.jamfcloud.com"), "abc", nil},
		{"old", keychain.ServiceForServer("old.example.com:8443"), "admin", nil},
		{"cloud", keychain.ServiceForServer("example.jamfcloud.com"), "abc", nil},
		{"share", keychain.ServiceForShare("smb://fs1"), "svc", nil},
		{"bucket", keychain.ServiceForBucket("pkgs"), "AKID", nil},
		{"local", "", "", domain.ErrConfigInvalid},
		{"missing", "", "", domain.ErrDistributionPointNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service, account, err := f.SecretLocation(tt.name)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("SecretLocation() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil || service != tt.wantService || account != tt.wantAccount {
				t.Errorf("SecretLocation() = %q, %q, %v", service, account, err)
			}
		})
	}
}

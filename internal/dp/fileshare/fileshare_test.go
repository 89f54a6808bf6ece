package fileshare

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/Ning0612/dpsync/internal/domain"
	"github.com/Ning0612/dpsync/internal/dp"
	"github.com/Ning0612/dpsync/internal/testutil"
)

var _ dp.DistributionPoint = (*Share)(nil)

type fakeMounter struct {
	path     string
	err      error
	mounts   int
	unmounts int
}

func (m *fakeMounter) Mount(ctx context.Context, spec ShareSpec) (string, error) {
	m.mounts++
	if m.err != nil {
		return "", m.err
	}
	return m.path, nil
}

func (m *fakeMounter) Unmount(ctx context.Context, mountPath string) error {
	m.unmounts++
	return nil
}

func validSpec() ShareSpec {
	return ShareSpec{Address: "smb://fs1.example.com", ShareName: "CasperShare", Username: "svc", Password: "pw"}
}

func TestShareSpec_ValidateReasons(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*ShareSpec)
		want   domain.MountReason
	}{
		{"address", func(s *ShareSpec) { s.Address = "" }, domain.MountAddressMissing},
		{"share", func(s *ShareSpec) { s.ShareName = "" }, domain.MountShareNameMissing},
		{"username", func(s *ShareSpec) { s.Username = "" }, domain.MountNoUsername},
		{"password", func(s *ShareSpec) { s.Password = "" }, domain.MountNoPassword},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := validSpec()
			tt.modify(&spec)

			var mountErr *domain.MountError
			if err := spec.Validate(); !errors.As(err, &mountErr) || mountErr.Reason != tt.want {
				t.Errorf("expected %q, got %v", tt.want, err)
			}
		})
	}

	if err := validSpec().Validate(); err != nil {
		t.Errorf("valid spec rejected: %v", err)
	}
}

func TestShareSpec_Host(t *testing.T) {
	tests := map[string]string{
		"smb://fs1.example.com":  "fs1.example.com",
		"smb://fs1.example.com/": "fs1.example.com",
		"fs1.example.com":        "fs1.example.com",
	}
	for addr, want := range tests {
		if got := (ShareSpec{Address: addr}).Host(); got != want {
			t.Errorf("Host(%q) = %q, want %q", addr, got, want)
		}
	}
}

func TestShare_PrepareMountsOnceAndLists(t *testing.T) {
	mountDir := testutil.TempDir(t)
	testutil.CreateTestFile(t, mountDir, "A.pkg", "a")
	m := &fakeMounter{path: mountDir}

	s := New("share", validSpec(), domain.CapabilityReadWrite, m, nil, false, nil)
	ctx := context.Background()

	if err := s.Prepare(ctx); err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	if err := s.Prepare(ctx); err != nil {
		t.Fatalf("second Prepare failed: %v", err)
	}
	if m.mounts != 1 {
		t.Errorf("expected one mount, got %d", m.mounts)
	}

	if err := s.ListFiles(ctx, true); err != nil {
		t.Fatalf("ListFiles failed: %v", err)
	}
	if _, ok := s.FindFile("A.pkg"); !ok {
		t.Error("A.pkg missing from catalog")
	}

	if err := s.Cleanup(ctx); err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if err := s.Cleanup(ctx); err != nil {
		t.Fatalf("second Cleanup failed: %v", err)
	}
	if m.unmounts != 1 {
		t.Errorf("expected one unmount, got %d", m.unmounts)
	}
	if s.Mounted() {
		t.Error("share should be unmounted")
	}
}

func TestShare_PrepareMissingPassword(t *testing.T) {
	spec := validSpec()
	spec.Password = ""
	m := &fakeMounter{path: testutil.TempDir(t)}

	s := New("share", spec, domain.CapabilityReadWrite, m, nil, false, nil)
	if !s.NeedsCredentialPrompt() {
		t.Error("expected credential prompt to be needed")
	}

	err := s.Prepare(context.Background())
	var mountErr *domain.MountError
	if !errors.As(err, &mountErr) || mountErr.Reason != domain.MountNoPassword {
		t.Errorf("expected no-password mount error, got %v", err)
	}
	if m.mounts != 0 {
		t.Error("mount should not be attempted")
	}
}

func TestShare_MountFailureIsTyped(t *testing.T) {
	m := &fakeMounter{err: errors.New("exit status 32")}
	s := New("share", validSpec(), domain.CapabilityReadWrite, m, nil, false, nil)

	err := s.Prepare(context.Background())
	var mountErr *domain.MountError
	if !errors.As(err, &mountErr) || mountErr.Reason != domain.MountFailed {
		t.Errorf("expected mount failed error, got %v", err)
	}
}

func TestStaticMounter(t *testing.T) {
	dir := testutil.TempDir(t)
	path, err := StaticMounter{}.Mount(context.Background(), ShareSpec{MountPath: dir})
	if err != nil || path != dir {
		t.Errorf("expected %s, got %s, %v", dir, path, err)
	}

	_, err = StaticMounter{}.Mount(context.Background(), ShareSpec{MountPath: filepath.Join(dir, "missing")})
	if err == nil {
		t.Error("expected error for missing mount path")
	}
}

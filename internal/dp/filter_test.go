package dp

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/Ning0612/dpsync/internal/core/checksum"
	"github.com/Ning0612/dpsync/internal/domain"
	"github.com/Ning0612/dpsync/internal/testutil"
)

func TestAcceptFile(t *testing.T) {
	tests := []struct {
		name     string
		isDir    bool
		zipExist bool
		want     bool
	}{
		{"Firefox.dmg", false, false, true},
		{"FIREFOX.DMG", false, false, true},
		{"Office.pkg", false, false, true},
		{"Office.mpkg", false, false, true},
		{"Office.pkg.zip", false, false, true},
		{"Office.mpkg.zip", false, false, true},
		{"Bundle.pkg", true, false, true},
		{"Bundle.pkg", true, true, false},
		{"Bundle.mpkg", true, true, false},
		{"Flat.pkg", false, true, true},
		{"notes.txt", false, false, false},
		{"archive.zip", false, false, false},
		{"Folder", true, false, false},
	}

	for _, tt := range tests {
		if got := AcceptFile(tt.name, tt.isDir, tt.zipExist); got != tt.want {
			t.Errorf("AcceptFile(%q, dir=%v, zip=%v) = %v, want %v", tt.name, tt.isDir, tt.zipExist, got, tt.want)
		}
	}
}

func TestFilterFiles(t *testing.T) {
	files := []domain.DpFile{
		{Name: "A.pkg"},
		{Name: "Bundle.pkg", IsDir: true},
		{Name: "bundle.pkg.zip"},
		{Name: "readme.md"},
		{Name: "C.dmg"},
	}

	got := FilterFiles(files)
	want := []string{"A.pkg", "bundle.pkg.zip", "C.dmg"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %+v", want, got)
	}
	for i, name := range want {
		if got[i].Name != name {
			t.Errorf("position %d: expected %s, got %s", i, name, got[i].Name)
		}
	}
}

func TestLocalStore_ListFilters(t *testing.T) {
	dir := testutil.TempDir(t)
	testutil.CreateTestFile(t, dir, "A.pkg", "aaaa")
	testutil.CreateTestFile(t, dir, "B.dmg", "bb")
	testutil.CreateTestFile(t, dir, "readme.txt", "ignored")
	testutil.CreateBundle(t, dir, "Zipped.pkg", "payload")
	testutil.CreateTestFile(t, dir, "Zipped.pkg.zip", "zip")
	testutil.CreateBundle(t, dir, "Fluffy.pkg", "payload")

	store := NewLocalStore(dir, nil, false)
	files, err := store.List(context.Background(), true)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}

	got := map[string]domain.DpFile{}
	for _, f := range files {
		got[f.Name] = f
	}
	for _, name := range []string{"A.pkg", "B.dmg", "Zipped.pkg.zip", "Fluffy.pkg"} {
		if _, ok := got[name]; !ok {
			t.Errorf("expected %s in listing", name)
		}
	}
	for _, name := range []string{"readme.txt", "Zipped.pkg"} {
		if _, ok := got[name]; ok {
			t.Errorf("did not expect %s in listing", name)
		}
	}
	if !got["Fluffy.pkg"].IsFluffy() {
		t.Error("expected Fluffy.pkg to be a bundle")
	}
	if got["A.pkg"].Size != 4 {
		t.Errorf("expected size 4, got %d", got["A.pkg"].Size)
	}

	all, err := store.List(context.Background(), false)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 6 {
		t.Errorf("expected 6 unfiltered entries, got %d", len(all))
	}
}

func TestLocalStore_HashOnList(t *testing.T) {
	dir := testutil.TempDir(t)
	testutil.CreateTestFile(t, dir, "A.pkg", "hello world")

	store := NewLocalStore(dir, checksum.NewDefaultHasher(), true)
	files, err := store.List(context.Background(), true)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 {
		t.Fatalf("expected 1 file, got %d", len(files))
	}

	md5, ok := files[0].Checksums.Find(domain.ChecksumMD5)
	if !ok || md5.Value != "5eb63bbbe01eeed093cb22bb8f5acdc3" {
		t.Errorf("unexpected MD5 %+v", md5)
	}
	if _, ok := files[0].Checksums.Find(domain.ChecksumSHA512); !ok {
		t.Error("expected SHA-512")
	}
}

func TestLocalStore_TransferAndDelete(t *testing.T) {
	srcDir := testutil.TempDir(t)
	dstDir := testutil.TempDir(t)
	src := testutil.CreateTestFile(t, srcDir, "A.pkg", "bytes")

	store := NewLocalStore(dstDir, nil, false)
	file := domain.NewDpFile("A.pkg", src, 5)

	stored, err := store.Transfer(context.Background(), file, "", nil)
	if err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}
	if stored.LocalPath != filepath.Join(dstDir, "A.pkg") {
		t.Errorf("unexpected stored path %s", stored.LocalPath)
	}
	testutil.AssertFileContent(t, stored.LocalPath, "bytes")

	if err := store.Delete(context.Background(), stored); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	testutil.AssertFileNotExists(t, stored.LocalPath)
}

func TestLocalStore_RejectsEscape(t *testing.T) {
	dir := testutil.TempDir(t)
	store := NewLocalStore(dir, nil, false)

	_, err := store.Transfer(context.Background(), domain.DpFile{Name: "../evil.pkg", LocalPath: "/dev/null"}, "", nil)
	if !errors.Is(err, domain.ErrPermissionDenied) {
		t.Errorf("expected ErrPermissionDenied, got %v", err)
	}
}

func TestLocalStore_CheckRoot(t *testing.T) {
	dir := testutil.TempDir(t)
	file := testutil.CreateTestFile(t, dir, "plain", "x")

	if err := NewLocalStore(dir, nil, false).CheckRoot(); err != nil {
		t.Errorf("expected valid root, got %v", err)
	}
	if err := NewLocalStore(file, nil, false).CheckRoot(); !errors.Is(err, domain.ErrNotDirectory) {
		t.Errorf("expected ErrNotDirectory, got %v", err)
	}
	if err := NewLocalStore(filepath.Join(dir, "missing"), nil, false).CheckRoot(); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

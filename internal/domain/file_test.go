package domain

import "testing"

func TestDpFile_EqualHonorsChecksumOverSize(t *testing.T) {
	a := DpFile{Name: "A.pkg", Size: 100, Checksums: NewChecksums(Checksum{ChecksumMD5, "x"})}
	b := DpFile{Name: "A.pkg", Size: 999, Checksums: NewChecksums(Checksum{ChecksumMD5, "x"})}

	if !a.Equal(b) {
		t.Error("matching checksums should be equal regardless of size")
	}

	b.Checksums = NewChecksums(Checksum{ChecksumMD5, "y"})
	b.Size = 100
	if a.Equal(b) {
		t.Error("differing checksums should be unequal even with same size")
	}
}

func TestDpFile_EqualFallsBackToSize(t *testing.T) {
	a := DpFile{Name: "A.pkg", Size: 100, Checksums: NewChecksums(Checksum{ChecksumMD5, "x"})}
	b := DpFile{Name: "A.pkg", Size: 100, Checksums: NewChecksums(Checksum{ChecksumSHA512, "y"})}

	if !a.Equal(b) {
		t.Error("no shared algorithm: same size should be equal")
	}

	b.Size = 101
	if a.Equal(b) {
		t.Error("no shared algorithm: different size should be unequal")
	}
}

func TestDpFile_IsFluffy(t *testing.T) {
	tests := []struct {
		file DpFile
		want bool
	}{
		{DpFile{Name: "App.pkg", IsDir: true}, true},
		{DpFile{Name: "App.mpkg", IsDir: true}, true},
		{DpFile{Name: "App.pkg"}, false},
		{DpFile{Name: "Folder", IsDir: true}, false},
	}
	for _, tt := range tests {
		if got := tt.file.IsFluffy(); got != tt.want {
			t.Errorf("%+v IsFluffy() = %v, want %v", tt.file, got, tt.want)
		}
	}
}

func TestDpFiles_UpsertReplacesAndAppends(t *testing.T) {
	var files DpFiles
	files.Replace([]DpFile{{Name: "A.pkg", Size: 1}, {Name: "B.pkg", Size: 2}, {Name: "C.pkg", Size: 3}})

	files.Upsert(DpFile{Name: "A.pkg", Size: 10})

	names := files.Names()
	want := []string{"B.pkg", "C.pkg", "A.pkg"}
	if len(names) != len(want) {
		t.Fatalf("names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("names = %v, want %v", names, want)
		}
	}
	got, _ := files.FindByName("A.pkg")
	if got.Size != 10 {
		t.Errorf("expected replaced size 10, got %d", got.Size)
	}
}

func TestDpFiles_RemoveAndFind(t *testing.T) {
	a := NewDpFile("A.pkg", "", 1)
	var files DpFiles
	files.Replace([]DpFile{a})

	if _, ok := files.FindByID(a.ID); !ok {
		t.Fatal("expected to find by id")
	}
	if !files.Remove("A.pkg") {
		t.Fatal("expected remove to succeed")
	}
	if files.Remove("A.pkg") {
		t.Error("second remove should report false")
	}
	if _, ok := files.FindByName("A.pkg"); ok {
		t.Error("file should be gone")
	}
}

func TestTotalSize_IgnoresUnknown(t *testing.T) {
	files := []DpFile{{Size: 100}, {Size: UnknownSize}, {Size: 50}}
	if got := TotalSize(files); got != 150 {
		t.Errorf("TotalSize = %d, want 150", got)
	}
}

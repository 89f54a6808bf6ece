package domain

import "testing"

func TestChecksums_UpdateReplacesSameAlgorithm(t *testing.T) {
	var c Checksums
	c.Update(Checksum{Type: ChecksumMD5, Value: "aaa"})
	c.Update(Checksum{Type: ChecksumMD5, Value: "bbb"})

	if c.Len() != 1 {
		t.Fatalf("expected 1 checksum, got %d", c.Len())
	}
	got, ok := c.Find(ChecksumMD5)
	if !ok || got.Value != "bbb" {
		t.Errorf("expected MD5 bbb, got %+v (found=%v)", got, ok)
	}
}

func TestChecksums_Remove(t *testing.T) {
	c := NewChecksums(
		Checksum{Type: ChecksumMD5, Value: "a"},
		Checksum{Type: ChecksumSHA512, Value: "b"},
	)

	if !c.Remove(ChecksumMD5) {
		t.Error("expected Remove to report an existing value")
	}
	if c.Remove(ChecksumMD5) {
		t.Error("expected second Remove to report false")
	}
	if _, ok := c.Find(ChecksumMD5); ok {
		t.Error("MD5 should be gone")
	}
	if c.Len() != 1 {
		t.Errorf("expected 1 checksum left, got %d", c.Len())
	}
}

func TestChecksums_Best(t *testing.T) {
	tests := []struct {
		name   string
		values []Checksum
		want   ChecksumType
		found  bool
	}{
		{
			name:  "empty",
			found: false,
		},
		{
			name:   "sha3 only is ignored",
			values: []Checksum{{ChecksumSHA3512, "x"}},
			found:  false,
		},
		{
			name:   "md5 only",
			values: []Checksum{{ChecksumMD5, "x"}},
			want:   ChecksumMD5,
			found:  true,
		},
		{
			name:   "sha256 beats md5",
			values: []Checksum{{ChecksumMD5, "x"}, {ChecksumSHA256, "y"}},
			want:   ChecksumSHA256,
			found:  true,
		},
		{
			name:   "sha512 beats everything",
			values: []Checksum{{ChecksumSHA3512, "w"}, {ChecksumMD5, "x"}, {ChecksumSHA512, "z"}, {ChecksumSHA256, "y"}},
			want:   ChecksumSHA512,
			found:  true,
		},
		{
			name:   "sha3 with md5 picks md5",
			values: []Checksum{{ChecksumSHA3512, "w"}, {ChecksumMD5, "x"}},
			want:   ChecksumMD5,
			found:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NewChecksums(tt.values...).Best()
			if ok != tt.found {
				t.Fatalf("found = %v, want %v", ok, tt.found)
			}
			if ok && got.Type != tt.want {
				t.Errorf("Best() = %s, want %s", got.Type, tt.want)
			}
		})
	}
}

func TestChecksums_Equal(t *testing.T) {
	tests := []struct {
		name string
		a, b []Checksum
		want bool
	}{
		{
			name: "sha512 equal",
			a:    []Checksum{{ChecksumSHA512, "abc"}, {ChecksumMD5, "1"}},
			b:    []Checksum{{ChecksumSHA512, "ABC"}, {ChecksumMD5, "2"}},
			want: true,
		},
		{
			name: "sha512 differs even when md5 matches",
			a:    []Checksum{{ChecksumSHA512, "abc"}, {ChecksumMD5, "1"}},
			b:    []Checksum{{ChecksumSHA512, "def"}, {ChecksumMD5, "1"}},
			want: false,
		},
		{
			name: "md5 fallback",
			a:    []Checksum{{ChecksumSHA512, "abc"}, {ChecksumMD5, "1"}},
			b:    []Checksum{{ChecksumMD5, "1"}},
			want: true,
		},
		{
			name: "only sha256 shared",
			a:    []Checksum{{ChecksumSHA256, "abc"}},
			b:    []Checksum{{ChecksumSHA256, "abc"}},
			want: false,
		},
		{
			name: "nothing shared",
			a:    []Checksum{{ChecksumMD5, "abc"}},
			b:    []Checksum{{ChecksumSHA512, "abc"}},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewChecksums(tt.a...)
			b := NewChecksums(tt.b...)
			if got := a.Equal(b); got != tt.want {
				t.Errorf("Equal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestChecksums_CloneIsIndependent(t *testing.T) {
	a := NewChecksums(Checksum{ChecksumMD5, "1"})
	b := a.Clone()
	b.Update(Checksum{ChecksumMD5, "2"})

	got, _ := a.Find(ChecksumMD5)
	if got.Value != "1" {
		t.Errorf("original changed through clone: %s", got.Value)
	}
}

func TestChecksums_CopyIsIndependent(t *testing.T) {
	a := NewChecksums(Checksum{ChecksumMD5, "x"}, Checksum{ChecksumSHA512, "2"})
	b := a
	b.Update(Checksum{ChecksumMD5, "y"})
	b.Update(Checksum{ChecksumSHA256, "3"})

	if got, _ := a.Find(ChecksumMD5); got.Value != "x" {
		t.Errorf("Update on a copy changed the original: MD5 = %s", got.Value)
	}
	if _, ok := a.Find(ChecksumSHA256); ok || a.Len() != 2 {
		t.Errorf("Update on a copy grew the original: %v", a.All())
	}

	src := DpFile{Name: "A.pkg", Checksums: a}
	cp := src
	if !cp.Checksums.Remove(ChecksumMD5) {
		t.Fatal("Remove() = false, want true")
	}
	want := []Checksum{{ChecksumMD5, "x"}, {ChecksumSHA512, "2"}}
	got := src.Checksums.All()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("Remove on a copy changed the original: %v", got)
	}
	if cp.Checksums.Len() != 1 {
		t.Errorf("copy Len() = %d, want 1", cp.Checksums.Len())
	}
}

func TestParseChecksumType(t *testing.T) {
	for in, want := range map[string]ChecksumType{
		"MD5":      ChecksumMD5,
		"sha-512":  ChecksumSHA512,
		"SHA_256":  ChecksumSHA256,
		"SHA3_512": ChecksumSHA3512,
	} {
		got, ok := ParseChecksumType(in)
		if !ok || got != want {
			t.Errorf("ParseChecksumType(%q) = %q, %v", in, got, ok)
		}
	}
	if _, ok := ParseChecksumType("crc32"); ok {
		t.Error("crc32 should not parse")
	}
}

package domain

import (
	"strings"

	"github.com/google/uuid"
)

// UnknownSize marks a DpFile whose size has not been determined
const UnknownSize int64 = -1

// DpFile is one package file on a distribution point.
// Synchronization compares files by Name; ID only identifies a record in a selection.
type DpFile struct {
	// ID is a stable identifier for UI/CLI selection
	ID string

	// Name is the file name, e.g. "Firefox.pkg" or "Office.pkg.zip"
	Name string

	// LocalPath is set when the bytes are reachable on the local file system
	LocalPath string

	// Size in bytes, or UnknownSize
	Size int64

	// Checksums known for the content
	Checksums Checksums

	// IsDir marks a bundle-style ("fluffy") package directory
	IsDir bool
}

// NewDpFile creates a file record with a fresh ID
func NewDpFile(name, localPath string, size int64) DpFile {
	return DpFile{
		ID:        uuid.NewString(),
		Name:      name,
		LocalPath: localPath,
		Size:      size,
	}
}

// Equal reports whether two records describe the same content.
// Checksums decide when both records share an algorithm, otherwise size does.
func (f DpFile) Equal(other DpFile) bool {
	if f.Checksums.HasMatchingAlgorithm(other.Checksums) {
		return f.Checksums.Equal(other.Checksums)
	}
	return f.Size == other.Size
}

// Clone returns a copy that shares no mutable state with f
func (f DpFile) Clone() DpFile {
	f.Checksums = f.Checksums.Clone()
	return f
}

// IsFluffy reports whether the record is a bundle package directory
func (f DpFile) IsFluffy() bool {
	if !f.IsDir {
		return false
	}
	lower := strings.ToLower(f.Name)
	return strings.HasSuffix(lower, ".pkg") || strings.HasSuffix(lower, ".mpkg")
}

// ZipSuffix is appended to a bundle name to form its zipped sibling
const ZipSuffix = ".zip"

// TransferName is the name the record is stored under on a destination.
// A bundle travels as its zip.
func (f DpFile) TransferName() string {
	if f.IsFluffy() {
		return f.Name + ZipSuffix
	}
	return f.Name
}

// DpFiles is the ordered file catalog of one distribution point
type DpFiles struct {
	Files []DpFile
}

// FindByName returns the record with the given name
func (d *DpFiles) FindByName(name string) (DpFile, bool) {
	if i := d.indexOf(name); i >= 0 {
		return d.Files[i], true
	}
	return DpFile{}, false
}

// FindByID returns the record with the given id
func (d *DpFiles) FindByID(id string) (DpFile, bool) {
	for _, f := range d.Files {
		if f.ID == id {
			return f, true
		}
	}
	return DpFile{}, false
}

// Replace swaps the whole catalog (used after listing)
func (d *DpFiles) Replace(files []DpFile) {
	d.Files = files
}

// Upsert removes any record with the same name, then appends file
func (d *DpFiles) Upsert(file DpFile) {
	if i := d.indexOf(file.Name); i >= 0 {
		d.Files = append(d.Files[:i], d.Files[i+1:]...)
	}
	d.Files = append(d.Files, file)
}

// Remove deletes the record with the given name and reports whether it existed
func (d *DpFiles) Remove(name string) bool {
	i := d.indexOf(name)
	if i < 0 {
		return false
	}
	d.Files = append(d.Files[:i], d.Files[i+1:]...)
	return true
}

// Names returns the file names in catalog order
func (d *DpFiles) Names() []string {
	names := make([]string, len(d.Files))
	for i, f := range d.Files {
		names[i] = f.Name
	}
	return names
}

// Snapshot returns a copy of the catalog safe to hand to readers
func (d *DpFiles) Snapshot() []DpFile {
	out := make([]DpFile, len(d.Files))
	for i, f := range d.Files {
		out[i] = f.Clone()
	}
	return out
}

// TotalSize sums the known sizes of the given files
func TotalSize(files []DpFile) int64 {
	var total int64
	for _, f := range files {
		if f.Size > 0 {
			total += f.Size
		}
	}
	return total
}

func (d *DpFiles) indexOf(name string) int {
	for i, f := range d.Files {
		if f.Name == name {
			return i
		}
	}
	return -1
}

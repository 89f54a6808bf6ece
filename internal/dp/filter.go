package dp

import (
	"io/fs"
	"strings"

	"github.com/Ning0612/dpsync/internal/domain"
)

// IsPackageName reports whether name ends in .pkg or .mpkg
func IsPackageName(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".pkg") || strings.HasSuffix(lower, ".mpkg")
}

// IsZippedPackageName reports whether name ends in .pkg.zip or .mpkg.zip
func IsZippedPackageName(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".pkg.zip") || strings.HasSuffix(lower, ".mpkg.zip")
}

// ZipName returns the zipped sibling name of a bundle
func ZipName(name string) string {
	return name + domain.ZipSuffix
}

// AcceptFile applies the package file-type rule to one directory entry.
// Disk images and zipped packages are always accepted, flat packages too.
// A bundle directory is accepted only when no zipped sibling exists.
func AcceptFile(name string, isDir, zipSiblingExists bool) bool {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".dmg"):
		return true
	case IsZippedPackageName(name):
		return true
	case IsPackageName(name):
		if !isDir {
			return true
		}
		return !zipSiblingExists
	}
	return false
}

// FilterEntries keeps the entries accepted by AcceptFile, preserving order
func FilterEntries(entries []fs.DirEntry) []fs.DirEntry {
	names := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		names[strings.ToLower(e.Name())] = struct{}{}
	}

	out := make([]fs.DirEntry, 0, len(entries))
	for _, e := range entries {
		_, hasZip := names[strings.ToLower(ZipName(e.Name()))]
		if AcceptFile(e.Name(), e.IsDir(), hasZip) {
			out = append(out, e)
		}
	}
	return out
}

// FilterFiles applies AcceptFile to a remote listing, preserving order
func FilterFiles(files []domain.DpFile) []domain.DpFile {
	names := make(map[string]struct{}, len(files))
	for _, f := range files {
		names[strings.ToLower(f.Name)] = struct{}{}
	}

	out := make([]domain.DpFile, 0, len(files))
	for _, f := range files {
		_, hasZip := names[strings.ToLower(ZipName(f.Name))]
		if AcceptFile(f.Name, f.IsDir, hasZip) {
			out = append(out, f)
		}
	}
	return out
}

package diff

import "github.com/Ning0612/dpsync/internal/domain"

// DiffResult represents the comparison result between two file records
type DiffResult int

const (
	// FilesIdentical indicates the records describe the same content
	FilesIdentical DiffResult = iota
	// FileModified indicates the file exists on both sides but differs
	FileModified
	// FileOnlyInSource indicates the file only exists on the source
	FileOnlyInSource
	// FileOnlyInDestination indicates the file only exists on the destination
	FileOnlyInDestination
)

// String returns the string representation of the result
func (r DiffResult) String() string {
	switch r {
	case FilesIdentical:
		return "identical"
	case FileModified:
		return "modified"
	case FileOnlyInSource:
		return "only-in-source"
	case FileOnlyInDestination:
		return "only-in-destination"
	}
	return "unknown"
}

// Compare compares a source record with the same-named destination record.
// Either side may be nil.
func Compare(src, dst *domain.DpFile) DiffResult {
	switch {
	case src == nil && dst == nil:
		return FilesIdentical
	case dst == nil:
		return FileOnlyInSource
	case src == nil:
		return FileOnlyInDestination
	}

	if src.Equal(*dst) {
		return FilesIdentical
	}
	return FileModified
}

// Plan is the outcome of FilesToSynchronize
type Plan struct {
	// Files to transfer, in source catalog (or selection) order
	Files []domain.DpFile

	// Skipped files already match the destination
	Skipped []domain.DpFile
}

// FilesToSynchronize decides which files to copy from source to destination.
//
// With an empty selection every source file is considered: it is included
// unless forceSync is false and the destination holds an equal record of the
// same name. With a non-empty selection only the selected files are
// considered: each is included when absent on the destination, when
// forceSync is set, or when it differs from the destination's record.
func FilesToSynchronize(selection, source, destination []domain.DpFile, forceSync bool) Plan {
	candidates := source
	if len(selection) > 0 {
		candidates = selection
	}

	byName := make(map[string]*domain.DpFile, len(destination))
	for i := range destination {
		byName[destination[i].Name] = &destination[i]
	}

	var plan Plan
	for i := range candidates {
		file := candidates[i]
		if forceSync {
			plan.Files = append(plan.Files, file)
			continue
		}
		dst := byName[file.Name]
		if dst == nil && file.IsFluffy() {
			// the zip of a bundle was transferred before
			if _, ok := byName[file.TransferName()]; ok {
				plan.Skipped = append(plan.Skipped, file)
				continue
			}
		}
		if Compare(&file, dst) == FilesIdentical {
			plan.Skipped = append(plan.Skipped, file)
			continue
		}
		plan.Files = append(plan.Files, file)
	}
	return plan
}

// SourceNames returns the names a destination may hold for the source
// files: each name plus the transfer name of bundles
func SourceNames(source []domain.DpFile) map[string]struct{} {
	names := make(map[string]struct{}, len(source))
	for _, f := range source {
		names[f.Name] = struct{}{}
		names[f.TransferName()] = struct{}{}
	}
	return names
}

// FilesNotOnSource returns destination records whose name is absent from the
// source. The zip of a source bundle counts as present.
func FilesNotOnSource(source, destination []domain.DpFile) []domain.DpFile {
	names := SourceNames(source)

	var out []domain.DpFile
	for _, f := range destination {
		if _, ok := names[f.Name]; !ok {
			out = append(out, f)
		}
	}
	return out
}

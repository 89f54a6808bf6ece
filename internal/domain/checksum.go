package domain

import "strings"

// ChecksumType identifies a hashing algorithm
type ChecksumType string

const (
	ChecksumMD5     ChecksumType = "MD5"
	ChecksumSHA256  ChecksumType = "SHA_256"
	ChecksumSHA512  ChecksumType = "SHA_512"
	ChecksumSHA3512 ChecksumType = "SHA3_512"
)

// ParseChecksumType maps the names used by package servers onto a ChecksumType
func ParseChecksumType(s string) (ChecksumType, bool) {
	switch strings.ToUpper(strings.ReplaceAll(s, "-", "_")) {
	case "MD5":
		return ChecksumMD5, true
	case "SHA_256", "SHA256":
		return ChecksumSHA256, true
	case "SHA_512", "SHA512":
		return ChecksumSHA512, true
	case "SHA3_512", "SHA3512":
		return ChecksumSHA3512, true
	}
	return "", false
}

// Checksum is a single digest of file content
type Checksum struct {
	Type  ChecksumType
	Value string
}

// Checksums holds at most one Checksum per algorithm.
// The zero value is an empty set ready to use.
type Checksums struct {
	items []Checksum
}

// NewChecksums builds a set from the given values; later values win
func NewChecksums(values ...Checksum) Checksums {
	var c Checksums
	for _, v := range values {
		c.Update(v)
	}
	return c
}

// Update inserts the checksum, replacing any value with the same algorithm.
// The backing array is never written in place, so copies of c are unaffected.
func (c *Checksums) Update(checksum Checksum) {
	items := make([]Checksum, 0, len(c.items)+1)
	replaced := false
	for _, item := range c.items {
		if item.Type == checksum.Type {
			item.Value = checksum.Value
			replaced = true
		}
		items = append(items, item)
	}
	if !replaced {
		items = append(items, checksum)
	}
	c.items = items
}

// Remove deletes the value for an algorithm and reports whether one existed
func (c *Checksums) Remove(t ChecksumType) bool {
	for i := range c.items {
		if c.items[i].Type == t {
			c.items = append(c.items[:i:i], c.items[i+1:]...)
			return true
		}
	}
	return false
}

// Find returns the checksum for an algorithm
func (c Checksums) Find(t ChecksumType) (Checksum, bool) {
	for _, item := range c.items {
		if item.Type == t {
			return item, true
		}
	}
	return Checksum{}, false
}

// Best returns the most trusted checksum: SHA-512, then SHA-256, then MD5.
// SHA3-512 is never returned because package records cannot carry it yet.
func (c Checksums) Best() (Checksum, bool) {
	for _, t := range []ChecksumType{ChecksumSHA512, ChecksumSHA256, ChecksumMD5} {
		if found, ok := c.Find(t); ok {
			return found, true
		}
	}
	return Checksum{}, false
}

// HasMatchingAlgorithm reports whether both sets carry at least one common algorithm
func (c Checksums) HasMatchingAlgorithm(other Checksums) bool {
	for _, item := range c.items {
		if _, ok := other.Find(item.Type); ok {
			return true
		}
	}
	return false
}

// Equal compares SHA-512 digests when both sets have one, else MD5 digests.
// Any other combination is unequal.
func (c Checksums) Equal(other Checksums) bool {
	if a, ok := c.Find(ChecksumSHA512); ok {
		if b, ok := other.Find(ChecksumSHA512); ok {
			return strings.EqualFold(a.Value, b.Value)
		}
	}
	if a, ok := c.Find(ChecksumMD5); ok {
		if b, ok := other.Find(ChecksumMD5); ok {
			return strings.EqualFold(a.Value, b.Value)
		}
	}
	return false
}

// Len returns the number of algorithms in the set
func (c Checksums) Len() int {
	return len(c.items)
}

// All returns a copy of the stored checksums
func (c Checksums) All() []Checksum {
	out := make([]Checksum, len(c.items))
	copy(out, c.items)
	return out
}

// Clone returns an independent copy of the set
func (c Checksums) Clone() Checksums {
	return Checksums{items: c.All()}
}

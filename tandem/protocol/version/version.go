// Package version tracks which wire schema versions a session can speak.
// A Set represents every schema a node accepts while a Version is a single major+minor that can be checked against a Set.
package version

import (
	"slices"
	"strconv"
)

// Version identifies a revision of the envelope schema.
// Both halves are packed into one byte on the wire, so only the 4 least-significant bits of each are kept.
type Version struct {
	Major uint8
	Minor uint8
}

// Current is the schema this implementation writes.
var Current = Version{Major: 1, Minor: 0}

// Byte packs the version into a single byte.
// The most-significant nibble is major; the rest are minor.
// Ex: 0b 0001 0010 equates to version 1.2
func (v Version) Byte() byte {
	return v.Major<<4 | v.Minor&0b00001111
}

func (v Version) String() string {
	return strconv.FormatUint(uint64(v.Major), 10) + "." + strconv.FormatUint(uint64(v.Minor), 10)
}

// FromByte splits the byte into two nibbles, setting them to major and minor respectively.
func FromByte(b byte) Version {
	return Version{b >> 4, b & 0b00001111}
}

// A Set is a collection of accepted schema versions.
// Sets are not thread-safe.
type Set struct {
	all     map[uint8][]uint8 // major -> minors
	highest Version
}

// NewSet catalogs the given versions.
func NewSet(vs ...Version) Set {
	s := Set{all: make(map[uint8][]uint8)}
	for _, v := range vs {
		if !slices.Contains(s.all[v.Major], v.Minor) {
			s.all[v.Major] = append(s.all[v.Major], v.Minor)
		}
		if (v.Major > s.highest.Major) || (v.Major == s.highest.Major && v.Minor > s.highest.Minor) {
			s.highest = v
		}
	}
	return s
}

// Supports returns if the given version is in the Set.
// Minor revisions are additive, so any minor under a supported major is accepted.
func (vs Set) Supports(v Version) bool {
	_, found := vs.all[v.Major]
	return found
}

// HighestSupported returns the highest version in the Set.
func (vs Set) HighestSupported() Version {
	return vs.highest
}

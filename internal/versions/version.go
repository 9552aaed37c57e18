package versions

import (
	"fmt"
	"slices"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// OpenMarker is the suffix that turns a version into an open range ("this version and any
// later release in the same lineage").
const OpenMarker = "+"

// ParseError is returned when a version string cannot be parsed
type ParseError struct {
	Version string
	Reason  string
}

// Error returns the error message
func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid version %q: %s", e.Version, e.Reason)
}

// Version is a parsed, totally ordered provider version.
// The zero value is not a valid version; use Parse.
type Version struct {
	sv   *semver.Version
	open bool
}

// Parse parses a version string. A trailing "+" is stripped and the result is tagged open.
func Parse(s string) (Version, error) {
	if s == "" {
		return Version{}, &ParseError{Version: s, Reason: "empty version string"}
	}

	raw := s
	open := false
	if strings.HasSuffix(raw, OpenMarker) {
		raw = strings.TrimSuffix(raw, OpenMarker)
		open = true
		if raw == "" {
			return Version{}, &ParseError{Version: s, Reason: "open marker without a version"}
		}
	}

	for _, r := range raw {
		if disallowed(r) {
			return Version{}, &ParseError{Version: s, Reason: fmt.Sprintf("disallowed character %q", r)}
		}
	}

	sv, err := semver.NewVersion(raw)
	if err != nil {
		return Version{}, &ParseError{Version: s, Reason: err.Error()}
	}

	return Version{sv: sv, open: open}, nil
}

// MustParse is like Parse but panics on error. Intended for tests and constants.
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

func disallowed(r rune) bool {
	switch {
	case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		return false
	case r == '.', r == '-', r == '+':
		return false
	}
	return true
}

// IsZero reports whether v is the zero Version
func (v Version) IsZero() bool {
	return v.sv == nil
}

// IsOpen reports whether v was declared with the open marker
func (v Version) IsOpen() bool {
	return v.open
}

// Base returns v without the open tag
func (v Version) Base() Version {
	return Version{sv: v.sv}
}

// Major returns the major component
func (v Version) Major() uint64 {
	if v.sv == nil {
		return 0
	}
	return v.sv.Major()
}

// String returns the canonical form. Parsing it yields an equal Version.
func (v Version) String() string {
	if v.sv == nil {
		return ""
	}
	if v.open {
		return v.sv.String() + OpenMarker
	}
	return v.sv.String()
}

// Compare returns -1, 0 or 1. Versions are ordered by semver precedence; at equal
// precedence a closed version sorts before an open one, then build metadata breaks the tie.
func (v Version) Compare(o Version) int {
	if c := v.sv.Compare(o.sv); c != 0 {
		return c
	}
	if v.open != o.open {
		if v.open {
			return 1
		}
		return -1
	}
	return strings.Compare(v.sv.Metadata(), o.sv.Metadata())
}

// ComparePrecedence compares base values only, ignoring the open tag and build metadata
func (v Version) ComparePrecedence(o Version) int {
	return v.sv.Compare(o.sv)
}

// Equal reports whether v and o are the same parsed version, open tag included
func (v Version) Equal(o Version) bool {
	return v.Compare(o) == 0
}

// Sort sorts vs ascending in place. The sort is stable.
func Sort(vs []Version) {
	slices.SortStableFunc(vs, Version.Compare)
}

// Strings returns the canonical string of every version in vs
func Strings(vs []Version) []string {
	out := make([]string, 0, len(vs))
	for _, v := range vs {
		out = append(out, v.String())
	}
	return out
}

// Package constraint decides which provider versions are kept.
package constraint

import (
	"fmt"
	"log/slog"

	"github.com/stacklok/provider-mirror/internal/versions"
)

// Kind identifies the variant held by a Constraint
type Kind int

const (
	// KindNone accepts every parsed version
	KindNone Kind = iota
	// KindFloor accepts versions at or above a minimum
	KindFloor
	// KindAllowList accepts only versions equal to one of the listed entries
	KindAllowList
	// KindOpenRange accepts a version and any later release with the same major
	KindOpenRange
)

// String returns the kind name
func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindFloor:
		return "floor"
	case KindAllowList:
		return "allow-list"
	case KindOpenRange:
		return "open-range"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Constraint is a closed variant: None, Floor, AllowList or OpenRange.
// The zero value is None.
type Constraint struct {
	kind    Kind
	bound   versions.Version
	allowed []versions.Version
}

// None returns the constraint that accepts everything
func None() Constraint {
	return Constraint{kind: KindNone}
}

// Floor returns a constraint accepting versions >= floor
func Floor(floor versions.Version) Constraint {
	return Constraint{kind: KindFloor, bound: floor.Base()}
}

// OpenRange returns a constraint accepting base and any later release with the same major
func OpenRange(base versions.Version) Constraint {
	return Constraint{kind: KindOpenRange, bound: base.Base()}
}

// AllowList returns a constraint accepting only the listed versions. Open entries in the
// list match as OpenRange of their base. An empty list accepts nothing.
func AllowList(allowed ...versions.Version) Constraint {
	return Constraint{kind: KindAllowList, allowed: append([]versions.Version(nil), allowed...)}
}

// ParseAllowList parses raw entries into an AllowList. Malformed entries are logged and dropped.
func ParseAllowList(raw []string, logger *slog.Logger) Constraint {
	allowed := make([]versions.Version, 0, len(raw))
	for _, entry := range raw {
		v, err := versions.Parse(entry)
		if err != nil {
			logger.Warn("Ignoring invalid allow-list entry", "version", entry, "error", err)
			continue
		}
		allowed = append(allowed, v)
	}
	return AllowList(allowed...)
}

// FromMinimal builds the constraint for a minimal_version declaration: an open version
// ("4.0+") becomes an OpenRange, anything else a Floor.
func FromMinimal(minimal versions.Version) Constraint {
	if minimal.IsOpen() {
		return OpenRange(minimal)
	}
	return Floor(minimal)
}

// Kind returns the variant of c
func (c Constraint) Kind() Kind {
	return c.kind
}

// Allowed returns a copy of the allow-list entries
func (c Constraint) Allowed() []versions.Version {
	return append([]versions.Version(nil), c.allowed...)
}

// Allows reports whether v satisfies c
func (c Constraint) Allows(v versions.Version) bool {
	switch c.kind {
	case KindNone:
		return true
	case KindFloor:
		return v.ComparePrecedence(c.bound) >= 0
	case KindOpenRange:
		return inLineage(v, c.bound)
	case KindAllowList:
		for _, entry := range c.allowed {
			if entry.IsOpen() {
				if inLineage(v, entry) {
					return true
				}
				continue
			}
			if entry.Equal(v) {
				return true
			}
		}
		return false
	default:
		panic(fmt.Sprintf("constraint: unknown kind %d", int(c.kind)))
	}
}

// String describes c for logs
func (c Constraint) String() string {
	switch c.kind {
	case KindFloor:
		return ">= " + c.bound.String()
	case KindOpenRange:
		return c.bound.String() + versions.OpenMarker
	case KindAllowList:
		return fmt.Sprintf("%v", versions.Strings(c.allowed))
	default:
		return c.kind.String()
	}
}

func inLineage(v, base versions.Version) bool {
	return v.Major() == base.Major() && v.ComparePrecedence(base) >= 0
}

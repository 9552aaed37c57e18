package constraint

import (
	"log/slog"

	"github.com/stacklok/provider-mirror/internal/versions"
)

// Policy is the fetch-time rule for one provider: the allow-list takes precedence and the
// fallback (usually a floor) covers versions that are not listed.
type Policy struct {
	// Listed holds the explicit allow-list. Kind None means no list is configured.
	Listed Constraint
	// Fallback applies to versions not matched by Listed. Kind None accepts everything.
	Fallback Constraint
}

// NewPolicy builds a Policy from an optional allow-list and an optional minimal version
func NewPolicy(listed []versions.Version, minimal *versions.Version) Policy {
	p := Policy{Listed: None(), Fallback: None()}
	if len(listed) > 0 {
		p.Listed = AllowList(listed...)
	}
	if minimal != nil {
		p.Fallback = FromMinimal(*minimal)
	}
	return p
}

// Includes reports whether v is kept
func (p Policy) Includes(v versions.Version) bool {
	if p.Listed.Kind() != KindNone && p.Listed.Allows(v) {
		return true
	}
	return p.Fallback.Allows(v)
}

// SelfValidate checks a provider's declared versions against its minimal version before any
// fetch. Declared versions are extra pins below the floor, so the direction here is the
// inverse of the fetch-time comparison: an entry is kept when no floor is set or when it is
// at or below the floor. An open entry is kept only when its base is strictly below the
// floor; at the floor its whole lineage is already admitted. Dropped and malformed entries
// are logged as warnings. The result is sorted ascending.
func SelfValidate(declared []string, minimal *versions.Version, logger *slog.Logger) []versions.Version {
	parsed := ParseAllowList(declared, logger).Allowed()
	kept := make([]versions.Version, 0, len(parsed))
	for _, v := range parsed {
		switch {
		case minimal == nil || belowFloor(v, *minimal):
			logger.Debug("Valid version", "version", v.String())
			kept = append(kept, v)
		case v.IsOpen() && v.ComparePrecedence(*minimal) == 0:
			logger.Warn("Open version is already covered by minimal version",
				"version", v.String(),
				"minimal_version", minimal.String())
		default:
			logger.Warn("Version is higher than minimal version",
				"version", v.String(),
				"minimal_version", minimal.String())
		}
	}

	versions.Sort(kept)
	return kept
}

func belowFloor(v, floor versions.Version) bool {
	c := v.ComparePrecedence(floor)
	if v.IsOpen() {
		return c < 0
	}
	return c <= 0
}

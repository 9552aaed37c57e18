package versions

import (
	"strings"

	"golang.org/x/mod/semver"
)

// IsNewerVersion reports whether newVersion is strictly greater than oldVersion.
// Both strings go through Parse, so open markers and the lenient forms are honoured.
// It falls back to lexicographic string comparison if either side fails to parse.
func IsNewerVersion(newVersion, oldVersion string) bool {
	newParsed, errNew := Parse(newVersion)
	oldParsed, errOld := Parse(oldVersion)

	if errNew != nil || errOld != nil {
		// Fallback to string comparison if parsing fails
		return newVersion > oldVersion
	}

	return newParsed.ComparePrecedence(oldParsed) > 0
}

// IsSemantic reports whether s is a strict MAJOR.MINOR.PATCH or MAJOR.MINOR version with an
// optional leading "v". Prerelease and build suffixes are rejected, even though Parse accepts them.
func IsSemantic(s string) bool {
	canonical := s
	if !strings.HasPrefix(canonical, "v") {
		canonical = "v" + canonical
	}

	// semver.IsValid accepts the "v1" shorthand, which is not a strict form here
	if strings.Count(canonical, ".") < 1 {
		return false
	}
	if !semver.IsValid(canonical) {
		return false
	}

	return semver.Prerelease(canonical) == "" && semver.Build(canonical) == ""
}

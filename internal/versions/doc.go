// Package versions parses and orders provider version strings.
//
// Two textual forms are supported:
//   - dotted numeric versions, optionally prefixed with "v" and carrying prerelease
//     (-beta.1) or build (+build.5) suffixes, e.g. "4.1.2", "v1.2", "2.0.0-rc.1"
//   - open versions with a trailing "+", e.g. "1.2.3+", meaning "1.2.3 and any later
//     release in the same major line"
//
// Parse is lenient and backed by Masterminds/semver. IsSemantic is a stricter gate that
// only recognizes MAJOR.MINOR.PATCH and MAJOR.MINOR.
package versions

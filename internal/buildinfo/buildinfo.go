// Package buildinfo reports the provider-mirror build version.
package buildinfo

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

const (
	unknownStr = "unknown"
)

// Version information set by build using -ldflags
var (
	// Version is the current version of provider-mirror
	Version = "dev"
	// Commit is the git commit hash of the build
	//nolint:goconst // This is a placeholder for the commit hash
	Commit = unknownStr
	// BuildDate is the date when the binary was built
	//nolint:goconst // This is a placeholder for the build date
	BuildDate = unknownStr
)

// Info represents the version information
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// Get returns the version information of the running binary
func Get() Info {
	return infoWithValues(Version, Commit, BuildDate)
}

// infoWithValues returns version info with provided values (for testing)
func infoWithValues(version, commit, buildDate string) Info {
	ver := version
	commitVal := commit
	buildDateVal := buildDate

	if strings.HasPrefix(ver, "dev") {
		commitVal, buildDateVal = fromVCS(commitVal, buildDateVal)
	}

	if buildDateVal != unknownStr {
		if t, err := time.Parse(time.RFC3339, buildDateVal); err == nil {
			buildDateVal = t.Format("2006-01-02 15:04:05 MST")
		}
	}

	// A plain "dev" version is replaced by one derived from the commit
	if ver == "dev" && commitVal != unknownStr {
		ver = fmt.Sprintf("build-%.*s", 8, commitVal)
	}

	return Info{
		Version:   ver,
		Commit:    commitVal,
		BuildDate: buildDateVal,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

// fromVCS fills unknown values from the VCS stamp of the Go build info
func fromVCS(commit, buildDate string) (string, string) {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return commit, buildDate
	}
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			if commit == unknownStr {
				commit = setting.Value
			}
		case "vcs.time":
			if buildDate == unknownStr {
				buildDate = setting.Value
			}
		}
	}
	return commit, buildDate
}

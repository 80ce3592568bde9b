package version

import (
	"fmt"
	"runtime"
)

// Version information - using semantic versioning
const (
	Major      = 0
	Minor      = 3
	Patch      = 0
	PreRelease = "" // e.g., "alpha", "beta", "rc1"
)

// Set at build time with -ldflags "-X .../pkg/version.GitCommit=...".
var (
	GitCommit = ""
	BuildDate = ""
)

const ServiceName = "splUSD Distribution Tracker"

// Version returns the semantic version string
func Version() string {
	v := fmt.Sprintf("%d.%d.%d", Major, Minor, Patch)
	if PreRelease != "" {
		v += "-" + PreRelease
	}
	return v
}

// BuildInfo is served on /version.
type BuildInfo struct {
	Service   string `json:"service"`
	Version   string `json:"version"`
	GitCommit string `json:"git_commit,omitempty"`
	BuildDate string `json:"build_date,omitempty"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// GetBuildInfo returns complete build information
func GetBuildInfo() BuildInfo {
	return BuildInfo{
		Service:   ServiceName,
		Version:   Version(),
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

// String returns "name vX.Y.Z (abcdef1)" for startup logs.
func String() string {
	info := GetBuildInfo()
	s := fmt.Sprintf("%s v%s", info.Service, info.Version)
	if len(info.GitCommit) >= 7 {
		s += fmt.Sprintf(" (%s)", info.GitCommit[:7])
	}
	return s
}

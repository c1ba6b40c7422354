package buildinfo

import (
	"runtime"
	"runtime/debug"
)

// Build-time variables (set via ldflags).
var (
	// Version is the semantic version.
	Version = "dev"

	// Commit is the git commit hash.
	Commit = "unknown"

	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)

// Info contains build information.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
}

// Get returns the build information. Commit and BuildTime fall back to the
// VCS stamp recorded by the Go toolchain when ldflags did not set them.
func Get() Info {
	info := Info{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if info.Commit == "unknown" && s.Value != "" {
					info.Commit = shortRevision(s.Value)
				}
			case "vcs.time":
				if info.BuildTime == "unknown" && s.Value != "" {
					info.BuildTime = s.Value
				}
			}
		}
	}
	return info
}

// String returns a formatted version string.
func String() string {
	info := Get()
	return info.Version + " (" + info.Commit + ") built at " + info.BuildTime + " with " + info.GoVersion
}

func shortRevision(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}

// Package version reports build metadata, set by ldflags or read from Go build info.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

const devVersion = "0.1.0-dev"

var (
	AppName   = "savesync"
	Version   = devVersion
	Revision  = "HEAD"
	BuildDate = ""
)

// fillFromBuild only replaces values that ldflags left at their defaults.
func fillFromBuild(mainVersion string, vcs map[string]string) {
	if (Version == devVersion || Version == "") && mainVersion != "" && mainVersion != "(devel)" {
		Version = strings.TrimPrefix(mainVersion, "v")
	}

	if rev := vcs["vcs.revision"]; rev != "" && (Revision == "HEAD" || Revision == "") {
		if vcs["vcs.modified"] == "true" {
			rev += "-dirty"
		}
		Revision = rev
	}

	if BuildDate == "" {
		BuildDate = vcs["vcs.time"]
	}
}

// Short is `0.1.0 (5e23a4)`.
func Short() string {
	return fmt.Sprintf("%s (%s)", Version, Revision)
}

// Detailed is `0.1.0 (5e23a4; go1.24.0; linux/amd64; 2026-01-01T00:00:00Z)`.
func Detailed() string {
	date := BuildDate
	if date == "" {
		date = "unknown"
	}
	return fmt.Sprintf("%s (%s; %s; %s/%s; %s)", Version, Revision, runtime.Version(), runtime.GOOS, runtime.GOARCH, date)
}

func WithApp(s string) string {
	return AppName + " " + s
}

func init() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	vcs := make(map[string]string, len(info.Settings))
	for _, s := range info.Settings {
		vcs[s.Key] = s.Value
	}
	fillFromBuild(info.Main.Version, vcs)
}

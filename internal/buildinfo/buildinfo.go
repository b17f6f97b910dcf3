// Package buildinfo holds version and build metadata stamped at compile time via ldflags.
package buildinfo

import (
	"fmt"
	"runtime"
	"time"
)

// These variables are set at build time via -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	GitBranch = "unknown"
	BuildTime = "unknown"
)

var startTime = time.Now()

// BuildInfo returns static build metadata. Unlike [RuntimeInfo] it
// contains nothing that changes while the process runs.
func BuildInfo() map[string]string {
	return map[string]string{
		"version":    Version,
		"git_commit": GitCommit,
		"git_branch": GitBranch,
		"build_time": BuildTime,
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
	}
}

// RuntimeInfo returns build metadata plus the current uptime.
func RuntimeInfo() map[string]string {
	info := BuildInfo()
	info["uptime"] = Uptime().String()
	return info
}

// Uptime returns the duration since process start.
func Uptime() time.Duration {
	return time.Since(startTime).Truncate(time.Second)
}

// UserAgent returns the User-Agent sent on outbound HTTP requests.
func UserAgent() string {
	return "Piggy/" + Version + " (+https://github.com/piggy-diary/piggy)"
}

// String returns a one-line summary for logging.
func String() string {
	return fmt.Sprintf("Piggy %s (%s@%s) built %s", Version, GitCommit, GitBranch, BuildTime)
}

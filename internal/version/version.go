package version

import (
	"fmt"
	"runtime"
	"time"
)

// These variables will be set at build time via -ldflags
var (
	// Version represents the application version (from git tags)
	Version = "dev"
	// BuildTime is the time when the binary was built
	BuildTime = "unknown"
	// CommitID is the git commit hash
	CommitID = "unknown"
)

// ProtocolVersion identifies the wire format spoken on the video, audio and control ports.
const ProtocolVersion = "1"

func formatBuildTime() string {
	if BuildTime == "unknown" {
		return BuildTime
	}

	t, err := time.Parse(time.RFC3339, BuildTime)
	if err != nil {
		return BuildTime
	}

	return t.Format("Mon Jan 2 15:04:05 2006")
}

// Info returns structured build information
func Info() map[string]string {
	return map[string]string{
		"Version":         Version,
		"ProtocolVersion": ProtocolVersion,
		"GoVersion":       runtime.Version(),
		"GitCommit":       CommitID,
		"BuildTime":       BuildTime,
		"FormattedTime":   formatBuildTime(),
		"OS":              runtime.GOOS,
		"Arch":            runtime.GOARCH,
	}
}

// Short returns a one-line version string for --version.
func Short() string {
	return fmt.Sprintf("deskstream version %s, build %s", Version, CommitID)
}

package buildinfo

import "time"

// Set via -ldflags at build time
var (
	Version    = "dev"
	BuildTime  string // when the binary was compiled
	CommitHash string // short git commit hash
)

// StartTime is recorded when the process starts
var StartTime = time.Now().UTC().Format(time.RFC3339)

// String formats the build for logs and /health
func String() string {
	s := Version
	if CommitHash != "" {
		s += "+" + CommitHash
	}
	if BuildTime != "" {
		s += " (" + BuildTime + ")"
	}
	return s
}

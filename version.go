package docchat

import (
	"fmt"
	"runtime"
)

// Build metadata. Commit and date are set with -ldflags "-X".
var (
	Version   = "v0.3.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// UserAgent is sent on every request unless a header option overrides it.
func UserAgent() string {
	return "docchat/" + Version
}

// GetVersion is the one-line form printed by `docchat version`.
func GetVersion() string {
	return fmt.Sprintf("docchat %s (commit: %s, built: %s, %s)", Version, GitCommit, BuildDate, runtime.Version())
}

// GetVersionInfo is the structured form, for `docchat version -o json|yaml`.
func GetVersionInfo() map[string]string {
	return map[string]string{
		"version":    Version,
		"commit":     GitCommit,
		"build_date": BuildDate,
		"go_version": runtime.Version(),
		"user_agent": UserAgent(),
	}
}

// Package version holds build metadata injected with -ldflags.
package version

import "runtime"

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// GoVersion returns the Go runtime version string.
func GoVersion() string { return runtime.Version() }

// String renders the build metadata for the version command.
func String(binary string) string {
	return binary + " " + Version +
		"\n  commit:     " + GitCommit +
		"\n  built:      " + BuildTime +
		"\n  go version: " + GoVersion()
}

// Package buildinfo exposes build metadata injected at link time.
package buildinfo

var (
	// Version is the release version, overridden via -ldflags.
	Version = "dev"
	// Commit is the git commit the binary was built from.
	Commit = "none"
	// BuildDate is the UTC timestamp of the build.
	BuildDate = "unknown"
)

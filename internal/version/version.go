// Package version carries the build identity stamped into the discoveryd
// binary at link time.
package version

// Overridden by the release build with -ldflags "-X ...".
//
//nolint:revive
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

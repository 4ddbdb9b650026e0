// Package version holds build information, set with -ldflags at build time.
package version

var (
	Version = "dev"
	Commit  = "none"
)

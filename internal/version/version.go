// Package version provides the version string for gallium binaries.
package version

import "strings"

// Version is the current release version.
// This is a var (not const) so ldflags -X can override it at build time.
var Version = "dev"

// String returns the version with a single 'v' prefix for display,
// whether Version came from a git tag (already prefixed) or a dev build.
func String() string {
	return "v" + strings.TrimPrefix(Version, "v")
}

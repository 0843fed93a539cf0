// Package version provides build and version information.
// It also models the plugin's major.minor.patch triple and the
// version.properties file that persists it between builds.
package version

import "fmt"

// Version is the smartim-build release. Overridden via -ldflags on tagged builds.
var (
	Version = "0.3.0"
	Commit  = "unknown"
	Date    = "unknown"
)

// Milestones:
// 0.1.0 - version.properties handling, snapshot/release derivation
// 0.2.0 - descriptor patching, packaging, signing, verification
// 0.3.0 - marketplace publishing, release history, build dashboard

// Summary returns a human-friendly version string for CLI output.
func Summary() string {
	return fmt.Sprintf("smartim-build v%s (%s, %s)", Version, Commit, Date)
}

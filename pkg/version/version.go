// Package version records the build identity of the autopatch binaries.
package version

import "fmt"

// Set at build time via ldflags.
var (
	// Version is the release version of the autopatch tools.
	Version = "1.0.2"

	// BuildDate is the build timestamp, "dev" for local builds.
	BuildDate = "dev"

	// GitCommit is the short hash of the commit the binary was built from.
	GitCommit = "unknown"
)

// String returns a single-line description suitable for --version output.
func String() string {
	return fmt.Sprintf("%s (built %s, commit %s)", Version, BuildDate, GitCommit)
}

// Package version carries build metadata injected with -ldflags, e.g.
//
//	-X github.com/pigeon9001/pigeon/internal/version.Version=v0.3.0
package version

import "fmt"

var (
	// Version is the current application version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String formats the build metadata for banners and the version command.
func String() string {
	return fmt.Sprintf("pigeon %s (%s, built %s)", Version, GitSHA, BuildTime)
}

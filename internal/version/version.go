// Package version carries build metadata, set at link time with
// -ldflags "-X github.com/MeKo-Tech/nativescan/internal/version.Version=v1.2.3".
package version

import "fmt"

var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Info returns the version, commit and build date.
func Info() (string, string, string) {
	return Version, GitCommit, BuildDate
}

// String formats the build for logs and the health endpoint.
func String() string {
	if GitCommit == "unknown" {
		return Version
	}
	commit := GitCommit
	if len(commit) > 7 {
		commit = commit[:7]
	}
	return fmt.Sprintf("%s+%s", Version, commit)
}

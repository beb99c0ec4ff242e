// Package version carries build metadata injected at link time via -ldflags.
package version

import (
	"fmt"
	"runtime"
)

var (
	// Version is the semantic version, e.g. v0.3.1.
	Version = "dev"
	// Commit is the git SHA the binary was built from.
	Commit = "none"
	// Date is the build timestamp in RFC3339.
	Date = "unknown"
)

// Info returns a one-line human-readable version string.
func Info() string {
	return fmt.Sprintf("qcommander %s (commit %s, built %s, %s %s/%s)",
		Version, Commit, Date, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// Package version exposes build-time version information.
// Values are injected at link time via -ldflags.
package version

var (
	// Version is the semantic version of the binary.
	Version = "dev"

	// Commit is the Git commit hash the binary was built from.
	Commit = "none"

	// Date is the build timestamp in RFC 3339 format.
	Date = "unknown"
)

// Package versioning holds build metadata injected with -ldflags -X.
package versioning

var (
	// Version is the semver release, "dev" for local builds
	Version = "dev"

	Commit    string
	Branch    string
	BuildTime string
)

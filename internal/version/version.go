// ABOUTME: Build identity reported by the version endpoint and mDNS records
// ABOUTME: Version is overridable at link time via -ldflags
package version

// Version is the semantic version of this build. Release builds override
// it with -ldflags "-X .../internal/version.Version=x.y.z".
var Version = "0.3.0"

// Commit is the source revision, set at link time. Empty in dev builds.
var Commit = ""

const (
	// Product is the service name as advertised to clients.
	Product = "Chorus"

	// Manufacturer identifies the project in discovery records.
	Manufacturer = "Chorus Project"
)

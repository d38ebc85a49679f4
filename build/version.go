package build

import "fmt"

const (
	// AppMajor defines the major version of this binary.
	AppMajor uint = 0

	// AppMinor defines the minor version of this binary.
	AppMinor uint = 3

	// AppPatch defines the application patch for this binary.
	AppPatch uint = 0

	// AppPreRelease is appended to the semantic version.
	AppPreRelease = "beta"
)

// Commit is the git commit the binary was built from. It is set with
// -ldflags "-X github.com/lightningnetwork/lnpay/build.Commit=...".
var Commit string

// Version returns the application version as a semantic version string.
func Version() string {
	version := fmt.Sprintf("%d.%d.%d", AppMajor, AppMinor, AppPatch)
	if AppPreRelease != "" {
		version = fmt.Sprintf("%s-%s", version, AppPreRelease)
	}

	return version
}

// VersionWithCommit returns the version with the commit appended, if known.
func VersionWithCommit() string {
	if Commit == "" {
		return Version()
	}

	return fmt.Sprintf("%s commit=%s", Version(), Commit)
}

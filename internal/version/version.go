package version

import (
	"fmt"
	"strings"

	"golang.org/x/mod/semver"
)

// Version is the service current released version.
// Semantic versioning: https://semver.org/
var Version = "0.1.0"

func GetCurrentVersion() string {
	return Version
}

// GetMinorVersion returns "major.minor" of a "major.minor.patch" version.
func GetMinorVersion(version string) string {
	return strings.TrimPrefix(semver.MajorMinor(canonical(version)), "v")
}

// IsVersionGreaterOrEqualThan returns true if version is greater than or equal to target.
func IsVersionGreaterOrEqualThan(version, target string) bool {
	return semver.Compare(canonical(version), canonical(target)) > -1
}

// IsVersionGreaterThan returns true if version is greater than target.
func IsVersionGreaterThan(version, target string) bool {
	return semver.Compare(canonical(version), canonical(target)) > 0
}

func canonical(version string) string {
	if strings.HasPrefix(version, "v") {
		return version
	}
	return fmt.Sprintf("v%s", version)
}

// Compare orders two versions, suitable for slices.SortFunc.
func Compare(a, b string) int {
	return semver.Compare(canonical(a), canonical(b))
}

package version

import (
	"fmt"
	"regexp"
)

// VERSION indicates the major.minor.patch version the binary was built off of.
var VERSION string

// GITCOMMIT indicates which git hash (12char) the binary was built off of.
var GITCOMMIT string

func VersionToString() string {
	// Don't return a version if they haven't been injected
	if VERSION == "" && GITCOMMIT == "" {
		return ""
	}
	return fmt.Sprintf("%s - %s", VERSION, GITCOMMIT)
}

var versionFormat = regexp.MustCompile(`^v?[0-9]([0-9a-zA-Z]*\.?[0-9a-zA-Z]+)*([~+-]*[0-9a-zA-Z.]*[0-9a-zA-Z]+)?$`)

// ValidVersionFormat reports whether a string is a well-formed package
// version: an optional leading v, dot separated alphanumeric groups and
// optional trailing words separated by '~', '+' or '-'.
// Valid examples: 1.0.0, v1.0.0, v1.2.33~alpha123.
func ValidVersionFormat(version string) bool {
	return versionFormat.MatchString(version)
}

var validName = regexp.MustCompile(`^[a-zA-Z0-9.-]+$`)

// ValidName reports whether a project or version name is acceptable.
func ValidName(name string) bool {
	return validName.MatchString(name)
}

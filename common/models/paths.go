package models

import (
	"path/filepath"
	"strconv"
)

// BuildoutPath returns the directory holding the log and artifacts of a
// build under the server working directory.
func BuildoutPath(workingDir string, buildID int64) string {
	return filepath.Join(workingDir, "buildout", strconv.FormatInt(buildID, 10))
}

// BuildLogPath returns the path of the build log file of a build.
func BuildLogPath(workingDir string, buildID int64) string {
	return filepath.Join(BuildoutPath(workingDir, buildID), "build.log")
}

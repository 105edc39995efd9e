// Package version holds the bookcross CLI version and build metadata.
package version

import (
	"fmt"
	"strings"
)

// CommitHash is the git commit of this build, set via -ldflags.
var CommitHash string

const (
	appMajor uint = 1
	appMinor uint = 0
	appPatch uint = 0
)

// Version returns the semantic version of the CLI.
func Version() string {
	return fmt.Sprintf("%d.%d.%d", appMajor, appMinor, appPatch)
}

// RichVersion returns the version with the commit hash appended when the
// build carries one.
func RichVersion() string {
	if hash := strings.TrimSpace(CommitHash); hash != "" {
		return fmt.Sprintf("%s (commit %s)", Version(), hash)
	}
	return Version()
}

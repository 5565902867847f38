// Package version exposes the interpreter's own language version as a
// parsed semantic version, backing sys.version/version_info and the
// host-facing compatibility check.
package version

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
	"github.com/monty-lang/monty/internal/cli"
)

var parsed = semver.MustParse(cli.Version)

// Language returns the interpreter version as a semver value.
func Language() *semver.Version { return parsed }

// String renders the sys.version banner.
func String() string {
	return fmt.Sprintf("monty %s", parsed.String())
}

// Info returns the (major, minor, micro, releaselevel, serial) quintuple
// sys.version_info exposes. Release level is "final" unless the version
// carries a prerelease tag.
func Info() (major, minor, micro int64, releaselevel string, serial int64) {
	releaselevel = "final"
	if parsed.Prerelease() != "" {
		releaselevel = parsed.Prerelease()
	}
	return int64(parsed.Major()), int64(parsed.Minor()), int64(parsed.Patch()), releaselevel, 0
}

// CompatibleWith reports whether the interpreter version satisfies a
// semver constraint such as ">=0.1, <1.0". Embedders use it to gate
// behavior on the runtime they linked against.
func CompatibleWith(constraint string) (bool, error) {
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return false, fmt.Errorf("invalid version constraint %q: %w", constraint, err)
	}
	return c.Check(parsed), nil
}

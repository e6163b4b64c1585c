package utils

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// CheckProtocolVersion reports whether a client protocol version satisfies the constraint.
// An empty constraint accepts every version.
func CheckProtocolVersion(version, constraint string) (bool, error) {
	if constraint == "" {
		return true, nil
	}

	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return false, fmt.Errorf("invalid protocol constraint %q: %w", constraint, err)
	}

	v, err := semver.NewVersion(version)
	if err != nil {
		return false, fmt.Errorf("invalid protocol version %q: %w", version, err)
	}

	return c.Check(v), nil
}

package phigate

import (
	"github.com/Masterminds/semver/v3"
)

// SchemaVersion is the opaque version identifier of a schema. It is
// recorded in results and audit events for traceability.
type SchemaVersion string

// String returns the version string.
func (v SchemaVersion) String() string {
	return string(v)
}

// IsZero reports whether no version was set.
func (v SchemaVersion) IsZero() bool {
	return v == ""
}

// Semver parses the version as a semantic version.
func (v SchemaVersion) Semver() (*semver.Version, bool) {
	sv, err := semver.NewVersion(string(v))
	if err != nil {
		return nil, false
	}
	return sv, true
}

// Compare orders two versions. When both parse as semantic versions they
// are compared semantically, otherwise lexically. It returns -1, 0 or +1.
func (v SchemaVersion) Compare(other SchemaVersion) int {
	a, aok := v.Semver()
	b, bok := other.Semver()
	if aok && bok {
		return a.Compare(b)
	}
	switch {
	case v < other:
		return -1
	case v > other:
		return 1
	default:
		return 0
	}
}

// Satisfies reports whether the version matches a semver constraint such as
// ">= 1.2, < 2". Versions that are not semantic never satisfy a constraint.
func (v SchemaVersion) Satisfies(constraint string) (bool, error) {
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return false, WrapConfigurationError(err, "version constraint")
	}
	sv, ok := v.Semver()
	if !ok {
		return false, nil
	}
	return c.Check(sv), nil
}

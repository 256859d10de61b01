package registry

import (
	semver "github.com/Masterminds/semver/v3"
)

// Version wraps Masterminds/semver/v3, the same library the teacher vendors
// (as v1, for gps) and that SeleniaProject-Orizon and kptdev-kpt carry as
// /v3 in real, exercised use.
type Version struct {
	v *semver.Version
}

// ParseVersion parses a semantic version string.
func ParseVersion(s string) (Version, error) {
	v, err := semver.NewVersion(s)
	if err != nil {
		return Version{}, validationErrorf("invalid version %q: %s", s, err)
	}
	return Version{v: v}, nil
}

func (v Version) String() string {
	if v.v == nil {
		return ""
	}
	return v.v.String()
}

func (v Version) Major() uint64 { return v.v.Major() }
func (v Version) Minor() uint64 { return v.v.Minor() }
func (v Version) Patch() uint64 { return v.v.Patch() }

// Less reports whether v sorts before o.
func (v Version) Less(o Version) bool { return v.v.LessThan(o.v) }

// Equal reports value equality, ignoring build metadata (per semver.Version.Equal).
func (v Version) Equal(o Version) bool { return v.v.Equal(o.v) }

// Compatible implements the compatibility-class test from spec.md §4.5: two
// versions are compatible iff equal, or both major==0 with equal minor, or
// both major!=0 with equal major.
func Compatible(a, b Version) bool {
	if a.Equal(b) {
		return true
	}
	if a.Major() == 0 && b.Major() == 0 {
		return a.Minor() == b.Minor()
	}
	if a.Major() != 0 && b.Major() != 0 {
		return a.Major() == b.Major()
	}
	return false
}

func (v Version) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

func (v *Version) UnmarshalText(b []byte) error {
	parsed, err := ParseVersion(string(b))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

package registry

import (
	"strings"

	semver "github.com/Masterminds/semver/v3"
)

// VersionReq is a comparator set over Version. A bare semver string (no
// leading operator) defaults to a caret ("compatible") requirement, matching
// original_source/src/package_req.rs; Masterminds/semver/v3 itself treats an
// unprefixed version as exact equality, so that default is applied here
// before delegating to the library.
type VersionReq struct {
	c        *semver.Constraints
	display  string
	wasCaret bool
}

// ParseVersionReq parses a requirement string. Empty or whitespace-only
// input is rejected explicitly, since the underlying constraint parser
// would otherwise treat it as a wildcard.
func ParseVersionReq(s string) (VersionReq, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return VersionReq{}, validationErrorf("version requirement must not be empty")
	}

	caret := isBareVersion(trimmed)
	parseable := trimmed
	if caret {
		parseable = "^" + trimmed
	}

	c, err := semver.NewConstraint(parseable)
	if err != nil {
		return VersionReq{}, validationErrorf("invalid version requirement %q: %s", s, err)
	}

	return VersionReq{c: c, display: parseable, wasCaret: caret}, nil
}

// isBareVersion reports whether s begins with no recognized constraint
// operator, i.e. it is a plain version like "1.2.3".
func isBareVersion(s string) bool {
	switch {
	case strings.HasPrefix(s, "^"), strings.HasPrefix(s, "~"),
		strings.HasPrefix(s, ">"), strings.HasPrefix(s, "<"),
		strings.HasPrefix(s, "="), strings.HasPrefix(s, "!"),
		strings.Contains(s, "||"), strings.Contains(s, " - "),
		strings.HasPrefix(s, "x"), strings.HasPrefix(s, "X"), strings.HasPrefix(s, "*"):
		return false
	default:
		return true
	}
}

// Check reports whether v satisfies the requirement.
func (r VersionReq) Check(v Version) bool {
	return r.c.Check(v.v)
}

func (r VersionReq) String() string {
	// Elide a lone leading caret, matching PackageReq's Display in
	// original_source/src/package_req.rs.
	if r.wasCaret && strings.HasPrefix(r.display, "^") && strings.Count(r.display, "^") == 1 {
		return strings.TrimPrefix(r.display, "^")
	}
	return r.display
}

func (r VersionReq) MarshalText() ([]byte, error) {
	return []byte(r.display), nil
}

func (r *VersionReq) UnmarshalText(b []byte) error {
	parsed, err := ParseVersionReq(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

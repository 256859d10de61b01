package registry

import "strings"

const maxNameComponentLength = 64

// PackageName is a scoped identifier in the form "scope/name". Both
// components are restricted to lowercase ASCII letters, digits, and
// dashes, matching original_source/src/package_name.rs.
type PackageName struct {
	scope string
	name  string
}

// NewPackageName validates and constructs a PackageName from its two parts.
func NewPackageName(scope, name string) (PackageName, error) {
	if err := validateNameComponent("scope", scope); err != nil {
		return PackageName{}, err
	}
	if err := validateNameComponent("name", name); err != nil {
		return PackageName{}, err
	}
	return PackageName{scope: scope, name: name}, nil
}

func validateNameComponent(label, s string) error {
	if s == "" {
		return validationErrorf("package %s must not be empty", label)
	}
	if len(s) > maxNameComponentLength {
		return validationErrorf("package %s %q exceeds %d characters", label, s, maxNameComponentLength)
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '-':
		default:
			return validationErrorf("package %s %q contains invalid character %q (only lowercase letters, digits, and '-' are allowed)", label, s, r)
		}
	}
	return nil
}

// ParsePackageName parses "scope/name", requiring exactly one separator.
func ParsePackageName(s string) (PackageName, error) {
	scope, name, ok := strings.Cut(s, "/")
	if !ok {
		return PackageName{}, validationErrorf("package name %q is missing a scope (expected \"scope/name\")", s)
	}
	if strings.Contains(name, "/") {
		return PackageName{}, validationErrorf("package name %q has more than one '/'", s)
	}
	return NewPackageName(scope, name)
}

// Scope returns the scope component.
func (n PackageName) Scope() string { return n.scope }

// Name returns the name component.
func (n PackageName) Name() string { return n.name }

func (n PackageName) String() string { return n.scope + "/" + n.name }

func (n PackageName) Less(o PackageName) bool {
	if n.scope != o.scope {
		return n.scope < o.scope
	}
	return n.name < o.name
}

func (n PackageName) Equal(o PackageName) bool {
	return n.scope == o.scope && n.name == o.name
}

func (n PackageName) MarshalText() ([]byte, error) {
	return []byte(n.String()), nil
}

func (n *PackageName) UnmarshalText(b []byte) error {
	parsed, err := ParsePackageName(string(b))
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}

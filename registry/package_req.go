package registry

import "strings"

// PackageReq is a dependency requirement: a name plus a version requirement.
type PackageReq struct {
	Name       PackageName
	VersionReq VersionReq
}

// ParsePackageReq parses "scope/name@version_req".
func ParsePackageReq(s string) (PackageReq, error) {
	namePart, reqPart, ok := strings.Cut(s, "@")
	if !ok {
		return PackageReq{}, validationErrorf("package requirement %q is missing a version requirement (expected \"scope/name@req\")", s)
	}
	name, err := ParsePackageName(namePart)
	if err != nil {
		return PackageReq{}, err
	}
	req, err := ParseVersionReq(reqPart)
	if err != nil {
		return PackageReq{}, err
	}
	return PackageReq{Name: name, VersionReq: req}, nil
}

func (r PackageReq) String() string {
	return r.Name.String() + "@" + r.VersionReq.String()
}

func (r PackageReq) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *PackageReq) UnmarshalText(b []byte) error {
	parsed, err := ParsePackageReq(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

package registry

import "strings"

// PackageId identifies an exact published package: a name and a version.
type PackageId struct {
	Name    PackageName
	Version Version
}

func NewPackageId(name PackageName, version Version) PackageId {
	return PackageId{Name: name, Version: version}
}

// ParsePackageId parses "scope/name@version".
func ParsePackageId(s string) (PackageId, error) {
	namePart, versionPart, ok := strings.Cut(s, "@")
	if !ok {
		return PackageId{}, validationErrorf("package id %q is missing a version (expected \"scope/name@version\")", s)
	}
	name, err := ParsePackageName(namePart)
	if err != nil {
		return PackageId{}, err
	}
	version, err := ParseVersion(versionPart)
	if err != nil {
		return PackageId{}, err
	}
	return PackageId{Name: name, Version: version}, nil
}

func (id PackageId) String() string {
	return id.Name.String() + "@" + id.Version.String()
}

// FullName is the "<scope>_<name>@<version>" directory name form used by
// the installation engine (spec.md §4.8).
func (id PackageId) FullName() string {
	return id.Name.Scope() + "_" + id.Name.Name() + "@" + id.Version.String()
}

// Less gives a total order: name first, then version.
func (id PackageId) Less(o PackageId) bool {
	if !id.Name.Equal(o.Name) {
		return id.Name.Less(o.Name)
	}
	return id.Version.Less(o.Version)
}

func (id PackageId) Equal(o PackageId) bool {
	return id.Name.Equal(o.Name) && id.Version.Equal(o.Version)
}

package registry

import (
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
)

// ManifestFileName is the fixed-name manifest file read from a project
// directory, matching original_source/src/manifest.rs's MANIFEST_FILE_NAME.
const ManifestFileName = "wally.toml"

// Package is the [package] table of a Manifest. Field types implement
// encoding.TextMarshaler/TextUnmarshaler, so this struct also serves
// directly as the JSON form stored one-per-line in the Git index (spec.md
// §6's "newline-delimited JSON, one Manifest per line"); the project-file
// TOML form goes through rawManifest instead, since TOML uses kebab-case
// keys the JSON form does not.
type Package struct {
	Name        PackageName `json:"name"`
	Version     Version     `json:"version"`
	Registry    string      `json:"registry"`
	Realm       Realm       `json:"realm"`
	Description string      `json:"description,omitempty"`
	License     string      `json:"license,omitempty"`
	Authors     []string    `json:"authors,omitempty"`
	Include     []string    `json:"include,omitempty"`
	Exclude     []string    `json:"exclude,omitempty"`
	Private     bool        `json:"private,omitempty"`
	Homepage    string      `json:"homepage,omitempty"`
	Repository  string      `json:"repository,omitempty"`
}

// PlaceInfo is the [place] table: paths in the host runtime's object tree
// used when generating cross-realm link files (C8).
type PlaceInfo struct {
	SharedPackages string `json:"shared_packages,omitempty"`
	ServerPackages string `json:"server_packages,omitempty"`
}

// Manifest is the root of a package declaration.
type Manifest struct {
	Package            Package               `json:"package"`
	Place              PlaceInfo             `json:"place"`
	Dependencies       map[string]PackageReq `json:"dependencies,omitempty"`
	ServerDependencies map[string]PackageReq `json:"server_dependencies,omitempty"`
	DevDependencies    map[string]PackageReq `json:"dev_dependencies,omitempty"`
}

// rawManifest mirrors the TOML document exactly (kebab-case keys, plain
// strings) before validation, the same raw/cooked split the teacher uses in
// manifest.go and registry_config.go.
type rawManifest struct {
	Package struct {
		Name        string   `toml:"name"`
		Version     string   `toml:"version"`
		Registry    string   `toml:"registry"`
		Realm       string   `toml:"realm"`
		Description string   `toml:"description"`
		License     string   `toml:"license"`
		Authors     []string `toml:"authors"`
		Include     []string `toml:"include"`
		Exclude     []string `toml:"exclude"`
		Private     bool     `toml:"private"`
		Homepage    string   `toml:"homepage"`
		Repository  string   `toml:"repository"`
	} `toml:"package"`
	Place struct {
		SharedPackages string `toml:"shared-packages"`
		ServerPackages string `toml:"server-packages"`
	} `toml:"place"`
	Dependencies       map[string]string `toml:"dependencies"`
	ServerDependencies map[string]string `toml:"server-dependencies"`
	DevDependencies    map[string]string `toml:"dev-dependencies"`
}

// LoadManifest reads and validates ManifestFileName from dir.
func LoadManifest(dir string) (*Manifest, error) {
	b, err := os.ReadFile(filepath.Join(dir, ManifestFileName))
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", ManifestFileName)
	}
	return ParseManifest(b)
}

// ParseManifest validates a manifest document already read into memory.
func ParseManifest(b []byte) (*Manifest, error) {
	var raw rawManifest
	if err := toml.Unmarshal(b, &raw); err != nil {
		return nil, errors.Wrap(err, "parsing manifest")
	}

	name, err := ParsePackageName(raw.Package.Name)
	if err != nil {
		return nil, errors.Wrap(err, "package.name")
	}
	version, err := ParseVersion(raw.Package.Version)
	if err != nil {
		return nil, errors.Wrap(err, "package.version")
	}
	realm, err := ParseRealm(raw.Package.Realm)
	if err != nil {
		return nil, errors.Wrap(err, "package.realm")
	}

	m := &Manifest{
		Package: Package{
			Name:        name,
			Version:     version,
			Registry:    raw.Package.Registry,
			Realm:       realm,
			Description: raw.Package.Description,
			License:     raw.Package.License,
			Authors:     raw.Package.Authors,
			Include:     raw.Package.Include,
			Exclude:     raw.Package.Exclude,
			Private:     raw.Package.Private,
			Homepage:    raw.Package.Homepage,
			Repository:  raw.Package.Repository,
		},
		Place: PlaceInfo{
			SharedPackages: raw.Place.SharedPackages,
			ServerPackages: raw.Place.ServerPackages,
		},
	}

	m.Dependencies, err = parseReqMap(raw.Dependencies)
	if err != nil {
		return nil, errors.Wrap(err, "dependencies")
	}
	m.ServerDependencies, err = parseReqMap(raw.ServerDependencies)
	if err != nil {
		return nil, errors.Wrap(err, "server-dependencies")
	}
	m.DevDependencies, err = parseReqMap(raw.DevDependencies)
	if err != nil {
		return nil, errors.Wrap(err, "dev-dependencies")
	}

	return m, nil
}

func parseReqMap(in map[string]string) (map[string]PackageReq, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make(map[string]PackageReq, len(in))
	for alias, s := range in {
		req, err := ParsePackageReq(s)
		if err != nil {
			return nil, errors.Wrapf(err, "alias %q", alias)
		}
		out[alias] = req
	}
	return out, nil
}

// Id returns the PackageId this manifest declares.
func (m *Manifest) Id() PackageId {
	return NewPackageId(m.Package.Name, m.Package.Version)
}

// MarshalTOML renders the manifest back to its TOML document form,
// matching the teacher's registry_config.go MarshalTOML convention.
func (m *Manifest) MarshalTOML() ([]byte, error) {
	raw := rawManifest{
		Dependencies:       reqMapToStrings(m.Dependencies),
		ServerDependencies: reqMapToStrings(m.ServerDependencies),
		DevDependencies:    reqMapToStrings(m.DevDependencies),
	}
	raw.Package.Name = m.Package.Name.String()
	raw.Package.Version = m.Package.Version.String()
	raw.Package.Registry = m.Package.Registry
	raw.Package.Realm = string(m.Package.Realm)
	raw.Package.Description = m.Package.Description
	raw.Package.License = m.Package.License
	raw.Package.Authors = m.Package.Authors
	raw.Package.Include = m.Package.Include
	raw.Package.Exclude = m.Package.Exclude
	raw.Package.Private = m.Package.Private
	raw.Package.Homepage = m.Package.Homepage
	raw.Package.Repository = m.Package.Repository
	raw.Place.SharedPackages = m.Place.SharedPackages
	raw.Place.ServerPackages = m.Place.ServerPackages

	return toml.Marshal(raw)
}

func reqMapToStrings(in map[string]PackageReq) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for alias, req := range in {
		out[alias] = req.String()
	}
	return out
}

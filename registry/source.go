package registry

import "context"

// sourceKind is the tag of a PackageSourceId. A tagged variant is used
// instead of virtual dispatch because the set of concrete sources is small
// and closed: {default registry, git, path}, matching
// original_source/src/package_source.rs's PackageSourceId enum and spec.md's
// Design Note #9.
type sourceKind int

const (
	sourceDefaultRegistry sourceKind = iota
	sourceGit
	sourcePath
)

// PackageSourceId names a concrete package source without holding a live
// connection to it; SourceMap maps these to instantiated PackageSources.
type PackageSourceId struct {
	kind  sourceKind
	value string
}

// DefaultRegistryId is the well-known id of the project's configured
// primary registry.
func DefaultRegistryId() PackageSourceId {
	return PackageSourceId{kind: sourceDefaultRegistry}
}

// GitSourceId identifies a fallback registry backed by a Git index at url.
func GitSourceId(url string) PackageSourceId {
	return PackageSourceId{kind: sourceGit, value: url}
}

// PathSourceId identifies a local-directory test/dev registry rooted at path.
func PathSourceId(path string) PackageSourceId {
	return PackageSourceId{kind: sourcePath, value: path}
}

func (id PackageSourceId) String() string {
	switch id.kind {
	case sourceDefaultRegistry:
		return "default"
	case sourceGit:
		return "git:" + id.value
	case sourcePath:
		return "path:" + id.value
	default:
		return "unknown"
	}
}

func (id PackageSourceId) Equal(o PackageSourceId) bool {
	return id.kind == o.kind && id.value == o.value
}

// PackageSource is the capability set every concrete source variant
// implements: refresh, query, download, and fallback enumeration
// (spec.md §4.2).
type PackageSource interface {
	ID() PackageSourceId
	Update(ctx context.Context) error
	Query(ctx context.Context, req PackageReq) ([]Manifest, error)
	Download(ctx context.Context, id PackageId) ([]byte, error)
	FallbackSources(ctx context.Context) ([]PackageSourceId, error)
}

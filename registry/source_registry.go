package registry

import (
	"context"
	"sort"

	"github.com/pkg/errors"
)

// indexClient is the narrow surface RegistrySource needs from a Git-backed
// package index. It is satisfied structurally by *gitindex.Index without
// registry importing gitindex directly, which would otherwise create an
// import cycle (gitindex imports registry's Manifest/PackageName types).
type indexClient interface {
	Update(ctx context.Context) error
	Config(ctx context.Context) (IndexConfig, error)
	GetPackageMetadata(ctx context.Context, name PackageName) (PackageMetadata, error)
}

// artifactFetcher downloads packaged archive bytes for a PackageId from the
// registry's HTTP artifact endpoint. Kept separate from indexClient because
// artifact fetch is plain HTTP, not a Git index operation.
type artifactFetcher interface {
	FetchArtifact(ctx context.Context, id PackageId) ([]byte, error)
}

// RegistrySource is the default package source: a Git-backed remote index
// plus an HTTP artifact endpoint, matching spec.md §4.2.
type RegistrySource struct {
	id        PackageSourceId
	index     indexClient
	artifacts artifactFetcher
}

// NewRegistrySource builds a RegistrySource. id should be DefaultRegistryId()
// for the project's configured primary registry, or GitSourceId(url) for a
// fallback registry discovered through source-map traversal.
func NewRegistrySource(id PackageSourceId, index indexClient, artifacts artifactFetcher) *RegistrySource {
	return &RegistrySource{id: id, index: index, artifacts: artifacts}
}

func (s *RegistrySource) ID() PackageSourceId { return s.id }

func (s *RegistrySource) Update(ctx context.Context) error {
	return s.index.Update(ctx)
}

func (s *RegistrySource) Query(ctx context.Context, req PackageReq) ([]Manifest, error) {
	meta, err := s.index.GetPackageMetadata(ctx, req.Name)
	if err != nil {
		return nil, errors.Wrapf(err, "querying registry for %s", req.Name)
	}

	var out []Manifest
	for _, m := range meta.Manifests {
		if req.VersionReq.Check(m.Package.Version) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[j].Package.Version.Less(out[i].Package.Version)
	})
	return out, nil
}

func (s *RegistrySource) Download(ctx context.Context, id PackageId) ([]byte, error) {
	b, err := s.artifacts.FetchArtifact(ctx, id)
	if err != nil {
		return nil, errors.Wrapf(err, "downloading %s", id)
	}
	return b, nil
}

func (s *RegistrySource) FallbackSources(ctx context.Context) ([]PackageSourceId, error) {
	cfg, err := s.index.Config(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "reading registry config")
	}
	ids := make([]PackageSourceId, 0, len(cfg.FallbackRegistries))
	for _, url := range cfg.FallbackRegistries {
		ids = append(ids, GitSourceId(url))
	}
	return ids, nil
}

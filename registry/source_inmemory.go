package registry

import (
	"context"
	"sort"
)

// InMemorySource is a test double holding manifests and archive bytes
// directly in memory, matching original_source/src/package_source.rs's
// InMemory variant and used throughout the resolver's test scenarios
// (spec.md §8).
type InMemorySource struct {
	id        PackageSourceId
	manifests map[string][]Manifest // keyed by PackageName.String()
	contents  map[string][]byte     // keyed by PackageId.String()
	fallbacks []PackageSourceId
}

// NewInMemorySource builds an empty in-memory source.
func NewInMemorySource() *InMemorySource {
	return NewNamedInMemorySource("in-memory")
}

// NewNamedInMemorySource builds an empty in-memory source identified by
// name, distinguishing several in-memory sources stacked in the same
// SourceMap (e.g. to exercise fallback discovery order in tests).
func NewNamedInMemorySource(name string) *InMemorySource {
	return &InMemorySource{
		id:        PackageSourceId{kind: sourcePath, value: name},
		manifests: make(map[string][]Manifest),
		contents:  make(map[string][]byte),
	}
}

// Publish adds a manifest (and, optionally, its archive bytes) as available
// from this source. Used by tests to build fixture registries.
func (s *InMemorySource) Publish(m Manifest, archive []byte) {
	key := m.Package.Name.String()
	s.manifests[key] = append(s.manifests[key], m)
	if archive != nil {
		s.contents[m.Id().String()] = archive
	}
}

// SetFallbacks configures the ids this source reports for fallback
// discovery.
func (s *InMemorySource) SetFallbacks(ids ...PackageSourceId) {
	s.fallbacks = ids
}

func (s *InMemorySource) ID() PackageSourceId { return s.id }

func (s *InMemorySource) Update(ctx context.Context) error { return nil }

func (s *InMemorySource) Query(ctx context.Context, req PackageReq) ([]Manifest, error) {
	all := s.manifests[req.Name.String()]
	var out []Manifest
	for _, m := range all {
		if req.VersionReq.Check(m.Package.Version) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[j].Package.Version.Less(out[i].Package.Version)
	})
	return out, nil
}

func (s *InMemorySource) Download(ctx context.Context, id PackageId) ([]byte, error) {
	b, ok := s.contents[id.String()]
	if !ok {
		return nil, newError(KindIO, "no contents published for %s", id)
	}
	return b, nil
}

func (s *InMemorySource) FallbackSources(ctx context.Context) ([]PackageSourceId, error) {
	return s.fallbacks, nil
}

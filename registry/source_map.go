package registry

import "context"

// SourceFactory instantiates a live PackageSource for an id discovered
// during fallback expansion. The default registry and any sources supplied
// up front are added via Add instead.
type SourceFactory func(ctx context.Context, id PackageSourceId) (PackageSource, error)

// SourceMap holds an ordered set of sources; iteration order is priority
// order for the resolver (spec.md §4.4). The default registry is always
// added first by the caller.
type SourceMap struct {
	order   []PackageSourceId
	sources map[PackageSourceId]PackageSource
	factory SourceFactory
}

// NewSourceMap builds an empty source map. factory is used by AddFallbacks
// to instantiate sources for newly discovered ids; it may be nil if fallback
// discovery will never be used (e.g. in unit tests that add all sources up
// front).
func NewSourceMap(factory SourceFactory) *SourceMap {
	return &SourceMap{
		sources: make(map[PackageSourceId]PackageSource),
		factory: factory,
	}
}

// Add appends a source, skipping it if its id is already present.
func (m *SourceMap) Add(s PackageSource) {
	id := s.ID()
	if _, ok := m.sources[id]; ok {
		return
	}
	m.order = append(m.order, id)
	m.sources[id] = s
}

// Sources returns the live sources in priority order.
func (m *SourceMap) Sources() []PackageSource {
	out := make([]PackageSource, len(m.order))
	for i, id := range m.order {
		out[i] = m.sources[id]
	}
	return out
}

// AddFallbacks performs breadth-first fallback discovery from the current
// tail of the map: ask each known source for its fallback ids, instantiate
// and append any id not already present, and continue from the newly added
// sources. De-duplication against the already-seen id set breaks cycles,
// matching original_source/src/package_source.rs's add_fallbacks.
func (m *SourceMap) AddFallbacks(ctx context.Context) error {
	seen := make(map[PackageSourceId]bool, len(m.order))
	queue := make([]PackageSourceId, len(m.order))
	copy(queue, m.order)
	for _, id := range queue {
		seen[id] = true
	}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		src := m.sources[id]
		if src == nil {
			continue
		}

		fallbacks, err := src.FallbackSources(ctx)
		if err != nil {
			return err
		}

		for _, fid := range fallbacks {
			if seen[fid] {
				continue
			}
			seen[fid] = true

			if m.factory == nil {
				continue
			}
			newSrc, err := m.factory(ctx, fid)
			if err != nil {
				return err
			}
			m.order = append(m.order, fid)
			m.sources[fid] = newSrc
			queue = append(queue, fid)
		}
	}

	return nil
}

// Query walks sources in priority order and returns the manifests from the
// first source with a non-empty, non-error result, along with that
// source's id. Per spec.md's Design Note #9 (resolving the "first source
// with any match" vs. "first source without an error" open question in
// favor of the former), a source returning an empty-but-successful result
// is not authoritative: the walk continues to the next source. Errors from
// individual sources are tolerated and do not abort the walk; only when
// every source has been tried without a non-empty result is an error
// (if any were seen) or an empty result returned.
func (m *SourceMap) Query(ctx context.Context, req PackageReq) ([]Manifest, PackageSourceId, error) {
	var firstErr error

	for _, id := range m.order {
		src := m.sources[id]
		if src == nil {
			continue
		}

		manifests, err := src.Query(ctx, req)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if len(manifests) > 0 {
			return manifests, id, nil
		}
	}

	if firstErr != nil {
		return nil, PackageSourceId{}, resolutionErrorf("no source for %s: %s", req, firstErr)
	}
	return nil, PackageSourceId{}, nil
}

// Download fetches the archive bytes for id from the source it was
// activated from.
func (m *SourceMap) Download(ctx context.Context, sourceID PackageSourceId, id PackageId) ([]byte, error) {
	src := m.sources[sourceID]
	if src == nil {
		return nil, newError(KindIO, "no source %s registered in source map", sourceID)
	}
	return src.Download(ctx, id)
}

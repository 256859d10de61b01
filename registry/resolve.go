package registry

import (
	"context"
	"sort"
	"strings"
)

// ResolvePackageMetadata is the per-activated-package metadata recorded by
// the resolver: its own declared realm, the most-restrictive realm reached
// from the root (origin realm), and the source it was activated from.
type ResolvePackageMetadata struct {
	Realm       Realm
	OriginRealm Realm
	SourceID    PackageSourceId
}

// Resolve is the output of the resolver: an activated set of PackageIds,
// per-package metadata, and three dependency-edge maps keyed by requesting
// realm, matching spec.md §3's Resolve data model.
type Resolve struct {
	Root PackageId

	activated   []PackageId
	activatedOK map[string]bool
	byName      map[string][]PackageId // descending by version

	metadata map[string]ResolvePackageMetadata

	sharedDeps map[string]map[string]PackageId
	serverDeps map[string]map[string]PackageId
	devDeps    map[string]map[string]PackageId
}

func newResolve(root PackageId) *Resolve {
	return &Resolve{
		Root:        root,
		activatedOK: make(map[string]bool),
		byName:      make(map[string][]PackageId),
		metadata:    make(map[string]ResolvePackageMetadata),
		sharedDeps:  make(map[string]map[string]PackageId),
		serverDeps:  make(map[string]map[string]PackageId),
		devDeps:     make(map[string]map[string]PackageId),
	}
}

// Activated returns the activated set in activation order.
func (r *Resolve) Activated() []PackageId {
	out := make([]PackageId, len(r.activated))
	copy(out, r.activated)
	return out
}

// Metadata returns the recorded metadata for id.
func (r *Resolve) Metadata(id PackageId) (ResolvePackageMetadata, bool) {
	m, ok := r.metadata[id.String()]
	return m, ok
}

// Edges returns the alias->child map recorded for parent under realm.
func (r *Resolve) Edges(realm Realm, parent PackageId) map[string]PackageId {
	return r.edgeMap(realm)[parent.String()]
}

func (r *Resolve) edgeMap(realm Realm) map[string]map[string]PackageId {
	switch realm {
	case RealmServer:
		return r.serverDeps
	case RealmDev:
		return r.devDeps
	default:
		return r.sharedDeps
	}
}

func (r *Resolve) activatedByName(name PackageName) []PackageId {
	return r.byName[name.String()]
}

func (r *Resolve) isActivated(id PackageId) bool {
	return r.activatedOK[id.String()]
}

func (r *Resolve) activate(id PackageId, meta ResolvePackageMetadata) {
	key := id.String()
	if r.activatedOK[key] {
		return
	}
	r.activatedOK[key] = true
	r.activated = append(r.activated, id)
	r.metadata[key] = meta

	nameKey := id.Name.String()
	list := r.byName[nameKey]
	list = append(list, id)
	sort.Slice(list, func(i, j int) bool { return list[j].Version.Less(list[i].Version) })
	r.byName[nameKey] = list
}

func (r *Resolve) setOriginRealm(id PackageId, realm Realm) {
	key := id.String()
	meta := r.metadata[key]
	meta.OriginRealm = realm
	r.metadata[key] = meta
}

func (r *Resolve) addEdge(realm Realm, parent PackageId, alias string, child PackageId) {
	m := r.edgeMap(realm)
	key := parent.String()
	if m[key] == nil {
		m[key] = make(map[string]PackageId)
	}
	m[key][alias] = child
}

// dependencyRequest is one item in the resolver's work queue.
type dependencyRequest struct {
	alias        string
	req          PackageReq
	requestRealm Realm
	originRealm  Realm
	parent       PackageId
}

// ResolveOptions carries the inputs to Resolve beyond the root manifest.
type ResolveOptions struct {
	// TryToUse is the set of PackageIds from a prior lockfile the resolver
	// prefers when multiple candidates otherwise satisfy a requirement.
	TryToUse []PackageId
	// Sources supplies candidates and downloads for every non-root package.
	Sources *SourceMap
}

// ResolveManifest runs the resolver described in spec.md §4.5 against a
// root manifest, producing an activated dependency graph or a
// *Error of kind KindResolution.
func ResolveManifest(ctx context.Context, root *Manifest, opts ResolveOptions) (*Resolve, error) {
	rootID := root.Id()
	result := newResolve(rootID)
	result.activate(rootID, ResolvePackageMetadata{
		Realm:       root.Package.Realm,
		OriginRealm: root.Package.Realm,
	})

	tryToUse := make(map[string]bool, len(opts.TryToUse))
	for _, id := range opts.TryToUse {
		tryToUse[id.String()] = true
	}

	var queue []dependencyRequest
	for alias, req := range root.Dependencies {
		queue = append(queue, dependencyRequest{alias: alias, req: req, requestRealm: RealmShared, originRealm: RealmShared, parent: rootID})
	}
	for alias, req := range root.ServerDependencies {
		queue = append(queue, dependencyRequest{alias: alias, req: req, requestRealm: RealmServer, originRealm: RealmServer, parent: rootID})
	}
	for alias, req := range root.DevDependencies {
		queue = append(queue, dependencyRequest{alias: alias, req: req, requestRealm: RealmDev, originRealm: RealmDev, parent: rootID})
	}

	// Deterministic processing order: the order aliases were ranged over a
	// Go map is unspecified, so sort the initial seed for reproducibility;
	// later entries are appended in activation order, which is already
	// deterministic because each activation fully resolves before its
	// children are enqueued.
	sort.Slice(queue, func(i, j int) bool { return queue[i].alias < queue[j].alias })

	for len(queue) > 0 {
		req := queue[0]
		queue = queue[1:]

		activatedForName := result.activatedByName(req.req.Name)

		reused := false
		for _, candID := range activatedForName {
			if req.req.VersionReq.Check(candID.Version) {
				result.setOriginRealm(candID, TightenRealm(mustMetadata(result, candID).OriginRealm, req.originRealm))
				result.addEdge(req.requestRealm, req.parent, req.alias, candID)
				reused = true
				break
			}
		}
		if reused {
			continue
		}

		candidates, sourceID, err := opts.Sources.Query(ctx, req.req)
		if err != nil {
			return nil, err
		}
		if len(candidates) == 0 {
			return nil, resolutionErrorf("no candidates matching %s in realm %s", req.req, req.requestRealm)
		}

		// Candidate ordering: try-to-use membership first, then descending
		// version (already descending out of SourceMap.Query/the concrete
		// sources; SliceStable preserves that secondary order).
		sort.SliceStable(candidates, func(i, j int) bool {
			iTTU := tryToUse[candidates[i].Id().String()]
			jTTU := tryToUse[candidates[j].Id().String()]
			return iTTU && !jTTU
		})

		var filtered []Manifest
		for _, c := range candidates {
			if IsDependencyValid(req.requestRealm, c.Package.Realm) {
				filtered = append(filtered, c)
			}
		}
		if len(filtered) == 0 {
			return nil, resolutionErrorf("no candidates matching %s valid for realm %s", req.req, req.requestRealm)
		}

		var chosen *Manifest
		var conflicting []Manifest
		for i := range filtered {
			c := filtered[i]
			conflict := false
			for _, existing := range activatedForName {
				if Compatible(c.Package.Version, existing.Version) {
					conflict = true
					break
				}
			}
			if conflict {
				conflicting = append(conflicting, c)
				continue
			}
			chosen = &filtered[i]
			break
		}

		if chosen == nil {
			if len(conflicting) > 0 {
				return nil, resolutionErrorf("all candidates for %s conflict with already-activated versions: %s", req.req, listVersions(conflicting))
			}
			return nil, resolutionErrorf("no candidates matching %s in realm %s", req.req, req.requestRealm)
		}

		childID := chosen.Id()
		result.activate(childID, ResolvePackageMetadata{
			Realm:       chosen.Package.Realm,
			OriginRealm: req.originRealm,
			SourceID:    sourceID,
		})
		result.addEdge(req.requestRealm, req.parent, req.alias, childID)

		var childAliases []string
		for alias := range chosen.Dependencies {
			childAliases = append(childAliases, alias)
		}
		sort.Strings(childAliases)
		for _, alias := range childAliases {
			queue = append(queue, dependencyRequest{alias: alias, req: chosen.Dependencies[alias], requestRealm: RealmShared, originRealm: req.originRealm, parent: childID})
		}

		var serverAliases []string
		for alias := range chosen.ServerDependencies {
			serverAliases = append(serverAliases, alias)
		}
		sort.Strings(serverAliases)
		for _, alias := range serverAliases {
			queue = append(queue, dependencyRequest{alias: alias, req: chosen.ServerDependencies[alias], requestRealm: RealmServer, originRealm: req.originRealm, parent: childID})
		}
	}

	return result, nil
}

// ResolveUpgrading re-resolves with the given package names excluded from
// the try-to-use set, implementing the selective `wally update <names>`
// behavior from original_source/src/commands/update.rs: named packages are
// free to move to a newer compatible version while everything else stays
// pinned to its locked version.
func ResolveUpgrading(ctx context.Context, root *Manifest, locked []PackageId, names []string, sources *SourceMap) (*Resolve, error) {
	excluded := make(map[string]bool, len(names))
	for _, n := range names {
		excluded[n] = true
	}

	tryToUse := make([]PackageId, 0, len(locked))
	for _, id := range locked {
		if excluded[id.Name.Name()] || excluded[id.Name.String()] {
			continue
		}
		tryToUse = append(tryToUse, id)
	}

	return ResolveManifest(ctx, root, ResolveOptions{TryToUse: tryToUse, Sources: sources})
}

func mustMetadata(r *Resolve, id PackageId) ResolvePackageMetadata {
	m, _ := r.Metadata(id)
	return m
}

func listVersions(ms []Manifest) string {
	parts := make([]string, len(ms))
	for i, m := range ms {
		parts[i] = m.Id().String()
	}
	return strings.Join(parts, ", ")
}

package registryserver

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/UpliftGames/wally/gitindex"
	"github.com/UpliftGames/wally/registry"
)

// searchDocLimit caps results returned by a single search, matching
// search.rs's DOC_LIMIT.
const searchDocLimit = 100

// SearchDoc is one indexed package, the Go analogue of search.rs's
// DocResult.
type SearchDoc struct {
	Scope         string
	Name          string
	Versions      []string
	Description   string
	DependentCount int
}

// SearchIndex is a plain in-memory scoring index over published package
// metadata, rebuilt from the Git index on publish under a write lock and
// queried under a read lock (spec.md §5). No full-text search engine
// appears anywhere in the retrieved pack (the original uses tantivy, which
// has no Go equivalent in the corpus), so this is direct exact-name and
// substring scoring over the small field set search.rs itself indexes — see
// DESIGN.md for the standard-library justification.
type SearchIndex struct {
	mu   sync.RWMutex
	docs []SearchDoc
}

// NewSearchIndex builds an empty index; call Crawl to populate it.
func NewSearchIndex() *SearchIndex {
	return &SearchIndex{}
}

// Crawl rebuilds the index from every package in idx, matching
// search.rs's crawl_packages: every published version is recorded, and the
// description of the last-published manifest fills the scored description
// field; prerelease versions are not skipped when choosing it.
func (s *SearchIndex) Crawl(ctx context.Context, idx *gitindex.Index) error {
	names, err := idx.AllPackageNames()
	if err != nil {
		return err
	}

	docs := make([]SearchDoc, 0, len(names))
	metas := make([]registry.PackageMetadata, 0, len(names))
	for _, name := range names {
		meta, err := idx.GetPackageMetadata(ctx, name)
		if err != nil {
			continue
		}
		docs = append(docs, docFromMetadata(meta))
		metas = append(metas, meta)
	}

	s.mu.Lock()
	s.docs = docs
	s.mu.Unlock()

	s.SetDependentCounts(dependentCounts(metas))
	return nil
}

// dependentCounts counts, for every (scope, name) appearing in metas, how
// many distinct other packages declare it as a dependency across any of
// their published versions and any of the three dependency realms,
// matching search.rs's dependent-count popularity signal.
func dependentCounts(metas []registry.PackageMetadata) map[string]int {
	counts := make(map[string]int)
	for _, meta := range metas {
		seen := make(map[string]bool)
		for _, m := range meta.Manifests {
			for _, reqs := range []map[string]registry.PackageReq{m.Dependencies, m.ServerDependencies, m.DevDependencies} {
				for _, req := range reqs {
					seen[req.Name.String()] = true
				}
			}
		}
		for key := range seen {
			counts[key]++
		}
	}
	return counts
}

// TryCrawl attempts a rebuild but returns immediately without blocking if
// the index lock is held at the moment of the call (by a search or by a
// rebuild swapping in its results): a publish that can't win the lock
// simply skips recrawling for that publish rather than queuing behind it.
// Crawl does not hold the lock while it reads the Git index, so two
// rebuilds can still run at the same time.
func (s *SearchIndex) TryCrawl(ctx context.Context, idx *gitindex.Index) {
	if !s.mu.TryLock() {
		return
	}
	s.mu.Unlock()
	_ = s.Crawl(ctx, idx)
}

func docFromMetadata(meta registry.PackageMetadata) SearchDoc {
	doc := SearchDoc{Scope: meta.Name.Scope(), Name: meta.Name.Name()}
	for _, m := range meta.Manifests {
		doc.Versions = append(doc.Versions, m.Package.Version.String())
	}
	// Manifests are in publish order, so the last entry is the newest
	// version; its description drives the scored fields, matching
	// search.rs's indexing of one description per package.
	if len(meta.Manifests) > 0 {
		doc.Description = meta.Manifests[len(meta.Manifests)-1].Package.Description
	}
	return doc
}

// SetDependentCounts records, for every (scope, name) in counts, how many
// other packages in the index depend on it, for the popularity boost
// spec.md §4.9's search endpoint describes.
func (s *SearchIndex) SetDependentCounts(counts map[string]int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.docs {
		key := s.docs[i].Scope + "/" + s.docs[i].Name
		s.docs[i].DependentCount = counts[key]
	}
}

// Search scores docs against query: a field match in scope or name counts
// for more than a description match, and popularity adds 0.1 per dependent
// package on top of the field score, matching the field boosts search.rs
// assigns to scope (3x) and name (5x) over description, expressed here as
// direct weights rather than through a query-parser library.
func (s *SearchIndex) Search(query string) []SearchDoc {
	q := strings.ToLower(strings.ReplaceAll(query, "/", " "))
	terms := strings.Fields(q)

	s.mu.RLock()
	defer s.mu.RUnlock()

	type scored struct {
		doc   SearchDoc
		score float64
	}
	var results []scored
	for _, doc := range s.docs {
		score := scoreDoc(doc, terms)
		if score <= 0 {
			continue
		}
		results = append(results, scored{doc: doc, score: score})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].score > results[j].score
	})

	limit := searchDocLimit
	if len(results) < limit {
		limit = len(results)
	}
	out := make([]SearchDoc, limit)
	for i := 0; i < limit; i++ {
		out[i] = results[i].doc
	}
	return out
}

func scoreDoc(doc SearchDoc, terms []string) float64 {
	if len(terms) == 0 {
		return 1 + float64(doc.DependentCount)*0.01
	}

	name := strings.ToLower(doc.Name)
	scope := strings.ToLower(doc.Scope)
	desc := strings.ToLower(doc.Description)

	var score float64
	for _, t := range terms {
		switch {
		case name == t:
			score += 10
		case strings.Contains(name, t):
			score += 5
		case strings.Contains(scope, t):
			score += 3
		case strings.Contains(desc, t):
			score += 1
		default:
			return 0
		}
	}

	return score + float64(doc.DependentCount)*0.1
}

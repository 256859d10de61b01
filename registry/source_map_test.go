package registry

import (
	"context"
	"testing"
)

// TestSourceMapFallbackOrder exercises spec.md §8's "Fallback order"
// property: given three stacked sources where only the third has a
// matching package, resolution succeeds and the recorded source_id equals
// the third source's id.
func TestSourceMapFallbackOrder(t *testing.T) {
	first := NewNamedInMemorySource("first")
	second := NewNamedInMemorySource("second")
	third := NewNamedInMemorySource("third")
	third.Publish(buildManifest(t, "biff/only-third@1.0.0", RealmShared, nil, nil, nil), []byte("archive"))

	sm := NewSourceMap(nil)
	sm.Add(first)
	sm.Add(second)
	sm.Add(third)

	req := mustReq(t, "biff/only-third@1.0.0")
	manifests, sourceID, err := sm.Query(context.Background(), req)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(manifests) != 1 {
		t.Fatalf("expected exactly one manifest, got %d", len(manifests))
	}
	if !sourceID.Equal(third.ID()) {
		t.Fatalf("expected source_id %s, got %s", third.ID(), sourceID)
	}
}

// TestSourceMapQueryContinuesPastEmptyResult confirms the resolved Open
// Question from spec.md §9: a source that returns an empty-but-successful
// result does not stop the walk.
func TestSourceMapQueryContinuesPastEmptyResult(t *testing.T) {
	empty := NewNamedInMemorySource("empty")
	hasIt := NewNamedInMemorySource("has-it")
	hasIt.Publish(buildManifest(t, "biff/thing@1.0.0", RealmShared, nil, nil, nil), nil)

	sm := NewSourceMap(nil)
	sm.Add(empty)
	sm.Add(hasIt)

	manifests, sourceID, err := sm.Query(context.Background(), mustReq(t, "biff/thing@1.0.0"))
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(manifests) != 1 {
		t.Fatalf("expected one manifest, got %d", len(manifests))
	}
	if !sourceID.Equal(hasIt.ID()) {
		t.Fatalf("expected source_id %s, got %s", hasIt.ID(), sourceID)
	}
}

// TestSourceMapAddFallbacksDiscoversAndDedups exercises breadth-first
// fallback discovery with cycle protection (spec.md §4.4).
func TestSourceMapAddFallbacksDiscoversAndDedups(t *testing.T) {
	a := NewNamedInMemorySource("a")
	b := NewNamedInMemorySource("b")
	a.SetFallbacks(b.ID(), a.ID()) // self-reference must not loop forever

	factory := func(ctx context.Context, id PackageSourceId) (PackageSource, error) {
		return b, nil
	}

	sm := NewSourceMap(factory)
	sm.Add(a)

	if err := sm.AddFallbacks(context.Background()); err != nil {
		t.Fatalf("AddFallbacks: %v", err)
	}

	ids := make(map[string]bool)
	for _, src := range sm.Sources() {
		ids[src.ID().String()] = true
	}
	if !ids[b.ID().String()] {
		t.Fatalf("expected fallback source %s to be added, got %v", b.ID(), ids)
	}
	if len(sm.Sources()) != 2 {
		t.Fatalf("expected exactly 2 sources (no duplicate from self-reference), got %d", len(sm.Sources()))
	}
}

package registryserver

import "testing"

func TestSearchExactNameMatchRanksFirst(t *testing.T) {
	idx := &SearchIndex{docs: []SearchDoc{
		{Scope: "acme", Name: "widget-extra", Description: "an extra widget"},
		{Scope: "acme", Name: "widget", Description: "a plain widget"},
	}}

	results := idx.Search("widget")
	if len(results) != 2 {
		t.Fatalf("Search() returned %d results, want 2", len(results))
	}
	if results[0].Name != "widget" {
		t.Fatalf("top result = %q, want exact match %q", results[0].Name, "widget")
	}
}

func TestSearchRequiresAllTermsToMatch(t *testing.T) {
	idx := &SearchIndex{docs: []SearchDoc{
		{Scope: "acme", Name: "widget", Description: "handles rope physics"},
		{Scope: "acme", Name: "gadget", Description: "unrelated"},
	}}

	results := idx.Search("widget rope")
	if len(results) != 1 || results[0].Name != "widget" {
		t.Fatalf("Search(\"widget rope\") = %+v, want only widget", results)
	}
}

func TestSearchEmptyQueryReturnsAllOrderedByPopularity(t *testing.T) {
	idx := &SearchIndex{docs: []SearchDoc{
		{Scope: "acme", Name: "quiet", DependentCount: 1},
		{Scope: "acme", Name: "popular", DependentCount: 50},
	}}

	results := idx.Search("")
	if len(results) != 2 {
		t.Fatalf("Search(\"\") returned %d results, want 2", len(results))
	}
	if results[0].Name != "popular" {
		t.Fatalf("top result = %q, want %q (higher dependent count)", results[0].Name, "popular")
	}
}

func TestSearchCapsAtDocLimit(t *testing.T) {
	idx := &SearchIndex{}
	for i := 0; i < searchDocLimit+10; i++ {
		idx.docs = append(idx.docs, SearchDoc{Scope: "acme", Name: "pkg", Description: "widget"})
	}

	results := idx.Search("widget")
	if len(results) != searchDocLimit {
		t.Fatalf("Search() returned %d results, want the cap of %d", len(results), searchDocLimit)
	}
}

func TestSetDependentCountsAppliesByScopeAndName(t *testing.T) {
	idx := &SearchIndex{docs: []SearchDoc{
		{Scope: "acme", Name: "widget"},
		{Scope: "acme", Name: "gadget"},
	}}

	idx.SetDependentCounts(map[string]int{"acme/widget": 7})

	for _, doc := range idx.docs {
		switch doc.Name {
		case "widget":
			if doc.DependentCount != 7 {
				t.Fatalf("widget.DependentCount = %d, want 7", doc.DependentCount)
			}
		case "gadget":
			if doc.DependentCount != 0 {
				t.Fatalf("gadget.DependentCount = %d, want 0", doc.DependentCount)
			}
		}
	}
}

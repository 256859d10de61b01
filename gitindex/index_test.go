package gitindex

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/UpliftGames/wally/registry"
)

func newTestIndex(t *testing.T, path string) *Index {
	t.Helper()
	return &Index{
		path:  path,
		cache: make(map[string]registry.PackageMetadata),
	}
}

func TestIndexPathIsDeterministicPerURL(t *testing.T) {
	a, err := indexPath("/cache", "https://example.com/index.git")
	if err != nil {
		t.Fatalf("indexPath: %v", err)
	}
	b, err := indexPath("/cache", "https://example.com/index.git")
	if err != nil {
		t.Fatalf("indexPath: %v", err)
	}
	if a != b {
		t.Fatalf("indexPath is not deterministic: %q != %q", a, b)
	}

	other, err := indexPath("/cache", "https://example.com/other.git")
	if err != nil {
		t.Fatalf("indexPath: %v", err)
	}
	if a == other {
		t.Fatalf("indexPath collided for distinct URLs: %q", a)
	}

	if filepath.Dir(filepath.Dir(a)) != filepath.Join("/cache", "wally") {
		t.Fatalf("indexPath = %q, expected to be rooted under /cache/wally/index", a)
	}
}

func TestIndexPathFallsBackToLocalForUnparseableHost(t *testing.T) {
	p, err := indexPath("/cache", "not-a-url-at-all")
	if err != nil {
		t.Fatalf("indexPath: %v", err)
	}
	if filepath.Base(filepath.Dir(p)) != "index" {
		t.Fatalf("indexPath = %q, unexpected shape", p)
	}
	if ok, _ := filepath.Match("local-????????", filepath.Base(p)); !ok {
		t.Fatalf("indexPath = %q, want a local-<hash8> directory name", p)
	}
}

func TestHostOf(t *testing.T) {
	if got := hostOf("https://example.com/a/b.git"); got != "example.com" {
		t.Fatalf("hostOf() = %q, want %q", got, "example.com")
	}
	if got := hostOf("not a url"); got != "" {
		t.Fatalf("hostOf(invalid) = %q, want empty", got)
	}
}

func TestAllPackageNamesSkipsGitAndOwnersFiles(t *testing.T) {
	dir := t.TempDir()
	mustMkdirAll(t, filepath.Join(dir, ".git"))
	mustWriteFile(t, filepath.Join(dir, "acme", "widget"), "")
	mustWriteFile(t, filepath.Join(dir, "acme", "owners.json"), "[]")
	mustMkdirAll(t, filepath.Join(dir, "acme", "nested-dir"))

	idx := newTestIndex(t, dir)
	names, err := idx.AllPackageNames()
	if err != nil {
		t.Fatalf("AllPackageNames: %v", err)
	}
	if len(names) != 1 {
		t.Fatalf("AllPackageNames() = %v, want exactly one package name", names)
	}
	if names[0].Scope() != "acme" || names[0].Name() != "widget" {
		t.Fatalf("AllPackageNames()[0] = %s/%s, want acme/widget", names[0].Scope(), names[0].Name())
	}
}

func TestGetPackageMetadataMissingFileIsEmpty(t *testing.T) {
	dir := t.TempDir()
	mustMkdirAll(t, filepath.Join(dir, "acme"))

	idx := newTestIndex(t, dir)
	name, err := registry.NewPackageName("acme", "widget")
	if err != nil {
		t.Fatalf("NewPackageName: %v", err)
	}

	meta, err := idx.GetPackageMetadata(context.Background(), name)
	if err != nil {
		t.Fatalf("GetPackageMetadata: %v", err)
	}
	if len(meta.Manifests) != 0 {
		t.Fatalf("expected no manifests for a missing package file, got %v", meta.Manifests)
	}
	if !meta.Name.Equal(name) {
		t.Fatalf("meta.Name = %v, want %v", meta.Name, name)
	}
}

func TestGetPackageMetadataParsesNewlineDelimitedManifests(t *testing.T) {
	dir := t.TempDir()
	mustMkdirAll(t, filepath.Join(dir, "acme"))

	name, err := registry.NewPackageName("acme", "widget")
	if err != nil {
		t.Fatalf("NewPackageName: %v", err)
	}
	version1, err := registry.ParseVersion("1.0.0")
	if err != nil {
		t.Fatalf("ParseVersion: %v", err)
	}
	version2, err := registry.ParseVersion("2.0.0")
	if err != nil {
		t.Fatalf("ParseVersion: %v", err)
	}

	line1 := mustManifestJSON(t, registry.Manifest{Package: registry.Package{Name: name, Version: version1, Realm: registry.RealmShared}})
	line2 := mustManifestJSON(t, registry.Manifest{Package: registry.Package{Name: name, Version: version2, Realm: registry.RealmShared}})
	mustWriteFile(t, filepath.Join(dir, "acme", "widget"), line1+"\n"+line2+"\n")

	idx := newTestIndex(t, dir)
	meta, err := idx.GetPackageMetadata(context.Background(), name)
	if err != nil {
		t.Fatalf("GetPackageMetadata: %v", err)
	}
	if len(meta.Manifests) != 2 {
		t.Fatalf("expected 2 manifests, got %d", len(meta.Manifests))
	}
	if !meta.Manifests[0].Package.Version.Equal(version1) || !meta.Manifests[1].Package.Version.Equal(version2) {
		t.Fatalf("manifests parsed out of order: %+v", meta.Manifests)
	}

	// Second call should be served from the per-name cache; mutate the file
	// on disk and confirm the cached result is returned unchanged.
	mustWriteFile(t, filepath.Join(dir, "acme", "widget"), line1+"\n")
	cached, err := idx.GetPackageMetadata(context.Background(), name)
	if err != nil {
		t.Fatalf("GetPackageMetadata (cached): %v", err)
	}
	if len(cached.Manifests) != 2 {
		t.Fatalf("expected cached result with 2 manifests, got %d", len(cached.Manifests))
	}
}

func TestGetScopeOwnersMissingFileIsEmpty(t *testing.T) {
	idx := newTestIndex(t, t.TempDir())
	owners, err := idx.GetScopeOwners(context.Background(), "acme")
	if err != nil {
		t.Fatalf("GetScopeOwners: %v", err)
	}
	if owners != nil {
		t.Fatalf("GetScopeOwners() = %v, want nil", owners)
	}

	ok, err := idx.IsScopeOwner(context.Background(), "acme", 42)
	if err != nil {
		t.Fatalf("IsScopeOwner: %v", err)
	}
	if ok {
		t.Fatalf("IsScopeOwner() = true, want false for an unowned scope")
	}
}

func TestGetScopeOwnersParsesExistingFile(t *testing.T) {
	dir := t.TempDir()
	mustMkdirAll(t, filepath.Join(dir, "acme"))
	mustWriteFile(t, filepath.Join(dir, "acme", "owners.json"), "[1,2,42]")

	idx := newTestIndex(t, dir)
	owners, err := idx.GetScopeOwners(context.Background(), "acme")
	if err != nil {
		t.Fatalf("GetScopeOwners: %v", err)
	}
	if len(owners) != 3 {
		t.Fatalf("GetScopeOwners() = %v, want 3 entries", owners)
	}

	ok, err := idx.IsScopeOwner(context.Background(), "acme", 42)
	if err != nil {
		t.Fatalf("IsScopeOwner: %v", err)
	}
	if !ok {
		t.Fatalf("IsScopeOwner(42) = false, want true")
	}

	ok, err = idx.IsScopeOwner(context.Background(), "acme", 99)
	if err != nil {
		t.Fatalf("IsScopeOwner: %v", err)
	}
	if ok {
		t.Fatalf("IsScopeOwner(99) = true, want false")
	}
}

func mustMkdirAll(t *testing.T, dir string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll(%s): %v", dir, err)
	}
}

func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll(%s): %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile(%s): %v", path, err)
	}
}

func mustManifestJSON(t *testing.T, m registry.Manifest) string {
	t.Helper()
	b, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshaling manifest: %v", err)
	}
	return string(b)
}

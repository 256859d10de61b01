package registry

import (
	"context"
	"testing"
)

func mustName(t *testing.T, s string) PackageName {
	t.Helper()
	n, err := ParsePackageName(s)
	if err != nil {
		t.Fatalf("ParsePackageName(%q): %v", s, err)
	}
	return n
}

func mustVersion(t *testing.T, s string) Version {
	t.Helper()
	v, err := ParseVersion(s)
	if err != nil {
		t.Fatalf("ParseVersion(%q): %v", s, err)
	}
	return v
}

func mustReq(t *testing.T, s string) PackageReq {
	t.Helper()
	r, err := ParsePackageReq(s)
	if err != nil {
		t.Fatalf("ParsePackageReq(%q): %v", s, err)
	}
	return r
}

// buildManifest constructs a Manifest for test fixtures without going
// through TOML parsing.
func buildManifest(t *testing.T, id string, realm Realm, deps, serverDeps, devDeps map[string]string) Manifest {
	t.Helper()
	pid, err := ParsePackageId(id)
	if err != nil {
		t.Fatalf("ParsePackageId(%q): %v", id, err)
	}
	m := Manifest{
		Package: Package{
			Name:    pid.Name,
			Version: pid.Version,
			Realm:   realm,
		},
	}
	if len(deps) > 0 {
		m.Dependencies = make(map[string]PackageReq, len(deps))
		for alias, req := range deps {
			m.Dependencies[alias] = mustReq(t, req)
		}
	}
	if len(serverDeps) > 0 {
		m.ServerDependencies = make(map[string]PackageReq, len(serverDeps))
		for alias, req := range serverDeps {
			m.ServerDependencies[alias] = mustReq(t, req)
		}
	}
	if len(devDeps) > 0 {
		m.DevDependencies = make(map[string]PackageReq, len(devDeps))
		for alias, req := range devDeps {
			m.DevDependencies[alias] = mustReq(t, req)
		}
	}
	return m
}

func newTestSourceMap(src *InMemorySource) *SourceMap {
	sm := NewSourceMap(nil)
	sm.Add(src)
	return sm
}

func activatedIDs(r *Resolve) map[string]bool {
	out := make(map[string]bool)
	for _, id := range r.Activated() {
		out[id.String()] = true
	}
	return out
}

func TestResolveMinimal(t *testing.T) {
	root := buildManifest(t, "biff/minimal@0.1.0", RealmShared, nil, nil, nil)
	src := NewInMemorySource()
	resolve, err := ResolveManifest(context.Background(), &root, ResolveOptions{Sources: newTestSourceMap(src)})
	if err != nil {
		t.Fatal(err)
	}

	ids := activatedIDs(resolve)
	if len(ids) != 1 || !ids["biff/minimal@0.1.0"] {
		t.Fatalf("expected only root activated, got %v", ids)
	}

	meta, ok := resolve.Metadata(root.Id())
	if !ok || meta.OriginRealm != RealmShared {
		t.Fatalf("expected root origin_realm=shared, got %+v", meta)
	}
}

func TestResolveOneDependency(t *testing.T) {
	root := buildManifest(t, "biff/one-dependency@0.1.0", RealmShared,
		map[string]string{"Minimal": "biff/minimal@0.1.0"}, nil, nil)

	src := NewInMemorySource()
	src.Publish(buildManifest(t, "biff/minimal@0.1.0", RealmShared, nil, nil, nil), []byte("v1"))
	src.Publish(buildManifest(t, "biff/minimal@0.2.0", RealmShared, nil, nil, nil), []byte("v2"))

	resolve, err := ResolveManifest(context.Background(), &root, ResolveOptions{Sources: newTestSourceMap(src)})
	if err != nil {
		t.Fatal(err)
	}

	ids := activatedIDs(resolve)
	if !ids["biff/minimal@0.1.0"] {
		t.Fatalf("expected biff/minimal@0.1.0 activated, got %v", ids)
	}
	if ids["biff/minimal@0.2.0"] {
		t.Fatalf("did not expect biff/minimal@0.2.0 activated, got %v", ids)
	}
}

func TestResolveDiamond(t *testing.T) {
	root := buildManifest(t, "biff/root@1.0.0", RealmShared,
		map[string]string{"A": "biff/a@1.0.0"}, nil, nil)

	src := NewInMemorySource()
	src.Publish(buildManifest(t, "biff/a@1.0.0", RealmShared,
		map[string]string{"B": "biff/b@1.0.0", "C": "biff/c@1.0.0"}, nil, nil), nil)
	src.Publish(buildManifest(t, "biff/b@1.0.0", RealmShared,
		map[string]string{"D": "biff/d@1.0.0"}, nil, nil), nil)
	src.Publish(buildManifest(t, "biff/c@1.0.0", RealmShared,
		map[string]string{"D": "biff/d@1.0.0"}, nil, nil), nil)
	src.Publish(buildManifest(t, "biff/d@1.0.0", RealmShared, nil, nil, nil), nil)

	resolve, err := ResolveManifest(context.Background(), &root, ResolveOptions{Sources: newTestSourceMap(src)})
	if err != nil {
		t.Fatal(err)
	}

	count := 0
	for _, id := range resolve.Activated() {
		if id.Name.String() == "biff/d" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one biff/d activated, got %d", count)
	}
}

func TestResolveServerToShared(t *testing.T) {
	root := buildManifest(t, "biff/root@1.0.0", RealmShared, nil,
		map[string]string{"Server": "biff/server@1.0.0"}, nil)

	src := NewInMemorySource()
	src.Publish(buildManifest(t, "biff/server@1.0.0", RealmServer,
		map[string]string{"Shared": "biff/shared@1.0.0"}, nil, nil), nil)
	src.Publish(buildManifest(t, "biff/shared@1.0.0", RealmShared, nil, nil, nil), nil)

	resolve, err := ResolveManifest(context.Background(), &root, ResolveOptions{Sources: newTestSourceMap(src)})
	if err != nil {
		t.Fatal(err)
	}

	sharedID, err := ParsePackageId("biff/shared@1.0.0")
	if err != nil {
		t.Fatal(err)
	}
	meta, ok := resolve.Metadata(sharedID)
	if !ok {
		t.Fatalf("expected biff/shared@1.0.0 activated")
	}
	if meta.OriginRealm != RealmServer {
		t.Fatalf("expected origin_realm=server for biff/shared, got %s", meta.OriginRealm)
	}
}

func TestResolveForbidSharedToServer(t *testing.T) {
	root := buildManifest(t, "biff/root@1.0.0", RealmShared,
		map[string]string{"Server": "biff/server@1.0.0"}, nil, nil)

	src := NewInMemorySource()
	src.Publish(buildManifest(t, "biff/server@1.0.0", RealmServer, nil, nil, nil), nil)

	_, err := ResolveManifest(context.Background(), &root, ResolveOptions{Sources: newTestSourceMap(src)})
	if err == nil {
		t.Fatal("expected resolution error for shared dependency on a server-realm package")
	}
	if !IsKind(err, KindResolution) {
		t.Fatalf("expected KindResolution, got %v", err)
	}
}

func TestResolveLockfileContinuity(t *testing.T) {
	root := buildManifest(t, "biff/one-dependency@0.1.0", RealmShared,
		map[string]string{"Minimal": "biff/minimal@^1.0.0"}, nil, nil)

	src := NewInMemorySource()
	src.Publish(buildManifest(t, "biff/minimal@1.0.0", RealmShared, nil, nil, nil), nil)

	first, err := ResolveManifest(context.Background(), &root, ResolveOptions{Sources: newTestSourceMap(src)})
	if err != nil {
		t.Fatal(err)
	}
	if !activatedIDs(first)["biff/minimal@1.0.0"] {
		t.Fatalf("expected initial resolve to pick biff/minimal@1.0.0, got %v", activatedIDs(first))
	}

	src.Publish(buildManifest(t, "biff/minimal@1.1.0", RealmShared, nil, nil, nil), nil)

	ttu := first.Activated()
	second, err := ResolveManifest(context.Background(), &root, ResolveOptions{TryToUse: ttu, Sources: newTestSourceMap(src)})
	if err != nil {
		t.Fatal(err)
	}
	if !activatedIDs(second)["biff/minimal@1.0.0"] {
		t.Fatalf("expected try-to-use to keep biff/minimal@1.0.0, got %v", activatedIDs(second))
	}

	third, err := ResolveManifest(context.Background(), &root, ResolveOptions{Sources: newTestSourceMap(src)})
	if err != nil {
		t.Fatal(err)
	}
	if !activatedIDs(third)["biff/minimal@1.1.0"] {
		t.Fatalf("expected no try-to-use to pick newest biff/minimal@1.1.0, got %v", activatedIDs(third))
	}
}

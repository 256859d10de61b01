// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wally

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/UpliftGames/wally/registry"
)

func mustPackageId(t *testing.T, s string) registry.PackageId {
	t.Helper()
	id, err := registry.ParsePackageId(s)
	if err != nil {
		t.Fatalf("ParsePackageId(%q): %v", s, err)
	}
	return id
}

func TestLockSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	lock := Lock{Packages: []registry.PackageId{
		mustPackageId(t, "acme/foo@1.0.0"),
		mustPackageId(t, "acme/bar@2.1.0"),
	}}

	if err := lock.Save(dir); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := LoadLock(dir)
	if err != nil {
		t.Fatalf("LoadLock: %v", err)
	}

	if !lock.Equal(loaded) {
		t.Fatalf("loaded lock %v does not equal saved lock %v", loaded, lock)
	}

	if _, err := os.Stat(filepath.Join(dir, LockFileName+".tmp")); !os.IsNotExist(err) {
		t.Fatalf("expected temp file to be cleaned up by the atomic rename, stat err = %v", err)
	}
}

func TestLoadLockMissingIsEmpty(t *testing.T) {
	lock, err := LoadLock(t.TempDir())
	if err != nil {
		t.Fatalf("LoadLock on empty dir: %v", err)
	}
	if len(lock.Packages) != 0 {
		t.Fatalf("expected an empty lock, got %v", lock.Packages)
	}
}

func TestLockEqualIgnoresOrder(t *testing.T) {
	a := Lock{Packages: []registry.PackageId{
		mustPackageId(t, "acme/foo@1.0.0"),
		mustPackageId(t, "acme/bar@2.1.0"),
	}}
	b := Lock{Packages: []registry.PackageId{
		mustPackageId(t, "acme/bar@2.1.0"),
		mustPackageId(t, "acme/foo@1.0.0"),
	}}
	if !a.Equal(b) {
		t.Fatalf("expected locks to be equal regardless of order")
	}
}

func TestLockDiff(t *testing.T) {
	prev := Lock{Packages: []registry.PackageId{
		mustPackageId(t, "acme/foo@1.0.0"),
		mustPackageId(t, "acme/bar@2.1.0"),
	}}
	fresh := Lock{Packages: []registry.PackageId{
		mustPackageId(t, "acme/foo@1.1.0"),
		mustPackageId(t, "acme/bar@2.1.0"),
	}}

	diff := prev.Diff(fresh)
	want := "+ acme/foo@1.1.0\n- acme/foo@1.0.0\n"
	if diff != want {
		t.Fatalf("Diff() = %q, want %q", diff, want)
	}
}

func TestFromResolveSortsPackages(t *testing.T) {
	rootID := mustPackageId(t, "acme/root@1.0.0")
	root := registry.Manifest{
		Package: registry.Package{Name: rootID.Name, Version: rootID.Version, Realm: registry.RealmShared},
		Dependencies: map[string]registry.PackageReq{
			"zeta":  mustPackageReq(t, "acme/zeta@^1.0.0"),
			"alpha": mustPackageReq(t, "acme/alpha@^1.0.0"),
		},
	}

	src := registry.NewInMemorySource()
	src.Publish(fixtureManifest(t, "acme/zeta@1.0.0"), []byte("zeta"))
	src.Publish(fixtureManifest(t, "acme/alpha@1.0.0"), []byte("alpha"))

	sm := registry.NewSourceMap(nil)
	sm.Add(src)

	resolved, err := registry.ResolveManifest(context.Background(), &root, registry.ResolveOptions{Sources: sm})
	if err != nil {
		t.Fatalf("ResolveManifest: %v", err)
	}

	lock := FromResolve(resolved)
	if len(lock.Packages) != 3 {
		t.Fatalf("expected 3 activated packages (including root), got %d", len(lock.Packages))
	}
	for i := 1; i < len(lock.Packages); i++ {
		if !lock.Packages[i-1].Less(lock.Packages[i]) {
			t.Fatalf("lock packages are not sorted: %v", lock.Packages)
		}
	}
}

func mustPackageReq(t *testing.T, s string) registry.PackageReq {
	t.Helper()
	r, err := registry.ParsePackageReq(s)
	if err != nil {
		t.Fatalf("ParsePackageReq(%q): %v", s, err)
	}
	return r
}

func fixtureManifest(t *testing.T, id string) registry.Manifest {
	t.Helper()
	pid := mustPackageId(t, id)
	return registry.Manifest{
		Package: registry.Package{Name: pid.Name, Version: pid.Version, Realm: registry.RealmShared},
	}
}

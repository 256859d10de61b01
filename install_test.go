// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wally

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/UpliftGames/wally/log"
	"github.com/UpliftGames/wally/registry"
)

func TestLinkContentSameRealmIsSibling(t *testing.T) {
	c := &InstallationContext{}
	target := mustPackageId(t, "acme/foo@1.0.0")

	got, err := c.linkContent(registry.RealmShared, registry.RealmShared, target)
	if err != nil {
		t.Fatalf("linkContent: %v", err)
	}
	want := linkSiblingSameIndex(target)
	if got != want {
		t.Fatalf("linkContent() = %q, want %q", got, want)
	}
}

func TestLinkContentCrossRealmToSharedRequiresPlace(t *testing.T) {
	target := mustPackageId(t, "acme/foo@1.0.0")

	unconfigured := &InstallationContext{}
	if _, err := unconfigured.linkContent(registry.RealmServer, registry.RealmShared, target); err == nil {
		t.Fatalf("expected an error linking to shared without place.shared-packages configured")
	}

	configured := &InstallationContext{sharedPath: "game.ReplicatedStorage.Packages"}
	got, err := configured.linkContent(registry.RealmServer, registry.RealmShared, target)
	if err != nil {
		t.Fatalf("linkContent: %v", err)
	}
	want := linkSharedIndex("game.ReplicatedStorage.Packages", target)
	if got != want {
		t.Fatalf("linkContent() = %q, want %q", got, want)
	}
}

func TestLinkContentCrossRealmToServerRequiresPlace(t *testing.T) {
	target := mustPackageId(t, "acme/foo@1.0.0")

	unconfigured := &InstallationContext{}
	if _, err := unconfigured.linkContent(registry.RealmDev, registry.RealmServer, target); err == nil {
		t.Fatalf("expected an error linking to server without place.server-packages configured")
	}

	configured := &InstallationContext{serverPath: "game.ServerScriptService.Packages"}
	got, err := configured.linkContent(registry.RealmDev, registry.RealmServer, target)
	if err != nil {
		t.Fatalf("linkContent: %v", err)
	}
	want := linkServerIndex("game.ServerScriptService.Packages", target)
	if got != want {
		t.Fatalf("linkContent() = %q, want %q", got, want)
	}
}

func TestLinkContentToDevFromOutsideIsRejected(t *testing.T) {
	c := &InstallationContext{}
	target := mustPackageId(t, "acme/foo@1.0.0")

	if _, err := c.linkContent(registry.RealmShared, registry.RealmDev, target); err == nil {
		t.Fatalf("expected an error linking a shared dependency to a dev-realm package")
	}
}

func TestInstallDownloadsAndWritesLinks(t *testing.T) {
	rootID := mustPackageId(t, "acme/root@1.0.0")
	root := registry.Manifest{
		Package: registry.Package{Name: rootID.Name, Version: rootID.Version, Realm: registry.RealmShared},
		Dependencies: map[string]registry.PackageReq{
			"foo": mustPackageReq(t, "acme/foo@^1.0.0"),
		},
	}

	src := registry.NewInMemorySource()
	fooManifest := registry.Manifest{
		Package: registry.Package{Name: mustPackageId(t, "acme/foo@1.0.0").Name, Version: mustPackageId(t, "acme/foo@1.0.0").Version, Realm: registry.RealmShared},
	}
	archive, err := PackContents(t.TempDir(), &fooManifest, log.Std())
	if err != nil {
		t.Fatalf("PackContents: %v", err)
	}
	src.Publish(fooManifest, archive)

	sm := registry.NewSourceMap(nil)
	sm.Add(src)

	resolved, err := registry.ResolveManifest(context.Background(), &root, registry.ResolveOptions{Sources: sm})
	if err != nil {
		t.Fatalf("ResolveManifest: %v", err)
	}

	projectDir := t.TempDir()
	install := NewInstallationContext(projectDir, registry.PlaceInfo{}, log.Std())

	var progressCalls int
	install.Progress = func(done, total int) { progressCalls++ }

	if err := install.Install(context.Background(), sm, rootID, resolved); err != nil {
		t.Fatalf("Install: %v", err)
	}

	rootLink := filepath.Join(projectDir, "Packages", "foo.lua")
	if _, err := os.Stat(rootLink); err != nil {
		t.Fatalf("expected root link file at %s: %v", rootLink, err)
	}

	fooID := mustPackageId(t, "acme/foo@1.0.0")
	pkgDir := filepath.Join(projectDir, "Packages", "_Index", fooID.FullName(), fooID.Name.Name())
	if ok, err := IsDir(pkgDir); err != nil || !ok {
		t.Fatalf("IsDir(%s) = (%v, %v), want (true, nil)", pkgDir, ok, err)
	}

	if progressCalls != 1 {
		t.Fatalf("progress callback invoked %d times, want 1", progressCalls)
	}
}

func TestInstallCleanRemovesDirectories(t *testing.T) {
	projectDir := t.TempDir()
	install := NewInstallationContext(projectDir, registry.PlaceInfo{}, log.Std())

	sharedDir := filepath.Join(projectDir, "Packages")
	if err := os.MkdirAll(sharedDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	if err := install.Clean(); err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if ok, err := IsDir(sharedDir); err != nil || ok {
		t.Fatalf("IsDir(%s) after Clean = (%v, %v), want (false, nil)", sharedDir, ok, err)
	}

	if err := install.Clean(); err != nil {
		t.Fatalf("Clean on already-clean dirs: %v", err)
	}
}

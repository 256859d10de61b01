// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wally

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/termie/go-shutil"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/UpliftGames/wally/log"
	"github.com/UpliftGames/wally/registry"
)

// defaultDownloadConcurrency is the bounded worker pool size for
// installation downloads, per spec.md §4.8/§5.
const defaultDownloadConcurrency = 50

// linkExt is the extension used for generated link files, matching
// original_source/src/installation.rs's hardcoded ".lua" (Luau source,
// requirable by the host runtime's module loader).
const linkExt = ".lua"

// ProgressFunc is called after each package finishes downloading and
// unpacking, reporting (completed, total) so a caller can drive a spinner
// or progress bar. May be called concurrently; implementations must be
// safe for that.
type ProgressFunc func(done, total int)

// InstallationContext materializes a Resolve into the three realm-specific
// install directories under a project root, generating cross-realm link
// files and downloading package contents, per spec.md §4.8. Grounded on
// original_source/src/installation.rs, extended with a third realm (Dev)
// per spec.md §3.
type InstallationContext struct {
	root string

	dirs      map[registry.Realm]string
	indexDirs map[registry.Realm]string

	sharedPath string
	serverPath string

	logger *log.Logger

	// Concurrency is the bounded worker pool size for downloads. Zero uses
	// defaultDownloadConcurrency.
	Concurrency int
	// Progress, if set, is invoked after each non-root package installs.
	Progress ProgressFunc
}

// NewInstallationContext builds an InstallationContext rooted at
// projectDir, using place's configured shared/server paths for
// cross-realm links.
func NewInstallationContext(projectDir string, place registry.PlaceInfo, logger *log.Logger) *InstallationContext {
	if logger == nil {
		logger = log.Std()
	}
	shared := filepath.Join(projectDir, "Packages")
	server := filepath.Join(projectDir, "ServerPackages")
	dev := filepath.Join(projectDir, "DevPackages")

	return &InstallationContext{
		root: projectDir,
		dirs: map[registry.Realm]string{
			registry.RealmShared: shared,
			registry.RealmServer: server,
			registry.RealmDev:    dev,
		},
		indexDirs: map[registry.Realm]string{
			registry.RealmShared: filepath.Join(shared, "_Index"),
			registry.RealmServer: filepath.Join(server, "_Index"),
			registry.RealmDev:    filepath.Join(dev, "_Index"),
		},
		sharedPath: place.SharedPackages,
		serverPath: place.ServerPackages,
		logger:     logger,
	}
}

// Clean removes the three install directories. A missing directory is not
// an error.
func (c *InstallationContext) Clean() error {
	for _, realm := range []registry.Realm{registry.RealmShared, registry.RealmServer, registry.RealmDev} {
		if err := os.RemoveAll(c.dirs[realm]); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "cleaning %s", c.dirs[realm])
		}
	}
	return nil
}

// Install materializes resolve on disk: root link files first (they only
// depend on the resolve graph), then sub-package link files and downloads,
// the latter running on a bounded worker pool, per spec.md §4.8 step 5's
// ordering guarantee.
func (c *InstallationContext) Install(ctx context.Context, sources *registry.SourceMap, rootID registry.PackageId, resolved *registry.Resolve) error {
	for _, realm := range []registry.Realm{registry.RealmShared, registry.RealmServer, registry.RealmDev} {
		if edges := resolved.Edges(realm, rootID); len(edges) > 0 {
			if err := c.writeRootLinks(realm, edges); err != nil {
				return err
			}
		}
	}

	activated := resolved.Activated()
	var targets []registry.PackageId
	for _, id := range activated {
		if id.Equal(rootID) {
			continue
		}
		targets = append(targets, id)
	}

	concurrency := c.Concurrency
	if concurrency <= 0 {
		concurrency = defaultDownloadConcurrency
	}
	sem := semaphore.NewWeighted(int64(concurrency))
	g, gctx := errgroup.WithContext(ctx)

	var done int64
	total := len(targets)

	for _, id := range targets {
		id := id
		meta, ok := resolved.Metadata(id)
		if !ok {
			return errors.Errorf("activated package %s has no recorded metadata (invariant violation)", id)
		}

		for _, realm := range []registry.Realm{registry.RealmShared, registry.RealmServer} {
			if edges := resolved.Edges(realm, id); len(edges) > 0 {
				if err := c.writePackageLinks(id, meta.Realm, realm, edges); err != nil {
					return err
				}
			}
		}

		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			c.logger.Debugf("installing %s", id)
			data, err := sources.Download(gctx, meta.SourceID, id)
			if err != nil {
				return errors.Wrapf(err, "downloading %s", id)
			}

			targetDir := filepath.Join(c.indexDirs[meta.Realm], id.FullName(), id.Name.Name())
			if err := stageContents(data, targetDir); err != nil {
				return errors.Wrapf(err, "unpacking %s", id)
			}

			n := atomic.AddInt64(&done, 1)
			if c.Progress != nil {
				c.Progress(int(n), total)
			}
			return nil
		})
	}

	return g.Wait()
}

// stageContents unpacks data into a sibling temp directory, then removes
// targetDir and copies the staged tree into it. An archive that fails to
// unpack leaves targetDir untouched; the copy itself goes file by file, so
// a process killed during it can leave a partially populated targetDir.
// Grounded on project_manager.go/vcs_source.go's own use of go-shutil's
// CopyTree to materialize a package revision onto disk.
func stageContents(data []byte, targetDir string) error {
	parent := filepath.Dir(targetDir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return errors.Wrapf(err, "creating %s", parent)
	}

	staging, err := os.MkdirTemp(parent, ".stage-*")
	if err != nil {
		return errors.Wrap(err, "creating staging directory")
	}
	defer os.RemoveAll(staging)

	if err := UnpackContents(data, staging); err != nil {
		return err
	}

	if err := os.RemoveAll(targetDir); err != nil {
		return errors.Wrapf(err, "clearing %s", targetDir)
	}

	cfg := &shutil.CopyTreeOptions{
		Symlinks:     true,
		CopyFunction: shutil.Copy,
	}
	if err := shutil.CopyTree(staging, targetDir, cfg); err != nil {
		return errors.Wrapf(err, "staging %s into place", targetDir)
	}
	return nil
}

func (c *InstallationContext) writeRootLinks(realm registry.Realm, edges map[string]registry.PackageId) error {
	c.logger.Debugf("writing root package links for realm %s", realm)
	baseDir := c.dirs[realm]
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return errors.Wrapf(err, "creating %s", baseDir)
	}

	for alias, target := range edges {
		content := linkRootSameIndex(target)
		path := filepath.Join(baseDir, alias+linkExt)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return errors.Wrapf(err, "writing link %s", path)
		}
	}
	return nil
}

func (c *InstallationContext) writePackageLinks(pkg registry.PackageId, pkgRealm, depsRealm registry.Realm, edges map[string]registry.PackageId) error {
	c.logger.Debugf("writing package links for %s (%s -> %s)", pkg, pkgRealm, depsRealm)
	baseDir := filepath.Join(c.indexDirs[pkgRealm], pkg.FullName())
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return errors.Wrapf(err, "creating %s", baseDir)
	}

	for alias, target := range edges {
		content, err := c.linkContent(pkgRealm, depsRealm, target)
		if err != nil {
			return err
		}
		path := filepath.Join(baseDir, alias+linkExt)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return errors.Wrapf(err, "writing link %s", path)
		}
	}
	return nil
}

// linkContent implements spec.md §4.8 step 3's cross-realm link rules.
func (c *InstallationContext) linkContent(sourceRealm, targetRealm registry.Realm, target registry.PackageId) (string, error) {
	if sourceRealm == targetRealm {
		return linkSiblingSameIndex(target), nil
	}

	switch targetRealm {
	case registry.RealmShared:
		if c.sharedPath == "" {
			return "", errors.Errorf("cannot link to shared dependency %s: place.shared-packages is not configured in the root manifest", target)
		}
		return linkSharedIndex(c.sharedPath, target), nil
	case registry.RealmServer:
		if c.serverPath == "" {
			return "", errors.Errorf("cannot link to server dependency %s: place.server-packages is not configured in the root manifest", target)
		}
		return linkServerIndex(c.serverPath, target), nil
	default:
		return "", errors.Errorf("cannot link to dev dependency %s from outside the dev realm", target)
	}
}

func linkSiblingSameIndex(id registry.PackageId) string {
	return fmt.Sprintf("return require(script.Parent.Parent[%q][%q])\n", id.FullName(), id.Name.Name())
}

func linkRootSameIndex(id registry.PackageId) string {
	return fmt.Sprintf("return require(script.Parent._Index[%q][%q])\n", id.FullName(), id.Name.Name())
}

func linkSharedIndex(sharedPath string, id registry.PackageId) string {
	return fmt.Sprintf("return require(%s._Index[%q][%q])\n", sharedPath, id.FullName(), id.Name.Name())
}

func linkServerIndex(serverPath string, id registry.PackageId) string {
	return fmt.Sprintf(
		"if not game:GetService(\"RunService\"):IsServer() then\n"+
			"\terror(%q, 2)\n"+
			"end\n\n"+
			"return require(%s._Index[%q][%q])\n",
		fmt.Sprintf("%s is a server-only package.", id.FullName()), serverPath, id.FullName(), id.Name.Name())
}

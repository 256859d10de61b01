package registryserver

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/UpliftGames/wally/registry"
)

// LocalStorage stores archives on the local filesystem under
// "<root>/<scope>/<name>/<version>.zip", matching
// wally-registry-backend/src/storage/local.rs's package_path layout.
type LocalStorage struct {
	root string
}

// NewLocalStorage roots a local storage backend at dir.
func NewLocalStorage(dir string) *LocalStorage {
	return &LocalStorage{root: dir}
}

func (s *LocalStorage) path(id registry.PackageId) string {
	return filepath.Join(s.root, id.Name.Scope(), id.Name.Name(), id.Version.String()+".zip")
}

func (s *LocalStorage) Read(ctx context.Context, id registry.PackageId) ([]byte, error) {
	b, err := os.ReadFile(s.path(id))
	if err != nil {
		return nil, errors.Wrapf(err, "reading stored archive for %s", id)
	}
	return b, nil
}

func (s *LocalStorage) Write(ctx context.Context, id registry.PackageId, contents []byte) error {
	path := s.path(id)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "creating storage directory")
	}
	// Matches local.rs's create_new: refuse to silently overwrite an
	// existing archive for the same PackageId.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return &registry.Error{Kind: registry.KindConflict, Msg: "package " + id.String() + " already exists in storage"}
		}
		return errors.Wrap(err, "creating stored archive")
	}
	defer f.Close()

	if _, err := f.Write(contents); err != nil {
		return errors.Wrap(err, "writing stored archive")
	}
	return nil
}

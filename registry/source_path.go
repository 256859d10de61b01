package registry

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
)

// PathRegistrySource is a local-directory registry used for test and
// development fixtures: "index/<scope>/<name>" holds newline-delimited JSON
// manifests and "contents/<scope>/<name>/<version>.zip" holds archive bytes,
// matching spec.md §4.2's PathRegistrySource contract.
type PathRegistrySource struct {
	root string
}

// NewPathRegistrySource roots a path registry at dir.
func NewPathRegistrySource(dir string) *PathRegistrySource {
	return &PathRegistrySource{root: dir}
}

func (s *PathRegistrySource) ID() PackageSourceId { return PathSourceId(s.root) }

func (s *PathRegistrySource) Update(ctx context.Context) error { return nil }

func (s *PathRegistrySource) indexFile(name PackageName) string {
	return filepath.Join(s.root, "index", name.Scope(), name.Name())
}

func (s *PathRegistrySource) contentsFile(id PackageId) string {
	return filepath.Join(s.root, "contents", id.Name.Scope(), id.Name.Name(), id.Version.String()+".zip")
}

func (s *PathRegistrySource) Query(ctx context.Context, req PackageReq) ([]Manifest, error) {
	f, err := os.Open(s.indexFile(req.Name))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading path registry index for %s", req.Name)
	}
	defer f.Close()

	var out []Manifest
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var m Manifest
		if err := json.Unmarshal(line, &m); err != nil {
			return nil, errors.Wrapf(err, "parsing manifest line for %s", req.Name)
		}
		if req.VersionReq.Check(m.Package.Version) {
			out = append(out, m)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "scanning path registry index")
	}

	sort.Slice(out, func(i, j int) bool {
		return out[j].Package.Version.Less(out[i].Package.Version)
	})
	return out, nil
}

func (s *PathRegistrySource) Download(ctx context.Context, id PackageId) ([]byte, error) {
	b, err := os.ReadFile(s.contentsFile(id))
	if err != nil {
		return nil, errors.Wrapf(err, "reading contents for %s", id)
	}
	return b, nil
}

func (s *PathRegistrySource) FallbackSources(ctx context.Context) ([]PackageSourceId, error) {
	b, err := os.ReadFile(filepath.Join(s.root, "config.json"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "reading path registry config")
	}
	var cfg IndexConfig
	if err := json.Unmarshal(b, &cfg); err != nil {
		return nil, errors.Wrap(err, "parsing path registry config")
	}
	ids := make([]PackageSourceId, 0, len(cfg.FallbackRegistries))
	for _, url := range cfg.FallbackRegistries {
		ids = append(ids, GitSourceId(url))
	}
	return ids, nil
}

// PublishManifest appends a manifest to this path registry, for use by
// fixtures and tests. Not used by the registry HTTP service, which is
// Git-backed (see gitindex).
func (s *PathRegistrySource) PublishManifest(m Manifest) error {
	dir := filepath.Dir(s.indexFile(m.Package.Name))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "creating path registry index dir")
	}

	f, err := os.OpenFile(s.indexFile(m.Package.Name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrap(err, "opening path registry index")
	}
	defer f.Close()

	line, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return errors.Wrap(err, "writing path registry index")
	}
	return nil
}

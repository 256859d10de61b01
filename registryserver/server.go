package registryserver

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/pkg/errors"

	"github.com/UpliftGames/wally/gitindex"
	"github.com/UpliftGames/wally/log"
	"github.com/UpliftGames/wally/registry"
)

// maxPublishSize caps a publish request body at 2 MiB, matching main.rs's
// `data.open(2.mebibytes())`.
const maxPublishSize = 2 * 1024 * 1024

// minimumClientVersionHeader is the client-sent header checked against
// Server.minimumClientVersion, spec.md §4.9's upgrade-required gate.
const minimumClientVersionHeader = "Wally-Version"

// Server is the registry HTTP service: package download, metadata,
// search, and publish, grounded on wally-registry-backend/src/main.rs's
// route table and routed with chi, the same small-JSON/REST-API router
// shape the rest of the corpus's Go HTTP services exercise.
type Server struct {
	index   *gitindex.Index
	storage StorageBackend
	auth    *Authenticator
	search  *SearchIndex
	logger  *log.Logger

	minimumClientVersion string
}

// NewServer wires an index, storage backend, and authenticator into a
// routable Server. Pass logger as nil to use log.Std().
func NewServer(idx *gitindex.Index, storage StorageBackend, auth *Authenticator, minimumClientVersion string, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Std()
	}
	return &Server{
		index:                idx,
		storage:              storage,
		auth:                 auth,
		search:               NewSearchIndex(),
		logger:               logger,
		minimumClientVersion: minimumClientVersion,
	}
}

// Router builds the HTTP handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"authorization", "content-type", minimumClientVersionHeader},
	}))
	r.Use(s.checkClientVersion)

	r.Get("/", s.handleRoot)
	r.Get("/v1/package-contents/{scope}/{name}/{version}", s.handlePackageContents)
	r.Get("/v1/package-metadata/{scope}/{name}", s.handlePackageMetadata)
	r.Get("/v1/package-search", s.handleSearch)
	r.Post("/v1/publish", s.handlePublish)
	r.Options("/*", func(w http.ResponseWriter, r *http.Request) {})

	return r
}

// Crawl performs the initial search-index build; call once at startup
// after the index clone is ready.
func (s *Server) Crawl(ctx context.Context) error {
	return s.search.Crawl(ctx, s.index)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Wally Registry is up and running!",
	})
}

func (s *Server) handlePackageContents(w http.ResponseWriter, r *http.Request) {
	if err := s.auth.CheckRead(r); err != nil {
		writeError(w, err)
		return
	}

	name, err := registry.NewPackageName(chi.URLParam(r, "scope"), chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return
	}
	version, err := registry.ParseVersion(chi.URLParam(r, "version"))
	if err != nil {
		writeError(w, err)
		return
	}

	id := registry.NewPackageId(name, version)
	contents, err := s.storage.Read(r.Context(), id)
	if err != nil {
		writeError(w, &registry.Error{Kind: registry.KindIO, Msg: errors.Wrapf(err, "fetching %s", id).Error()})
		return
	}

	w.Header().Set("Content-Type", "application/gzip")
	_, _ = w.Write(contents)
}

func (s *Server) handlePackageMetadata(w http.ResponseWriter, r *http.Request) {
	if err := s.auth.CheckRead(r); err != nil {
		writeError(w, err)
		return
	}

	name, err := registry.NewPackageName(chi.URLParam(r, "scope"), chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return
	}

	meta, err := s.index.GetPackageMetadata(r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, meta.Manifests)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if err := s.auth.CheckRead(r); err != nil {
		writeError(w, err)
		return
	}

	query := r.URL.Query().Get("query")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": s.search.Search(query),
	})
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	identity, err := s.auth.CheckWrite(r.Context(), r)
	if err != nil {
		writeError(w, err)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxPublishSize+1))
	if err != nil {
		writeError(w, &registry.Error{Kind: registry.KindPayload, Msg: "could not read request body"})
		return
	}
	if len(body) > maxPublishSize {
		writeError(w, &registry.Error{Kind: registry.KindPayload, Msg: "request body too large"})
		return
	}

	archive, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		writeError(w, &registry.Error{Kind: registry.KindPayload, Msg: "could not read zip archive"})
		return
	}

	manifest, err := manifestFromArchive(archive)
	if err != nil {
		writeError(w, &registry.Error{Kind: registry.KindPayload, Msg: err.Error()})
		return
	}

	if err := s.index.Update(r.Context()); err != nil {
		writeError(w, err)
		return
	}

	if err := s.auth.CanWritePackage(r.Context(), identity, manifest.Package.Name); err != nil {
		writeError(w, err)
		return
	}

	existing, err := s.index.GetPackageMetadata(r.Context(), manifest.Package.Name)
	if err == nil {
		if _, found := existing.Find(manifest.Package.Version); found {
			writeError(w, &registry.Error{Kind: registry.KindConflict, Msg: "package already exists in index"})
			return
		}
	}

	id := manifest.Id()
	if err := s.storage.Write(r.Context(), id, body); err != nil {
		writeError(w, &registry.Error{Kind: registry.KindIO, Msg: errors.Wrap(err, "writing package to storage").Error()})
		return
	}

	if err := s.index.Publish(r.Context(), *manifest); err != nil {
		writeError(w, err)
		return
	}

	s.search.TryCrawl(r.Context(), s.index)

	writeJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("published %s", id),
	})
}

func manifestFromArchive(archive *zip.Reader) (*registry.Manifest, error) {
	f, err := archive.Open(registry.ManifestFileName)
	if err != nil {
		return nil, errors.Wrap(err, "could not find manifest file")
	}
	defer f.Close()

	contents, err := io.ReadAll(f)
	if err != nil {
		return nil, errors.Wrap(err, "could not read manifest file")
	}

	return registry.ParseManifest(contents)
}

// checkClientVersion rejects requests from a client below
// minimumClientVersion, matching spec.md §4.9's upgrade-required gate. An
// absent header is treated as compatible, since only the CLI sends it.
func (s *Server) checkClientVersion(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.minimumClientVersion == "" {
			next.ServeHTTP(w, r)
			return
		}

		raw := r.Header.Get(minimumClientVersionHeader)
		if raw == "" {
			next.ServeHTTP(w, r)
			return
		}

		clientVersion, err := registry.ParseVersion(raw)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		minVersion, err := registry.ParseVersion(s.minimumClientVersion)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		if clientVersion.Less(minVersion) {
			writeError(w, &registry.Error{
				Kind: registry.KindUpgradeRequired,
				Msg:  fmt.Sprintf("wally client %s is too old; upgrade to at least %s", raw, s.minimumClientVersion),
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if regErr, ok := err.(*registry.Error); ok {
		switch regErr.Kind {
		case registry.KindValidation:
			status = http.StatusBadRequest
		case registry.KindIO:
			status = http.StatusNotFound
		case registry.KindResolution:
			status = http.StatusBadRequest
		case registry.KindAuth:
			status = http.StatusUnauthorized
		case registry.KindConflict:
			status = http.StatusConflict
		case registry.KindPayload:
			status = http.StatusBadRequest
		case registry.KindUpgradeRequired:
			status = http.StatusUpgradeRequired
		}
	}
	writeJSON(w, status, map[string]string{"message": err.Error()})
}

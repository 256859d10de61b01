// Command wally-registry-server runs the HTTP registry service (C9):
// package download, metadata, search, and publish over a Git-backed
// package index, grounded on wally-registry-backend/src/main.rs's
// `server`/`rocket` wiring.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/google/go-github/v74/github"

	"github.com/UpliftGames/wally/gitindex"
	"github.com/UpliftGames/wally/log"
	"github.com/UpliftGames/wally/registryserver"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "wally-registry-server:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to a TOML config file (overridden by WALLY_* env vars)")
	flag.Parse()

	logger := log.Std()

	cfg, err := registryserver.LoadConfig(*configPath)
	if err != nil {
		return err
	}

	ctx := context.Background()

	logger.Infof("cloning package index repository %s", cfg.IndexURL)
	idx, err := gitindex.NewTemp(ctx, cfg.IndexURL, cfg.GithubToken, logger)
	if err != nil {
		return err
	}

	storage, err := buildStorage(ctx, cfg)
	if err != nil {
		return err
	}
	if cfg.CacheSize > 0 {
		storage = registryserver.NewCachedStorage(storage, cfg.CacheSize)
	}

	auth := buildAuthenticator(cfg, idx)

	logger.Infof("using authentication mode %v", cfg.Auth)
	logger.Infof("using storage backend %v", cfg.Storage)

	server := registryserver.NewServer(idx, storage, auth, cfg.MinimumClientVersion, logger)
	if err := server.Crawl(ctx); err != nil {
		logger.Warnf("initial search crawl failed: %s", err)
	}

	logger.Infof("listening on %s", cfg.Addr)
	return http.ListenAndServe(cfg.Addr, server.Router())
}

func buildStorage(ctx context.Context, cfg registryserver.Config) (registryserver.StorageBackend, error) {
	switch cfg.Storage {
	case registryserver.StorageGit:
		return registryserver.NewGitStorage(ctx, cfg.StorageURL, cfg.GithubToken)
	default:
		return registryserver.NewLocalStorage(cfg.StoragePath), nil
	}
}

func buildAuthenticator(cfg registryserver.Config, idx *gitindex.Index) *registryserver.Authenticator {
	return &registryserver.Authenticator{
		Mode:       cfg.Auth,
		Key:        cfg.Key,
		ReadKey:    cfg.ReadKey,
		WriteKey:   cfg.WriteKey,
		RequireOrg: cfg.RequireOrg,
		Index:      idx,
		GithubClient: func(token string) *github.Client {
			return registryserver.NewGithubClient(context.Background(), token)
		},
	}
}

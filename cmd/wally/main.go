// Command wally is the CLI front door over the root wally package and the
// registry packages: install, update, remove, publish, login, and logout,
// grounded on the teacher's own cmd.go/flags.go command-table shape (a
// minimal name -> func(args) error dispatch rather than a full argument
// parser, per spec.md §1's "thin CLI dispatch" framing).
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/UpliftGames/wally"
	"github.com/UpliftGames/wally/gitindex"
	"github.com/UpliftGames/wally/log"
	"github.com/UpliftGames/wally/registry"
)

type command func(ctx context.Context, args []string) error

var commands = map[string]command{
	"install": cmdInstall,
	"update":  cmdUpdate,
	"remove":  cmdRemove,
	"publish": cmdPublish,
	"login":   cmdLogin,
	"logout":  cmdLogout,
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: wally <install|update|remove|publish|login|logout> [args]")
		os.Exit(1)
	}

	cmd, ok := commands[os.Args[1]]
	if !ok {
		fmt.Fprintf(os.Stderr, "wally: unknown command %q\n", os.Args[1])
		os.Exit(1)
	}

	if err := cmd(context.Background(), os.Args[2:]); err != nil {
		fmt.Fprintln(os.Stderr, "wally:", err)
		os.Exit(1)
	}
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}

// openSources builds the project's default-registry source plus any
// fallbacks, matching spec.md §4.4's source-map construction.
func openSources(ctx context.Context, m *registry.Manifest, logger *log.Logger) (*registry.SourceMap, error) {
	token, _ := loadToken(m.Package.Registry)

	factory := func(ctx context.Context, id registry.PackageSourceId) (registry.PackageSource, error) {
		url, ok := strings.CutPrefix(id.String(), "git:")
		if !ok {
			return nil, fmt.Errorf("cannot instantiate fallback source %s", id)
		}
		fallbackToken, _ := loadToken(url)
		fidx, err := gitindex.OpenOrClone(ctx, indexCacheRoot(), url, fallbackToken, logger)
		if err != nil {
			return nil, err
		}
		fartifacts := &wally.HTTPArtifacts{BaseURL: apiURLFor(ctx, fidx), Token: fallbackToken}
		return registry.NewRegistrySource(id, fidx, fartifacts), nil
	}
	sources := registry.NewSourceMap(factory)

	idx, err := gitindex.OpenOrClone(ctx, indexCacheRoot(), m.Package.Registry, token, logger)
	if err != nil {
		return nil, err
	}
	artifacts := &wally.HTTPArtifacts{BaseURL: apiURLFor(ctx, idx), Token: token}
	sources.Add(registry.NewRegistrySource(registry.DefaultRegistryId(), idx, artifacts))

	if err := sources.AddFallbacks(ctx); err != nil {
		return nil, err
	}
	return sources, nil
}

func apiURLFor(ctx context.Context, idx *gitindex.Index) string {
	cfg, err := idx.Config(ctx)
	if err != nil {
		return ""
	}
	return cfg.API
}

func indexCacheRoot() string {
	cache, err := os.UserCacheDir()
	if err != nil {
		return os.TempDir()
	}
	return cache
}

func loadToken(apiURL string) (string, bool) {
	store, err := wally.LoadAuthStore(wally.AuthStorePath(homeDir()))
	if err != nil {
		return "", false
	}
	return store.Token(apiURL)
}

func cmdInstall(ctx context.Context, args []string) error {
	locked := len(args) > 0 && args[0] == "--locked"

	dir, err := os.Getwd()
	if err != nil {
		return err
	}

	manifest, err := registry.LoadManifest(dir)
	if err != nil {
		return err
	}

	logger := log.Std()
	sources, err := openSources(ctx, manifest, logger)
	if err != nil {
		return err
	}

	prevLock, err := wally.LoadLock(dir)
	if err != nil {
		return err
	}

	resolved, err := registry.ResolveManifest(ctx, manifest, registry.ResolveOptions{
		TryToUse: prevLock.AsIds(),
		Sources:  sources,
	})
	if err != nil {
		return err
	}

	freshLock := wally.FromResolve(resolved)
	if locked && !prevLock.Equal(freshLock) {
		return fmt.Errorf("wally.lock is out of date with wally.toml and --locked was passed:\n%s", prevLock.Diff(freshLock))
	}

	install := wally.NewInstallationContext(dir, manifest.Place, logger)
	install.Progress = func(done, total int) {
		logger.Infof("installed %d/%d packages", done, total)
	}
	if err := install.Install(ctx, sources, manifest.Id(), resolved); err != nil {
		return err
	}

	return freshLock.Save(dir)
}

func cmdUpdate(ctx context.Context, names []string) error {
	dir, err := os.Getwd()
	if err != nil {
		return err
	}

	manifest, err := registry.LoadManifest(dir)
	if err != nil {
		return err
	}

	logger := log.Std()
	sources, err := openSources(ctx, manifest, logger)
	if err != nil {
		return err
	}

	prevLock, err := wally.LoadLock(dir)
	if err != nil {
		return err
	}

	resolved, err := registry.ResolveUpgrading(ctx, manifest, prevLock.AsIds(), names, sources)
	if err != nil {
		return err
	}

	install := wally.NewInstallationContext(dir, manifest.Place, logger)
	if err := install.Install(ctx, sources, manifest.Id(), resolved); err != nil {
		return err
	}

	return wally.FromResolve(resolved).Save(dir)
}

func cmdRemove(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: wally remove <alias>")
	}
	return fmt.Errorf("remove %q: editing wally.toml is left to the caller; re-run install afterwards", args[0])
}

func cmdPublish(ctx context.Context, args []string) error {
	dir, err := os.Getwd()
	if err != nil {
		return err
	}

	manifest, err := registry.LoadManifest(dir)
	if err != nil {
		return err
	}

	archive, err := wally.PackContents(dir, manifest, log.Std())
	if err != nil {
		return err
	}

	token, _ := loadToken(manifest.Package.Registry)

	idx, err := gitindex.OpenOrClone(ctx, indexCacheRoot(), manifest.Package.Registry, token, log.Std())
	if err != nil {
		return err
	}
	cfg, err := idx.Config(ctx)
	if err != nil {
		return err
	}

	return wally.Publish(ctx, cfg.API, token, archive)
}

func cmdLogin(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: wally login <registry-api-url> <token>")
	}

	path := wally.AuthStorePath(homeDir())
	store, err := wally.LoadAuthStore(path)
	if err != nil {
		return err
	}
	store.SetToken(args[0], args[1])
	return store.Save(path)
}

func cmdLogout(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: wally logout <registry-api-url>")
	}

	path := wally.AuthStorePath(homeDir())
	store, err := wally.LoadAuthStore(path)
	if err != nil {
		return err
	}
	store.RemoveToken(args[0])
	return store.Save(path)
}

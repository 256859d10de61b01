package registryserver

import (
	"os"
	"strings"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
)

// StorageMode selects which StorageBackend the server constructs,
// matching storage/mod.rs's StorageMode enum (trimmed to the backends
// this module actually wires: local disk and a Git-backed content repo).
type StorageMode string

const (
	StorageLocal StorageMode = "local"
	StorageGit   StorageMode = "git"
)

// Config is the registry server's process configuration, grounded on
// main.rs's Config struct. The original reads it through Figment layering
// a TOML file under environment overrides; Figment itself never appears
// anywhere in the retrieved pack, so this loader reproduces the same
// file-then-env layering directly against go-toml and os.LookupEnv (see
// DESIGN.md for the standard-library justification).
type Config struct {
	IndexURL    string `toml:"index_url"`
	GithubToken string `toml:"github_token"`

	Auth       AuthMode `toml:"-"`
	AuthRaw    string   `toml:"auth"`
	Key        string   `toml:"key"`
	ReadKey    string   `toml:"read_key"`
	WriteKey   string   `toml:"write_key"`
	RequireOrg string   `toml:"require_org"`

	Storage     StorageMode `toml:"-"`
	StorageRaw  string      `toml:"storage"`
	StoragePath string      `toml:"storage_path"`
	StorageURL  string      `toml:"storage_url"`
	CacheSize   int         `toml:"cache_size"`

	Addr string `toml:"addr"`

	MinimumClientVersion string `toml:"minimum_client_version"`
}

// LoadConfig reads path (if it exists) and then applies WALLY_-prefixed
// environment overrides on top, matching main.rs's
// `Toml::file("Rocket.toml").merge(Env::prefixed("WALLY_"))` layering.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	cfg.Addr = ":8080"

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, errors.Wrapf(err, "reading config file %s", path)
			}
		} else if err := toml.Unmarshal(b, &cfg); err != nil {
			return Config{}, errors.Wrapf(err, "parsing config file %s", path)
		}
	}

	applyEnvOverrides(&cfg)

	mode, err := parseAuthMode(cfg.AuthRaw)
	if err != nil {
		return Config{}, err
	}
	cfg.Auth = mode

	if cfg.StorageRaw == "" {
		cfg.StorageRaw = string(StorageLocal)
	}
	cfg.Storage = StorageMode(cfg.StorageRaw)
	if cfg.Storage != StorageLocal && cfg.Storage != StorageGit {
		return Config{}, errors.Errorf("unknown storage mode %q", cfg.StorageRaw)
	}

	if cfg.IndexURL == "" {
		return Config{}, errors.New("index_url is required")
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	override := func(dst *string, name string) {
		if v, ok := os.LookupEnv("WALLY_" + name); ok {
			*dst = v
		}
	}

	override(&cfg.IndexURL, "INDEX_URL")
	override(&cfg.GithubToken, "GITHUB_TOKEN")
	override(&cfg.AuthRaw, "AUTH")
	override(&cfg.Key, "KEY")
	override(&cfg.ReadKey, "READ_KEY")
	override(&cfg.WriteKey, "WRITE_KEY")
	override(&cfg.RequireOrg, "REQUIRE_ORG")
	override(&cfg.StorageRaw, "STORAGE")
	override(&cfg.StoragePath, "STORAGE_PATH")
	override(&cfg.StorageURL, "STORAGE_URL")
	override(&cfg.Addr, "ADDR")
	override(&cfg.MinimumClientVersion, "MINIMUM_CLIENT_VERSION")
}

func parseAuthMode(raw string) (AuthMode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "unauthenticated":
		return AuthUnauthenticated, nil
	case "single_key", "singlekey":
		return AuthSingleKey, nil
	case "double_key", "doublekey":
		return AuthDoubleKey, nil
	case "external_identity", "externalidentity", "github":
		return AuthExternalIdentity, nil
	default:
		return 0, errors.Errorf("unknown auth mode %q", raw)
	}
}

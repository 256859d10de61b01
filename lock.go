// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wally

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"

	"github.com/UpliftGames/wally/registry"
)

// LockFileName is the fixed-name lockfile written to a project directory,
// matching original_source/src/lock.rs's LOCK_FILE_NAME.
const LockFileName = "wally.lock"

const lockFileVersion = 1

// Lock is the persisted projection of a Resolve's activated set, sufficient
// to reconstruct a try-to-use hint set on the next resolve (spec.md §4.6).
type Lock struct {
	Packages []registry.PackageId
}

type rawLock struct {
	Version  int      `json:"version"`
	Packages []string `json:"package"`
}

// FromResolve builds a Lock from a completed Resolve.
func FromResolve(r *registry.Resolve) Lock {
	ids := r.Activated()
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
	return Lock{Packages: ids}
}

// AsIds returns the locked PackageIds.
func (l Lock) AsIds() []registry.PackageId {
	return l.Packages
}

// LoadLock reads LockFileName from projectDir. A missing lockfile is
// equivalent to an empty Lock (spec.md §4.6), not an error.
func LoadLock(projectDir string) (Lock, error) {
	b, err := os.ReadFile(filepath.Join(projectDir, LockFileName))
	if os.IsNotExist(err) {
		return Lock{}, nil
	}
	if err != nil {
		return Lock{}, errors.Wrap(err, "reading lockfile")
	}

	var raw rawLock
	if err := json.Unmarshal(b, &raw); err != nil {
		return Lock{}, errors.Wrap(err, "parsing lockfile")
	}

	ids := make([]registry.PackageId, 0, len(raw.Packages))
	for _, s := range raw.Packages {
		id, err := registry.ParsePackageId(s)
		if err != nil {
			return Lock{}, errors.Wrapf(err, "parsing locked package %q", s)
		}
		ids = append(ids, id)
	}
	return Lock{Packages: ids}, nil
}

// Save writes the lockfile atomically: a temp file in the same directory,
// then a rename, matching the teacher's txn_writer.go atomic-write pattern
// and fs.go's renameWithFallback.
func (l Lock) Save(projectDir string) error {
	raw := rawLock{Version: lockFileVersion}
	for _, id := range l.Packages {
		raw.Packages = append(raw.Packages, id.String())
	}

	b, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding lockfile")
	}
	b = append(b, '\n')

	return writeFileAtomic(filepath.Join(projectDir, LockFileName), b)
}

// Equal reports whether two locks name the same set of PackageIds,
// irrespective of order, used by the --locked verification (spec.md §8).
func (l Lock) Equal(o Lock) bool {
	if len(l.Packages) != len(o.Packages) {
		return false
	}
	a := append([]registry.PackageId(nil), l.Packages...)
	b := append([]registry.PackageId(nil), o.Packages...)
	sort.Slice(a, func(i, j int) bool { return a[i].Less(a[j]) })
	sort.Slice(b, func(i, j int) bool { return b[i].Less(b[j]) })
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

// Diff renders a human-readable summary of the packages added/removed
// between l (the previous lock) and fresh (a newly computed one), for the
// fatal-error message a --locked install prints on mismatch.
func (l Lock) Diff(fresh Lock) string {
	prev := make(map[string]bool, len(l.Packages))
	for _, id := range l.Packages {
		prev[id.String()] = true
	}
	next := make(map[string]bool, len(fresh.Packages))
	for _, id := range fresh.Packages {
		next[id.String()] = true
	}

	var added, removed []string
	for _, id := range fresh.Packages {
		if !prev[id.String()] {
			added = append(added, id.String())
		}
	}
	for _, id := range l.Packages {
		if !next[id.String()] {
			removed = append(removed, id.String())
		}
	}
	sort.Strings(added)
	sort.Strings(removed)

	out := ""
	for _, s := range added {
		out += "+ " + s + "\n"
	}
	for _, s := range removed {
		out += "- " + s + "\n"
	}
	return out
}

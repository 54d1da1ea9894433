// SPDX-License-Identifier: MPL-2.0

package updatecheck

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// StateFileName is the file VersionState is persisted to inside the cache dir.
const StateFileName = "version_state.json"

type (
	// VersionState is the persisted outcome of previous checks.
	VersionState struct {
		LastChecked       time.Time         `json:"last_checked,omitzero"`
		LatestVersion     string            `json:"latest_version,omitempty"`
		SkippedVersion    string            `json:"skipped_version,omitempty"`
		InstalledVersions map[string]string `json:"installed_versions,omitempty"`
	}

	// Store guards a VersionState and writes every committed change to disk.
	Store struct {
		path  string
		mu    sync.RWMutex
		state VersionState
	}
)

// NewStore returns a Store holding state that persists to path. An empty
// path keeps the state in memory only.
func NewStore(path string, state VersionState) *Store {
	return &Store{path: path, state: state.clone()}
}

// Load reads the state at path. A missing file yields the zero state; an
// unreadable or corrupt file also yields the zero state and is logged, since
// the next successful check rewrites it.
func Load(path string, logger *log.Logger) *Store {
	s := &Store{path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) && logger != nil {
			logger.Warn("reading version state", "path", path, "err", err)
		}
		return s
	}

	var st VersionState
	if err := json.Unmarshal(data, &st); err != nil {
		if logger != nil {
			logger.Warn("discarding corrupt version state", "path", path, "err", err)
		}
		return s
	}
	s.state = st
	return s
}

// Path returns the file the store persists to.
func (s *Store) Path() string {
	return s.path
}

// Read returns a copy of the current state.
func (s *Store) Read() VersionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.clone()
}

// Commit applies mutate under the write lock and persists the result. When
// persisting fails the in-memory state is left unchanged.
func (s *Store) Commit(mutate func(*VersionState)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.state.clone()
	mutate(&next)

	if s.path != "" {
		if err := writeState(s.path, next); err != nil {
			return err
		}
	}
	s.state = next
	return nil
}

func (v VersionState) clone() VersionState {
	v.InstalledVersions = maps.Clone(v.InstalledVersions)
	return v
}

func writeState(path string, st VersionState) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding version state: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+StateFileName+"-*")
	if err != nil {
		return fmt.Errorf("creating temp state file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }() // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing version state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing version state: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}

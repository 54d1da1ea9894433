// SPDX-License-Identifier: MPL-2.0

package extension

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// HistoryFileName is the file run statistics are persisted to.
const HistoryFileName = "plugin_history.json"

type (
	// RunStats aggregates every recorded invocation of one extension.
	RunStats struct {
		Successes  uint64     `json:"successes"`
		Failures   uint64     `json:"failures"`
		LastRun    *time.Time `json:"last_run,omitempty"`
		LastStatus string     `json:"last_status,omitempty"`
	}

	// HistoryStore persists RunStats keyed by extension name. A store with an
	// empty path keeps everything in memory.
	HistoryStore struct {
		path    string
		mu      sync.Mutex
		records map[string]RunStats
	}
)

// Total is the number of recorded invocations.
func (s RunStats) Total() uint64 {
	return s.Successes + s.Failures
}

// NewHistoryStore returns an empty store that saves to path.
func NewHistoryStore(path string) *HistoryStore {
	return &HistoryStore{path: path, records: make(map[string]RunStats)}
}

// LoadHistory reads the store at path. A missing file yields an empty store.
// A corrupt file also yields an empty store, together with the decode error so
// the caller can report it; the next Record overwrites the file.
func LoadHistory(path string) (*HistoryStore, error) {
	h := NewHistoryStore(path)

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return h, nil
	}
	if err != nil {
		return h, fmt.Errorf("reading run history: %w", err)
	}

	records := make(map[string]RunStats)
	if err := json.Unmarshal(data, &records); err != nil {
		return h, fmt.Errorf("decoding run history %s: %w", path, err)
	}
	h.records = records
	return h, nil
}

// Stats returns the statistics for name.
func (h *HistoryStore) Stats(name string) (RunStats, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.records[name]
	return s, ok
}

// All returns a copy of every record.
func (h *HistoryStore) All() map[string]RunStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	return maps.Clone(h.records)
}

// Record adds one invocation outcome and saves the store.
func (h *HistoryStore) Record(name string, success bool, status string, at time.Time) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := h.records[name]
	if success {
		s.Successes++
	} else {
		s.Failures++
	}
	at = at.UTC()
	s.LastRun = &at
	s.LastStatus = status
	h.records[name] = s

	return h.saveLocked()
}

func (h *HistoryStore) saveLocked() error {
	if h.path == "" {
		return nil
	}

	data, err := json.MarshalIndent(h.records, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding run history: %w", err)
	}

	dir := filepath.Dir(h.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating run history directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".history-*")
	if err != nil {
		return fmt.Errorf("writing run history: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("writing run history: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("writing run history: %w", err)
	}
	if err := os.Rename(tmp.Name(), h.path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("writing run history: %w", err)
	}
	return nil
}

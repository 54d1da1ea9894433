// SPDX-License-Identifier: MPL-2.0

// Package watch monitors extension search directories and reports debounced
// batches of manifest and library changes.
package watch

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// defaultDebounce coalesces the write-then-rename bursts of editors and
// package installers into one callback.
const defaultDebounce = 500 * time.Millisecond

// ErrNoRoots is returned by New when none of the configured roots exist.
var ErrNoRoots = errors.New("watch: no existing directories to watch")

var (
	// DefaultPatterns select the files that affect discovery and loading.
	DefaultPatterns = []string{
		"saorsa-plugin.toml",
		"*/saorsa-plugin.toml",
		"**/*.so",
		"**/*.dylib",
		"**/*.dll",
	}

	defaultIgnores = []string{
		"**/.git/**",
		"**/*.swp",
		"**/*~",
		"**/.DS_Store",
		"**/.*.tmp",
	}
)

type (
	// Config holds the parameters for a Watcher.
	Config struct {
		// Roots are the directories to watch, typically the loader's search
		// paths. Missing roots are skipped.
		Roots []string
		// Patterns are doublestar globs matched against paths relative to
		// their root. Empty means DefaultPatterns.
		Patterns []string
		// Ignore adds to the built-in ignore patterns.
		Ignore []string
		// Debounce is the quiet period before OnChange fires.
		Debounce time.Duration
		// OnChange receives the absolute paths changed since the last call.
		OnChange func(ctx context.Context, changed []string) error
		Logger   *log.Logger
	}

	// Watcher watches each root and its immediate subdirectories, matching
	// the depth extension discovery scans.
	Watcher struct {
		cfg      Config
		fsw      *fsnotify.Watcher
		roots    []string
		skipped  []string
		patterns []string
		ignores  []string
		debounce time.Duration
		logger   *log.Logger
		started  atomic.Bool
	}
)

// New validates cfg and registers every existing root.
func New(cfg Config) (*Watcher, error) {
	patterns := cfg.Patterns
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}
	if err := validatePatterns(patterns, "watch"); err != nil {
		return nil, err
	}
	if err := validatePatterns(cfg.Ignore, "ignore"); err != nil {
		return nil, err
	}

	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default().WithPrefix("watch")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		cfg:      cfg,
		fsw:      fsw,
		patterns: slices.Clone(patterns),
		ignores:  append(slices.Clone(defaultIgnores), cfg.Ignore...),
		debounce: debounce,
		logger:   logger,
	}

	for _, root := range cfg.Roots {
		if err := w.addRoot(root); err != nil {
			_ = fsw.Close()
			return nil, err
		}
	}
	if len(w.roots) == 0 {
		_ = fsw.Close()
		return nil, ErrNoRoots
	}
	return w, nil
}

// Roots returns the absolute roots being watched.
func (w *Watcher) Roots() []string { return slices.Clone(w.roots) }

// Skipped returns the configured roots that did not exist.
func (w *Watcher) Skipped() []string { return slices.Clone(w.skipped) }

// Run processes events until ctx is cancelled, then closes the watcher. It
// returns nil on cancellation and an error when fsnotify fails fatally. Run
// may only be called once.
func (w *Watcher) Run(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return errors.New("watch: Run called more than once")
	}

	var (
		mu      sync.Mutex
		pending = make(map[string]struct{})
		timer   *time.Timer
		busy    atomic.Bool
	)

	fire := func() {
		if ctx.Err() != nil {
			return
		}
		if !busy.CompareAndSwap(false, true) {
			// Retry later so the pending set is not dropped.
			mu.Lock()
			timer.Reset(w.debounce)
			mu.Unlock()
			return
		}
		defer busy.Store(false)

		mu.Lock()
		changed := slices.Sorted(maps.Keys(pending))
		clear(pending)
		mu.Unlock()
		if len(changed) == 0 || w.cfg.OnChange == nil {
			return
		}

		if err := w.cfg.OnChange(ctx, changed); err != nil {
			w.logger.Error("change handler failed", "err", err)
		}
	}

	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
		if err := w.fsw.Close(); err != nil {
			w.logger.Warn("closing fsnotify watcher", "err", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case evt, ok := <-w.fsw.Events:
			if !ok {
				return errors.New("watch: fsnotify event channel closed unexpectedly")
			}

			root, rel, ok := w.locate(evt.Name)
			if !ok || w.isIgnored(rel) {
				continue
			}
			if evt.Has(fsnotify.Create) && filepath.Dir(evt.Name) == root {
				w.maybeAddDir(evt.Name)
			}
			// Removing an extension directory is a change even though the
			// directory itself matches no pattern.
			removedDir := evt.Has(fsnotify.Remove) && filepath.Dir(evt.Name) == root
			if !removedDir && !w.matches(rel) {
				continue
			}

			w.logger.Debug("change", "path", evt.Name, "op", evt.Op.String())
			mu.Lock()
			pending[evt.Name] = struct{}{}
			if timer == nil {
				timer = time.AfterFunc(w.debounce, fire)
			} else {
				timer.Reset(w.debounce)
			}
			mu.Unlock()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return errors.New("watch: fsnotify error channel closed unexpectedly")
			}
			if isFatalFsnotifyError(err) {
				return fmt.Errorf("watch: fatal fsnotify error: %w", err)
			}
			w.logger.Warn("fsnotify error", "err", err)
		}
	}
}

// addRoot registers root and its immediate subdirectories.
func (w *Watcher) addRoot(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("watch: resolve %q: %w", root, err)
	}
	if slices.Contains(w.roots, abs) {
		return nil
	}

	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		w.skipped = append(w.skipped, abs)
		return nil
	}
	if err := w.fsw.Add(abs); err != nil {
		return fmt.Errorf("watch: add directory %q: %w", abs, err)
	}
	w.roots = append(w.roots, abs)

	entries, err := os.ReadDir(abs)
	if err != nil {
		w.logger.Warn("listing directory", "path", abs, "err", err)
		return nil
	}
	for _, e := range entries {
		if e.IsDir() {
			w.maybeAddDir(filepath.Join(abs, e.Name()))
		}
	}
	return nil
}

func (w *Watcher) maybeAddDir(path string) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return
	}
	if _, rel, ok := w.locate(path); !ok || w.isIgnored(rel) || w.isIgnored(rel+"/") {
		return
	}
	if err := w.fsw.Add(path); err != nil {
		w.logger.Warn("watching new directory", "path", path, "err", err)
	}
}

// locate returns the root containing path and path relative to it, using
// forward slashes.
func (w *Watcher) locate(path string) (root, rel string, ok bool) {
	for _, r := range w.roots {
		rp, err := filepath.Rel(r, path)
		if err != nil || rp == ".." || strings.HasPrefix(rp, ".."+string(filepath.Separator)) {
			continue
		}
		return r, filepath.ToSlash(rp), true
	}
	return "", "", false
}

func (w *Watcher) isIgnored(rel string) bool {
	return matchAny(w.ignores, rel)
}

func (w *Watcher) matches(rel string) bool {
	return matchAny(w.patterns, rel)
}

func matchAny(patterns []string, rel string) bool {
	for _, pat := range patterns {
		if ok, err := doublestar.Match(pat, rel); err == nil && ok {
			return true
		}
	}
	return false
}

func validatePatterns(patterns []string, label string) error {
	for _, pat := range patterns {
		if !doublestar.ValidatePattern(pat) {
			return fmt.Errorf("watch: invalid %s pattern %q: %w", label, pat, doublestar.ErrBadPattern)
		}
	}
	return nil
}

// SPDX-License-Identifier: MPL-2.0

package extension

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dirvine/saorsa-cli/internal/checksum"

	"github.com/charmbracelet/log"
)

// maxRunRecords bounds the in-memory history kept per loaded extension.
const maxRunRecords = 16

type (
	// Loader is the registry of discovered and loaded extensions. It is safe
	// for concurrent use. Foreign code is never called while the registry
	// write lock is held.
	Loader struct {
		paths   []string
		native  NativeLoader
		history *HistoryStore
		logger  *log.Logger
		now     func() time.Time

		builtins map[string]Builtin

		mu          sync.RWMutex
		available   map[string]*Manifest
		loaded      map[string]*LoadedExtension
		diagnostics []Diagnostic
	}

	// LoaderOption configures a Loader.
	LoaderOption func(*Loader)

	// LoadedExtension is an extension whose library is open and whose entry
	// point is resolved.
	LoadedExtension struct {
		Manifest Manifest
		LoadedAt time.Time

		module   NativeModule
		run      BuiltinFunc
		inflight atomic.Int32
		retired  atomic.Bool

		closeOnce sync.Once
		closeErr  error

		runsMu sync.Mutex
		runs   []RunRecord
	}

	// RunRecord is one invocation of a loaded extension.
	RunRecord struct {
		Started  time.Time
		Duration time.Duration
		ExitCode int
		Err      error
	}

	// LoadedInfo is a snapshot of a loaded extension for listing.
	LoadedInfo struct {
		Manifest Manifest
		LoadedAt time.Time
		Runs     []RunRecord
	}

	// RefreshResult lists the names a Refresh added and removed.
	RefreshResult struct {
		Added   []string
		Removed []string
	}
)

// WithSearchPaths replaces the default search directories. Order is priority.
func WithSearchPaths(paths []string) LoaderOption {
	return func(l *Loader) { l.paths = uniquePaths(paths) }
}

// WithNativeLoader sets the capability used to open libraries.
func WithNativeLoader(n NativeLoader) LoaderOption {
	return func(l *Loader) { l.native = n }
}

// WithHistory persists run statistics to h.
func WithHistory(h *HistoryStore) LoaderOption {
	return func(l *Loader) { l.history = h }
}

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) LoaderOption {
	return func(l *Loader) { l.logger = logger }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) LoaderOption {
	return func(l *Loader) { l.now = now }
}

// NewLoader creates an empty Loader. Call Discover to populate it.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		builtins:  make(map[string]Builtin),
		available: make(map[string]*Manifest),
		loaded:    make(map[string]*LoadedExtension),
	}
	for _, opt := range opts {
		opt(l)
	}
	for name, b := range l.builtins {
		m := b.Manifest()
		l.available[name] = &m
	}
	if l.paths == nil {
		l.paths = DefaultSearchPaths()
	}
	if l.native == nil {
		l.native = DefaultNativeLoader()
	}
	if l.history == nil {
		l.history = NewHistoryStore("")
	}
	if l.logger == nil {
		l.logger = log.Default().WithPrefix("extension")
	}
	if l.now == nil {
		l.now = time.Now
	}
	return l
}

// SearchPaths returns the directories scanned by Discover, in priority order.
func (l *Loader) SearchPaths() []string {
	return slices.Clone(l.paths)
}

// Discover scans the search paths and replaces the set of available
// manifests. The first manifest registered under a name wins; later ones are
// reported as diagnostics. Problems with individual directories or manifests
// never abort the scan. It returns the number of available manifests.
func (l *Loader) Discover() int {
	found, diags := l.scan()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.available = found
	l.diagnostics = diags
	return len(found)
}

// Refresh re-runs discovery. Loaded extensions stay loaded even when their
// manifest is gone.
func (l *Loader) Refresh() RefreshResult {
	found, diags := l.scan()

	l.mu.Lock()
	defer l.mu.Unlock()

	var res RefreshResult
	for name := range found {
		if _, ok := l.available[name]; !ok {
			res.Added = append(res.Added, name)
		}
	}
	for name := range l.available {
		if _, ok := found[name]; !ok {
			res.Removed = append(res.Removed, name)
		}
	}
	slices.Sort(res.Added)
	slices.Sort(res.Removed)

	l.available = found
	l.diagnostics = diags

	if len(res.Added) > 0 || len(res.Removed) > 0 {
		l.logger.Info("extensions refreshed", "added", strings.Join(res.Added, ","), "removed", strings.Join(res.Removed, ","))
	}
	return res
}

// Diagnostics returns the findings of the last Discover or Refresh, plus
// any integrity rejections made by Load since.
func (l *Loader) Diagnostics() []Diagnostic {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return slices.Clone(l.diagnostics)
}

// Available returns the discovered manifests sorted by name.
func (l *Loader) Available() []Manifest {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Manifest, 0, len(l.available))
	for _, m := range l.available {
		out = append(out, *m)
	}
	slices.SortFunc(out, func(a, b Manifest) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// Manifest returns the available manifest registered under name.
func (l *Loader) Manifest(name string) (Manifest, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if m, ok := l.available[name]; ok {
		return *m, true
	}
	if ext, ok := l.loaded[name]; ok {
		return ext.Manifest, true
	}
	return Manifest{}, false
}

// Loaded returns the loaded extensions sorted by name.
func (l *Loader) Loaded() []LoadedInfo {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]LoadedInfo, 0, len(l.loaded))
	for _, ext := range l.loaded {
		out = append(out, LoadedInfo{Manifest: ext.Manifest, LoadedAt: ext.LoadedAt, Runs: ext.Runs()})
	}
	slices.SortFunc(out, func(a, b LoadedInfo) int { return strings.Compare(a.Manifest.Name, b.Manifest.Name) })
	return out
}

// Help returns the help text of an available or loaded extension.
func (l *Loader) Help(name string) (string, bool) {
	m, ok := l.Manifest(name)
	if !ok {
		return "", false
	}
	return m.Help, true
}

// Load verifies and opens the extension registered under name. The library
// digest is recomputed on every call, including for an extension that is
// already loaded, in which case the existing record is returned. An
// extension that fails the integrity check is dropped from the registry,
// and unloaded if it was loaded, until the next Discover or Refresh.
func (l *Loader) Load(name string) (*LoadedExtension, error) {
	l.mu.RLock()
	existing, isLoaded := l.loaded[name]
	m, isAvailable := l.available[name]
	l.mu.RUnlock()

	if isLoaded {
		if existing.Manifest.IsBuiltin() {
			return existing, nil
		}
		if err := verifyLibrary(&existing.Manifest); err != nil {
			l.reject(&existing.Manifest, err)
			return nil, err
		}
		return existing, nil
	}
	if !isAvailable {
		return nil, fmt.Errorf("%w: %s", ErrManifestNotFound, name)
	}

	ext, err := l.open(*m)
	if err != nil {
		l.reject(m, err)
		return nil, err
	}
	return ext, nil
}

// LoadManifest verifies and loads a manifest built in code and registers it
// once it is open. A manifest that fails verification is never registered.
func (l *Loader) LoadManifest(m *Manifest) (*LoadedExtension, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	l.mu.RLock()
	var dupErr error
	if other, ok := l.available[m.Name]; ok && other.LibraryPath() != m.LibraryPath() {
		dupErr = fmt.Errorf("%w: %q is already registered from %s", ErrDuplicateName, m.Name, other.LibraryPath())
	} else if ext, ok := l.loaded[m.Name]; ok && ext.Manifest.LibraryPath() != m.LibraryPath() {
		dupErr = fmt.Errorf("%w: %q is already loaded from %s", ErrDuplicateName, m.Name, ext.Manifest.LibraryPath())
	}
	_, isLoaded := l.loaded[m.Name]
	l.mu.RUnlock()

	if dupErr != nil {
		return nil, dupErr
	}
	if isLoaded {
		return l.Load(m.Name)
	}

	registered := *m
	ext, err := l.open(registered)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	if _, ok := l.available[m.Name]; !ok {
		l.available[m.Name] = &registered
	}
	l.mu.Unlock()
	return ext, nil
}

// reject removes m from the registry after an integrity failure and records
// why. Other load failures leave the registry alone.
func (l *Loader) reject(m *Manifest, err error) {
	if !errors.Is(err, ErrIntegrityViolation) {
		return
	}

	l.mu.Lock()
	if cur, ok := l.available[m.Name]; ok && cur.Path == m.Path {
		delete(l.available, m.Name)
	}
	ext, wasLoaded := l.loaded[m.Name]
	wasLoaded = wasLoaded && ext.Manifest.Path == m.Path
	if wasLoaded {
		delete(l.loaded, m.Name)
	}
	l.diagnostics = append(l.diagnostics, Diagnostic{
		Severity: SeverityError,
		Code:     CodeIntegrityRejected,
		Message:  err.Error(),
		Path:     m.Path,
		Cause:    err,
	})
	l.mu.Unlock()

	l.logger.Warn("extension rejected", "name", m.Name, "path", m.Path, "err", err)
	if wasLoaded {
		if cerr := ext.retire(); cerr != nil {
			l.logger.Warn("closing rejected extension", "name", m.Name, "err", cerr)
		}
	}
}

func (l *Loader) open(m Manifest) (*LoadedExtension, error) {
	var ext *LoadedExtension
	if b, ok := l.builtins[m.Name]; ok && m.IsBuiltin() {
		ext = &LoadedExtension{Manifest: m, LoadedAt: l.now(), run: b.Run}
	} else {
		opened, err := l.openNative(m)
		if err != nil {
			return nil, err
		}
		ext = opened
	}
	libPath := m.LibraryPath()
	module := ext.module

	l.mu.Lock()
	if winner, ok := l.loaded[m.Name]; ok {
		l.mu.Unlock()
		if module != nil {
			_ = module.Close() // a concurrent Load got there first
		}
		return winner, nil
	}
	l.loaded[m.Name] = ext
	l.mu.Unlock()

	l.logger.Debug("extension loaded", "name", m.Name, "version", m.Version, "library", libPath)
	return ext, nil
}

func (l *Loader) openNative(m Manifest) (*LoadedExtension, error) {
	if err := verifyLibrary(&m); err != nil {
		return nil, err
	}

	libPath := m.LibraryPath()
	module, err := l.native.Open(libPath)
	if err != nil {
		return nil, &LoadError{Path: libPath, Err: err}
	}
	entry, err := module.Lookup(m.Entry())
	if err != nil {
		_ = module.Close() // the lookup error is the one that matters
		return nil, &LoadError{Path: libPath, Symbol: m.Entry(), Err: err}
	}

	name := m.Name
	return &LoadedExtension{
		Manifest: m,
		LoadedAt: l.now(),
		module:   module,
		run: func(_ context.Context, args []string) (int, error) {
			return entry(append([]string{name}, args...))
		},
	}, nil
}

// verifyLibrary checks that the library exists and matches the manifest digest.
func verifyLibrary(m *Manifest) error {
	if m.SHA256 == "" {
		return &DigestMissingError{Path: m.Path, Name: m.Name}
	}

	libPath := m.LibraryPath()
	if _, err := os.Stat(libPath); err != nil {
		return &LoadError{Path: libPath, Err: err}
	}
	if err := checksum.VerifyFile(libPath, m.SHA256); err != nil {
		if errors.Is(err, checksum.ErrMismatch) {
			return &IntegrityError{Name: m.Name, Path: libPath, Err: err}
		}
		return &LoadError{Path: libPath, Err: err}
	}
	return nil
}

// Execute runs the named extension, loading it first if needed. The library
// is re-verified before every run. A non-zero status is returned together
// with an *ExecError; the extension stays loaded either way and the outcome
// is recorded in its history.
func (l *Loader) Execute(ctx context.Context, name string, args []string) (int, error) {
	if err := ctx.Err(); err != nil {
		return -1, err
	}

	if _, err := l.Load(name); err != nil {
		return -1, err
	}
	ext := l.acquire(name)
	if ext == nil {
		return -1, fmt.Errorf("%w: %s", ErrNotLoaded, name)
	}
	defer ext.release()

	started := l.now()
	code, callErr := invoke(ctx, ext.run, args)
	rec := RunRecord{Started: started, Duration: l.now().Sub(started), ExitCode: code, Err: callErr}
	ext.record(rec)

	var err error
	if callErr != nil || code != 0 {
		err = &ExecError{Name: name, ExitCode: code, Err: callErr}
	}

	status := "ok"
	if err != nil {
		status = err.Error()
	}
	if herr := l.history.Record(name, err == nil, status, started); herr != nil {
		l.logger.Warn("could not persist run history", "name", name, "err", herr)
	}

	return code, err
}

// acquire returns the loaded extension with its in-flight counter raised, or
// nil when name is not loaded.
func (l *Loader) acquire(name string) *LoadedExtension {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ext, ok := l.loaded[name]
	if !ok {
		return nil
	}
	ext.inflight.Add(1)
	return ext
}

func invoke(ctx context.Context, run BuiltinFunc, args []string) (code int, err error) {
	defer func() {
		if r := recover(); r != nil {
			code = -1
			err = fmt.Errorf("extension call panicked: %v", r)
		}
	}()
	return run(ctx, args)
}

// History returns the persisted statistics for name.
func (l *Loader) History(name string) (RunStats, bool) {
	return l.history.Stats(name)
}

// Unload closes the library of a loaded extension.
func (l *Loader) Unload(name string) error {
	l.mu.Lock()
	ext, ok := l.loaded[name]
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotLoaded, name)
	}
	if ext.inflight.Load() > 0 {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrExtensionBusy, name)
	}
	delete(l.loaded, name)
	l.mu.Unlock()

	if err := ext.retire(); err != nil {
		return fmt.Errorf("unloading %s: %w", name, err)
	}
	return nil
}

// Close unloads every extension. Extensions that are still running are
// reported in the returned error and left loaded.
func (l *Loader) Close() error {
	l.mu.RLock()
	names := make([]string, 0, len(l.loaded))
	for name := range l.loaded {
		names = append(names, name)
	}
	l.mu.RUnlock()
	slices.Sort(names)

	var errs []error
	for _, name := range names {
		if err := l.Unload(name); err != nil && !errors.Is(err, ErrNotLoaded) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// retire marks e as removed from the registry and closes its library once no
// invocation is running. A running invocation closes it when it returns.
func (e *LoadedExtension) retire() error {
	e.retired.Store(true)
	if e.inflight.Load() == 0 {
		return e.closeModule()
	}
	return nil
}

func (e *LoadedExtension) release() {
	if e.inflight.Add(-1) == 0 && e.retired.Load() {
		_ = e.closeModule() // no caller is left to report to
	}
}

func (e *LoadedExtension) closeModule() error {
	e.closeOnce.Do(func() {
		if e.module != nil {
			e.closeErr = e.module.Close()
		}
	})
	return e.closeErr
}

// Runs returns a copy of the recent invocations, oldest first.
func (e *LoadedExtension) Runs() []RunRecord {
	e.runsMu.Lock()
	defer e.runsMu.Unlock()

	return slices.Clone(e.runs)
}

func (e *LoadedExtension) record(r RunRecord) {
	e.runsMu.Lock()
	defer e.runsMu.Unlock()

	if len(e.runs) == maxRunRecords {
		e.runs = slices.Delete(e.runs, 0, 1)
	}
	e.runs = append(e.runs, r)
}

// scan walks every search path and returns the manifests found plus the
// diagnostics collected on the way.
func (l *Loader) scan() (map[string]*Manifest, []Diagnostic) {
	found := make(map[string]*Manifest, len(l.builtins))
	var diags []Diagnostic

	for name, b := range l.builtins {
		m := b.Manifest()
		found[name] = &m
	}

	for _, dir := range l.paths {
		for _, manifestPath := range l.manifestsIn(dir, &diags) {
			m, err := ParseManifest(manifestPath)
			if err != nil {
				l.logger.Warn("skipping extension manifest", "path", manifestPath, "err", err)
				diags = append(diags, Diagnostic{
					Severity: SeverityError,
					Code:     CodeManifestSkipped,
					Message:  err.Error(),
					Path:     manifestPath,
					Cause:    err,
				})
				continue
			}

			if first, ok := found[m.Name]; ok {
				diags = append(diags, Diagnostic{
					Severity: SeverityWarning,
					Code:     CodeDuplicateName,
					Message:  fmt.Sprintf("extension %q is already provided by %s", m.Name, first.Path),
					Path:     manifestPath,
				})
				l.logger.Debug("duplicate extension name", "name", m.Name, "path", manifestPath, "kept", first.Path)
				continue
			}

			if missing := m.missingInformational(); len(missing) > 0 {
				l.logger.Warn("extension manifest is incomplete", "name", m.Name, "missing", strings.Join(missing, ","))
				diags = append(diags, Diagnostic{
					Severity: SeverityWarning,
					Code:     CodeManifestIncomplete,
					Message:  fmt.Sprintf("extension %q has no %s", m.Name, strings.Join(missing, " or ")),
					Path:     manifestPath,
				})
			}
			found[m.Name] = m
		}
	}

	return found, diags
}

// manifestsIn lists the manifest in dir itself followed by the manifests of
// its immediate subdirectories, in lexical order.
func (l *Loader) manifestsIn(dir string, diags *[]Diagnostic) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			l.logger.Warn("cannot read extension directory", "path", dir, "err", err)
			*diags = append(*diags, Diagnostic{
				Severity: SeverityWarning,
				Code:     CodeSearchPathUnreadable,
				Message:  err.Error(),
				Path:     dir,
				Cause:    err,
			})
		}
		return nil
	}

	var out []string
	for _, entry := range entries {
		if !entry.IsDir() && entry.Name() == ManifestFileName {
			out = append(out, filepath.Join(dir, ManifestFileName))
			break
		}
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		candidate := filepath.Join(dir, entry.Name(), ManifestFileName)
		if info, err := os.Stat(candidate); err == nil && info.Mode().IsRegular() {
			out = append(out, candidate)
		}
	}
	return out
}

// String renders a RunRecord for logs.
func (r RunRecord) String() string {
	if r.Err != nil {
		return fmt.Sprintf("%s: error after %s: %v", r.Started.Format(time.RFC3339), r.Duration, r.Err)
	}
	return fmt.Sprintf("%s: exit %d after %s", r.Started.Format(time.RFC3339), r.ExitCode, r.Duration)
}

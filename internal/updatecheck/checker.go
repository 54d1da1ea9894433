// SPDX-License-Identifier: MPL-2.0

package updatecheck

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dirvine/saorsa-cli/internal/selfupdate"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL is how long a successful check is trusted before the release
// source is queried again.
const DefaultTTL = time.Hour

// ErrDisabled is returned by ForceCheck on a disabled Checker.
var ErrDisabled = errors.New("update checks are disabled")

type (
	// ReleaseSource reports the newest published release.
	ReleaseSource interface {
		LatestRelease(ctx context.Context) (*selfupdate.Release, error)
	}

	// Clock is the time source for TTL decisions.
	Clock interface {
		Now() time.Time
	}

	// Result is the outcome of a check.
	Result struct {
		UpdateAvailable bool
		LatestVersion   string
		CurrentVersion  string
		Message         string
		// Cached is set when the result came from VersionState without a
		// network query.
		Cached bool
	}

	// Checker compares the running version against the release source,
	// caching the latest known version in a Store.
	Checker struct {
		source   ReleaseSource
		store    *Store
		current  string
		ttl      time.Duration
		clock    Clock
		logger   *log.Logger
		disabled bool
		group    singleflight.Group
	}

	// Option configures a Checker.
	Option func(*Checker)

	systemClock struct{}
)

func (systemClock) Now() time.Time { return time.Now() }

// WithTTL sets the freshness window. Non-positive values are ignored.
func WithTTL(ttl time.Duration) Option {
	return func(c *Checker) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock replaces the system clock.
func WithClock(clock Clock) Option {
	return func(c *Checker) { c.clock = clock }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(c *Checker) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithDisabled turns Check into a no-op when disabled is true.
func WithDisabled(disabled bool) Option {
	return func(c *Checker) { c.disabled = disabled }
}

// NewChecker returns a Checker for the running version current.
func NewChecker(source ReleaseSource, store *Store, current string, opts ...Option) *Checker {
	c := &Checker{
		source:  source,
		store:   store,
		current: current,
		ttl:     DefaultTTL,
		clock:   systemClock{},
		logger:  log.Default().WithPrefix("updatecheck"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.store == nil {
		c.store = NewStore("", VersionState{})
	}
	return c
}

// Store returns the backing state store.
func (c *Checker) Store() *Store {
	return c.store
}

// Check returns the update status. Within the TTL the answer is derived from
// the stored state; otherwise the release source is queried and the state is
// updated. It reports false when disabled, when nothing is known yet, or
// when the query fails. Failures are only logged at debug level.
func (c *Checker) Check(ctx context.Context) (*Result, bool) {
	if c.disabled {
		return nil, false
	}

	st := c.store.Read()
	if c.fresh(st) {
		if st.LatestVersion == "" {
			return nil, false
		}
		res := c.derive(st)
		res.Cached = true
		return res, true
	}

	res, err := c.query(ctx)
	if err != nil {
		c.logger.Debug("update check failed", "err", err)
		return nil, false
	}
	return res, true
}

// ForceCheck queries the release source regardless of the TTL and returns
// any failure to the caller.
func (c *Checker) ForceCheck(ctx context.Context) (*Result, error) {
	if c.disabled {
		return nil, ErrDisabled
	}
	return c.query(ctx)
}

// SkipVersion records v as a version the user does not want to be told
// about again.
func (c *Checker) SkipVersion(v string) error {
	if err := c.store.Commit(func(st *VersionState) { st.SkippedVersion = v }); err != nil {
		return fmt.Errorf("recording skipped version: %w", err)
	}
	return nil
}

func (c *Checker) fresh(st VersionState) bool {
	if st.LastChecked.IsZero() {
		return false
	}
	age := c.clock.Now().Sub(st.LastChecked)
	return age >= 0 && age < c.ttl
}

// query collapses concurrent callers onto one source request and one
// state write.
func (c *Checker) query(ctx context.Context) (*Result, error) {
	v, err, _ := c.group.Do("latest", func() (any, error) {
		release, err := c.source.LatestRelease(ctx)
		if err != nil {
			return nil, err
		}
		if release == nil || release.TagName == "" {
			return nil, errors.New("release source returned no version")
		}

		now := c.clock.Now()
		if err := c.store.Commit(func(st *VersionState) {
			st.LastChecked = now
			st.LatestVersion = release.TagName
		}); err != nil {
			// The answer is still valid; only caching failed.
			c.logger.Warn("saving version state", "err", err)
		}
		return c.store.Read(), nil
	})
	if err != nil {
		return nil, err
	}
	st, ok := v.(VersionState)
	if !ok {
		return nil, fmt.Errorf("unexpected check result %T", v)
	}
	return c.derive(st), nil
}

func (c *Checker) derive(st VersionState) *Result {
	res := &Result{
		LatestVersion:  st.LatestVersion,
		CurrentVersion: c.current,
	}

	switch {
	case !IsNewer(st.LatestVersion, c.current):
		res.Message = fmt.Sprintf("saorsa %s is up to date", c.current)
	case st.SkippedVersion != "" && sameVersion(st.SkippedVersion, st.LatestVersion):
		res.Message = fmt.Sprintf("saorsa %s is available (skipped)", st.LatestVersion)
	default:
		res.UpdateAvailable = true
		res.Message = fmt.Sprintf("saorsa %s is available (current %s). Run 'saorsa upgrade' to install it.",
			st.LatestVersion, c.current)
	}
	return res
}

// SPDX-License-Identifier: MPL-2.0

package updatecheck

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dirvine/saorsa-cli/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestChecker(t *testing.T, src *fakeSource, current string, opts ...Option) (*Checker, *testutil.FakeClock) {
	t.Helper()

	clock := testutil.NewFakeClock(time.Time{})
	store := Load(filepath.Join(t.TempDir(), StateFileName), nil)
	opts = append([]Option{WithClock(clock)}, opts...)
	return NewChecker(src, store, current, opts...), clock
}

func TestCheck_StaleQueriesAndCaches(t *testing.T) {
	t.Parallel()

	src := &fakeSource{tag: "v0.4.0"}
	c, clock := newTestChecker(t, src, "v0.3.0")

	res, ok := c.Check(t.Context())
	require.True(t, ok)
	assert.True(t, res.UpdateAvailable)
	assert.False(t, res.Cached)
	assert.Equal(t, "v0.4.0", res.LatestVersion)
	assert.Equal(t, "v0.3.0", res.CurrentVersion)
	assert.Contains(t, res.Message, "saorsa upgrade")

	st := c.Store().Read()
	assert.True(t, st.LastChecked.Equal(clock.Now()))
	assert.Equal(t, "v0.4.0", st.LatestVersion)

	// Within the TTL no query is made, even if the source changed.
	src.set("v0.5.0", nil)
	clock.Advance(59 * time.Minute)
	res, ok = c.Check(t.Context())
	require.True(t, ok)
	assert.True(t, res.Cached)
	assert.Equal(t, "v0.4.0", res.LatestVersion)
	assert.EqualValues(t, 1, src.calls.Load())

	// Past the TTL the source is queried again.
	clock.Advance(2 * time.Minute)
	res, ok = c.Check(t.Context())
	require.True(t, ok)
	assert.False(t, res.Cached)
	assert.Equal(t, "v0.5.0", res.LatestVersion)
	assert.EqualValues(t, 2, src.calls.Load())
}

func TestCheck_FailureIsSilentAndLeavesState(t *testing.T) {
	t.Parallel()

	src := &fakeSource{err: errOffline}
	c, clock := newTestChecker(t, src, "v0.3.0")

	before := VersionState{LastChecked: clock.Now().Add(-2 * time.Hour), LatestVersion: "v0.3.5"}
	require.NoError(t, c.Store().Commit(func(st *VersionState) { *st = before }))

	res, ok := c.Check(t.Context())
	assert.False(t, ok)
	assert.Nil(t, res)

	after := c.Store().Read()
	assert.True(t, after.LastChecked.Equal(before.LastChecked))
	assert.Equal(t, before.LatestVersion, after.LatestVersion)

	reloaded := Load(c.Store().Path(), nil).Read()
	assert.Equal(t, "v0.3.5", reloaded.LatestVersion)
}

func TestCheck_FreshWithoutLatestReportsNothing(t *testing.T) {
	t.Parallel()

	src := &fakeSource{tag: "v9.9.9"}
	c, clock := newTestChecker(t, src, "v0.3.0")
	require.NoError(t, c.Store().Commit(func(st *VersionState) { st.LastChecked = clock.Now() }))

	res, ok := c.Check(t.Context())
	assert.False(t, ok)
	assert.Nil(t, res)
	assert.Zero(t, src.calls.Load())
}

func TestCheck_Disabled(t *testing.T) {
	t.Parallel()

	src := &fakeSource{tag: "v0.4.0"}
	c, _ := newTestChecker(t, src, "v0.3.0", WithDisabled(true))

	res, ok := c.Check(t.Context())
	assert.False(t, ok)
	assert.Nil(t, res)
	assert.Zero(t, src.calls.Load())

	_, err := c.ForceCheck(t.Context())
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestCheck_PrereleaseIsNotAnUpdate(t *testing.T) {
	t.Parallel()

	c, _ := newTestChecker(t, &fakeSource{tag: "v0.5.0-beta.1"}, "v0.4.0")

	res, ok := c.Check(t.Context())
	require.True(t, ok)
	assert.False(t, res.UpdateAvailable)
	assert.Equal(t, "v0.5.0-beta.1", res.LatestVersion)
}

func TestCheck_UpToDate(t *testing.T) {
	t.Parallel()

	c, _ := newTestChecker(t, &fakeSource{tag: "v0.4.0"}, "0.4.0")

	res, ok := c.Check(t.Context())
	require.True(t, ok)
	assert.False(t, res.UpdateAvailable)
	assert.Contains(t, res.Message, "up to date")
}

func TestCheck_CustomTTL(t *testing.T) {
	t.Parallel()

	src := &fakeSource{tag: "v0.4.0"}
	c, clock := newTestChecker(t, src, "v0.3.0", WithTTL(10*time.Minute))

	_, ok := c.Check(t.Context())
	require.True(t, ok)
	clock.Advance(11 * time.Minute)
	_, ok = c.Check(t.Context())
	require.True(t, ok)
	assert.EqualValues(t, 2, src.calls.Load())
}

func TestSkipVersion(t *testing.T) {
	t.Parallel()

	c, _ := newTestChecker(t, &fakeSource{tag: "v0.4.0"}, "v0.3.0")
	require.NoError(t, c.SkipVersion("0.4.0"))

	res, ok := c.Check(t.Context())
	require.True(t, ok)
	assert.False(t, res.UpdateAvailable)
	assert.Contains(t, res.Message, "skipped")

	assert.Equal(t, "0.4.0", Load(c.Store().Path(), nil).Read().SkippedVersion)
}

func TestForceCheck_IgnoresCacheAndReturnsErrors(t *testing.T) {
	t.Parallel()

	src := &fakeSource{tag: "v0.4.0"}
	c, _ := newTestChecker(t, src, "v0.3.0")

	_, ok := c.Check(t.Context())
	require.True(t, ok)

	src.set("v0.4.1", nil)
	res, err := c.ForceCheck(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "v0.4.1", res.LatestVersion)
	assert.EqualValues(t, 2, src.calls.Load())

	src.set("", errOffline)
	_, err = c.ForceCheck(t.Context())
	assert.True(t, errors.Is(err, errOffline))
}

func TestCheck_ConcurrentStaleChecksShareOneQuery(t *testing.T) {
	t.Parallel()

	src := &fakeSource{
		tag:     "v0.4.0",
		gate:    make(chan struct{}),
		entered: make(chan struct{}, 1),
	}
	c, _ := newTestChecker(t, src, "v0.3.0")

	const callers = 8
	var wg sync.WaitGroup
	results := make(chan bool, callers)

	wg.Go(func() {
		_, ok := c.Check(t.Context())
		results <- ok
	})
	<-src.entered

	for range callers - 1 {
		wg.Go(func() {
			_, ok := c.Check(t.Context())
			results <- ok
		})
	}

	// Give the followers time to join the in-flight query.
	time.Sleep(50 * time.Millisecond)
	close(src.gate)
	wg.Wait()
	close(results)

	for ok := range results {
		assert.True(t, ok)
	}
	assert.EqualValues(t, 1, src.calls.Load())
}

func TestBackground(t *testing.T) {
	t.Parallel()

	src := &fakeSource{tag: "v0.4.0", gate: make(chan struct{})}
	c, _ := newTestChecker(t, src, "v0.3.0")
	bg := NewBackground(c)

	bg.Start(t.Context())
	bg.Start(t.Context())

	_, ok := bg.Result()
	assert.False(t, ok, "no result while the check is running")

	close(src.gate)
	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	res, ok := bg.Wait(ctx)
	require.True(t, ok)
	assert.True(t, res.UpdateAvailable)
	assert.EqualValues(t, 1, src.calls.Load())
}

func TestBackground_WaitRespectsContext(t *testing.T) {
	t.Parallel()

	src := &fakeSource{tag: "v0.4.0", gate: make(chan struct{})}
	c, _ := newTestChecker(t, src, "v0.3.0")
	bg := NewBackground(c)
	bg.Start(t.Context())

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	_, ok := bg.Wait(ctx)
	assert.False(t, ok)

	close(src.gate)
	_, ok = bg.Wait(context.Background())
	assert.True(t, ok)
}

func TestBackground_WaitWithoutStart(t *testing.T) {
	t.Parallel()

	bg := NewBackground(NewChecker(&fakeSource{tag: "v1.0.0"}, nil, "v0.1.0"))
	res, ok := bg.Wait(t.Context())
	assert.False(t, ok)
	assert.Nil(t, res)
}

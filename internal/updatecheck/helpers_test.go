// SPDX-License-Identifier: MPL-2.0

package updatecheck

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dirvine/saorsa-cli/internal/selfupdate"
)

var errOffline = errors.New("offline")

// fakeSource counts queries and can block until released.
type fakeSource struct {
	mu      sync.Mutex
	tag     string
	err     error
	calls   atomic.Int32
	gate    chan struct{}
	entered chan struct{}
}

func (f *fakeSource) LatestRelease(ctx context.Context) (*selfupdate.Release, error) {
	f.calls.Add(1)
	if f.entered != nil {
		select {
		case f.entered <- struct{}{}:
		default:
		}
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return nil, errors.New("gate never opened")
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &selfupdate.Release{TagName: f.tag}, nil
}

func (f *fakeSource) set(tag string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tag, f.err = tag, err
}

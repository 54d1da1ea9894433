// SPDX-License-Identifier: MPL-2.0

// Package updatecheck decides, with at most one network query per TTL
// window, whether a newer saorsa release exists. Failures are silent: a
// check that cannot reach the release source reports nothing and leaves the
// persisted state as it was.
package updatecheck

// SPDX-License-Identifier: MPL-2.0

package updatecheck

import (
	"strings"

	"golang.org/x/mod/semver"
)

// IsNewer reports whether latest is a stable release ordered after current.
// A prerelease latest is never an update, and an unparsable version on
// either side reports false.
func IsNewer(latest, current string) bool {
	l, ok := canonical(latest)
	if !ok || semver.Prerelease(l) != "" {
		return false
	}
	c, ok := canonical(current)
	if !ok {
		return false
	}
	return semver.Compare(l, c) > 0
}

func canonical(v string) (string, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", false
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return "", false
	}
	return v, true
}

// sameVersion compares two versions ignoring a leading "v".
func sameVersion(a, b string) bool {
	ca, okA := canonical(a)
	cb, okB := canonical(b)
	if okA && okB {
		return semver.Compare(ca, cb) == 0
	}
	return strings.TrimPrefix(a, "v") == strings.TrimPrefix(b, "v")
}

// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"runtime"
	"testing"
)

// SetHomeDir points the platform home variables at dir for the rest of the
// test, and clears the XDG overrides so paths derive from dir. It uses
// t.Setenv, so the calling test must not be parallel.
func SetHomeDir(t testing.TB, dir string) {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Setenv("USERPROFILE", dir)
		t.Setenv("APPDATA", dir)
		t.Setenv("LOCALAPPDATA", dir)
		return
	}
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("XDG_CACHE_HOME", "")
	t.Setenv("XDG_DATA_HOME", "")
}

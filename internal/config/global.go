// SPDX-License-Identifier: MPL-2.0

package config

// configDirOverride replaces ConfigDir in tests, since os.UserHomeDir does
// not follow HOME on every platform.
var configDirOverride string

// SetConfigDirOverride makes ConfigDir return dir. Tests only.
func SetConfigDirOverride(dir string) {
	configDirOverride = dir
}

// Reset clears test overrides.
func Reset() {
	configDirOverride = ""
}

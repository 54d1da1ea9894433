// SPDX-License-Identifier: MPL-2.0

// Package config loads saorsa settings with Viper, using CUE as the file
// format.
//
// The file lives at <config dir>/saorsa-cli/config.cue, where the config dir
// is $XDG_CONFIG_HOME (default ~/.config) on Linux, ~/Library/Application
// Support on macOS and %APPDATA% on Windows. Every file is validated against
// the embedded #Config schema before it is merged over the defaults.
// SAORSA_* environment variables override file values, and command-line
// flags override both through ApplyFlags.
package config

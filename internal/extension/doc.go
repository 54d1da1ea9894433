// SPDX-License-Identifier: MPL-2.0

// Package extension discovers, verifies, loads and runs native saorsa
// extensions.
//
// An extension is a directory holding a saorsa-plugin.toml manifest next to
// a shared library. The manifest declares the library's SHA256 digest, and the
// digest is recomputed every time the library is opened, so a file that changed
// after discovery is still refused. Extensions run with the full privilege of
// the process; nothing here sandboxes them.
//
// Native code is reached through the NativeLoader capability. The default
// implementation is picked at build time: dlopen through purego on Linux and
// macOS, LoadLibrary on Windows, and an always-failing stub elsewhere. The
// entry symbol (default "_plugin_init") must have the C signature
//
//	int entry(int argc, char **argv);
//
// argv[0] is the extension name and the remaining entries are the
// invocation arguments. The return value is reported as the exit status.
//
// The package is organized as follows:
//   - manifest.go: manifest parsing and validation
//   - loader.go: the Loader registry (Discover, Load, Execute, Refresh, Unload)
//   - diagnostic.go: non-fatal discovery findings
//   - searchpath.go: the default ordered search directories
//   - history.go: persisted per-extension run statistics
//   - native*.go: the platform NativeLoader implementations
package extension

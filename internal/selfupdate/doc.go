// SPDX-License-Identifier: MPL-2.0

// Package selfupdate finds, downloads, verifies and installs new releases of
// the saorsa binary, and puts the previous binary back when asked.
//
// The package is organized into these concerns:
//   - github.go: GitHub Releases API client (latest, by tag, list, asset download, checksum manifest)
//   - target.go: platform target triples and release archive naming
//   - archive.go: binary extraction from .tar.gz and .zip archives
//   - replace.go: backup, swap and rollback of the executable on disk
//   - restart.go: relaunching the replaced binary (exec on unix, spawn on Windows)
//   - detect.go: install method detection (Script, Cargo, GoInstall, Unknown)
//   - selfupdate.go: Updater, which composes the above into the upgrade flow
//
// Installs fail closed: an archive that is not listed in the release
// CHECKSUMS.txt, or whose digest differs, is never extracted.
package selfupdate

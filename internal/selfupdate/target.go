// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"errors"
	"fmt"
	"runtime"
)

// ArchivePrefix starts every release archive name.
const ArchivePrefix = "saorsa-cli-"

// ErrUnsupportedPlatform is returned for an OS/architecture pair without
// release artifacts.
var ErrUnsupportedPlatform = errors.New("unsupported platform")

// triples maps GOOS/GOARCH pairs to the target triples used in release names.
//
//nolint:gochecknoglobals // Read-only lookup table.
var triples = map[Target]string{
	{OS: "linux", Arch: "amd64"}:   "x86_64-unknown-linux-gnu",
	{OS: "linux", Arch: "arm64"}:   "aarch64-unknown-linux-gnu",
	{OS: "darwin", Arch: "amd64"}:  "x86_64-apple-darwin",
	{OS: "darwin", Arch: "arm64"}:  "aarch64-apple-darwin",
	{OS: "windows", Arch: "amd64"}: "x86_64-pc-windows-msvc",
	{OS: "windows", Arch: "arm64"}: "aarch64-pc-windows-msvc",
}

// Target is a platform release artifacts exist for, in GOOS/GOARCH terms.
type Target struct {
	OS   string
	Arch string
}

// DetectTarget returns the Target of the running binary.
func DetectTarget() (Target, error) {
	t := Target{OS: runtime.GOOS, Arch: runtime.GOARCH}
	if _, ok := triples[t]; !ok {
		return Target{}, fmt.Errorf("%w: %s/%s", ErrUnsupportedPlatform, t.OS, t.Arch)
	}
	return t, nil
}

// ParseTarget resolves a target triple such as "aarch64-apple-darwin".
func ParseTarget(triple string) (Target, error) {
	for t, tr := range triples {
		if tr == triple {
			return t, nil
		}
	}
	return Target{}, fmt.Errorf("%w: %q", ErrUnsupportedPlatform, triple)
}

// Triple returns the target triple, or an empty string for an unsupported Target.
func (t Target) Triple() string {
	return triples[t]
}

// String returns the triple.
func (t Target) String() string {
	return t.Triple()
}

// ArchiveName is the release asset bundling all binaries for t.
func (t Target) ArchiveName() string {
	ext := ".tar.gz"
	if t.OS == "windows" {
		ext = ".zip"
	}
	return ArchivePrefix + t.Triple() + ext
}

// BinaryName is the file name of tool inside the archive and on disk.
func (t Target) BinaryName(tool string) string {
	if t.OS == "windows" {
		return tool + ".exe"
	}
	return tool
}

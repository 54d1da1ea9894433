// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"os"
	"path/filepath"
	"runtime/debug"
	"slices"
	"strings"
)

// modulePath confirms that a binary found in the Go bin directory was built
// from this module.
const modulePath = "github.com/dirvine/saorsa-cli"

// Install channels. Cargo and go-install binaries belong to their toolchain
// and are never replaced in place.
const (
	InstallMethodUnknown InstallMethod = iota
	InstallMethodScript
	InstallMethodCargo
	InstallMethodGoInstall
)

var (
	// installMethodHint is set with -ldflags by packagers. It overrides the
	// path checks.
	//
	//nolint:gochecknoglobals // Build-time ldflags injection requires a package-level variable.
	installMethodHint string

	//nolint:gochecknoglobals // Test seam requires a package-level variable.
	readBuildInfo = debug.ReadBuildInfo

	//nolint:gochecknoglobals // Read-only name table.
	methodNames = map[InstallMethod]string{
		InstallMethodUnknown:   "unknown",
		InstallMethodScript:    "script",
		InstallMethodCargo:     "cargo",
		InstallMethodGoInstall: "goinstall",
	}
)

// InstallMethod identifies how saorsa was installed.
type InstallMethod int

func (m InstallMethod) String() string {
	if s, ok := methodNames[m]; ok {
		return s
	}
	return methodNames[InstallMethodUnknown]
}

// Managed reports whether a toolchain owns the binary, in which case upgrades
// are delegated to it.
func (m InstallMethod) Managed() bool {
	return m == InstallMethodCargo || m == InstallMethodGoInstall
}

// DetectInstallMethod classifies execPath by the directory it lives in:
// $CARGO_HOME/bin (default ~/.cargo/bin) is cargo, the Go bin directory is
// go install when the build info names this module, and ~/.saorsa-cli/bin or
// ~/.local/bin is the install script. Anything else is unknown and treated
// like a script install.
func DetectInstallMethod(execPath string) InstallMethod {
	if installMethodHint != "" {
		return ParseInstallMethod(installMethodHint)
	}

	exe := filepath.Clean(execPath)
	switch {
	case within(exe, cargoBinDir()):
		return InstallMethodCargo
	case within(exe, goBinDir()) && builtFromModule():
		return InstallMethodGoInstall
	case slices.ContainsFunc(scriptBinDirs(), func(dir string) bool { return within(exe, dir) }):
		return InstallMethodScript
	}
	return InstallMethodUnknown
}

// ParseInstallMethod maps a method name back to its value. Unrecognised names
// yield InstallMethodUnknown.
func ParseInstallMethod(name string) InstallMethod {
	name = strings.ToLower(strings.TrimSpace(name))
	for m, s := range methodNames {
		if s == name {
			return m
		}
	}
	return InstallMethodUnknown
}

// upgradeHint is the command a managed install should run instead of an
// in-place replacement.
func (m InstallMethod) upgradeHint() string {
	switch m {
	case InstallMethodCargo:
		return "cargo install saorsa-cli --force"
	case InstallMethodGoInstall:
		return "go install " + modulePath + "@latest"
	case InstallMethodUnknown, InstallMethodScript:
	}
	return ""
}

func cargoBinDir() string {
	if home := os.Getenv("CARGO_HOME"); home != "" {
		return filepath.Join(home, "bin")
	}
	return homeJoin(".cargo", "bin")
}

func goBinDir() string {
	if dir := os.Getenv("GOBIN"); dir != "" {
		return filepath.Clean(dir)
	}
	if gopath := os.Getenv("GOPATH"); gopath != "" {
		return filepath.Join(filepath.SplitList(gopath)[0], "bin")
	}
	return homeJoin("go", "bin")
}

func scriptBinDirs() []string {
	return []string{homeJoin(".saorsa-cli", "bin"), homeJoin(".local", "bin")}
}

// homeJoin returns "" when the home directory is unknown so that within never
// matches.
func homeJoin(elem ...string) string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ""
	}
	return filepath.Join(append([]string{home}, elem...)...)
}

// within reports whether path is dir itself or lies below it. The separator
// check keeps /home/u/gobin from matching /home/u/go/bin.
func within(path, dir string) bool {
	if dir == "" {
		return false
	}
	dir = filepath.Clean(dir)
	return path == dir || strings.HasPrefix(path, dir+string(filepath.Separator))
}

func builtFromModule() bool {
	info, ok := readBuildInfo()
	return ok && info != nil && info.Main.Path == modulePath
}

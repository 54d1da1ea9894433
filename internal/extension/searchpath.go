// SPDX-License-Identifier: MPL-2.0

package extension

import (
	"os"
	"path/filepath"
	"runtime"
)

// systemSearchPath is the shared extension directory on unix-like systems.
const systemSearchPath = "/usr/local/share/saorsa/plugins"

// DefaultSearchPaths returns the extension directories in priority order:
// the user-local directory, the platform data directory, the system-wide
// directory (not on Windows), and ./plugins under the working directory.
// Directories that cannot be determined are left out.
func DefaultSearchPaths() []string {
	var paths []string

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".saorsa", "plugins"))
	}
	if data := dataDir(); data != "" {
		paths = append(paths, filepath.Join(data, "saorsa", "plugins"))
	}
	if runtime.GOOS != "windows" {
		paths = append(paths, systemSearchPath)
	}
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, "plugins"))
	}

	return uniquePaths(paths)
}

// dataDir mirrors the per-user data directory conventions of each platform.
func dataDir() string {
	switch runtime.GOOS {
	case "windows":
		return os.Getenv("APPDATA")
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		return filepath.Join(home, "Library", "Application Support")
	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" && filepath.IsAbs(xdg) {
			return xdg
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		return filepath.Join(home, ".local", "share")
	}
}

// uniquePaths drops empty and repeated entries while keeping the first
// occurrence in place.
func uniquePaths(paths []string) []string {
	seen := make(map[string]struct{}, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if p == "" {
			continue
		}
		clean := filepath.Clean(p)
		if _, ok := seen[clean]; ok {
			continue
		}
		seen[clean] = struct{}{}
		out = append(out, clean)
	}
	return out
}

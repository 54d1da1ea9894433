// SPDX-License-Identifier: MPL-2.0

// Package tools locates and launches the companion binaries (sb, sdisk)
// shipped in the saorsa release archive, and the system tools (fd, rg) that
// saorsa wraps as built-in extensions.
package tools

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"slices"

	"github.com/dirvine/saorsa-cli/internal/checksum"
	"github.com/dirvine/saorsa-cli/internal/extension"
	"github.com/dirvine/saorsa-cli/internal/selfupdate"
	"github.com/dirvine/saorsa-cli/internal/updatecheck"

	"github.com/charmbracelet/log"
)

var (
	// ErrUnknownTool is returned for a name that is neither a companion nor
	// a wrapped system tool.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrToolNotInstalled is returned when a system tool is not on PATH.
	ErrToolNotInstalled = errors.New("tool not installed")
)

// binariesDir is the cache subdirectory downloaded tools live in.
const binariesDir = "binaries"

type (
	// Tool describes a companion binary.
	Tool struct {
		Name        string
		Aliases     []string
		Description string
		// System tools are only ever taken from PATH.
		System bool
		// Help is shown by `saorsa extensions info` for wrapped tools.
		Help string
		// DefaultArgs replace an empty argument list when the tool runs as an
		// extension.
		DefaultArgs []string
	}

	// ReleaseClient is the subset of *selfupdate.GitHubClient the Resolver needs.
	ReleaseClient interface {
		LatestRelease(ctx context.Context) (*selfupdate.Release, error)
		FetchChecksumManifest(ctx context.Context, release *selfupdate.Release) (map[string]string, error)
		DownloadAsset(ctx context.Context, asset selfupdate.Asset, dest string) error
	}

	// Resolver finds companion tools on PATH, in the download cache, or in
	// the latest release archive.
	Resolver struct {
		Client   ReleaseClient
		CacheDir string
		Target   selfupdate.Target
		// PreferSystem uses a tool found on PATH before the cache.
		PreferSystem bool
		// ForceDownload ignores PATH and the cache.
		ForceDownload bool
		// Store, when set, records installed versions.
		Store  *updatecheck.Store
		Logger *log.Logger
	}
)

//nolint:gochecknoglobals // Read-only registry.
var known = []Tool{
	{Name: "sb", Aliases: []string{"saorsa-browser"}, Description: "terminal file browser"},
	{Name: "sdisk", Aliases: []string{"saorsa-disk"}, Description: "disk usage analyzer"},
}

//nolint:gochecknoglobals // Read-only registry.
var wrapped = []Tool{
	{
		Name:        "fd",
		Aliases:     []string{"fd-find"},
		Description: "fast file search (fd)",
		System:      true,
		Help: "Wrapper around fd (fd-find). Supply a pattern and an optional path,\n" +
			"for example: saorsa extensions run fd src main",
	},
	{
		Name:        "rg",
		Aliases:     []string{"ripgrep"},
		Description: "file content search (ripgrep)",
		System:      true,
		Help: "Wrapper around ripgrep (rg). Supply a pattern and an optional path or flags.\n" +
			"Without arguments ripgrep's own help is shown.",
		DefaultArgs: []string{"--help"},
	},
}

// Known returns the companion tools.
func Known() []Tool {
	return slices.Clone(known)
}

// Wrapped returns the system tools exposed as built-in extensions.
func Wrapped() []Tool {
	return slices.Clone(wrapped)
}

// Lookup resolves a tool name or alias.
func Lookup(name string) (Tool, error) {
	for _, t := range slices.Concat(known, wrapped) {
		if t.Name == name || slices.Contains(t.Aliases, name) {
			return t, nil
		}
	}
	return Tool{}, fmt.Errorf("%w: %q", ErrUnknownTool, name)
}

// Builtins returns one in-process extension per wrapped tool. Each forwards
// its arguments to the tool through r; version is reported as the extension
// version.
func (r *Resolver) Builtins(version string) []extension.Builtin {
	out := make([]extension.Builtin, 0, len(wrapped))
	for _, t := range wrapped {
		out = append(out, extension.Builtin{
			Name:        t.Name,
			Version:     version,
			Description: "Wrapper around " + t.Description,
			Help:        t.Help,
			Run: func(ctx context.Context, args []string) (int, error) {
				if len(args) == 0 {
					args = t.DefaultArgs
				}
				return r.Run(ctx, t.Name, args)
			},
		})
	}
	return out
}

// CachedPath is where a downloaded tool is stored.
func (r *Resolver) CachedPath(tool Tool) string {
	return filepath.Join(r.CacheDir, binariesDir, r.Target.BinaryName(tool.Name))
}

// Resolve returns the path of an executable for name, downloading it when
// neither PATH (with PreferSystem) nor the cache has one.
func (r *Resolver) Resolve(ctx context.Context, name string) (string, error) {
	tool, err := Lookup(name)
	if err != nil {
		return "", err
	}

	if tool.System {
		p, lookErr := exec.LookPath(tool.Name)
		if lookErr != nil {
			return "", fmt.Errorf("%w: %s was not found on PATH", ErrToolNotInstalled, tool.Name)
		}
		return p, nil
	}

	if r.PreferSystem && !r.ForceDownload {
		if p, lookErr := exec.LookPath(tool.Name); lookErr == nil {
			r.logger().Debug("using system binary", "tool", tool.Name, "path", p)
			return p, nil
		}
	}

	cached := r.CachedPath(tool)
	if !r.ForceDownload {
		if info, statErr := os.Stat(cached); statErr == nil && info.Mode().IsRegular() {
			return cached, nil
		} else if statErr != nil && !errors.Is(statErr, fs.ErrNotExist) {
			return "", fmt.Errorf("checking %s: %w", cached, statErr)
		}
	}

	if err := r.download(ctx, tool, cached); err != nil {
		return "", err
	}
	return cached, nil
}

// Run resolves name and runs it with args and the process stdio. It returns
// the tool's exit code; err is set only when the tool could not be started.
func (r *Resolver) Run(ctx context.Context, name string, args []string) (int, error) {
	path, err := r.Resolve(ctx, name)
	if err != nil {
		return 1, err
	}

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return 1, fmt.Errorf("running %s: %w", name, err)
	}
	return 0, nil
}

// download fetches the latest release archive and extracts tool to dest.
// The checksum manifest is advisory here: a missing manifest or entry is
// logged, a mismatch is fatal.
func (r *Resolver) download(ctx context.Context, tool Tool, dest string) error {
	if r.Client == nil {
		return fmt.Errorf("downloading %s: no release client configured", tool.Name)
	}

	release, err := r.Client.LatestRelease(ctx)
	if err != nil {
		return fmt.Errorf("finding release for %s: %w", tool.Name, err)
	}

	archiveName := r.Target.ArchiveName()
	asset, ok := release.FindAsset(archiveName)
	if !ok {
		return fmt.Errorf("%w: %q in %s", selfupdate.ErrAssetNotFound, archiveName, release.TagName)
	}

	workDir, err := os.MkdirTemp("", "saorsa-tool-*")
	if err != nil {
		return fmt.Errorf("creating work directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	archivePath := filepath.Join(workDir, archiveName)
	r.logger().Info("downloading tool", "tool", tool.Name, "release", release.TagName)
	if err := r.Client.DownloadAsset(ctx, asset, archivePath); err != nil {
		return err
	}

	if err := r.verifyArchive(ctx, release, archiveName, archivePath); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(dest), err)
	}
	if err := selfupdate.ExtractBinary(archivePath, r.Target.BinaryName(tool.Name), dest); err != nil {
		return fmt.Errorf("extracting %s: %w", tool.Name, err)
	}
	if err := os.Chmod(dest, 0o755); err != nil {
		return fmt.Errorf("marking %s executable: %w", dest, err)
	}

	if r.Store != nil {
		if err := r.Store.Commit(func(st *updatecheck.VersionState) {
			if st.InstalledVersions == nil {
				st.InstalledVersions = make(map[string]string)
			}
			st.InstalledVersions[tool.Name] = release.TagName
		}); err != nil {
			r.logger().Warn("recording installed version", "tool", tool.Name, "err", err)
		}
	}
	return nil
}

func (r *Resolver) verifyArchive(ctx context.Context, release *selfupdate.Release, name, path string) error {
	entries, err := r.Client.FetchChecksumManifest(ctx, release)
	if err != nil {
		r.logger().Warn("skipping checksum verification", "asset", name, "err", err)
		return nil
	}
	expected, ok := checksum.Lookup(entries, name)
	if !ok {
		r.logger().Warn("checksum manifest has no entry", "asset", name)
		return nil
	}
	if err := checksum.VerifyFile(path, expected); err != nil {
		return fmt.Errorf("verifying %s: %w", name, err)
	}
	return nil
}

func (r *Resolver) logger() *log.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return log.Default().WithPrefix("tools")
}

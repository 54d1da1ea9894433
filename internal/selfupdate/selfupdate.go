// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dirvine/saorsa-cli/internal/checksum"

	"github.com/charmbracelet/log"
	"golang.org/x/mod/semver"
)

// BinaryName is the main executable inside every release archive.
const BinaryName = "saorsa"

// candidateTimeout bounds the "--version" smoke test of a downloaded binary.
const candidateTimeout = 10 * time.Second

var (
	// ErrInvalidVersion indicates the provided version string is not valid semver.
	ErrInvalidVersion = errors.New("invalid semantic version")

	// ErrAssetNotFound is returned when a release lacks the archive for this platform.
	ErrAssetNotFound = errors.New("asset not found in release")

	// ErrChecksumNotFound is returned when the checksum manifest has no entry
	// for the archive being installed.
	ErrChecksumNotFound = errors.New("checksum not found for asset")

	// ErrUpdateInProgress is returned when another self-update is running in
	// this process.
	ErrUpdateInProgress = errors.New("a self-update is already in progress")

	// updateMu serializes replacement transactions.
	//
	//nolint:gochecknoglobals // One executable per process.
	updateMu sync.Mutex

	//nolint:gochecknoglobals // Test seam for os.Executable().
	osExecutable = os.Executable

	//nolint:gochecknoglobals // Test seam for filepath.EvalSymlinks().
	evalSymlinks = filepath.EvalSymlinks

	//nolint:gochecknoglobals // Test seam for running the downloaded binary.
	verifyCandidate = runCandidateVersion
)

type (
	// UpgradeCheck holds the result of comparing the running version with the
	// latest (or a pinned) release. InstallMethod decides whether the Updater
	// may replace the binary itself.
	UpgradeCheck struct {
		CurrentVersion   string        // Currently running version
		LatestVersion    string        // Latest stable release version
		TargetRelease    *Release      // Nil if up-to-date, managed, or pre-release ahead
		InstallMethod    InstallMethod // How saorsa was installed
		UpgradeAvailable bool          // True if upgrade available and applicable
		Message          string        // Human-readable status message
	}

	// Updater composes the GitHub client, install method detection, checksum
	// verification and binary replacement into the upgrade flow.
	Updater struct {
		client         *GitHubClient
		currentVersion string
		target         Target
		targetSet      bool
		execPath       string
		logger         *log.Logger
	}

	// UpdaterOption configures an Updater during construction.
	UpdaterOption func(*Updater)
)

// WithGitHubClient overrides the default GitHubClient used by the Updater.
func WithGitHubClient(c *GitHubClient) UpdaterOption {
	return func(u *Updater) {
		u.client = c
	}
}

// WithTarget selects the release artifacts for t instead of the running platform.
func WithTarget(t Target) UpdaterOption {
	return func(u *Updater) {
		u.target = t
		u.targetSet = true
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) UpdaterOption {
	return func(u *Updater) {
		u.logger = l
	}
}

// WithExecutablePath sets the binary to replace instead of the running one.
func WithExecutablePath(path string) UpdaterOption {
	return func(u *Updater) {
		u.execPath = path
	}
}

// NewUpdater creates an Updater for the given currentVersion. If no
// WithGitHubClient option is provided, a default GitHubClient is created.
func NewUpdater(currentVersion string, opts ...UpdaterOption) *Updater {
	u := &Updater{
		currentVersion: currentVersion,
	}
	for _, opt := range opts {
		opt(u)
	}
	if u.client == nil {
		u.client = NewGitHubClient()
	}
	if u.logger == nil {
		u.logger = log.Default().WithPrefix("selfupdate")
	}
	return u
}

// Client returns the underlying GitHub client.
func (u *Updater) Client() *GitHubClient {
	return u.client
}

// ExecutablePath returns the binary the Updater replaces.
func (u *Updater) ExecutablePath() (string, error) {
	if u.execPath != "" {
		return u.execPath, nil
	}
	return resolveExecPath()
}

// Check determines whether an upgrade is available by comparing the current
// version against the latest stable release (or a specific targetVersion).
//
// Managed installs (cargo, go install) get package manager guidance
// without any API call.
func (u *Updater) Check(ctx context.Context, targetVersion string) (*UpgradeCheck, error) {
	execPath, err := u.ExecutablePath()
	if err != nil {
		return nil, fmt.Errorf("resolving executable path: %w", err)
	}

	method := DetectInstallMethod(execPath)

	if method.Managed() {
		return &UpgradeCheck{
			CurrentVersion: u.currentVersion,
			InstallMethod:  method,
			Message:        managedInstallMessage(method, execPath),
		}, nil
	}

	var release *Release
	if targetVersion != "" {
		tag, tagErr := normalizeVersion(targetVersion)
		if tagErr != nil {
			return nil, tagErr
		}
		release, err = u.client.ReleaseByTag(ctx, tag)
		if err != nil {
			return nil, fmt.Errorf("fetching release %s: %w", tag, err)
		}
	} else {
		release, err = u.client.LatestRelease(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetching latest release: %w", err)
		}
	}

	currentNorm, err := normalizeVersion(u.currentVersion)
	if err != nil {
		return nil, fmt.Errorf("current version: %w", err)
	}
	targetNorm, err := normalizeVersion(release.TagName)
	if err != nil {
		return nil, fmt.Errorf("release version: %w", err)
	}

	// A development or CI build can be a pre-release at or past the latest
	// stable tag.
	if semver.Prerelease(currentNorm) != "" && semver.Compare(currentNorm, targetNorm) >= 0 {
		return &UpgradeCheck{
			CurrentVersion: u.currentVersion,
			LatestVersion:  release.TagName,
			InstallMethod:  method,
			Message:        fmt.Sprintf("Running pre-release %s (ahead of %s).", u.currentVersion, release.TagName),
		}, nil
	}

	// A pinned version is installed even when it is older (downgrade).
	if targetVersion == "" && semver.Compare(currentNorm, targetNorm) >= 0 ||
		targetVersion != "" && semver.Compare(currentNorm, targetNorm) == 0 {
		return &UpgradeCheck{
			CurrentVersion: u.currentVersion,
			LatestVersion:  release.TagName,
			InstallMethod:  method,
			Message:        "Already up to date.",
		}, nil
	}

	return &UpgradeCheck{
		CurrentVersion:   u.currentVersion,
		LatestVersion:    release.TagName,
		TargetRelease:    release,
		InstallMethod:    method,
		UpgradeAvailable: true,
		Message:          fmt.Sprintf("Upgrade available: %s -> %s", u.currentVersion, release.TagName),
	}, nil
}

// PerformSelfUpdate downloads, verifies and installs the saorsa binary from
// release. The archive must be listed in the release checksum manifest; a
// missing manifest or entry refuses the update before the live binary is
// touched. ctx is honoured until the swap starts.
func (u *Updater) PerformSelfUpdate(ctx context.Context, release *Release) (*ReplacementTransaction, error) {
	if release == nil {
		return nil, errors.New("release must not be nil")
	}
	if !updateMu.TryLock() {
		return nil, ErrUpdateInProgress
	}
	defer updateMu.Unlock()

	execPath, err := u.ExecutablePath()
	if err != nil {
		return nil, fmt.Errorf("resolving executable path: %w", err)
	}

	target := u.target
	if !u.targetSet {
		if target, err = DetectTarget(); err != nil {
			return nil, err
		}
	}

	archiveName := target.ArchiveName()
	asset, ok := release.FindAsset(archiveName)
	if !ok {
		return nil, fmt.Errorf("%w: %q in %s", ErrAssetNotFound, archiveName, release.TagName)
	}

	entries, err := u.client.FetchChecksumManifest(ctx, release)
	if err != nil {
		return nil, fmt.Errorf("fetching checksums: %w", err)
	}
	expected, ok := checksum.Lookup(entries, archiveName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrChecksumNotFound, archiveName)
	}

	workDir, err := os.MkdirTemp("", "saorsa-update-*")
	if err != nil {
		return nil, fmt.Errorf("creating work directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	archivePath := filepath.Join(workDir, archiveName)
	u.logger.Info("downloading update", "release", release.TagName, "asset", archiveName)
	if err := u.client.DownloadAsset(ctx, asset, archivePath); err != nil {
		return nil, err
	}

	if err := checksum.VerifyFile(archivePath, expected); err != nil {
		return nil, fmt.Errorf("verifying %s: %w", archiveName, err)
	}
	u.logger.Debug("checksum verified", "asset", archiveName)

	candidate := filepath.Join(workDir, target.BinaryName(BinaryName))
	if err := ExtractBinary(archivePath, target.BinaryName(BinaryName), candidate); err != nil {
		return nil, fmt.Errorf("extracting %s: %w", BinaryName, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := verifyCandidate(ctx, candidate); err != nil {
		return nil, fmt.Errorf("new binary failed to run: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// From here on the swap runs to completion or rolls back regardless of ctx.
	tx, err := ReplaceBinary(execPath, candidate, BackupPath(execPath))
	if err != nil {
		return tx, err
	}
	u.logger.Info("update installed", "release", release.TagName, "path", execPath, "backup", tx.Backup)
	return tx, nil
}

// runCandidateVersion runs "<path> --version" as a smoke test.
func runCandidateVersion(ctx context.Context, path string) error {
	ctx, cancel := context.WithTimeout(ctx, candidateTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, path, "--version").CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg != "" {
			return fmt.Errorf("%w: %s", err, msg)
		}
		return err
	}
	return nil
}

// resolveExecPath returns the absolute, symlink-resolved path to the currently
// running binary.
func resolveExecPath() (string, error) {
	p, err := osExecutable()
	if err != nil {
		return "", fmt.Errorf("determining executable path: %w", err)
	}

	resolved, err := evalSymlinks(p)
	if err != nil {
		return "", fmt.Errorf("resolving symlinks for %s: %w", p, err)
	}

	return resolved, nil
}

// managedInstallMessage advises the user to upgrade through the toolchain
// that owns execPath.
func managedInstallMessage(method InstallMethod, execPath string) string {
	return fmt.Sprintf("Detected %s installation at %s\n\nTo upgrade, run:\n  %s", method, execPath, method.upgradeHint())
}

// normalizeVersion adds the "v" prefix the semver package requires and
// validates the result.
func normalizeVersion(v string) (string, error) {
	norm := strings.TrimSpace(v)
	if !strings.HasPrefix(norm, "v") {
		norm = "v" + norm
	}
	if !semver.IsValid(norm) {
		return "", fmt.Errorf("%w: %q", ErrInvalidVersion, v)
	}
	return norm, nil
}

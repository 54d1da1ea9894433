// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dirvine/saorsa-cli/internal/selfupdate"
	"github.com/dirvine/saorsa-cli/internal/updatecheck"

	"github.com/spf13/cobra"
)

// upgradeParams bundles the dependencies and flags for the upgrade command,
// enabling the core logic in runUpgrade to be tested without a real Cobra
// command or live GitHub API calls.
type upgradeParams struct {
	stdin       io.Reader
	stdout      io.Writer
	stderr      io.Writer
	updater     *selfupdate.Updater
	checker     *updatecheck.Checker
	restarter   selfupdate.Restarter
	restartArgs []string // relaunch argv without the program name
	interactive bool

	version   string // pinned version (empty = latest)
	check     bool   // --check: report availability without installing
	yes       bool   // --yes: skip confirmation prompt
	skip      bool   // --skip: stop notifying about a version
	noRestart bool   // --no-restart: do not relaunch after installing
}

// newUpgradeCommand creates `saorsa upgrade`, which replaces the running
// binary with the latest stable release or a pinned version.
func newUpgradeCommand(app *App) *cobra.Command {
	var (
		check, yes, skip, noRestart bool
		targetTriple                string
	)

	cmd := &cobra.Command{
		Use:   "upgrade [version]",
		Short: "Update saorsa to the latest stable release or a specific version",
		Long: `Update saorsa to the latest stable release or a specific version.

The upgrade command downloads the release archive for this platform,
verifies it against the release CHECKSUMS.txt, smoke-tests the new binary
and swaps it in place. The previous binary is kept with a .old suffix so
'saorsa rollback' can restore it.

If saorsa was installed with cargo or go install, the command prints the
toolchain command to run instead.`,
		Example: `  # Upgrade to latest stable
  saorsa upgrade

  # Check for updates without installing
  saorsa upgrade --check

  # Install a specific version, downgrades included
  saorsa upgrade v0.3.0

  # Stop the startup notice for the latest release
  saorsa upgrade --skip`,
		Args:        cobra.MaximumNArgs(1),
		Annotations: map[string]string{noNoticeAnnotation: "true", operationAnnotation: "upgrade saorsa"},
		RunE: app.wrap(func(cmd *cobra.Command, args []string) error {
			if isInteractive(app.stderr) {
				app.clientOpts = append(app.clientOpts, selfupdate.WithProgress(downloadProgress(app.stderr)))
			}

			var updaterOpts []selfupdate.UpdaterOption
			if targetTriple != "" {
				target, err := selfupdate.ParseTarget(targetTriple)
				if err != nil {
					return err
				}
				updaterOpts = append(updaterOpts, selfupdate.WithTarget(target))
			}

			p := upgradeParams{
				stdin:       app.stdin,
				stdout:      cmd.OutOrStdout(),
				stderr:      cmd.ErrOrStderr(),
				updater:     app.updater(updaterOpts...),
				checker:     app.interactiveChecker(),
				restarter:   app.restarter,
				restartArgs: app.processArgs(),
				interactive: isInteractive(app.stdin),
				check:       check,
				yes:         yes,
				skip:        skip,
				noRestart:   noRestart,
			}
			if len(args) > 0 {
				p.version = args[0]
			}
			return runUpgrade(cmd.Context(), p)
		}),
	}

	cmd.Flags().BoolVar(&check, "check", false, "check for an available upgrade without installing")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	cmd.Flags().BoolVar(&skip, "skip", false, "do not notify about this version (default: latest) again")
	cmd.Flags().BoolVar(&noRestart, "no-restart", false, "do not relaunch saorsa after upgrading")
	cmd.Flags().StringVar(&targetTriple, "target", "", "install the artifacts of another target triple")
	cmd.MarkFlagsMutuallyExclusive("check", "skip")

	return cmd
}

// runUpgrade is the core upgrade logic, separated from Cobra for testability.
// All user-facing output goes through p.stdout and p.stderr.
//
// Flow:
//  1. --skip records the skipped version and returns.
//  2. Check for an available upgrade via the GitHub API.
//  3. If the install is managed (cargo/go install), print guidance and return.
//  4. If already up-to-date, print status and return.
//  5. If --check, print availability and return.
//  6. Otherwise confirm (unless --yes), install, then relaunch with the
//     original arguments.
func runUpgrade(ctx context.Context, p upgradeParams) error {
	if p.skip {
		return runSkip(ctx, p)
	}
	if p.check && p.version == "" {
		if handled, err := runCachedCheck(ctx, p); handled {
			return err
		}
	}

	check, err := p.updater.Check(ctx, p.version)
	if err != nil {
		return fmt.Errorf("checking for upgrade: %w", err)
	}

	if check.InstallMethod.Managed() {
		fmt.Fprintln(p.stdout, check.Message)
		return nil
	}

	// Not upgrade available: already up-to-date or running a pre-release ahead
	// of the latest stable version.
	if !check.UpgradeAvailable {
		printVersions(p.stdout, check.CurrentVersion, check.LatestVersion)
		fmt.Fprintf(p.stdout, "\n%s\n", check.Message)
		return nil
	}

	if p.check {
		printVersions(p.stdout, check.CurrentVersion, check.LatestVersion)
		fmt.Fprintf(p.stdout, "\nAn upgrade is available: %s → %s\n", check.CurrentVersion, check.LatestVersion)
		fmt.Fprintf(p.stdout, "Run %s to install.\n", CmdStyle.Render("saorsa upgrade "+check.LatestVersion))
		return nil
	}

	printVersions(p.stdout, check.CurrentVersion, check.LatestVersion)

	if !p.yes {
		if !p.interactive {
			return fmt.Errorf("%w: not a terminal, pass --yes to upgrade without confirmation", errUsage)
		}
		question := fmt.Sprintf("Upgrade saorsa from %s to %s?", check.CurrentVersion, check.LatestVersion)
		confirmed, confirmErr := confirm(p.stdin, p.stdout, question)
		if confirmErr != nil {
			return fmt.Errorf("confirmation prompt: %w", confirmErr)
		}
		if !confirmed {
			fmt.Fprintln(p.stdout, "Upgrade canceled.")
			return nil
		}
	}

	fmt.Fprintf(p.stdout, "\nDownloading saorsa %s...\n", check.LatestVersion)

	tx, err := p.updater.PerformSelfUpdate(ctx, check.TargetRelease)
	if err != nil {
		return fmt.Errorf("applying upgrade: %w", err)
	}

	fmt.Fprintln(p.stdout, "Verifying checksum... OK")
	fmt.Fprintln(p.stdout, "Replacing binary...  OK")
	fmt.Fprintln(p.stdout, SuccessStyle.Render(fmt.Sprintf("Successfully upgraded to %s", check.LatestVersion)))
	fmt.Fprintf(p.stdout, "Previous binary kept at %s\n", tx.Backup)

	if p.checker != nil {
		recordInstalled(p, check.LatestVersion)
	}

	if p.noRestart {
		return nil
	}
	// The relaunched binary sees the same command line; a repeated upgrade
	// finds itself up to date.
	if err := selfupdate.Restart(p.restarter, tx.Current, p.restartArgs); err != nil {
		fmt.Fprintf(p.stderr, "%s could not restart saorsa: %v\n", WarningStyle.Render("Warning:"), err)
	}
	return nil
}

// runCachedCheck answers `upgrade --check` through the update checker so the
// result also refreshes the startup notice cache. Managed installs are not
// handled here.
func runCachedCheck(ctx context.Context, p upgradeParams) (bool, error) {
	if p.checker == nil {
		return false, nil
	}
	exe, err := p.updater.ExecutablePath()
	if err != nil {
		return false, nil
	}
	if selfupdate.DetectInstallMethod(exe).Managed() {
		return false, nil
	}

	res, err := p.checker.ForceCheck(ctx)
	if err != nil {
		return true, fmt.Errorf("checking for upgrade: %w", err)
	}
	printVersions(p.stdout, res.CurrentVersion, res.LatestVersion)
	fmt.Fprintf(p.stdout, "\n%s\n", res.Message)
	return true, nil
}

// runSkip records p.version, or the latest release, as skipped.
func runSkip(ctx context.Context, p upgradeParams) error {
	if p.checker == nil {
		return errors.New("version state is unavailable")
	}
	v := p.version
	if v == "" {
		res, err := p.checker.ForceCheck(ctx)
		if err != nil {
			return fmt.Errorf("finding latest release: %w", err)
		}
		if !res.UpdateAvailable {
			fmt.Fprintln(p.stdout, res.Message)
			return nil
		}
		v = res.LatestVersion
	}
	if err := p.checker.SkipVersion(v); err != nil {
		return fmt.Errorf("recording skipped version: %w", err)
	}
	fmt.Fprintf(p.stdout, "Skipped %s. You will be notified again when a newer release is published.\n", v)
	return nil
}

func recordInstalled(p upgradeParams, v string) {
	err := p.checker.Store().Commit(func(st *updatecheck.VersionState) {
		if st.InstalledVersions == nil {
			st.InstalledVersions = make(map[string]string)
		}
		st.InstalledVersions[selfupdate.BinaryName] = v
	})
	if err != nil {
		fmt.Fprintf(p.stderr, "%s could not save version state: %v\n", WarningStyle.Render("Warning:"), err)
	}
}

func printVersions(w io.Writer, current, latest string) {
	fmt.Fprintf(w, "Current version: %s\n", current)
	if latest != "" {
		fmt.Fprintf(w, "Latest version:  %s\n", latest)
	}
}

// newRollbackCommand creates `saorsa rollback`, which restores the binary
// saved by the last upgrade.
func newRollbackCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:         "rollback",
		Short:       "Restore the binary replaced by the last upgrade",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{noNoticeAnnotation: "true", operationAnnotation: "roll back saorsa"},
		RunE: app.wrap(func(cmd *cobra.Command, _ []string) error {
			exe, err := app.updater().ExecutablePath()
			if err != nil {
				return err
			}
			backup := selfupdate.BackupPath(exe)
			if err := selfupdate.Rollback(exe, backup); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), SuccessStyle.Render("Restored previous binary at "+exe))
			return nil
		}),
	}
}

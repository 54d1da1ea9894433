// SPDX-License-Identifier: MPL-2.0

// Package cmd contains all CLI commands for saorsa.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

// newRootCommand builds the command tree around app.
func newRootCommand(app *App) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "saorsa",
		Short: "Saorsa tools launcher with verified extensions and self-update",
		Long: TitleStyle.Render("saorsa") + SubtitleStyle.Render(" - Saorsa tools launcher") + `

saorsa runs the Saorsa companion tools, loads native extensions declared
by saorsa-plugin.toml manifests after verifying their SHA-256 digest, and
keeps itself up to date from GitHub releases.

` + SubtitleStyle.Render("Examples:") + `
  saorsa run sb                 Launch the file browser
  saorsa extensions list        List discovered extensions
  saorsa extensions run hello   Run the 'hello' extension
  saorsa upgrade --check        Check for a newer release
  saorsa config show            Show the effective configuration`,
		SilenceUsage: true,
		PersistentPreRunE: app.wrap(func(cmd *cobra.Command, _ []string) error {
			return app.bootstrap(cmd)
		}),
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			app.printUpdateNotice(cmd.Context())
			return nil
		},
	}
	rootCmd.SetIn(app.stdin)
	rootCmd.SetOut(app.stdout)
	rootCmd.SetErr(app.stderr)

	pf := rootCmd.PersistentFlags()
	pf.BoolVarP(&app.flags.verbose, "verbose", "v", false, "enable verbose output")
	pf.StringVar(&app.flags.configPath, "config", "", "config file (default is $HOME/.config/saorsa-cli/config.cue)")
	pf.BoolVar(&app.flags.noUpdateCheck, "no-update-check", false, "skip the background update check")
	pf.BoolVar(&app.flags.preferSystem, "prefer-system", false, "prefer companion tools already on PATH")
	pf.BoolVar(&app.flags.forceDownload, "force-download", false, "always download companion tools from the latest release")

	rootCmd.AddCommand(
		newExtensionsCommand(app),
		newRunCommand(app),
		newUpgradeCommand(app),
		newRollbackCommand(app),
		newConfigCommand(app),
		newVersionCommand(app),
	)
	return rootCmd
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute runs the CLI and exits with the classified exit code on failure.
// This is called by main.main().
func Execute() {
	app := NewApp(os.Stdin, os.Stdout, os.Stderr)

	// fang overrides rootCmd.Version, so the version goes through WithVersion.
	err := fang.Execute(
		context.Background(),
		newRootCommand(app),
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
	)
	_ = app.Close()
	if err == nil {
		return
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		os.Exit(exitErr.Code)
	}
	// Anything not routed through App.wrap is a cobra flag or argument error.
	os.Exit(ExitUsage)
}

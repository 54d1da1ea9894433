// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dirvine/saorsa-cli/internal/extension"
	"github.com/dirvine/saorsa-cli/internal/watch"

	"github.com/spf13/cobra"
)

// newExtensionsCommand creates `saorsa extensions` and its subcommands.
func newExtensionsCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "extensions",
		Aliases: []string{"ext", "plugins"},
		Short:   "Discover, inspect and run native extensions",
		Long: `Discover, inspect and run native extensions.

An extension is a directory holding a saorsa-plugin.toml manifest next to a
shared library. The library is only loaded when its SHA-256 digest matches
the manifest's sha256 field.`,
	}

	cmd.AddCommand(
		newExtensionsListCommand(app),
		newExtensionsInfoCommand(app),
		newExtensionsRunCommand(app),
		newExtensionsRefreshCommand(app),
		newExtensionsPathsCommand(app),
		newExtensionsWatchCommand(app),
	)
	return cmd
}

func newExtensionsListCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List discovered extensions",
		Args:    cobra.NoArgs,
		RunE: app.wrap(func(cmd *cobra.Command, _ []string) error {
			loader := app.extensionLoader()
			out := cmd.OutOrStdout()

			available := loader.Available()
			if len(available) == 0 {
				fmt.Fprintln(out, SubtitleStyle.Render("No extensions found. Run 'saorsa extensions paths' to see where saorsa looks."))
			}
			for _, m := range available {
				line := fmt.Sprintf("%s %s", TitleStyle.Render(m.Name), SubtitleStyle.Render(m.Version))
				if m.Description != "" {
					line += "  " + m.Description
				}
				if stats, ok := loader.History(m.Name); ok && stats.Total() > 0 {
					line += SubtitleStyle.Render(fmt.Sprintf("  (%d runs, %d failed)", stats.Total(), stats.Failures))
				}
				fmt.Fprintln(out, line)
			}

			printDiagnostics(cmd.ErrOrStderr(), loader.Diagnostics(), app.flags.verbose)
			return nil
		}),
	}
}

func newExtensionsInfoCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:         "info <name>",
		Short:       "Show an extension's manifest, help and run history",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{operationAnnotation: "show extension"},
		RunE: app.wrap(func(cmd *cobra.Command, args []string) error {
			loader := app.extensionLoader()
			m, ok := loader.Manifest(args[0])
			if !ok {
				return fmt.Errorf("%w: %s", extension.ErrManifestNotFound, args[0])
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, TitleStyle.Render(m.Name)+" "+SubtitleStyle.Render(m.Version))
			field(out, "Description", m.Description)
			field(out, "Author", m.Author)
			field(out, "Homepage", m.Homepage)
			if m.IsBuiltin() {
				field(out, "Library", "built into saorsa")
			} else {
				field(out, "Manifest", m.Path)
				field(out, "Library", m.LibraryPath())
				field(out, "Entry symbol", m.Entry())
				field(out, "SHA-256", m.SHA256)
			}

			if stats, ok := loader.History(m.Name); ok {
				field(out, "Runs", fmt.Sprintf("%d ok, %d failed", stats.Successes, stats.Failures))
				if stats.LastRun != nil {
					field(out, "Last run", fmt.Sprintf("%s (%s)", stats.LastRun.Local().Format("2006-01-02 15:04:05"), stats.LastStatus))
				}
			}

			if help, ok := loader.Help(m.Name); ok && help != "" {
				fmt.Fprintf(out, "\n%s\n", strings.TrimRight(help, "\n"))
			}
			return nil
		}),
	}
}

func newExtensionsRunCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <name> [args...]",
		Short: "Verify, load and run an extension",
		Long: `Verify, load and run an extension.

Arguments after the extension name are passed to it unchanged. The process
exits with the status the extension returned.`,
		Example: `  saorsa extensions run hello
  saorsa extensions run hello --name world`,
		Args:        cobra.MinimumNArgs(1),
		Annotations: map[string]string{operationAnnotation: "run extension"},
		RunE: app.wrap(func(cmd *cobra.Command, args []string) error {
			code, err := app.extensionLoader().Execute(cmd.Context(), args[0], args[1:])
			return extensionExit(code, err)
		}),
	}
	cmd.Flags().SetInterspersed(false)
	return cmd
}

// extensionExit turns an extension's status into an ExitError. A plain
// non-zero status passes through silently; the extension reported it.
func extensionExit(code int, err error) error {
	if err == nil {
		return nil
	}
	var execErr *extension.ExecError
	if errors.As(err, &execErr) && execErr.Err == nil {
		if code < 1 || code > 255 {
			code = ExitGeneral
		}
		return &ExitError{Code: code}
	}
	return err
}

func newExtensionsRefreshCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Rescan the search paths and report what changed",
		Args:  cobra.NoArgs,
		RunE: app.wrap(func(cmd *cobra.Command, _ []string) error {
			loader := app.extensionLoader()
			res := loader.Refresh()
			printRefresh(cmd.OutOrStdout(), res, len(loader.Available()))
			printDiagnostics(cmd.ErrOrStderr(), loader.Diagnostics(), app.flags.verbose)
			return nil
		}),
	}
}

func newExtensionsPathsCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "Show the extension search paths in priority order",
		Args:  cobra.NoArgs,
		RunE: app.wrap(func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			for i, p := range app.searchPaths() {
				status := SuccessStyle.Render("✓")
				if _, err := os.Stat(p); err != nil {
					status = SubtitleStyle.Render("-")
				}
				fmt.Fprintf(out, "%d. %s %s\n", i+1, status, p)
			}
			return nil
		}),
	}
}

func newExtensionsWatchCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Rescan the search paths whenever manifests or libraries change",
		Long: `Rescan the search paths whenever manifests or libraries change.

Runs until interrupted. Search paths that do not exist when watching starts
are skipped.`,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{noNoticeAnnotation: "true", operationAnnotation: "watch extensions"},
		RunE: app.wrap(func(cmd *cobra.Command, _ []string) error {
			loader := app.extensionLoader()
			out := cmd.OutOrStdout()

			w, err := watch.New(watch.Config{
				Roots:  loader.SearchPaths(),
				Logger: app.logger.WithPrefix("watch"),
				OnChange: func(_ context.Context, _ []string) error {
					printRefresh(out, loader.Refresh(), len(loader.Available()))
					printDiagnostics(cmd.ErrOrStderr(), loader.Diagnostics(), app.flags.verbose)
					return nil
				},
			})
			if err != nil {
				return err
			}

			for _, skipped := range w.Skipped() {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s %s does not exist, not watching it\n", WarningStyle.Render("!"), skipped)
			}
			fmt.Fprintf(out, "Watching %d search paths for extension changes. Press Ctrl+C to stop.\n", len(w.Roots()))

			if err := w.Run(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		}),
	}
}

func printRefresh(w io.Writer, res extension.RefreshResult, total int) {
	for _, name := range res.Added {
		fmt.Fprintf(w, "%s %s\n", SuccessStyle.Render("+"), name)
	}
	for _, name := range res.Removed {
		fmt.Fprintf(w, "%s %s\n", ErrorStyle.Render("-"), name)
	}
	fmt.Fprintf(w, "%d extensions available (%d added, %d removed)\n", total, len(res.Added), len(res.Removed))
}

// printDiagnostics writes discovery findings. Without verbose, only errors
// are listed and warnings are summarized.
func printDiagnostics(w io.Writer, diags []extension.Diagnostic, verbose bool) {
	warnings := 0
	for _, d := range diags {
		if d.Severity != extension.SeverityError && !verbose {
			warnings++
			continue
		}
		style := WarningStyle
		if d.Severity == extension.SeverityError {
			style = ErrorStyle
		}
		fmt.Fprintf(w, "%s %s\n", style.Render(string(d.Severity)+":"), d.Message)
		if verbose && d.Cause != nil {
			fmt.Fprintf(w, "  %s\n", SubtitleStyle.Render(d.Cause.Error()))
		}
	}
	if warnings > 0 {
		fmt.Fprintln(w, SubtitleStyle.Render(fmt.Sprintf("%d discovery warnings, rerun with --verbose to see them", warnings)))
	}
}

func field(w io.Writer, label, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(w, "%s %s\n", labelStyle.Render(label+":"), value)
}

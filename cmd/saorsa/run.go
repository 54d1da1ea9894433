// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dirvine/saorsa-cli/internal/selfupdate"
	"github.com/dirvine/saorsa-cli/internal/tools"

	"github.com/spf13/cobra"
)

// newRunCommand creates `saorsa run`, which launches a companion tool,
// downloading it from the latest release on first use.
func newRunCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [tool] [args...]",
		Short: "Run a companion tool (sb, sdisk)",
		Long: `Run a companion tool (sb, sdisk).

Tools are taken from the download cache, or from PATH with --prefer-system.
A missing tool is downloaded from the latest release and verified against
its CHECKSUMS.txt when the release publishes one. The wrapped system tools
fd and rg are always taken from PATH. Without a tool name the known tools
are listed.`,
		Example: `  saorsa run sb
  saorsa run sdisk /var/log
  saorsa run --force-download sb`,
		Annotations: map[string]string{operationAnnotation: "run tool"},
		RunE: app.wrap(func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				listTools(app, cmd)
				return nil
			}

			resolver, err := app.toolResolver()
			if err != nil {
				return err
			}
			code, err := resolver.Run(cmd.Context(), args[0], args[1:])
			if err != nil {
				return err
			}
			if code != 0 {
				return &ExitError{Code: code}
			}
			return nil
		}),
	}
	cmd.Flags().SetInterspersed(false)
	return cmd
}

// toolResolver builds a Resolver from the effective configuration.
func (a *App) toolResolver() (*tools.Resolver, error) {
	target, err := selfupdate.DetectTarget()
	if err != nil {
		return nil, err
	}
	cacheDir, err := a.resolveCacheDir()
	if err != nil {
		return nil, err
	}
	return &tools.Resolver{
		Client:        a.client(),
		CacheDir:      cacheDir,
		Target:        target,
		PreferSystem:  a.cfg.Behavior.UseSystemBinaries,
		ForceDownload: a.cfg.Behavior.ForceDownload,
		Store:         a.state,
		Logger:        a.logger.WithPrefix("tools"),
	}, nil
}

func listTools(app *App, cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	var installed map[string]string
	if app.state != nil {
		installed = app.state.Read().InstalledVersions
	}

	for _, t := range tools.Known() {
		line := fmt.Sprintf("%s %s  %s", TitleStyle.Render(t.Name), SubtitleStyle.Render("("+strings.Join(t.Aliases, ", ")+")"), t.Description)
		if v, ok := installed[t.Name]; ok {
			line += SubtitleStyle.Render("  installed " + v)
		}
		fmt.Fprintln(out, line)
	}
	for _, t := range tools.Wrapped() {
		fmt.Fprintf(out, "%s %s  %s%s\n", TitleStyle.Render(t.Name), SubtitleStyle.Render("("+strings.Join(t.Aliases, ", ")+")"), t.Description, SubtitleStyle.Render("  from PATH"))
	}
	if dir, err := app.resolveCacheDir(); err == nil {
		fmt.Fprintln(out, SubtitleStyle.Render("\nDownloaded tools live in "+filepath.Join(dir, "binaries")))
	}
}

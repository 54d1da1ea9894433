// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/dirvine/saorsa-cli/internal/config"

	"github.com/spf13/cobra"
)

// newConfigCommand creates the `saorsa config` command tree.
func newConfigCommand(app *App) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage saorsa configuration",
		Long: `Manage saorsa configuration.

Configuration is stored in:
  - Linux: ~/.config/saorsa-cli/config.cue
  - macOS: ~/Library/Application Support/saorsa-cli/config.cue
  - Windows: %APPDATA%\saorsa-cli\config.cue

Every setting can also be given as a SAORSA_ environment variable, for
example SAORSA_UPDATE_AUTO_CHECK=false.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cfgCmd.AddCommand(&cobra.Command{
		Use:         "show",
		Short:       "Show the effective configuration",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{noNoticeAnnotation: "true"},
		RunE: app.wrap(func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			source := app.cfgPath
			if source == "" {
				source = "built-in defaults (no config file)"
			}
			fmt.Fprintln(out, SubtitleStyle.Render("# Source: "+source))
			fmt.Fprint(out, config.GenerateCUE(app.cfg))
			return nil
		}),
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:         "init",
		Short:       "Create the default configuration file",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{noConfigAnnotation: "true", operationAnnotation: "create configuration"},
		RunE: app.wrap(func(cmd *cobra.Command, _ []string) error {
			path, err := app.configFilePath()
			if err != nil {
				return err
			}
			created, err := config.CreateDefaultConfig(path)
			if err != nil {
				return err
			}
			if !created {
				fmt.Fprintf(cmd.OutOrStdout(), "Configuration already exists at %s\n", path)
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), SuccessStyle.Render("Created "+path))
			return nil
		}),
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:         "path",
		Short:       "Show the configuration file path",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{noConfigAnnotation: "true"},
		RunE: app.wrap(func(cmd *cobra.Command, _ []string) error {
			path, err := app.configFilePath()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		}),
	})

	return cfgCmd
}

// configFilePath is the --config file, or config.cue in the config directory.
func (a *App) configFilePath() (string, error) {
	if a.flags.configPath != "" {
		return a.flags.configPath, nil
	}
	if a.configDir != "" {
		return filepath.Join(a.configDir, config.ConfigFileName+"."+config.ConfigFileExt), nil
	}
	return config.DefaultConfigPath()
}

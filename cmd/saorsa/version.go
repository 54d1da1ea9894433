// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"runtime"

	"github.com/dirvine/saorsa-cli/internal/selfupdate"

	"github.com/spf13/cobra"
)

func newVersionCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Show version, platform and install details",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{noConfigAnnotation: "true"},
		RunE: app.wrap(func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, TitleStyle.Render("saorsa")+" "+getVersionString())

			platform := runtime.GOOS + "/" + runtime.GOARCH
			if t, err := selfupdate.DetectTarget(); err == nil {
				platform += " (" + t.Triple() + ")"
			}
			field(out, "Platform", platform)
			field(out, "Go", runtime.Version())

			exe, err := selfupdate.NewUpdater(app.version, selfupdate.WithExecutablePath(app.execPath)).ExecutablePath()
			if err == nil {
				field(out, "Executable", exe)
				field(out, "Installed via", selfupdate.DetectInstallMethod(exe).String())
			}
			return nil
		}),
	}
}

// SPDX-License-Identifier: MPL-2.0

//go:build windows

package selfupdate

import (
	"os"
	"os/exec"
)

//nolint:gochecknoglobals // Test seam for os.Exit.
var exitFunc = os.Exit

type platformRestarter struct{}

// Restart starts exe with the same stdio and exits the current process.
// A running executable cannot be replaced in place on Windows.
func (platformRestarter) Restart(exe string, args []string) error {
	cmd := exec.Command(exe, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = os.Environ()
	if err := cmd.Start(); err != nil {
		return err
	}
	exitFunc(0)
	return nil
}

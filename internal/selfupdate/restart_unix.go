// SPDX-License-Identifier: MPL-2.0

//go:build !windows

package selfupdate

import (
	"os"
	"syscall"
)

//nolint:gochecknoglobals // Test seam for syscall.Exec.
var execFunc = syscall.Exec

type platformRestarter struct{}

// Restart replaces the process image. argv[0] is exe.
func (platformRestarter) Restart(exe string, args []string) error {
	argv := append([]string{exe}, args...)
	return execFunc(exe, argv, os.Environ())
}

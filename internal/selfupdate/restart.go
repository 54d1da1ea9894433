// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"fmt"
	"os"
	"slices"
)

// Restarter starts exe in place of the current process.
type Restarter interface {
	Restart(exe string, args []string) error
}

// DefaultRestarter returns the strategy for this platform: exec(2) on unix,
// spawn-and-exit on Windows.
func DefaultRestarter() Restarter {
	return platformRestarter{}
}

// OriginalArgs returns the arguments this process was started with, without
// the program name.
func OriginalArgs() []string {
	if len(os.Args) < 2 {
		return nil
	}
	return slices.Clone(os.Args[1:])
}

// Restart relaunches the executable at exe through r with args, normally
// OriginalArgs. A nil r uses DefaultRestarter. On success with the default
// strategy it does not return.
func Restart(r Restarter, exe string, args []string) error {
	if r == nil {
		r = DefaultRestarter()
	}
	if err := r.Restart(exe, args); err != nil {
		return fmt.Errorf("restarting %s: %w", exe, err)
	}
	return nil
}

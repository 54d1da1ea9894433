// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"

	"github.com/dirvine/saorsa-cli/internal/checksum"
	"github.com/dirvine/saorsa-cli/internal/extension"
	"github.com/dirvine/saorsa-cli/internal/selfupdate"
	"github.com/dirvine/saorsa-cli/internal/tools"
)

// Process exit codes.
const (
	ExitGeneral       = 1
	ExitUsage         = 2
	ExitNetwork       = 3
	ExitIntegrity     = 4
	ExitManualInstall = 5
)

// errUsage marks invalid invocations that cobra cannot detect itself.
var errUsage = errors.New("usage error")

// ExitError carries a process exit code out of a RunE handler. A nil Err
// means the failure was already reported, for example by an extension or
// tool that exited non-zero.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

// Unwrap returns the underlying error, if any.
func (e *ExitError) Unwrap() error {
	return e.Err
}

// classifyExitCode maps an error to its process exit code. Manual
// reinstall wins over everything because it is the only failure that leaves
// the installation broken.
func classifyExitCode(err error) int {
	var exitErr *ExitError
	var rateErr *selfupdate.RateLimitError

	switch {
	case err == nil:
		return 0
	case errors.As(err, &exitErr) && exitErr.Err == nil:
		return exitErr.Code
	case errors.Is(err, selfupdate.ErrManualReinstall):
		return ExitManualInstall
	case errors.Is(err, checksum.ErrMismatch),
		errors.Is(err, extension.ErrIntegrityViolation),
		errors.Is(err, selfupdate.ErrChecksumNotFound),
		errors.Is(err, selfupdate.ErrChecksumManifestMissing):
		return ExitIntegrity
	case errors.Is(err, selfupdate.ErrNetwork), errors.As(err, &rateErr):
		return ExitNetwork
	case errors.Is(err, errUsage),
		errors.Is(err, tools.ErrUnknownTool),
		errors.Is(err, selfupdate.ErrInvalidVersion),
		errors.Is(err, selfupdate.ErrUnsupportedPlatform):
		return ExitUsage
	case errors.As(err, &exitErr):
		return exitErr.Code
	default:
		return ExitGeneral
	}
}

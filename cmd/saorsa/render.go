// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"

	"github.com/dirvine/saorsa-cli/internal/checksum"
	"github.com/dirvine/saorsa-cli/internal/extension"
	"github.com/dirvine/saorsa-cli/internal/issue"
	"github.com/dirvine/saorsa-cli/internal/selfupdate"
	"github.com/dirvine/saorsa-cli/internal/tools"

	"github.com/spf13/cobra"
)

// operationAnnotation overrides the operation named in error messages.
const operationAnnotation = "saorsa.operation"

// wrap reports a failing handler's error on stderr and converts it into an
// ExitError carrying the classified exit code.
func (a *App) wrap(fn func(*cobra.Command, []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := fn(cmd, args)
		if err == nil {
			return nil
		}
		cmd.SilenceErrors = true
		cmd.SilenceUsage = true

		var exitErr *ExitError
		if errors.As(err, &exitErr) && exitErr.Err == nil {
			return exitErr
		}
		fmt.Fprintf(a.stderr, "%s %s\n", ErrorStyle.Render("Error:"), formatErrorForDisplay(explain(err, operation(cmd)), a.flags.verbose))
		return &ExitError{Code: classifyExitCode(err)}
	}
}

// formatErrorForDisplay formats an error for user display.
// If the error is an ActionableError, it uses the Format method.
// In verbose mode, shows the full error chain.
func formatErrorForDisplay(err error, verboseMode bool) string {
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return ae.Format(verboseMode)
	}
	return err.Error()
}

// operation names what cmd was doing, for "failed to <operation>" messages.
func operation(cmd *cobra.Command) string {
	if op := cmd.Annotations[operationAnnotation]; op != "" {
		return op
	}
	return "run '" + cmd.CommandPath() + "'"
}

// explain names the failed operation and attaches catalogued suggestions to
// well-known failures. Errors that are already actionable pass through.
func explain(err error, op string) error {
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return err
	}

	ec := issue.NewErrorContext().WithOperation(op).Wrap(err)
	if id, ok := classifyIssue(err); ok {
		ec.WithIssue(id)
	}
	return ec.BuildError()
}

func classifyIssue(err error) (issue.Id, bool) {
	var rateErr *selfupdate.RateLimitError

	switch {
	case errors.Is(err, selfupdate.ErrManualReinstall):
		return issue.ManualReinstallId, true
	case errors.Is(err, selfupdate.ErrReplacementFailed):
		return issue.ReplacementFailedId, true
	case errors.Is(err, extension.ErrIntegrityViolation), errors.Is(err, checksum.ErrMismatch):
		return issue.IntegrityViolationId, true
	case errors.Is(err, extension.ErrManifestNotFound):
		return issue.ExtensionNotFoundId, true
	case errors.Is(err, extension.ErrMalformedManifest), errors.Is(err, extension.ErrInvalidDigestFormat):
		return issue.ManifestInvalidId, true
	case errors.Is(err, extension.ErrLoadFailure), errors.Is(err, extension.ErrNativeUnsupported):
		return issue.ExtensionLoadFailedId, true
	case errors.As(err, &rateErr):
		return issue.RateLimitedId, true
	case errors.Is(err, selfupdate.ErrNetwork):
		return issue.NetworkUnavailableId, true
	case errors.Is(err, selfupdate.ErrUnsupportedPlatform):
		return issue.UnsupportedPlatformId, true
	case errors.Is(err, selfupdate.ErrChecksumNotFound), errors.Is(err, selfupdate.ErrChecksumManifestMissing):
		return issue.ChecksumUnavailableId, true
	case errors.Is(err, selfupdate.ErrUpdateInProgress):
		return issue.UpdateInProgressId, true
	case errors.Is(err, tools.ErrUnknownTool):
		return issue.ToolNotFoundId, true
	case errors.Is(err, tools.ErrToolNotInstalled):
		return issue.ToolNotInstalledId, true
	default:
		return 0, false
	}
}

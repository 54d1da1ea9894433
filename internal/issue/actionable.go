// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"errors"
	"fmt"
	"strings"
)

type (
	// ActionableError describes a failure in terms a user can act on.
	//
	//	return issue.NewErrorContext().
	//		WithOperation("load extension").
	//		WithResource(name).
	//		WithIssue(issue.IntegrityViolationId).
	//		Wrap(err).
	//		BuildError()
	ActionableError struct {
		// Operation is a verb phrase such as "load extension".
		Operation string
		// Resource is the file, extension or release involved. Optional.
		Resource string
		// Suggestions are remediation hints shown below the message.
		Suggestions []string
		// Cause is the underlying error.
		Cause error
	}

	// ErrorContext accumulates the fields of an ActionableError.
	ErrorContext struct {
		operation   string
		resource    string
		suggestions []string
		cause       error
	}
)

// NewErrorContext returns an empty builder.
func NewErrorContext() *ErrorContext {
	return &ErrorContext{}
}

// Wrap returns an ActionableError for err, or nil when err is nil.
func Wrap(err error, operation, resource string, suggestions ...string) *ActionableError {
	if err == nil {
		return nil
	}
	return &ActionableError{
		Operation:   operation,
		Resource:    resource,
		Suggestions: suggestions,
		Cause:       err,
	}
}

// Error renders "failed to <operation>[: <resource>][: <cause>]".
func (e *ActionableError) Error() string {
	var b strings.Builder
	b.WriteString("failed to ")
	b.WriteString(e.Operation)
	if e.Resource != "" {
		b.WriteString(": ")
		b.WriteString(e.Resource)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the cause.
func (e *ActionableError) Unwrap() error {
	return e.Cause
}

// HasSuggestions reports whether any hint is attached.
func (e *ActionableError) HasSuggestions() bool {
	return len(e.Suggestions) > 0
}

// Format renders the message followed by the suggestions as a bullet list.
// In verbose mode the unwrapped cause chain is appended.
func (e *ActionableError) Format(verbose bool) string {
	var b strings.Builder
	b.WriteString(e.Error())

	if len(e.Suggestions) > 0 {
		b.WriteString("\n")
		for _, s := range e.Suggestions {
			b.WriteString("\n  • ")
			b.WriteString(s)
		}
	}

	if verbose && e.Cause != nil {
		b.WriteString("\n\nCaused by:")
		for i, err := 1, e.Cause; err != nil; i, err = i+1, errors.Unwrap(err) {
			fmt.Fprintf(&b, "\n  %d. %s", i, err)
		}
	}
	return b.String()
}

// WithOperation sets the failed operation.
func (c *ErrorContext) WithOperation(op string) *ErrorContext {
	c.operation = op
	return c
}

// WithResource sets the resource involved.
func (c *ErrorContext) WithResource(res string) *ErrorContext {
	c.resource = res
	return c
}

// WithSuggestion appends hints.
func (c *ErrorContext) WithSuggestion(s ...string) *ErrorContext {
	c.suggestions = append(c.suggestions, s...)
	return c
}

// WithIssue appends the catalogued hints for id. Unknown ids add nothing.
func (c *ErrorContext) WithIssue(id Id) *ErrorContext {
	if is := Get(id); is != nil {
		c.suggestions = append(c.suggestions, is.Suggestions()...)
	}
	return c
}

// Wrap sets the cause.
func (c *ErrorContext) Wrap(err error) *ErrorContext {
	c.cause = err
	return c
}

// Build returns the ActionableError, or nil when no operation was set.
func (c *ErrorContext) Build() *ActionableError {
	if c.operation == "" {
		return nil
	}
	return &ActionableError{
		Operation:   c.operation,
		Resource:    c.resource,
		Suggestions: append([]string(nil), c.suggestions...),
		Cause:       c.cause,
	}
}

// BuildError is Build returned as an error, so a missing operation yields
// an untyped nil rather than a typed nil pointer.
func (c *ErrorContext) BuildError() error {
	if ae := c.Build(); ae != nil {
		return ae
	}
	return nil
}

// SPDX-License-Identifier: MPL-2.0

package extension

import (
	"errors"
	"fmt"
)

var (
	// ErrManifestNotFound is returned when no manifest is registered under a name.
	ErrManifestNotFound = errors.New("extension manifest not found")

	// ErrMalformedManifest is returned when a manifest cannot be decoded or
	// lacks a required field.
	ErrMalformedManifest = errors.New("malformed extension manifest")

	// ErrInvalidDigestFormat is returned when a manifest digest is not 64
	// lowercase hex characters.
	ErrInvalidDigestFormat = errors.New("invalid digest format")

	// ErrIntegrityViolation is returned when a library does not match the
	// digest its manifest declares, or when no digest is declared at all.
	ErrIntegrityViolation = errors.New("extension integrity violation")

	// ErrLoadFailure is returned when the native loader cannot open a library
	// or resolve its entry symbol.
	ErrLoadFailure = errors.New("extension load failure")

	// ErrDuplicateName is returned by LoadManifest when another manifest is
	// already registered under the same name. Discovery records duplicates as
	// diagnostics instead.
	ErrDuplicateName = errors.New("duplicate extension name")

	// ErrNotLoaded is returned by Unload for a name that is not loaded.
	ErrNotLoaded = errors.New("extension not loaded")

	// ErrExtensionBusy is returned by Unload while an invocation is running.
	ErrExtensionBusy = errors.New("extension invocation in progress")

	// ErrExtensionFailed is matched by every *ExecError.
	ErrExtensionFailed = errors.New("extension invocation failed")

	// ErrNativeUnsupported is returned by the native loader on platforms that
	// cannot load shared libraries.
	ErrNativeUnsupported = errors.New("native extensions are not supported on this platform")
)

type (
	// ManifestError describes a manifest rejected at parse or validation time.
	ManifestError struct {
		Path  string // Manifest file, empty for manifests built in code
		Field string // Offending field, empty for decode errors
		Err   error
	}

	// DigestMissingError is returned for a manifest with no sha256 field.
	// It matches both ErrMalformedManifest and ErrIntegrityViolation.
	DigestMissingError struct {
		Path string
		Name string
	}

	// IntegrityError is returned when a library's digest differs from its
	// manifest. Err carries the checksum details.
	IntegrityError struct {
		Name string
		Path string
		Err  error
	}

	// LoadError wraps a native loader failure with the library and symbol.
	LoadError struct {
		Path   string
		Symbol string
		Err    error
	}

	// ExecError reports a failed invocation: either the entry point returned
	// a non-zero status or the call itself failed.
	ExecError struct {
		Name     string
		ExitCode int
		Err      error
	}
)

func (e *ManifestError) Error() string {
	where := e.Path
	if where == "" {
		where = "manifest"
	}
	if e.Field != "" {
		return fmt.Sprintf("%s: field %q: %v", where, e.Field, e.Err)
	}
	return fmt.Sprintf("%s: %v", where, e.Err)
}

func (e *ManifestError) Unwrap() error { return e.Err }

func (e *DigestMissingError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: sha256 digest is required", e.Path)
	}
	return fmt.Sprintf("extension %q: sha256 digest is required", e.Name)
}

// Is reports whether target is one of the two classes a missing digest belongs to.
func (e *DigestMissingError) Is(target error) bool {
	return target == ErrMalformedManifest || target == ErrIntegrityViolation
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("extension %q: %v", e.Name, e.Err)
}

// Is matches ErrIntegrityViolation.
func (e *IntegrityError) Is(target error) bool { return target == ErrIntegrityViolation }

func (e *IntegrityError) Unwrap() error { return e.Err }

func (e *LoadError) Error() string {
	if e.Symbol != "" {
		return fmt.Sprintf("loading %s: resolving symbol %s: %v", e.Path, e.Symbol, e.Err)
	}
	return fmt.Sprintf("loading %s: %v", e.Path, e.Err)
}

// Is matches ErrLoadFailure.
func (e *LoadError) Is(target error) bool { return target == ErrLoadFailure }

func (e *LoadError) Unwrap() error { return e.Err }

func (e *ExecError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extension %q failed: %v", e.Name, e.Err)
	}
	return fmt.Sprintf("extension %q exited with status %d", e.Name, e.ExitCode)
}

// Is matches ErrExtensionFailed.
func (e *ExecError) Is(target error) bool { return target == ErrExtensionFailed }

func (e *ExecError) Unwrap() error { return e.Err }

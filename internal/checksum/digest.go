// SPDX-License-Identifier: MPL-2.0

package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// DigestLength is the length of a hex-encoded SHA256 digest.
const DigestLength = sha256.Size * 2

// ErrMismatch indicates a computed digest does not match the expected one.
var ErrMismatch = errors.New("checksum mismatch")

// MismatchError carries both digests of a failed verification.
// It wraps ErrMismatch so callers can classify it with errors.Is.
type MismatchError struct {
	Path     string
	Expected string
	Actual   string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("checksum verification failed for %s\nExpected: %s\nGot:      %s", e.Path, e.Expected, e.Actual)
}

// Unwrap returns ErrMismatch.
func (e *MismatchError) Unwrap() error { return ErrMismatch }

// ComputeFile returns the lowercase hex SHA256 digest of the file at path.
func ComputeFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }() // read-only handle

	return Compute(f)
}

// Compute returns the lowercase hex SHA256 digest of everything read from r.
func Compute(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("hashing: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verify reports whether the file at path has the expected digest.
// A non-nil error means the file could not be read, not that it differs.
func Verify(path, expected string) (bool, error) {
	actual, err := ComputeFile(path)
	if err != nil {
		return false, err
	}
	return strings.EqualFold(actual, strings.TrimSpace(expected)), nil
}

// VerifyFile is Verify for callers that treat a mismatch as an error.
// It returns a *MismatchError when the digests differ.
func VerifyFile(path, expected string) error {
	actual, err := ComputeFile(path)
	if err != nil {
		return err
	}
	expected = strings.ToLower(strings.TrimSpace(expected))
	if actual != expected {
		return &MismatchError{Path: path, Expected: expected, Actual: actual}
	}
	return nil
}

// IsValidDigest reports whether s is a 64 character lowercase hex string.
func IsValidDigest(s string) bool {
	if len(s) != DigestLength {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

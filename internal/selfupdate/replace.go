// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
)

// BackupSuffix is appended to the executable path to name its backup.
const BackupSuffix = ".old"

var (
	// ErrReplacementFailed is matched by every *ReplacementError.
	ErrReplacementFailed = errors.New("binary replacement failed")

	// ErrManualReinstall is matched by a *ReplacementError whose restore step
	// also failed, leaving no working binary at the original path.
	ErrManualReinstall = errors.New("manual reinstall required")

	// ErrCurrentMissing is returned by ReplaceBinary when there is no binary
	// at the current path. An existing backup is then the last good copy
	// and is left alone.
	ErrCurrentMissing = errors.New("current binary is missing; run 'saorsa rollback' to restore the backup")

	// ErrNoBackup is returned by Rollback when there is nothing to restore.
	ErrNoBackup = errors.New("no backup binary to restore")
)

type (
	// ReplacementTransaction records one swap of the running executable.
	ReplacementTransaction struct {
		Current    string
		Candidate  string
		Backup     string
		Completed  bool
		RolledBack bool
		Err        error
	}

	// ReplacementError reports a failed swap. RollbackErr is set when the
	// backup could not be moved back either.
	ReplacementError struct {
		Tx          *ReplacementTransaction
		Err         error
		RollbackErr error
	}
)

func (e *ReplacementError) Error() string {
	if e.RollbackErr != nil {
		return fmt.Sprintf("replacing %s: %v; restoring backup %s also failed: %v",
			e.Tx.Current, e.Err, e.Tx.Backup, e.RollbackErr)
	}
	return fmt.Sprintf("replacing %s: %v", e.Tx.Current, e.Err)
}

// Is matches ErrReplacementFailed, and ErrManualReinstall when the restore failed.
func (e *ReplacementError) Is(target error) bool {
	if target == ErrReplacementFailed {
		return true
	}
	return target == ErrManualReinstall && e.ManualReinstall()
}

func (e *ReplacementError) Unwrap() error { return e.Err }

// ManualReinstall reports whether the user must reinstall by hand.
func (e *ReplacementError) ManualReinstall() bool {
	return e.RollbackErr != nil
}

// BackupPath returns the backup location for the executable at current.
func BackupPath(current string) string {
	return current + BackupSuffix
}

// ReplaceBinary swaps candidate into current, keeping the previous binary at
// backup. Any stale backup is removed first, unless current is missing. When
// copying the candidate fails the backup is moved back so current keeps
// working.
func ReplaceBinary(current, candidate, backup string) (*ReplacementTransaction, error) {
	tx := &ReplacementTransaction{Current: current, Candidate: candidate, Backup: backup}

	fail := func(err, rollbackErr error) (*ReplacementTransaction, error) {
		tx.Err = err
		return tx, &ReplacementError{Tx: tx, Err: err, RollbackErr: rollbackErr}
	}

	if _, err := os.Lstat(current); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			err = fmt.Errorf("%w: %s", ErrCurrentMissing, current)
		}
		return fail(err, nil)
	}

	if err := os.Remove(backup); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fail(fmt.Errorf("removing stale backup: %w", err), nil)
	}

	if err := os.Rename(current, backup); err != nil {
		return fail(fmt.Errorf("backing up current binary: %w", err), nil)
	}

	if err := installCopy(candidate, current); err != nil {
		_ = os.Remove(current) // partial copy
		if rbErr := os.Rename(backup, current); rbErr != nil {
			return fail(err, rbErr)
		}
		tx.RolledBack = true
		return fail(err, nil)
	}

	tx.Completed = true
	return tx, nil
}

// installCopy writes candidate to dest with mode 0755.
func installCopy(candidate, dest string) error {
	src, err := os.Open(candidate)
	if err != nil {
		return fmt.Errorf("opening new binary: %w", err)
	}
	defer func() { _ = src.Close() }() // read-only

	dst, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o755)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dest, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return fmt.Errorf("installing new binary: %w", err)
	}
	if err := dst.Sync(); err != nil {
		_ = dst.Close()
		return fmt.Errorf("syncing new binary: %w", err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("closing new binary: %w", err)
	}
	if err := chmod(dest, 0o755); err != nil {
		return fmt.Errorf("setting permissions: %w", err)
	}
	return nil
}

// Rollback restores backup over current.
func Rollback(current, backup string) error {
	if _, err := os.Stat(backup); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNoBackup, backup)
		}
		return fmt.Errorf("checking backup: %w", err)
	}

	if err := os.Remove(current); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing current binary: %w", err)
	}
	if err := os.Rename(backup, current); err != nil {
		return fmt.Errorf("restoring %s: %w", backup, err)
	}
	return nil
}

// chmod is a test seam for os.Chmod.
//
//nolint:gochecknoglobals // Test seam requires a package-level variable.
var chmod = os.Chmod

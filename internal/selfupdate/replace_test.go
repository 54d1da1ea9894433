// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

// swapFixture creates current, candidate and the backup path in one directory.
func swapFixture(t *testing.T) (current, candidate, backup string) {
	t.Helper()

	dir := t.TempDir()
	current = writeTestFile(t, filepath.Join(dir, "saorsa"), []byte("old"))
	candidate = writeTestFile(t, filepath.Join(dir, "saorsa.new"), []byte("new"))
	return current, candidate, BackupPath(current)
}

func TestReplaceBinary_Success(t *testing.T) {
	t.Parallel()

	current, candidate, backup := swapFixture(t)

	tx, err := ReplaceBinary(current, candidate, backup)
	if err != nil {
		t.Fatalf("ReplaceBinary: %v", err)
	}
	if !tx.Completed || tx.RolledBack || tx.Err != nil {
		t.Errorf("unexpected transaction state %+v", tx)
	}
	if got := readFile(t, current); string(got) != "new" {
		t.Errorf("current = %q, want new", got)
	}
	if got := readFile(t, backup); string(got) != "old" {
		t.Errorf("backup = %q, want old", got)
	}
}

func TestReplaceBinary_RemovesStaleBackup(t *testing.T) {
	t.Parallel()

	current, candidate, backup := swapFixture(t)
	writeTestFile(t, backup, []byte("ancient"))

	if _, err := ReplaceBinary(current, candidate, backup); err != nil {
		t.Fatalf("ReplaceBinary: %v", err)
	}
	if got := readFile(t, backup); string(got) != "old" {
		t.Errorf("backup = %q, want old", got)
	}
}

func TestReplaceBinary_KeepsBackupWhenCurrentMissing(t *testing.T) {
	t.Parallel()

	current, candidate, backup := swapFixture(t)
	writeTestFile(t, backup, []byte("last good"))
	if err := os.Remove(current); err != nil {
		t.Fatal(err)
	}

	tx, err := ReplaceBinary(current, candidate, backup)
	if !errors.Is(err, ErrCurrentMissing) || !errors.Is(err, ErrReplacementFailed) {
		t.Fatalf("expected ErrCurrentMissing, got %v", err)
	}
	if errors.Is(err, ErrManualReinstall) || tx.Completed {
		t.Errorf("unexpected transaction state %+v", tx)
	}
	if got := readFile(t, backup); string(got) != "last good" {
		t.Errorf("backup = %q, want it untouched", got)
	}
	if _, statErr := os.Stat(current); !errors.Is(statErr, fs.ErrNotExist) {
		t.Errorf("current should still be absent, stat err = %v", statErr)
	}
}

func TestReplaceBinary_RestoresOnCopyFailure(t *testing.T) {
	t.Parallel()

	current, _, backup := swapFixture(t)
	missing := filepath.Join(filepath.Dir(current), "does-not-exist")

	tx, err := ReplaceBinary(current, missing, backup)
	if !errors.Is(err, ErrReplacementFailed) {
		t.Fatalf("expected ErrReplacementFailed, got %v", err)
	}
	if errors.Is(err, ErrManualReinstall) {
		t.Error("restore succeeded, manual reinstall must not be reported")
	}
	if !tx.RolledBack || tx.Completed {
		t.Errorf("unexpected transaction state %+v", tx)
	}
	if got := readFile(t, current); string(got) != "old" {
		t.Errorf("current = %q, want old", got)
	}
	if _, statErr := os.Stat(backup); !errors.Is(statErr, fs.ErrNotExist) {
		t.Errorf("backup should have been moved back, stat err = %v", statErr)
	}
}

func TestReplaceBinary_FailedRestoreNeedsManualReinstall(t *testing.T) {
	// Not parallel: overrides the chmod seam.

	current, candidate, backup := swapFixture(t)

	saved := chmod
	t.Cleanup(func() { chmod = saved })
	chmod = func(string, os.FileMode) error {
		// Losing the backup mid-swap makes the restore impossible.
		_ = os.Remove(backup)
		return errors.New("operation not permitted")
	}

	_, err := ReplaceBinary(current, candidate, backup)
	if !errors.Is(err, ErrManualReinstall) {
		t.Fatalf("expected ErrManualReinstall, got %v", err)
	}
	var rerr *ReplacementError
	if !errors.As(err, &rerr) || !rerr.ManualReinstall() || rerr.RollbackErr == nil {
		t.Errorf("expected ReplacementError with RollbackErr, got %#v", err)
	}
}

func TestRollback_RestoresBackupExactly(t *testing.T) {
	t.Parallel()

	current, candidate, backup := swapFixture(t)
	if _, err := ReplaceBinary(current, candidate, backup); err != nil {
		t.Fatalf("ReplaceBinary: %v", err)
	}

	if err := Rollback(current, backup); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if got := readFile(t, current); string(got) != "old" {
		t.Errorf("current = %q, want old", got)
	}
	if _, err := os.Stat(backup); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("backup still present after rollback: %v", err)
	}
}

func TestRollback_NoBackup(t *testing.T) {
	t.Parallel()

	current, _, backup := swapFixture(t)
	if err := Rollback(current, backup); !errors.Is(err, ErrNoBackup) {
		t.Errorf("expected ErrNoBackup, got %v", err)
	}
	if got := readFile(t, current); string(got) != "old" {
		t.Errorf("current must be untouched, got %q", got)
	}
}

func TestBackupPath(t *testing.T) {
	t.Parallel()

	if got := BackupPath("/usr/local/bin/saorsa"); got != "/usr/local/bin/saorsa.old" {
		t.Errorf("BackupPath = %q", got)
	}
}

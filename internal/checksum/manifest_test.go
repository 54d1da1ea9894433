// SPDX-License-Identifier: MPL-2.0

package checksum

import (
	"errors"
	"strings"
	"testing"
	"testing/iotest"
)

func TestParseManifest_TwoEntries(t *testing.T) {
	t.Parallel()

	entries, err := ParseManifest(strings.NewReader("abc123  file1.tar.gz\n789xyz  file2.tar.gz\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2: %v", len(entries), entries)
	}
	if entries["file1.tar.gz"] != "abc123" {
		t.Errorf("file1.tar.gz -> %q, want abc123", entries["file1.tar.gz"])
	}
	if entries["file2.tar.gz"] != "789xyz" {
		t.Errorf("file2.tar.gz -> %q, want 789xyz", entries["file2.tar.gz"])
	}
}

func TestParseManifest_SkipsBlankAndMalformed(t *testing.T) {
	t.Parallel()

	input := "invalid_line_no_space\n" +
		"\n" +
		"abc123  valid.tar.gz\n" +
		"   \n" +
		"# comment  ignored.tar.gz\n" +
		"also_invalid\n" +
		"def456  \n"

	entries, err := ParseManifest(strings.NewReader(input))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1: %v", len(entries), entries)
	}
	if entries["valid.tar.gz"] != "abc123" {
		t.Errorf("valid.tar.gz -> %q, want abc123", entries["valid.tar.gz"])
	}
}

func TestParseManifest_SeparatorVariants(t *testing.T) {
	t.Parallel()

	input := "aaa file-single.tar.gz\n" +
		"bbb\tfile-tab.tar.gz\n" +
		"CCC *file-binary.tar.gz\n"

	entries, err := ParseManifest(strings.NewReader(input))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := map[string]string{
		"file-single.tar.gz": "aaa",
		"file-tab.tar.gz":    "bbb",
		"file-binary.tar.gz": "ccc",
	}
	for name, digest := range want {
		if entries[name] != digest {
			t.Errorf("%s -> %q, want %q", name, entries[name], digest)
		}
	}
}

func TestParseManifest_Empty(t *testing.T) {
	t.Parallel()

	entries, err := ParseManifest(strings.NewReader(""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no entries, got %v", entries)
	}
}

func TestParseManifest_ReaderError(t *testing.T) {
	t.Parallel()

	readErr := errors.New("connection reset")
	_, err := ParseManifest(iotest.ErrReader(readErr))
	if !errors.Is(err, readErr) {
		t.Fatalf("expected wrapped reader error, got %v", err)
	}
}

func TestLookup(t *testing.T) {
	t.Parallel()

	entries := map[string]string{"Saorsa-CLI-x86_64-unknown-linux-gnu.tar.gz": "abc"}

	if _, ok := Lookup(entries, "missing.tar.gz"); ok {
		t.Error("expected missing entry to be absent")
	}
	got, ok := Lookup(entries, "saorsa-cli-x86_64-unknown-linux-gnu.tar.gz")
	if !ok || got != "abc" {
		t.Errorf("Lookup = %q, %v; want abc, true", got, ok)
	}
}

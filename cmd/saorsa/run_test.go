// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestRunCommand_ListsTools(t *testing.T) {
	t.Parallel()

	app, stdout, _ := newTestApp(t, nil, "dev")

	if err := execute(t, app, "run"); err != nil {
		t.Fatalf("run: %v", err)
	}
	out := stdout.String()
	for _, want := range []string{"sb", "saorsa-browser", "sdisk", "saorsa-disk", "ripgrep", "from PATH", filepath.Join(app.cacheDir, "binaries")} {
		if !strings.Contains(out, want) {
			t.Errorf("tool list missing %q:\n%s", want, out)
		}
	}
}

func TestRunCommand_UnknownTool(t *testing.T) {
	t.Parallel()

	app, _, stderr := newTestApp(t, nil, "dev")

	err := execute(t, app, "run", "nope")
	assertExitCode(t, err, ExitUsage)
	if !strings.Contains(stderr.String(), "Available tools") {
		t.Errorf("stderr = %q", stderr.String())
	}
}

func TestRunCommand_CachedToolExitCode(t *testing.T) {
	t.Parallel()

	if runtime.GOOS == "windows" {
		t.Skip("the cached tool is a shell script")
	}

	app, _, _ := newTestApp(t, nil, "dev")
	bin := filepath.Join(app.cacheDir, "binaries", "sdisk")
	if err := os.MkdirAll(filepath.Dir(bin), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(bin, []byte("#!/bin/sh\n[ \"$1\" = \"--summary\" ] && exit 4\nexit 0\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	err := execute(t, app, "run", "sdisk", "--summary")
	assertExitCode(t, err, 4)

	if err := execute(t, app, "run", "saorsa-disk"); err != nil {
		t.Errorf("run by alias: %v", err)
	}
}

// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dirvine/saorsa-cli/internal/selfupdate"

	"golang.org/x/term"
)

// isInteractive reports whether stream is a terminal.
func isInteractive(stream any) bool {
	f, ok := stream.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// downloadProgress redraws a single percentage line on w.
func downloadProgress(w io.Writer) selfupdate.ProgressFunc {
	last := -1
	return func(done, total int64) {
		if total <= 0 {
			return
		}
		pct := int(done * 100 / total)
		if pct == last {
			return
		}
		last = pct
		fmt.Fprintf(w, "\r%s %3d%%", SubtitleStyle.Render("downloading"), pct)
		if done >= total {
			fmt.Fprintln(w)
		}
	}
}

// confirm asks question on out and reads a yes/no answer from in. Anything
// except "y" or "yes" declines.
func confirm(in io.Reader, out io.Writer, question string) (bool, error) {
	fmt.Fprintf(out, "%s %s ", question, SubtitleStyle.Render("[y/N]"))

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("reading answer: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// SPDX-License-Identifier: MPL-2.0

package checksum

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// maxManifestLine caps a single checksum manifest line.
const maxManifestLine = 64 << 10

// ParseManifest reads a checksum manifest of "<digest>  <filename>" lines and
// returns a filename to digest mapping. The canonical separator is two spaces;
// any run of blanks is accepted. Blank and malformed lines are skipped, so a
// manifest without a single valid line yields an empty map rather than an
// error. Only a failure of r itself is reported.
func ParseManifest(r io.Reader) (map[string]string, error) {
	entries := make(map[string]string)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxManifestLine)
	for scanner.Scan() {
		digest, name, ok := parseLine(scanner.Text())
		if !ok {
			continue
		}
		entries[name] = digest
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading checksum manifest: %w", err)
	}

	return entries, nil
}

// parseLine splits one manifest line. sha256sum marks binary-mode entries
// with a leading '*' on the filename; it is not part of the name.
func parseLine(line string) (digest, name string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false
	}

	idx := strings.IndexAny(line, " \t")
	if idx <= 0 {
		return "", "", false
	}

	digest = line[:idx]
	name = strings.TrimPrefix(strings.TrimSpace(line[idx:]), "*")
	if name == "" {
		return "", "", false
	}
	return strings.ToLower(digest), name, true
}

// Lookup returns the digest for name in entries. Lookup is exact first and
// then case-insensitive, since some release tooling upper-cases filenames.
func Lookup(entries map[string]string, name string) (string, bool) {
	if d, ok := entries[name]; ok {
		return d, true
	}
	for k, d := range entries {
		if strings.EqualFold(k, name) {
			return d, true
		}
	}
	return "", false
}

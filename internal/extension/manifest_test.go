// SPDX-License-Identifier: MPL-2.0

package extension

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validDigest = "ebe4c8ee0d9e4701ca0e9bed3bd393461e3d3e93d0da1665ba1e8846dd5aeb1b"

func TestParseManifest_Valid(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeManifest(t, dir, `
name = "hello"
version = "0.1.0"
description = "Says hello"
author = "saorsa"
library = "libhello.so"
sha256 = "`+validDigest+`"
`)

	m, err := ParseManifest(path)
	require.NoError(t, err)

	assert.Equal(t, "hello", m.Name)
	assert.Equal(t, "0.1.0", m.Version)
	assert.Equal(t, path, m.Path)
	assert.Equal(t, dir, m.Dir())
	assert.Equal(t, filepath.Join(dir, "libhello.so"), m.LibraryPath())
	assert.Equal(t, DefaultEntrySymbol, m.Entry())
	assert.Empty(t, m.missingInformational())
}

func TestParseManifest_CustomEntrySymbol(t *testing.T) {
	t.Parallel()

	path := writeManifest(t, t.TempDir(), `
name = "hello"
version = "1.2.3-rc.1"
description = "d"
author = "a"
library = "/opt/hello/libhello.so"
entry_symbol = "hello_main"
sha256 = "`+validDigest+`"
`)

	m, err := ParseManifest(path)
	require.NoError(t, err)
	assert.Equal(t, "hello_main", m.Entry())
	assert.Equal(t, filepath.FromSlash("/opt/hello/libhello.so"), m.LibraryPath())
}

func TestParseManifest_Rejections(t *testing.T) {
	t.Parallel()

	base := map[string]string{
		"name":    `name = "hello"`,
		"version": `version = "0.1.0"`,
		"library": `library = "libhello.so"`,
		"sha256":  `sha256 = "` + validDigest + `"`,
	}
	build := func(override map[string]string) string {
		var lines []string
		for _, key := range []string{"name", "version", "library", "sha256"} {
			line := base[key]
			if v, ok := override[key]; ok {
				line = v
			}
			if line != "" {
				lines = append(lines, line)
			}
		}
		return strings.Join(lines, "\n") + "\n"
	}

	tests := []struct {
		name    string
		body    string
		wantErr error
		field   string
	}{
		{name: "missing name", body: build(map[string]string{"name": ""}), wantErr: ErrMalformedManifest, field: "name"},
		{name: "missing version", body: build(map[string]string{"version": ""}), wantErr: ErrMalformedManifest, field: "version"},
		{name: "missing library", body: build(map[string]string{"library": ""}), wantErr: ErrMalformedManifest, field: "library"},
		{name: "non-semver version", body: build(map[string]string{"version": `version = "latest"`}), wantErr: ErrMalformedManifest, field: "version"},
		{name: "name with slash", body: build(map[string]string{"name": `name = "../escape"`}), wantErr: ErrMalformedManifest, field: "name"},
		{name: "short digest", body: build(map[string]string{"sha256": `sha256 = "abc123"`}), wantErr: ErrInvalidDigestFormat, field: "sha256"},
		{name: "uppercase digest", body: build(map[string]string{"sha256": `sha256 = "` + strings.ToUpper(validDigest) + `"`}), wantErr: ErrInvalidDigestFormat, field: "sha256"},
		{name: "syntax error", body: "name = \"hello\nversion = ", wantErr: ErrMalformedManifest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			path := writeManifest(t, t.TempDir(), tt.body)
			_, err := ParseManifest(path)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)

			var merr *ManifestError
			require.ErrorAs(t, err, &merr)
			assert.Equal(t, tt.field, merr.Field)
			assert.Equal(t, path, merr.Path)
		})
	}
}

func TestParseManifest_MissingDigest(t *testing.T) {
	t.Parallel()

	path := writeManifest(t, t.TempDir(), `
name = "hello"
version = "0.1.0"
library = "libhello.so"
`)

	_, err := ParseManifest(path)
	require.Error(t, err)

	var missing *DigestMissingError
	require.ErrorAs(t, err, &missing)
	assert.ErrorIs(t, err, ErrMalformedManifest)
	assert.ErrorIs(t, err, ErrIntegrityViolation)
}

func TestParseManifest_NotFound(t *testing.T) {
	t.Parallel()

	_, err := ParseManifest(filepath.Join(t.TempDir(), ManifestFileName))
	assert.ErrorIs(t, err, ErrManifestNotFound)
}

func TestParseManifest_MissingInformationalFields(t *testing.T) {
	t.Parallel()

	path := writeManifest(t, t.TempDir(), `
name = "terse"
version = "0.1.0"
library = "libterse.so"
sha256 = "`+validDigest+`"
`)

	m, err := ParseManifest(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"description", "author"}, m.missingInformational())
}

func TestValidate_ProgrammaticManifestNeedsAbsoluteLibrary(t *testing.T) {
	t.Parallel()

	m := &Manifest{Name: "x", Version: "1.0.0", Library: "libx.so", SHA256: validDigest}
	err := m.Validate()

	var merr *ManifestError
	require.True(t, errors.As(err, &merr))
	assert.Equal(t, "library", merr.Field)
}

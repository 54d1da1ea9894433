// SPDX-License-Identifier: MPL-2.0

package extension

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dirvine/saorsa-cli/internal/checksum"

	"github.com/pelletier/go-toml/v2"
	"golang.org/x/mod/semver"
)

const (
	// ManifestFileName is the descriptor expected inside an extension directory.
	ManifestFileName = "saorsa-plugin.toml"

	// DefaultEntrySymbol is resolved when a manifest has no entry_symbol.
	DefaultEntrySymbol = "_plugin_init"

	// maxManifestBytes bounds how much of a descriptor file is read.
	maxManifestBytes = 1 << 20
)

// Manifest is the identity and trust descriptor of one extension.
type Manifest struct {
	Name        string `toml:"name"`
	Version     string `toml:"version"`
	Description string `toml:"description"`
	Author      string `toml:"author"`
	Library     string `toml:"library"`
	Help        string `toml:"help,omitempty"`
	Homepage    string `toml:"homepage,omitempty"`
	EntrySymbol string `toml:"entry_symbol,omitempty"`
	SHA256      string `toml:"sha256"`

	// Path is the manifest file the descriptor was read from. It is empty for
	// manifests built in code, whose Library must then be absolute.
	Path string `toml:"-"`
}

// ParseManifest reads and validates the descriptor at path.
func ParseManifest(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrManifestNotFound, path)
		}
		return nil, fmt.Errorf("reading manifest %s: %w", path, err)
	}
	defer func() { _ = f.Close() }() // read-only handle

	data, err := io.ReadAll(io.LimitReader(f, maxManifestBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading manifest %s: %w", path, err)
	}
	if len(data) > maxManifestBytes {
		return nil, &ManifestError{Path: path, Err: fmt.Errorf("%w: file exceeds %d bytes", ErrMalformedManifest, maxManifestBytes)}
	}

	return DecodeManifest(data, path)
}

// DecodeManifest parses descriptor bytes. path is recorded on the result and
// used to resolve a relative library; it may be empty.
func DecodeManifest(data []byte, path string) (*Manifest, error) {
	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			err = fmt.Errorf("line %d, column %d: %s", row, col, derr.Error())
		}
		return nil, &ManifestError{Path: path, Err: fmt.Errorf("%w: %w", ErrMalformedManifest, err)}
	}
	m.Path = path

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks the required fields and the digest format. A manifest
// without a digest yields a *DigestMissingError.
func (m *Manifest) Validate() error {
	required := []struct {
		field string
		value string
	}{
		{"name", m.Name},
		{"version", m.Version},
		{"library", m.Library},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return &ManifestError{Path: m.Path, Field: r.field, Err: fmt.Errorf("%w: missing required field", ErrMalformedManifest)}
		}
	}

	if strings.ContainsAny(m.Name, `/\`) || strings.TrimSpace(m.Name) != m.Name {
		return &ManifestError{Path: m.Path, Field: "name", Err: fmt.Errorf("%w: %q is not a valid extension name", ErrMalformedManifest, m.Name)}
	}

	if !semver.IsValid("v" + strings.TrimPrefix(m.Version, "v")) {
		return &ManifestError{Path: m.Path, Field: "version", Err: fmt.Errorf("%w: %q is not a semantic version", ErrMalformedManifest, m.Version)}
	}

	if m.SHA256 == "" {
		return &DigestMissingError{Path: m.Path, Name: m.Name}
	}
	if !checksum.IsValidDigest(m.SHA256) {
		return &ManifestError{Path: m.Path, Field: "sha256", Err: fmt.Errorf("%w: want %d lowercase hex characters", ErrInvalidDigestFormat, checksum.DigestLength)}
	}

	if m.Path == "" && !filepath.IsAbs(m.Library) {
		return &ManifestError{Field: "library", Err: fmt.Errorf("%w: library must be absolute when the manifest has no file", ErrMalformedManifest)}
	}

	return nil
}

// Dir is the directory holding the manifest file.
func (m *Manifest) Dir() string {
	if m.Path == "" {
		return ""
	}
	return filepath.Dir(m.Path)
}

// LibraryPath resolves Library against the manifest directory. Builtin
// extensions keep their builtin:// form.
func (m *Manifest) LibraryPath() string {
	if m.IsBuiltin() {
		return m.Library
	}
	lib := filepath.FromSlash(m.Library)
	if filepath.IsAbs(lib) || m.Path == "" {
		return lib
	}
	return filepath.Join(m.Dir(), lib)
}

// Entry returns the symbol to resolve in the library.
func (m *Manifest) Entry() string {
	if m.EntrySymbol != "" {
		return m.EntrySymbol
	}
	return DefaultEntrySymbol
}

// missingInformational lists the descriptive fields the manifest left empty.
func (m *Manifest) missingInformational() []string {
	var missing []string
	if strings.TrimSpace(m.Description) == "" {
		missing = append(missing, "description")
	}
	if strings.TrimSpace(m.Author) == "" {
		missing = append(missing, "author")
	}
	return missing
}

// SPDX-License-Identifier: MPL-2.0

package extension

import (
	"context"
	"strings"
)

const (
	// BuiltinScheme prefixes the manifest and library paths of extensions
	// compiled into the binary.
	BuiltinScheme = "builtin://"

	builtinAuthor = "Saorsa Labs"
)

type (
	// BuiltinFunc runs an in-process extension. args excludes the
	// extension name.
	BuiltinFunc func(ctx context.Context, args []string) (int, error)

	// Builtin is an extension that ships inside the saorsa binary. It has no
	// library on disk, so there is nothing to verify or open.
	Builtin struct {
		Name        string
		Version     string
		Description string
		Help        string
		Run         BuiltinFunc
	}
)

// WithBuiltins registers in-process extensions. They take precedence over
// discovered manifests of the same name.
func WithBuiltins(b ...Builtin) LoaderOption {
	return func(l *Loader) {
		for _, bi := range b {
			if bi.Name == "" || bi.Run == nil {
				continue
			}
			l.builtins[bi.Name] = bi
		}
	}
}

// Manifest describes b the way discovered extensions are described.
func (b Builtin) Manifest() Manifest {
	return Manifest{
		Name:        b.Name,
		Version:     b.Version,
		Description: b.Description,
		Author:      builtinAuthor,
		Help:        b.Help,
		Library:     BuiltinScheme + b.Name + "/library",
		Path:        BuiltinScheme + b.Name + "/manifest",
	}
}

// IsBuiltin reports whether m describes an extension compiled into the binary.
func (m *Manifest) IsBuiltin() bool {
	return strings.HasPrefix(m.Path, BuiltinScheme)
}

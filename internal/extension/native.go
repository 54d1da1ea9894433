// SPDX-License-Identifier: MPL-2.0

package extension

import (
	"fmt"
	"strings"
)

type (
	// EntryPoint invokes an extension with its arguments and returns the
	// status the extension reported.
	EntryPoint func(args []string) (int, error)

	// NativeModule is an opened shared library. Close must not be called
	// while an EntryPoint obtained from it is running.
	NativeModule interface {
		Lookup(symbol string) (EntryPoint, error)
		Close() error
	}

	// NativeLoader opens shared libraries.
	NativeLoader interface {
		Open(path string) (NativeModule, error)
	}
)

// DefaultNativeLoader returns the loader for the platform this binary was
// built for.
func DefaultNativeLoader() NativeLoader {
	return platformLoader{}
}

// cArgv builds a NUL-terminated argv array. The returned slices must be kept
// alive until the foreign call returns.
func cArgv(args []string) ([]*byte, error) {
	argv := make([]*byte, len(args)+1)
	for i, a := range args {
		if strings.IndexByte(a, 0) >= 0 {
			return nil, fmt.Errorf("argument %d contains a NUL byte", i)
		}
		b := make([]byte, len(a)+1)
		copy(b, a)
		argv[i] = &b[0]
	}
	return argv, nil
}

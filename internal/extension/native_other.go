// SPDX-License-Identifier: MPL-2.0

//go:build !windows && !((darwin || linux) && (amd64 || arm64))

package extension

// platformLoader refuses every library on platforms without a loader.
type platformLoader struct{}

func (platformLoader) Open(string) (NativeModule, error) {
	return nil, ErrNativeUnsupported
}

// SPDX-License-Identifier: MPL-2.0

//go:build (darwin || linux) && (amd64 || arm64)

package extension

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
)

type (
	// platformLoader opens libraries with dlopen.
	platformLoader struct{}

	dlModule struct {
		mu     sync.Mutex
		path   string
		handle uintptr
	}
)

func (platformLoader) Open(path string) (NativeModule, error) {
	handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_LOCAL)
	if err != nil {
		return nil, fmt.Errorf("dlopen: %w", err)
	}
	return &dlModule{path: path, handle: handle}, nil
}

func (m *dlModule) Lookup(symbol string) (EntryPoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.handle == 0 {
		return nil, errors.New("library is closed")
	}
	sym, err := purego.Dlsym(m.handle, symbol)
	if err != nil {
		return nil, fmt.Errorf("dlsym: %w", err)
	}

	return func(args []string) (int, error) {
		argv, err := cArgv(args)
		if err != nil {
			return -1, err
		}
		r1, _, _ := purego.SyscallN(sym, uintptr(len(args)), uintptr(unsafe.Pointer(&argv[0])))
		runtime.KeepAlive(argv)
		return int(int32(r1)), nil
	}, nil
}

func (m *dlModule) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.handle == 0 {
		return nil
	}
	err := purego.Dlclose(m.handle)
	m.handle = 0
	if err != nil {
		return fmt.Errorf("dlclose %s: %w", m.path, err)
	}
	return nil
}

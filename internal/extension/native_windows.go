// SPDX-License-Identifier: MPL-2.0

//go:build windows

package extension

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

type (
	// platformLoader opens DLLs with LoadLibrary.
	platformLoader struct{}

	dllModule struct {
		mu     sync.Mutex
		path   string
		handle windows.Handle
	}
)

func (platformLoader) Open(path string) (NativeModule, error) {
	handle, err := windows.LoadLibrary(path)
	if err != nil {
		return nil, fmt.Errorf("LoadLibrary: %w", err)
	}
	return &dllModule{path: path, handle: handle}, nil
}

func (m *dllModule) Lookup(symbol string) (EntryPoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.handle == 0 {
		return nil, errors.New("library is closed")
	}
	proc, err := windows.GetProcAddress(m.handle, symbol)
	if err != nil {
		return nil, fmt.Errorf("GetProcAddress: %w", err)
	}

	return func(args []string) (int, error) {
		argv, err := cArgv(args)
		if err != nil {
			return -1, err
		}
		r1, _, _ := syscall.SyscallN(proc, uintptr(len(args)), uintptr(unsafe.Pointer(&argv[0])))
		runtime.KeepAlive(argv)
		return int(int32(r1)), nil
	}, nil
}

func (m *dllModule) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.handle == 0 {
		return nil
	}
	err := windows.FreeLibrary(m.handle)
	m.handle = 0
	if err != nil {
		return fmt.Errorf("FreeLibrary %s: %w", m.path, err)
	}
	return nil
}

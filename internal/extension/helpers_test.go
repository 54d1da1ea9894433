// SPDX-License-Identifier: MPL-2.0

package extension

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

type (
	fakeNative struct {
		mu      sync.Mutex
		opened  []string
		closed  int
		openErr error
		symbols map[string]EntryPoint
	}

	fakeModule struct {
		native *fakeNative
	}
)

func newFakeNative() *fakeNative {
	return &fakeNative{symbols: map[string]EntryPoint{
		DefaultEntrySymbol: func([]string) (int, error) { return 0, nil },
	}}
}

func (f *fakeNative) Open(path string) (NativeModule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.openErr != nil {
		return nil, f.openErr
	}
	f.opened = append(f.opened, path)
	return &fakeModule{native: f}, nil
}

func (f *fakeNative) setSymbol(name string, ep EntryPoint) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.symbols[name] = ep
}

func (f *fakeNative) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.opened)
}

func (f *fakeNative) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.closed
}

func (m *fakeModule) Lookup(symbol string) (EntryPoint, error) {
	m.native.mu.Lock()
	defer m.native.mu.Unlock()

	ep, ok := m.native.symbols[symbol]
	if !ok {
		return nil, errors.New("undefined symbol: " + symbol)
	}
	return ep, nil
}

func (m *fakeModule) Close() error {
	m.native.mu.Lock()
	defer m.native.mu.Unlock()

	m.native.closed++
	return nil
}

func digestOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// writeExtension creates root/<name>/ with a library holding content and a
// manifest declaring its digest. It returns the extension directory.
func writeExtension(t *testing.T, root, name string, content []byte) string {
	t.Helper()

	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("creating %s: %v", dir, err)
	}
	lib := "lib" + name + ".so"
	if err := os.WriteFile(filepath.Join(dir, lib), content, 0o644); err != nil {
		t.Fatalf("writing library: %v", err)
	}
	writeManifest(t, dir, fmt.Sprintf(`name = %q
version = "0.1.0"
description = "test extension"
author = "tests"
library = %q
help = "usage: %s"
sha256 = %q
`, name, lib, name, digestOf(content)))
	return dir
}

func writeManifest(t *testing.T, dir, body string) string {
	t.Helper()

	path := filepath.Join(dir, ManifestFileName)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("writing manifest: %v", err)
	}
	return path
}

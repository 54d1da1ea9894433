// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"archive/tar"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
)

// archiveEntry is one file placed in a test archive.
type archiveEntry struct {
	name string
	data []byte
}

func createTarGz(t *testing.T, entries ...archiveEntry) []byte {
	t.Helper()

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)

	for _, e := range entries {
		hdr := &tar.Header{Name: e.name, Mode: 0o755, Size: int64(len(e.data)), Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("writing tar header: %v", err)
		}
		if _, err := tw.Write(e.data); err != nil {
			t.Fatalf("writing tar body: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("closing tar writer: %v", err)
	}
	if err := gw.Close(); err != nil {
		t.Fatalf("closing gzip writer: %v", err)
	}
	return buf.Bytes()
}

func createZip(t *testing.T, entries ...archiveEntry) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.Create(e.name)
		if err != nil {
			t.Fatalf("creating zip entry: %v", err)
		}
		if _, err := w.Write(e.data); err != nil {
			t.Fatalf("writing zip entry: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("closing zip writer: %v", err)
	}
	return buf.Bytes()
}

func writeTestFile(t *testing.T, path string, data []byte) string {
	t.Helper()

	if err := os.WriteFile(path, data, 0o755); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
	return path
}

// sha256Hex computes the lowercase hex-encoded SHA256 digest of data.
func sha256Hex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// newTestServer serves a GitHub-like releases API: /releases lists
// releases, /releases/latest returns the first one, /releases/tags/{tag}
// looks one up, and files are matched by URL path suffix.
func newTestServer(t *testing.T, releases []githubRelease, files map[string][]byte) *httptest.Server {
	t.Helper()

	encode := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(v); err != nil {
			t.Errorf("encoding response: %v", err)
		}
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/releases"):
			encode(w, releases)
			return
		case strings.HasSuffix(r.URL.Path, "/releases/latest"):
			if len(releases) == 0 {
				http.NotFound(w, r)
				return
			}
			encode(w, releases[0])
			return
		case strings.Contains(r.URL.Path, "/releases/tags/"):
			tag := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
			for _, rel := range releases {
				if rel.TagName == tag {
					encode(w, rel)
					return
				}
			}
			http.NotFound(w, r)
			return
		}

		for path, data := range files {
			if strings.HasSuffix(r.URL.Path, path) {
				w.Header().Set("Content-Type", "application/octet-stream")
				if _, err := w.Write(data); err != nil {
					t.Errorf("writing file response: %v", err)
				}
				return
			}
		}

		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintf(w, `{"message":"Not Found","path":%q}`, r.URL.Path)
	}))
	t.Cleanup(srv.Close)

	return srv
}

// overrideExecSeams points osExecutable at path and makes evalSymlinks the
// identity. Restored on cleanup.
func overrideExecSeams(t *testing.T, path string) {
	t.Helper()

	origExec, origSymlinks := osExecutable, evalSymlinks
	t.Cleanup(func() {
		osExecutable = origExec
		evalSymlinks = origSymlinks
	})

	osExecutable = func() (string, error) { return path, nil }
	evalSymlinks = func(p string) (string, error) { return p, nil }
}

// unmanagedInstall clears the install method seams so detection yields unknown.
func unmanagedInstall(t *testing.T) {
	t.Helper()

	savedHint, savedInfo := installMethodHint, readBuildInfo
	t.Cleanup(func() {
		installMethodHint = savedHint
		readBuildInfo = savedInfo
	})
	installMethodHint = ""
	readBuildInfo = func() (*debug.BuildInfo, bool) { return nil, false }
}

// readFile returns the contents of path or fails the test.
func readFile(t *testing.T, path string) []byte {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	return data
}

func tempPath(t *testing.T, name string) string {
	t.Helper()

	return filepath.Join(t.TempDir(), name)
}

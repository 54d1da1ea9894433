// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/dirvine/saorsa-cli/internal/selfupdate"

	"github.com/klauspost/compress/gzip"
)

type (
	// testRelease is the JSON wire format of a GitHub Release.
	testRelease struct {
		TagName    string      `json:"tag_name"`
		Name       string      `json:"name"`
		Prerelease bool        `json:"prerelease"`
		Draft      bool        `json:"draft"`
		HTMLURL    string      `json:"html_url"`
		Assets     []testAsset `json:"assets"`
	}

	testAsset struct {
		Name               string `json:"name"`
		BrowserDownloadURL string `json:"browser_download_url"`
		Size               int64  `json:"size"`
	}

	// releaseServer serves the releases API of DefaultOwner/DefaultRepo plus
	// asset downloads under /download/.
	releaseServer struct {
		*httptest.Server

		mu       sync.Mutex
		releases []testRelease
		files    map[string][]byte
	}

	fakeRestarter struct {
		exe  string
		args []string
	}
)

func (f *fakeRestarter) Restart(exe string, args []string) error {
	f.exe, f.args = exe, args
	return nil
}

func newReleaseServer(t *testing.T, releases ...testRelease) *releaseServer {
	t.Helper()

	rs := &releaseServer{releases: releases, files: make(map[string][]byte)}
	rs.Server = httptest.NewServer(http.HandlerFunc(rs.serve))
	t.Cleanup(rs.Close)
	return rs
}

func (rs *releaseServer) serve(w http.ResponseWriter, r *http.Request) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if name, ok := strings.CutPrefix(r.URL.Path, "/download/"); ok {
		data, found := rs.files[name]
		if !found {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write(data)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	prefix := fmt.Sprintf("/repos/%s/%s/releases", selfupdate.DefaultOwner, selfupdate.DefaultRepo)

	switch {
	case r.URL.Path == prefix+"/latest":
		for _, rel := range rs.releases {
			if !rel.Draft && !rel.Prerelease {
				_ = json.NewEncoder(w).Encode(rel)
				return
			}
		}
	case r.URL.Path == prefix:
		_ = json.NewEncoder(w).Encode(rs.releases)
		return
	case strings.HasPrefix(r.URL.Path, prefix+"/tags/"):
		tag := strings.TrimPrefix(r.URL.Path, prefix+"/tags/")
		for _, rel := range rs.releases {
			if rel.TagName == tag {
				_ = json.NewEncoder(w).Encode(rel)
				return
			}
		}
	}
	w.WriteHeader(http.StatusNotFound)
	fmt.Fprint(w, `{"message":"Not Found"}`)
}

// addAsset publishes data as an asset of the release tagged tag.
func (rs *releaseServer) addAsset(tag, name string, data []byte) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	rs.files[name] = data
	for i := range rs.releases {
		if rs.releases[i].TagName == tag {
			rs.releases[i].Assets = append(rs.releases[i].Assets, testAsset{
				Name:               name,
				BrowserDownloadURL: rs.URL + "/download/" + name,
				Size:               int64(len(data)),
			})
		}
	}
}

func stableRelease(tag string) testRelease {
	return testRelease{TagName: tag, Name: tag, HTMLURL: "https://github.com/dirvine/saorsa-cli/releases/tag/" + tag}
}

// newTestApp returns an App whose config, cache and executable live in
// temporary directories and whose release client talks to srv.
func newTestApp(t *testing.T, srv *releaseServer, version string) (*App, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()

	root := t.TempDir()
	exe := filepath.Join(root, "bin", "saorsa")
	if err := os.MkdirAll(filepath.Dir(exe), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(exe, []byte("old binary"), 0o755); err != nil {
		t.Fatal(err)
	}

	var stdout, stderr bytes.Buffer
	app := NewApp(strings.NewReader(""), &stdout, &stderr)
	app.version = version
	app.configDir = filepath.Join(root, "config")
	app.cacheDir = filepath.Join(root, "cache")
	app.execPath = exe
	app.restarter = &fakeRestarter{}
	if srv != nil {
		app.clientOpts = []selfupdate.ClientOption{selfupdate.WithBaseURL(srv.URL)}
	}
	t.Cleanup(func() { _ = app.Close() })
	return app, &stdout, &stderr
}

// execute runs args through a fresh command tree for app, as if they were
// the process command line.
func execute(t *testing.T, app *App, args ...string) error {
	t.Helper()

	app.args = args
	root := newRootCommand(app)
	root.SetArgs(args)
	return root.ExecuteContext(context.Background())
}

func writeConfig(t *testing.T, app *App, content string) {
	t.Helper()

	if err := os.MkdirAll(app.configDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(app.configDir, "config.cue"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// releaseArchive builds a tar.gz holding an executable named saorsa and
// returns it with its hex SHA-256.
func releaseArchive(t *testing.T, script string) ([]byte, string) {
	t.Helper()

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)
	hdr := &tar.Header{Name: "saorsa", Mode: 0o755, Size: int64(len(script)), Typeflag: tar.TypeReg}
	if err := tw.WriteHeader(hdr); err != nil {
		t.Fatal(err)
	}
	if _, err := tw.Write([]byte(script)); err != nil {
		t.Fatal(err)
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gw.Close(); err != nil {
		t.Fatal(err)
	}

	sum := sha256.Sum256(buf.Bytes())
	return buf.Bytes(), hex.EncodeToString(sum[:])
}

// SPDX-License-Identifier: MPL-2.0

package tools

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/dirvine/saorsa-cli/internal/checksum"
	"github.com/dirvine/saorsa-cli/internal/extension"
	"github.com/dirvine/saorsa-cli/internal/selfupdate"
	"github.com/dirvine/saorsa-cli/internal/updatecheck"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var linuxAMD64 = selfupdate.Target{OS: "linux", Arch: "amd64"}

type fakeClient struct {
	release   *selfupdate.Release
	archive   []byte
	checksums map[string]string
	sumErr    error
	downloads int
}

func (f *fakeClient) LatestRelease(context.Context) (*selfupdate.Release, error) {
	if f.release == nil {
		return nil, selfupdate.ErrNoReleases
	}
	return f.release, nil
}

func (f *fakeClient) FetchChecksumManifest(context.Context, *selfupdate.Release) (map[string]string, error) {
	return f.checksums, f.sumErr
}

func (f *fakeClient) DownloadAsset(_ context.Context, _ selfupdate.Asset, dest string) error {
	f.downloads++
	return os.WriteFile(dest, f.archive, 0o644)
}

func tarGz(t *testing.T, files map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, body := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0o755, Size: int64(len(body)), Typeflag: tar.TypeReg}))
		_, err := tw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func newFakeClient(t *testing.T) *fakeClient {
	t.Helper()

	archive := tarGz(t, map[string]string{
		"saorsa-cli/saorsa": "saorsa binary",
		"saorsa-cli/sb":     "sb binary",
		"saorsa-cli/sdisk":  "sdisk binary",
	})
	sum := sha256.Sum256(archive)
	name := linuxAMD64.ArchiveName()

	return &fakeClient{
		release: &selfupdate.Release{
			TagName: "v0.4.0",
			Assets: []selfupdate.Asset{
				{Name: name, BrowserDownloadURL: "https://example.invalid/" + name},
				{Name: selfupdate.ChecksumManifestName},
			},
		},
		archive:   archive,
		checksums: map[string]string{name: hex.EncodeToString(sum[:])},
	}
}

func newResolver(t *testing.T, client ReleaseClient) *Resolver {
	t.Helper()

	return &Resolver{
		Client:   client,
		CacheDir: t.TempDir(),
		Target:   linuxAMD64,
		Store:    updatecheck.NewStore("", updatecheck.VersionState{}),
	}
}

func TestLookup(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"sb", "saorsa-browser", "sdisk", "saorsa-disk"} {
		_, err := Lookup(name)
		assert.NoError(t, err, name)
	}

	tool, err := Lookup("saorsa-disk")
	require.NoError(t, err)
	assert.Equal(t, "sdisk", tool.Name)

	_, err = Lookup("rm")
	assert.ErrorIs(t, err, ErrUnknownTool)
}

func TestKnown_ReturnsCopy(t *testing.T) {
	t.Parallel()

	tools := Known()
	tools[0].Name = "changed"
	assert.Equal(t, "sb", Known()[0].Name)
}

func TestResolve_DownloadsAndRecordsVersion(t *testing.T) {
	t.Parallel()

	client := newFakeClient(t)
	r := newResolver(t, client)

	path, err := r.Resolve(t.Context(), "saorsa-browser")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(r.CacheDir, "binaries", "sb"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "sb binary", string(data))

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
	}
	assert.Equal(t, "v0.4.0", r.Store.Read().InstalledVersions["sb"])
}

func TestResolve_UsesCache(t *testing.T) {
	t.Parallel()

	client := newFakeClient(t)
	r := newResolver(t, client)

	_, err := r.Resolve(t.Context(), "sdisk")
	require.NoError(t, err)
	_, err = r.Resolve(t.Context(), "sdisk")
	require.NoError(t, err)
	assert.Equal(t, 1, client.downloads)

	r.ForceDownload = true
	_, err = r.Resolve(t.Context(), "sdisk")
	require.NoError(t, err)
	assert.Equal(t, 2, client.downloads)
}

func TestResolve_ChecksumAdvisory(t *testing.T) {
	t.Parallel()

	t.Run("missing manifest continues", func(t *testing.T) {
		t.Parallel()

		client := newFakeClient(t)
		client.checksums, client.sumErr = nil, selfupdate.ErrChecksumManifestMissing
		_, err := newResolver(t, client).Resolve(t.Context(), "sb")
		assert.NoError(t, err)
	})

	t.Run("missing entry continues", func(t *testing.T) {
		t.Parallel()

		client := newFakeClient(t)
		client.checksums = map[string]string{"other.tar.gz": client.checksums[linuxAMD64.ArchiveName()]}
		_, err := newResolver(t, client).Resolve(t.Context(), "sb")
		assert.NoError(t, err)
	})

	t.Run("mismatch is fatal", func(t *testing.T) {
		t.Parallel()

		client := newFakeClient(t)
		client.checksums[linuxAMD64.ArchiveName()] = strings.Repeat("0", 64)
		r := newResolver(t, client)

		_, err := r.Resolve(t.Context(), "sb")
		require.ErrorIs(t, err, checksum.ErrMismatch)
		assert.NoFileExists(t, r.CachedPath(Tool{Name: "sb"}))
		assert.Empty(t, r.Store.Read().InstalledVersions)
	})
}

func TestResolve_Errors(t *testing.T) {
	t.Parallel()

	_, err := newResolver(t, newFakeClient(t)).Resolve(t.Context(), "unknown")
	assert.ErrorIs(t, err, ErrUnknownTool)

	_, err = newResolver(t, &fakeClient{}).Resolve(t.Context(), "sb")
	assert.ErrorIs(t, err, selfupdate.ErrNoReleases)

	client := newFakeClient(t)
	client.release.Assets = client.release.Assets[1:]
	_, err = newResolver(t, client).Resolve(t.Context(), "sb")
	assert.ErrorIs(t, err, selfupdate.ErrAssetNotFound)

	r := newResolver(t, nil)
	r.Client = nil
	_, err = r.Resolve(t.Context(), "sb")
	assert.Error(t, err)
}

func writeScript(t *testing.T, path, body string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
}

func TestResolve_PreferSystem(t *testing.T) {
	// Not parallel: uses t.Setenv.
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not executable on Windows")
	}

	bin := t.TempDir()
	writeScript(t, filepath.Join(bin, "sb"), "exit 0")
	t.Setenv("PATH", bin)

	client := newFakeClient(t)
	r := newResolver(t, client)
	r.PreferSystem = true

	path, err := r.Resolve(t.Context(), "sb")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(bin, "sb"), path)
	assert.Zero(t, client.downloads)

	r.ForceDownload = true
	path, err = r.Resolve(t.Context(), "sb")
	require.NoError(t, err)
	assert.Equal(t, r.CachedPath(Tool{Name: "sb"}), path)
	assert.Equal(t, 1, client.downloads)
}

func TestRun_ReturnsExitCode(t *testing.T) {
	// Not parallel: exec of a freshly written file can hit ETXTBSY while
	// other tests fork.
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not executable on Windows")
	}

	r := newResolver(t, &fakeClient{})
	writeScript(t, r.CachedPath(Tool{Name: "sdisk"}), `[ "$1" = "scan" ] || exit 9; exit 3`)

	code, err := r.Run(t.Context(), "sdisk", []string{"scan"})
	require.NoError(t, err)
	assert.Equal(t, 3, code)

	code, err = r.Run(t.Context(), "sdisk", nil)
	require.NoError(t, err)
	assert.Equal(t, 9, code)
}

func TestRun_ResolveFailure(t *testing.T) {
	t.Parallel()

	code, err := newResolver(t, &fakeClient{}).Run(t.Context(), "sb", nil)
	assert.Equal(t, 1, code)
	assert.True(t, errors.Is(err, selfupdate.ErrNoReleases))
}

func TestLookup_WrappedTools(t *testing.T) {
	t.Parallel()

	tool, err := Lookup("ripgrep")
	require.NoError(t, err)
	assert.Equal(t, "rg", tool.Name)
	assert.True(t, tool.System)
	assert.Equal(t, []string{"--help"}, tool.DefaultArgs)

	tool, err = Lookup("fd")
	require.NoError(t, err)
	assert.Empty(t, tool.DefaultArgs)

	for _, k := range Known() {
		assert.False(t, k.System, k.Name)
	}
}

func TestResolve_SystemToolNeverDownloads(t *testing.T) {
	// Not parallel: uses t.Setenv.
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not executable on Windows")
	}

	bin := t.TempDir()
	t.Setenv("PATH", bin)

	client := newFakeClient(t)
	r := newResolver(t, client)
	r.ForceDownload = true

	_, err := r.Resolve(t.Context(), "fd")
	require.ErrorIs(t, err, ErrToolNotInstalled)
	assert.Zero(t, client.downloads)

	writeScript(t, filepath.Join(bin, "fd"), "exit 0")
	path, err := r.Resolve(t.Context(), "fd-find")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(bin, "fd"), path)
	assert.Zero(t, client.downloads)
}

func TestBuiltins_ForwardToSystemTools(t *testing.T) {
	// Not parallel: uses t.Setenv.
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not executable on Windows")
	}

	bin := t.TempDir()
	t.Setenv("PATH", bin)
	// Each script exits 0 only for the arguments it expects.
	writeScript(t, filepath.Join(bin, "rg"), `[ "$1" = "--help" ] && exit 0; [ "$1" = "TODO" ] && exit 1; exit 7`)
	writeScript(t, filepath.Join(bin, "fd"), `[ "$#" = "0" ] && exit 0; exit 5`)

	r := newResolver(t, &fakeClient{})
	builtins := r.Builtins("0.4.0")
	require.Len(t, builtins, 2)

	byName := make(map[string]extension.Builtin, len(builtins))
	for _, b := range builtins {
		assert.Equal(t, "0.4.0", b.Version)
		assert.NotEmpty(t, b.Help)
		byName[b.Name] = b
	}

	code, err := byName["rg"].Run(t.Context(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, code, "rg without arguments shows its help")

	code, err = byName["rg"].Run(t.Context(), []string{"TODO"})
	require.NoError(t, err)
	assert.Equal(t, 1, code)

	code, err = byName["fd"].Run(t.Context(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, code, "fd has no default arguments")

	// Through the loader the wrapped tools behave like any other extension.
	l := extension.NewLoader(extension.WithSearchPaths([]string{t.TempDir()}), extension.WithBuiltins(builtins...))
	l.Discover()
	code, err = l.Execute(t.Context(), "fd", []string{"src", "main"})
	assert.Equal(t, 5, code)
	assert.ErrorIs(t, err, extension.ErrExtensionFailed)
}

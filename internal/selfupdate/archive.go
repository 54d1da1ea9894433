// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
)

// maxBinaryBytes bounds an extracted binary (500 MB) against decompression bombs.
const maxBinaryBytes = 500 << 20

// ErrBinaryNotFound is returned when an archive holds no entry with the
// requested name.
var ErrBinaryNotFound = errors.New("binary not found in archive")

// ExtractBinary copies the entry whose base name is name out of the archive
// at archivePath into dest. Both .tar.gz and .zip archives are read, and flat
// and nested layouts match alike. dest is written through a temporary file in
// its directory and has mode 0755 once renamed into place.
func ExtractBinary(archivePath, name, dest string) error {
	switch {
	case strings.HasSuffix(archivePath, ".zip"):
		return extractFromZip(archivePath, name, dest)
	case strings.HasSuffix(archivePath, ".tar.gz"), strings.HasSuffix(archivePath, ".tgz"):
		return extractFromTarGz(archivePath, name, dest)
	default:
		return fmt.Errorf("unsupported archive format: %s", filepath.Base(archivePath))
	}
}

func extractFromTarGz(archivePath, name, dest string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer func() { _ = f.Close() }() // read-only file handle

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("creating gzip reader: %w", err)
	}
	defer func() { _ = gz.Close() }() // read-only

	tr := tar.NewReader(gz)
	for {
		hdr, nextErr := tr.Next()
		if errors.Is(nextErr, io.EOF) {
			break
		}
		if nextErr != nil {
			return fmt.Errorf("reading tar entry: %w", nextErr)
		}

		if hdr.Typeflag != tar.TypeReg || filepath.Base(hdr.Name) != name {
			continue
		}
		return writeBinary(tr, dest)
	}

	return fmt.Errorf("%w: %q in %s", ErrBinaryNotFound, name, filepath.Base(archivePath))
}

func extractFromZip(archivePath, name, dest string) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer func() { _ = zr.Close() }() // read-only

	bare := strings.TrimSuffix(name, ".exe")
	for _, zf := range zr.File {
		if zf.FileInfo().IsDir() {
			continue
		}
		base := filepath.Base(filepath.FromSlash(zf.Name))
		if base != name && base != bare {
			continue
		}

		rc, err := zf.Open()
		if err != nil {
			return fmt.Errorf("opening %s: %w", zf.Name, err)
		}
		err = writeBinary(rc, dest)
		_ = rc.Close()
		return err
	}

	return fmt.Errorf("%w: %q in %s", ErrBinaryNotFound, name, filepath.Base(archivePath))
}

// writeBinary copies r into dest via a sibling temp file.
func writeBinary(r io.Reader, dest string) error {
	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file for binary: %w", err)
	}
	tmpPath := tmp.Name()

	copyErr := func() error {
		n, err := io.Copy(tmp, io.LimitReader(r, maxBinaryBytes+1))
		if err != nil {
			return fmt.Errorf("extracting binary: %w", err)
		}
		if n > maxBinaryBytes {
			return fmt.Errorf("extracting binary: exceeds %d bytes", maxBinaryBytes)
		}
		if err := tmp.Sync(); err != nil {
			return fmt.Errorf("syncing binary: %w", err)
		}
		return nil
	}()
	if closeErr := tmp.Close(); closeErr != nil && copyErr == nil {
		copyErr = closeErr
	}
	if copyErr == nil {
		copyErr = os.Chmod(tmpPath, 0o755)
	}
	if copyErr == nil {
		copyErr = os.Rename(tmpPath, dest)
	}
	if copyErr != nil {
		_ = os.Remove(tmpPath)
		return copyErr
	}
	return nil
}

// Package archive provides the unpack boundary used after a transfer
// completes. The engine only needs "unpack this file into that directory";
// the codec behind it is interchangeable.
package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644
)

// Unpacker extracts an archive into a directory, replacing any existing
// contents at the destination.
type Unpacker interface {
	Unpack(src, dst string) error
}

// ZipUnpacker unpacks zip archives.
type ZipUnpacker struct{}

// Unpack extracts src into dst. An existing destination directory is removed
// first so stale files from a previous download never survive a retry.
func (ZipUnpacker) Unpack(src, dst string) error {
	zr, err := zip.OpenReader(src)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer zr.Close()

	if err := os.RemoveAll(dst); err != nil {
		return fmt.Errorf("clear destination: %w", err)
	}
	if err := os.MkdirAll(dst, dirPerm); err != nil {
		return fmt.Errorf("create destination: %w", err)
	}

	for _, f := range zr.File {
		if err := extractFile(f, dst); err != nil {
			return fmt.Errorf("extract %s: %w", f.Name, err)
		}
	}
	return nil
}

func extractFile(f *zip.File, dst string) error {
	target := filepath.Join(dst, filepath.Clean(f.Name))
	// Reject entries that would escape the destination tree.
	if !strings.HasPrefix(target, filepath.Clean(dst)+string(os.PathSeparator)) {
		return fmt.Errorf("illegal entry path %q", f.Name)
	}

	if f.FileInfo().IsDir() {
		return os.MkdirAll(target, dirPerm)
	}
	if err := os.MkdirAll(filepath.Dir(target), dirPerm); err != nil {
		return err
	}

	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, filePerm)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, rc); err != nil {
		return err
	}
	return nil
}

var _ Unpacker = ZipUnpacker{}

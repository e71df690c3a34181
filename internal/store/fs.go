package store

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644
)

// FS is a FileStore rooted at a directory on the local filesystem. Layout:
// <root>/<contentType>/<ownerID>/<filename>. The glossary type is shared
// across owners by design, so glossary resources live directly under
// <root>/glossary/<ownerID>.
type FS struct {
	root string
	log  *slog.Logger
}

// NewFS creates a filesystem-backed store rooted at root.
func NewFS(root string, log *slog.Logger) *FS {
	if log == nil {
		log = slog.Default()
	}
	return &FS{root: root, log: log}
}

func (s *FS) path(res Resource) string {
	return filepath.Join(s.Dir(res), res.Filename)
}

// Dir returns the folder that holds the resource.
func (s *FS) Dir(res Resource) string {
	return filepath.Join(s.root, string(res.Type), res.OwnerID)
}

// Fetch returns the cached bytes for the resource.
func (s *FS) Fetch(res Resource) ([]byte, error) {
	b, err := os.ReadFile(s.path(res))
	if os.IsNotExist(err) {
		return nil, ErrNotCached
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path(res), err)
	}
	return b, nil
}

// Save persists bytes for the resource, creating folders as needed.
func (s *FS) Save(b []byte, res Resource) error {
	dir := s.Dir(res)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	if err := os.WriteFile(s.path(res), b, filePerm); err != nil {
		return fmt.Errorf("write %s: %w", s.path(res), err)
	}
	return nil
}

// Reachable reports whether the resource exists in the store.
func (s *FS) Reachable(res Resource) bool {
	target := s.path(res)
	if res.Filename == "" {
		target = s.Dir(res)
	}
	_, err := os.Stat(target)
	return err == nil
}

// CopyDirectory copies src to dst. dst must not exist yet.
func (s *FS) CopyDirectory(src, dst string) error {
	if _, err := os.Stat(dst); err == nil {
		return fmt.Errorf("destination %s already exists", dst)
	}
	return copyTree(src, dst)
}

// CopyContent merges the contents of src into the existing dst, overwriting
// files that collide.
func (s *FS) CopyContent(src, dst string) error {
	if err := os.MkdirAll(dst, dirPerm); err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return fmt.Errorf("read %s: %w", src, err)
	}
	for _, e := range entries {
		from := filepath.Join(src, e.Name())
		to := filepath.Join(dst, e.Name())
		if e.IsDir() {
			if err := s.CopyContent(from, to); err != nil {
				return err
			}
			continue
		}
		if err := copyFile(from, to); err != nil {
			return err
		}
	}
	return nil
}

func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, dirPerm)
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), dirPerm); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(dst), err)
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, filePerm)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return nil
}

var _ FileStore = (*FS)(nil)

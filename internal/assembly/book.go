package assembly

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/shelfdapp/shelfd/internal/archive"
	"github.com/shelfdapp/shelfd/internal/data"
	"github.com/shelfdapp/shelfd/internal/store"
)

// Relative paths inside an unpacked book tree.
const (
	relTocPath      = "OPS/xhtml/toc.xhtml"
	relOPFPath      = "OPS/package.opf"
	relGlossaryPath = "OPS/xhtml/glossary.xhtml"
)

// Candidate audio folder names, checked in priority order; first match wins.
var audioFolders = []string{"OPS/audio", "OPS/audios"}

// Book assembles a downloaded book archive: the payload is moved into the
// caches root under its source filename, unpacked into a directory named by
// the asset id, and enriched with cached toc/package documents and glossary
// audio. Enrichment is best-effort and never fails the assembly.
type Book struct {
	log        *slog.Logger
	cachesRoot string
	unpacker   archive.Unpacker
	files      store.FileStore
}

// NewBook creates a book assembler writing under cachesRoot.
func NewBook(log *slog.Logger, cachesRoot string, unpacker archive.Unpacker, files store.FileStore) *Book {
	if log == nil {
		log = slog.Default()
	}
	return &Book{log: log, cachesRoot: cachesRoot, unpacker: unpacker, files: files}
}

// Assemble implements Assembler. It returns the unpacked directory on
// success; a move or unpack failure fails the transfer and leaves partial
// artifacts in place for the next retry to overwrite.
func (b *Book) Assemble(ctx context.Context, u *data.Unit, payload string) (string, error) {
	archivePath, err := b.stageArchive(u, payload)
	if err != nil {
		return "", err
	}

	unpackDir := filepath.Join(b.cachesRoot, u.AssetID)
	if err := b.unpacker.Unpack(archivePath, unpackDir); err != nil {
		return "", fmt.Errorf("unpack %s: %w", archivePath, err)
	}
	if err := os.Remove(archivePath); err != nil {
		return "", fmt.Errorf("remove archive %s: %w", archivePath, err)
	}

	b.enrich(ctx, u, unpackDir)
	return unpackDir, nil
}

// stageArchive moves the received payload to a stable cache location named
// by the source URL's final path segment, replacing any pre-existing file.
func (b *Book) stageArchive(u *data.Unit, payload string) (string, error) {
	name := archiveName(u.Source)
	if name == "" {
		return "", fmt.Errorf("source %q has no file name", u.Source)
	}
	if err := os.MkdirAll(b.cachesRoot, 0o755); err != nil {
		return "", fmt.Errorf("create caches root: %w", err)
	}

	dest := filepath.Join(b.cachesRoot, name)
	if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("replace existing archive %s: %w", dest, err)
	}
	if err := moveFile(payload, dest); err != nil {
		return "", fmt.Errorf("move payload to cache: %w", err)
	}
	return dest, nil
}

func (b *Book) enrich(ctx context.Context, u *data.Unit, unpackDir string) {
	var g errgroup.Group
	g.Go(func() error {
		b.placeCachedDoc(store.Resource{Type: store.TypeToc, OwnerID: u.OwnerID, Filename: "toc.xhtml"},
			filepath.Join(unpackDir, relTocPath))
		return nil
	})
	g.Go(func() error {
		b.placeCachedDoc(store.Resource{Type: store.TypeOPF, OwnerID: u.OwnerID, Filename: "package.opf"},
			filepath.Join(unpackDir, relOPFPath))
		return nil
	})
	_ = g.Wait()

	b.copyGlossaryAudio(u, unpackDir)
}

// placeCachedDoc writes the cached document into the unpacked tree. Missing
// cache entries and write failures are logged only.
func (b *Book) placeCachedDoc(res store.Resource, dest string) {
	docBytes, err := b.files.Fetch(res)
	if err != nil {
		b.log.Debug("cached document unavailable", "type", res.Type, "owner_id", res.OwnerID, "err", err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		b.log.Error("failed to create enrichment directory", "dest", dest, "err", err)
		return
	}
	if err := os.WriteFile(dest, docBytes, 0o644); err != nil {
		b.log.Error("failed to place cached document", "dest", dest, "err", err)
	}
}

// copyGlossaryAudio bulk-copies the book's audio folder into the shared
// glossary asset location. Eligibility: a glossary document exists in the
// unpacked tree, and one of the candidate audio folders is present.
func (b *Book) copyGlossaryAudio(u *data.Unit, unpackDir string) {
	if !dirEntryExists(filepath.Join(unpackDir, relGlossaryPath)) {
		return
	}

	var audioSrc string
	for _, folder := range audioFolders {
		if dirEntryExists(filepath.Join(unpackDir, folder)) {
			audioSrc = filepath.Join(unpackDir, folder)
			break
		}
	}
	if audioSrc == "" {
		return
	}

	dst := b.files.Dir(store.Resource{Type: store.TypeGlossary, OwnerID: u.OwnerID})
	var err error
	if dirEntryExists(dst) {
		err = b.files.CopyContent(audioSrc, dst)
	} else {
		err = b.files.CopyDirectory(audioSrc, dst)
	}
	if err != nil {
		b.log.Error("failed to copy glossary audio", "owner_id", u.OwnerID, "src", audioSrc, "err", err)
		return
	}
	b.log.Info("glossary audio copied", "owner_id", u.OwnerID, "src", audioSrc)
}

func archiveName(source string) string {
	parsed, err := url.Parse(source)
	if err != nil {
		return path.Base(source)
	}
	name := path.Base(parsed.Path)
	if name == "." || name == "/" {
		return ""
	}
	return name
}

func dirEntryExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

// moveFile renames src to dst, falling back to copy+remove when the paths
// sit on different filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}

var _ Assembler = (*Book)(nil)

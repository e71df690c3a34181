// Package setup runs the dependency-ordered fetch pipeline that readies a
// book for offline use: auxiliary documents, profile, page structure and the
// offline manifest, plus best-effort supplementary content.
package setup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/shelfdapp/shelfd/internal/catalog"
	"github.com/shelfdapp/shelfd/internal/data"
	"github.com/shelfdapp/shelfd/internal/event"
	"github.com/shelfdapp/shelfd/internal/metrics"
	"github.com/shelfdapp/shelfd/internal/remote"
	"github.com/shelfdapp/shelfd/internal/store"
)

// Relative destinations for cached documents inside an unpacked asset tree.
const (
	relTocPath = "OPS/xhtml/toc.xhtml"
	relOPFPath = "OPS/package.opf"
)

// Deps wires the pipeline's collaborators. Glossary, assignment, prompt and
// note workers are optional; a nil worker skips its step.
type Deps struct {
	Books     catalog.BookStore
	Pages     catalog.PageStore
	Manifests catalog.ManifestStore
	Files     store.FileStore
	Bus       event.Reporter

	Metadata         remote.MetadataFetcher
	Profile          remote.ProfileFetcher
	Docs             remote.DocFetcher
	Toc              remote.TocFetcher
	ManifestPrimary  remote.ManifestFetcher
	ManifestFallback remote.ManifestFetcher
	Modules          remote.ModulesFetcher
	MLGlossary       remote.MultilingualGlossaryFetcher
	Glossary         remote.GlossaryFetcher
	Assignments      remote.AssignmentFetcher
	Prompts          remote.PromptFetcher
	Notes            remote.NoteStore

	// Reachable probes network reachability. Offline skips fetch steps as
	// successes; local data is assumed sufficient.
	Reachable func() bool

	// CachesRoot is where downloaded assets are unpacked; cached documents
	// are copied into already-downloaded asset trees under it.
	CachesRoot string
}

// Pipeline executes the setup chains for one book at a time per call. It is
// safe for concurrent use; book record writes are serialized internally.
type Pipeline struct {
	log  *slog.Logger
	deps Deps

	// Guards load-modify-save cycles on book records, since both chains
	// write the same record concurrently.
	mu sync.Mutex
}

// New creates a pipeline.
func New(log *slog.Logger, deps Deps) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	if deps.Reachable == nil {
		deps.Reachable = func() bool { return true }
	}
	return &Pipeline{log: log, deps: deps}
}

// SetupBook runs the full setup: the manifest chains synchronously, the
// supplementary fetches fire-and-forget. The return value is the manifest
// chains' aggregate result.
func (p *Pipeline) SetupBook(ctx context.Context, bookID string) bool {
	go p.SetupSupplementaryData(context.WithoutCancel(ctx), bookID)
	return p.SetupManifest(ctx, bookID)
}

// SetupManifest runs the two fetch chains concurrently and joins them. Each
// chain short-circuits internally on first failure; the aggregate result is
// the AND of both chains, delivered exactly once.
func (p *Pipeline) SetupManifest(ctx context.Context, bookID string) bool {
	if err := p.ensureBook(ctx, bookID); err != nil {
		p.log.Error("failed to load book record", "book_id", bookID, "err", err)
		metrics.SetupRuns.WithLabelValues("failed").Inc()
		return false
	}

	var (
		wg       sync.WaitGroup
		okDocs   bool
		okSource bool
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		okDocs = p.runDocumentChain(ctx, bookID)
	}()
	go func() {
		defer wg.Done()
		okSource = p.runManifestChain(ctx, bookID)
	}()
	wg.Wait()

	ok := okDocs && okSource
	result := "ok"
	if !ok {
		result = "failed"
	}
	metrics.SetupRuns.WithLabelValues(result).Inc()
	p.log.Info("manifest setup finished", "book_id", bookID, "ok", ok)
	return ok
}

// runDocumentChain is the metadata/document chain: metadata, then the
// table-of-contents document, then the package descriptor. The copy of cached
// documents into downloaded asset trees runs whenever the document steps were
// reached, regardless of the package step's outcome.
func (p *Pipeline) runDocumentChain(ctx context.Context, bookID string) bool {
	ok := p.fetchMetadata(ctx, bookID)
	if !ok {
		return false
	}
	ok = p.fetchCachedDoc(ctx, bookID, "toc.xhtml", store.TypeToc)
	if !ok {
		return false
	}
	ok = p.fetchCachedDoc(ctx, bookID, ".opf", store.TypeOPF)
	p.copyDocsToDownloadedAssets(ctx, bookID)
	return ok
}

// runManifestChain is the profile/structure chain: profile, then the page
// structure, then the manifest with persistence.
func (p *Pipeline) runManifestChain(ctx context.Context, bookID string) bool {
	if !p.fetchProfile(ctx, bookID) {
		return false
	}
	if !p.fetchTableOfContents(ctx, bookID) {
		return false
	}
	return p.fetchManifest(ctx, bookID)
}

func (p *Pipeline) fetchMetadata(ctx context.Context, bookID string) bool {
	if !p.deps.Reachable() {
		return true
	}
	m, err := p.deps.Metadata.FetchMetadata(ctx, bookID)
	if err != nil {
		p.log.Error("failed to fetch book metadata", "book_id", bookID, "err", err)
		return false
	}
	if err := p.mutateBook(ctx, bookID, func(b *catalog.Book) {
		b.Metadata = m
	}); err != nil {
		p.log.Error("failed to save book metadata", "book_id", bookID, "err", err)
		return false
	}
	return true
}

// fetchCachedDoc resolves the document URL from the book metadata by name
// fragment, fetches it and stores the bytes in the content store.
func (p *Pipeline) fetchCachedDoc(ctx context.Context, bookID, fragment string, ct store.ContentType) bool {
	if !p.deps.Reachable() {
		p.log.Debug("offline, skipping document fetch", "book_id", bookID, "fragment", fragment)
		return true
	}

	b, err := p.deps.Books.Book(ctx, bookID)
	if err != nil || b.Metadata == nil {
		p.log.Error("book metadata unavailable for document fetch", "book_id", bookID, "fragment", fragment)
		return false
	}
	var docURL string
	for _, src := range b.Metadata.TocSources {
		if strings.Contains(src, fragment) {
			docURL = src
			break
		}
	}
	if docURL == "" {
		p.log.Error("no document source in metadata", "book_id", bookID, "fragment", fragment)
		return false
	}

	docBytes, err := p.deps.Docs.FetchDoc(ctx, docURL)
	if err != nil {
		p.log.Error("failed to fetch document", "book_id", bookID, "url", docURL, "err", err)
		return false
	}
	res := store.Resource{Type: ct, OwnerID: bookID, Filename: docFilename(ct)}
	if err := p.deps.Files.Save(docBytes, res); err != nil {
		p.log.Error("failed to cache document", "book_id", bookID, "type", ct, "err", err)
		return false
	}
	return true
}

func docFilename(ct store.ContentType) string {
	if ct == store.TypeOPF {
		return "package.opf"
	}
	return "toc.xhtml"
}

// copyDocsToDownloadedAssets places the cached toc and package documents into
// every already-downloaded asset tree of the book. Best-effort: failures are
// logged only.
func (p *Pipeline) copyDocsToDownloadedAssets(ctx context.Context, bookID string) {
	entries, err := p.deps.Manifests.Fetch(ctx, bookID)
	if err != nil {
		p.log.Debug("no manifest entries to refresh", "book_id", bookID, "err", err)
		return
	}
	for _, e := range entries {
		if !e.Downloaded {
			continue
		}
		p.placeCachedDoc(
			store.Resource{Type: store.TypeToc, OwnerID: bookID, Filename: "toc.xhtml"},
			filepath.Join(p.deps.CachesRoot, e.AssetID, relTocPath))
		p.placeCachedDoc(
			store.Resource{Type: store.TypeOPF, OwnerID: bookID, Filename: "package.opf"},
			filepath.Join(p.deps.CachesRoot, e.AssetID, relOPFPath))
	}
}

func (p *Pipeline) placeCachedDoc(res store.Resource, dest string) {
	docBytes, err := p.deps.Files.Fetch(res)
	if err != nil {
		p.log.Debug("cached document unavailable", "type", res.Type, "owner_id", res.OwnerID, "err", err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		p.log.Error("failed to create destination directory", "dest", dest, "err", err)
		return
	}
	if err := os.WriteFile(dest, docBytes, 0o644); err != nil {
		p.log.Error("failed to place cached document", "dest", dest, "err", err)
	}
}

// fetchProfile resolves the book profile: already-present profile wins,
// offline falls back to the cached copy, otherwise the remote worker is
// asked and the result persisted.
func (p *Pipeline) fetchProfile(ctx context.Context, bookID string) bool {
	b, err := p.deps.Books.Book(ctx, bookID)
	if err == nil && b.Profile != nil {
		return true
	}

	if !p.deps.Reachable() {
		res := store.Resource{Type: store.TypeProfile, OwnerID: bookID, Filename: "bookProfile"}
		raw, err := p.deps.Files.Fetch(res)
		if err != nil {
			p.log.Error("no cached profile while offline", "book_id", bookID, "err", err)
			return false
		}
		var prof catalog.Profile
		if err := json.Unmarshal(raw, &prof); err != nil {
			p.log.Error("cached profile is corrupt", "book_id", bookID, "err", err)
			return false
		}
		return p.saveProfile(ctx, bookID, &prof)
	}

	prof, err := p.deps.Profile.FetchProfile(ctx, bookID)
	if err != nil {
		p.log.Error("failed to fetch book profile", "book_id", bookID, "err", err)
		return false
	}
	return p.saveProfile(ctx, bookID, prof)
}

func (p *Pipeline) saveProfile(ctx context.Context, bookID string, prof *catalog.Profile) bool {
	if err := p.mutateBook(ctx, bookID, func(b *catalog.Book) {
		b.Profile = prof
	}); err != nil {
		p.log.Error("failed to save book profile", "book_id", bookID, "err", err)
		return false
	}
	return true
}

// fetchTableOfContents materializes the page structure. Existing local data
// wins; offline reads the cached navigation document; otherwise the remote
// structure is fetched, cached and persisted.
func (p *Pipeline) fetchTableOfContents(ctx context.Context, bookID string) bool {
	b, err := p.deps.Books.Book(ctx, bookID)
	if err == nil && b.TotalPages > 0 {
		return true
	}

	navRes := store.Resource{Type: store.TypeNavigation, OwnerID: bookID, Filename: bookID}
	if !p.deps.Reachable() {
		if !p.deps.Files.Reachable(navRes) {
			p.log.Error("no cached page structure while offline", "book_id", bookID)
			return false
		}
		raw, err := p.deps.Files.Fetch(navRes)
		if err != nil {
			p.log.Error("failed to read cached page structure", "book_id", bookID, "err", err)
			return false
		}
		var doc remote.TocDocument
		if err := json.Unmarshal(raw, &doc); err != nil {
			p.log.Error("cached page structure is corrupt", "book_id", bookID, "err", err)
			return false
		}
		return p.persistToc(ctx, bookID, &doc)
	}

	doc, err := p.deps.Toc.FetchToc(ctx, bookID)
	if err != nil {
		p.log.Error("failed to fetch page structure", "book_id", bookID, "err", err)
		return false
	}
	if raw, merr := json.Marshal(doc); merr == nil {
		if serr := p.deps.Files.Save(raw, navRes); serr != nil {
			p.log.Error("failed to cache page structure", "book_id", bookID, "err", serr)
		}
	}
	return p.persistToc(ctx, bookID, doc)
}

func (p *Pipeline) persistToc(ctx context.Context, bookID string, doc *remote.TocDocument) bool {
	if err := p.deps.Pages.ReplacePages(ctx, bookID, doc.Pages); err != nil {
		p.log.Error("failed to persist page structure", "book_id", bookID, "err", err)
		return false
	}
	if err := p.mutateBook(ctx, bookID, func(b *catalog.Book) {
		b.TotalPages = doc.TotalPages
	}); err != nil {
		p.log.Error("failed to save total pages", "book_id", bookID, "err", err)
		return false
	}
	return true
}

// fetchManifest pulls the offline manifest from the primary source, falling
// back to the secondary on failure, and persists the parsed entries plus the
// derived page/asset-id indexes.
func (p *Pipeline) fetchManifest(ctx context.Context, bookID string) bool {
	if !p.deps.Reachable() {
		return true
	}

	items, err := p.deps.ManifestPrimary.FetchManifest(ctx, bookID)
	if err != nil {
		p.log.Debug("primary manifest source failed, trying fallback", "book_id", bookID, "err", err)
		items, err = p.deps.ManifestFallback.FetchManifest(ctx, bookID)
		if err != nil {
			p.log.Error("failed to fetch manifest from both sources", "book_id", bookID, "err", err)
			return false
		}
	}
	if err := p.persistManifest(ctx, bookID, items); err != nil {
		p.log.Error("failed to persist manifest", "book_id", bookID, "err", err)
		return false
	}
	return true
}

func (p *Pipeline) persistManifest(ctx context.Context, bookID string, items []catalog.ManifestEntry) error {
	b, err := p.deps.Books.Book(ctx, bookID)
	if err != nil {
		return err
	}
	if b.Profile == nil {
		return fmt.Errorf("book %s has no profile, cannot persist manifest", bookID)
	}

	if b.Profile.Access == data.AccessChunked {
		levelOne, err := p.deps.Pages.ChapterLevelOnePages(ctx, bookID)
		if err != nil {
			return err
		}
		entries, err := p.deps.Manifests.Persist(ctx, bookID, items, levelOne)
		if err != nil {
			return err
		}
		if len(entries) > 0 {
			return p.deps.Pages.AssignAssetIDs(ctx, bookID, entries)
		}
		return nil
	}

	entries, err := p.deps.Manifests.Persist(ctx, bookID, items, nil)
	if err != nil {
		return err
	}
	if len(entries) > 0 {
		return p.deps.Pages.AssignAssetIDToAll(ctx, bookID, entries[0].AssetID)
	}
	return nil
}

// ensureBook makes sure a catalog record exists for the book.
func (p *Pipeline) ensureBook(ctx context.Context, bookID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := p.deps.Books.Book(ctx, bookID)
	if errors.Is(err, catalog.ErrNotFound) {
		return p.deps.Books.SaveBook(ctx, &catalog.Book{ID: bookID})
	}
	return err
}

// mutateBook runs a load-modify-save cycle on the book record under the
// pipeline's book lock.
func (p *Pipeline) mutateBook(ctx context.Context, bookID string, fn func(*catalog.Book)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, err := p.deps.Books.Book(ctx, bookID)
	if errors.Is(err, catalog.ErrNotFound) {
		b = &catalog.Book{ID: bookID}
	} else if err != nil {
		return err
	}
	fn(b)
	return p.deps.Books.SaveBook(ctx, b)
}

func (p *Pipeline) publish(e event.Event) {
	metrics.DownloadEvents.WithLabelValues(string(e.Type)).Inc()
	if p.deps.Bus != nil {
		p.deps.Bus.Publish(e)
	}
}

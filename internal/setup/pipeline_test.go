package setup

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/shelfdapp/shelfd/internal/catalog"
	"github.com/shelfdapp/shelfd/internal/data"
	"github.com/shelfdapp/shelfd/internal/remote"
	"github.com/shelfdapp/shelfd/internal/store"
)

type stubRemote struct {
	metadata    *catalog.Metadata
	metadataErr error
	profile     *catalog.Profile
	profileErr  error
	doc         []byte
	docErr      error
	toc         *remote.TocDocument
	tocErr      error
	manifest    []catalog.ManifestEntry
	manifestErr error

	docCalls      atomic.Int32
	manifestCalls atomic.Int32
}

func (s *stubRemote) FetchMetadata(context.Context, string) (*catalog.Metadata, error) {
	return s.metadata, s.metadataErr
}

func (s *stubRemote) FetchProfile(context.Context, string) (*catalog.Profile, error) {
	return s.profile, s.profileErr
}

func (s *stubRemote) FetchDoc(context.Context, string) ([]byte, error) {
	s.docCalls.Add(1)
	return s.doc, s.docErr
}

func (s *stubRemote) FetchToc(context.Context, string) (*remote.TocDocument, error) {
	return s.toc, s.tocErr
}

func (s *stubRemote) FetchManifest(context.Context, string) ([]catalog.ManifestEntry, error) {
	s.manifestCalls.Add(1)
	return s.manifest, s.manifestErr
}

func metadataWithDocs() *catalog.Metadata {
	return &catalog.Metadata{
		Title: "Biology",
		TocSources: []string{
			"https://cdn.example.com/book1/toc.xhtml",
			"https://cdn.example.com/book1/package.opf",
		},
	}
}

func wholeBookManifest() []catalog.ManifestEntry {
	return []catalog.ManifestEntry{
		{AssetID: "asset1", Src: "book1.zip", Size: 1000, ChapterIndex: 1},
	}
}

func tocDoc() *remote.TocDocument {
	return &remote.TocDocument{
		TotalPages: 3,
		Pages: []catalog.Page{
			{URI: "p1", Number: 1, Level: 1},
			{URI: "p2", Number: 2, Level: 2},
			{URI: "p3", Number: 3, Level: 1},
		},
	}
}

func newTestPipeline(t *testing.T, cat *catalog.InMemory, r *stubRemote, reachable bool) *Pipeline {
	t.Helper()
	return New(nil, Deps{
		Books:            cat,
		Pages:            cat,
		Manifests:        cat,
		Files:            store.NewFS(t.TempDir(), nil),
		Metadata:         r,
		Profile:          r,
		Docs:             r,
		Toc:              r,
		ManifestPrimary:  r,
		ManifestFallback: r,
		Reachable:        func() bool { return reachable },
		CachesRoot:       t.TempDir(),
	})
}

func TestSetupManifestBothChainsSucceed(t *testing.T) {
	cat := catalog.NewInMemory()
	r := &stubRemote{
		metadata: metadataWithDocs(),
		profile:  &catalog.Profile{Access: data.AccessWholeBook},
		doc:      []byte("<doc/>"),
		toc:      tocDoc(),
		manifest: wholeBookManifest(),
	}
	p := newTestPipeline(t, cat, r, true)

	if ok := p.SetupManifest(context.Background(), "book1"); !ok {
		t.Fatal("expected setup to succeed")
	}

	b, err := cat.Book(context.Background(), "book1")
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if b.Metadata == nil || b.Profile == nil || b.TotalPages != 3 {
		t.Fatalf("book record incomplete: %+v", b)
	}

	entries, _ := cat.Fetch(context.Background(), "book1")
	if len(entries) != 1 || entries[0].BookID != "book1" {
		t.Fatalf("manifest not persisted: %+v", entries)
	}
	// Whole-book access maps every page to the single asset.
	pages, _ := cat.ChapterLevelOnePages(context.Background(), "book1")
	for _, pg := range pages {
		if pg.AssetID != "asset1" {
			t.Fatalf("page %s not mapped to asset: %+v", pg.URI, pg)
		}
	}
}

func TestSetupManifestChainAFailureKeepsChainBSideEffects(t *testing.T) {
	cat := catalog.NewInMemory()
	r := &stubRemote{
		metadata: metadataWithDocs(),
		profile:  &catalog.Profile{Access: data.AccessWholeBook},
		// Second step of the document chain fails.
		docErr:   errors.New("cdn unavailable"),
		toc:      tocDoc(),
		manifest: wholeBookManifest(),
	}
	p := newTestPipeline(t, cat, r, true)

	if ok := p.SetupManifest(context.Background(), "book1"); ok {
		t.Fatal("expected aggregate failure when the document chain fails")
	}

	// The manifest chain ran to completion regardless.
	entries, _ := cat.Fetch(context.Background(), "book1")
	if len(entries) != 1 {
		t.Fatalf("manifest chain side effects missing: %+v", entries)
	}
	b, _ := cat.Book(context.Background(), "book1")
	if b.TotalPages != 3 {
		t.Fatalf("page structure not persisted: %+v", b)
	}
}

func TestSetupManifestOfflineSkipsAreSuccesses(t *testing.T) {
	cat := catalog.NewInMemory()
	// Local data is sufficient: profile and page structure already present.
	if err := cat.SaveBook(context.Background(), &catalog.Book{
		ID:         "book1",
		Profile:    &catalog.Profile{Access: data.AccessWholeBook},
		TotalPages: 3,
	}); err != nil {
		t.Fatal(err)
	}

	r := &stubRemote{
		metadataErr: errors.New("must not be called"),
		profileErr:  errors.New("must not be called"),
		docErr:      errors.New("must not be called"),
		tocErr:      errors.New("must not be called"),
		manifestErr: errors.New("must not be called"),
	}
	p := newTestPipeline(t, cat, r, false)

	if ok := p.SetupManifest(context.Background(), "book1"); !ok {
		t.Fatal("offline steps must count as successes")
	}
	if r.docCalls.Load() != 0 || r.manifestCalls.Load() != 0 {
		t.Fatal("offline run must not hit remote workers")
	}
}

func TestSetupManifestFallsBackToSecondaryManifestSource(t *testing.T) {
	cat := catalog.NewInMemory()
	primary := &stubRemote{manifestErr: errors.New("bucket missing")}
	fallback := &stubRemote{manifest: wholeBookManifest()}
	shared := &stubRemote{
		metadata: metadataWithDocs(),
		profile:  &catalog.Profile{Access: data.AccessWholeBook},
		doc:      []byte("<doc/>"),
		toc:      tocDoc(),
	}

	p := New(nil, Deps{
		Books:            cat,
		Pages:            cat,
		Manifests:        cat,
		Files:            store.NewFS(t.TempDir(), nil),
		Metadata:         shared,
		Profile:          shared,
		Docs:             shared,
		Toc:              shared,
		ManifestPrimary:  primary,
		ManifestFallback: fallback,
		Reachable:        func() bool { return true },
		CachesRoot:       t.TempDir(),
	})

	if ok := p.SetupManifest(context.Background(), "book1"); !ok {
		t.Fatal("fallback source must rescue the manifest step")
	}
	if primary.manifestCalls.Load() != 1 || fallback.manifestCalls.Load() != 1 {
		t.Fatalf("expected primary then fallback, got %d/%d",
			primary.manifestCalls.Load(), fallback.manifestCalls.Load())
	}
}

func TestSetupManifestChunkedAssignsChapterAssets(t *testing.T) {
	cat := catalog.NewInMemory()
	r := &stubRemote{
		metadata: metadataWithDocs(),
		profile:  &catalog.Profile{Access: data.AccessChunked},
		doc:      []byte("<doc/>"),
		toc:      tocDoc(),
		manifest: []catalog.ManifestEntry{
			{AssetID: "ch1", ChapterIndex: 1},
			{AssetID: "ch2", ChapterIndex: 2},
		},
	}
	p := newTestPipeline(t, cat, r, true)

	if ok := p.SetupManifest(context.Background(), "book1"); !ok {
		t.Fatal("expected setup to succeed")
	}

	pages, _ := cat.ChapterLevelOnePages(context.Background(), "book1")
	if len(pages) != 2 {
		t.Fatalf("expected 2 level-one pages, got %d", len(pages))
	}
	if pages[0].AssetID != "ch1" || pages[1].AssetID != "ch2" {
		t.Fatalf("chapter assets misassigned: %+v", pages)
	}
}

func TestSupplementaryGlossaryFallback(t *testing.T) {
	cat := catalog.NewInMemory()
	if err := cat.SaveBook(context.Background(), &catalog.Book{ID: "book1", IndexID: "idx1"}); err != nil {
		t.Fatal(err)
	}

	mlg := &stubGlossary{terms: 0}
	std := &stubGlossary{terms: 5}
	p := New(nil, Deps{
		Books:      cat,
		Pages:      cat,
		Manifests:  cat,
		Files:      store.NewFS(t.TempDir(), nil),
		MLGlossary: mlg,
		Glossary:   std,
		Reachable:  func() bool { return true },
	})

	p.fetchGlossaryContent(context.Background(), "book1")

	if !std.called {
		t.Fatal("empty multilingual glossary must fall back to the standard glossary")
	}
	b, _ := cat.Book(context.Background(), "book1")
	if !b.HasGlossary {
		t.Fatal("standard glossary terms must set the glossary flag")
	}
}

func TestSupplementaryPromptsIdempotent(t *testing.T) {
	cat := catalog.NewInMemory()
	if err := cat.SaveBook(context.Background(), &catalog.Book{ID: "book1", NotesBuilt: true}); err != nil {
		t.Fatal(err)
	}

	prompts := &stubPrompts{prompts: []remote.Prompt{{ID: "q1", PageURI: "p1"}}}
	notes := &stubNotes{}
	p := New(nil, Deps{
		Books:     cat,
		Pages:     cat,
		Manifests: cat,
		Files:     store.NewFS(t.TempDir(), nil),
		Prompts:   prompts,
		Notes:     notes,
		Reachable: func() bool { return true },
	})

	p.fetchPrompts(context.Background(), "book1")

	if prompts.calls != 0 || len(notes.added) != 0 {
		t.Fatal("notes-built flag must make prompt materialization a no-op")
	}
}

func TestSupplementaryPromptsBuildsMissingNotes(t *testing.T) {
	cat := catalog.NewInMemory()
	if err := cat.SaveBook(context.Background(), &catalog.Book{ID: "book1"}); err != nil {
		t.Fatal(err)
	}

	prompts := &stubPrompts{prompts: []remote.Prompt{
		{ID: "q1", PageURI: "p1"},
		{ID: "q2", PageURI: "p2"},
	}}
	notes := &stubNotes{existing: map[string]bool{"q1/p1": true}}
	p := New(nil, Deps{
		Books:     cat,
		Pages:     cat,
		Manifests: cat,
		Files:     store.NewFS(t.TempDir(), nil),
		Prompts:   prompts,
		Notes:     notes,
		Reachable: func() bool { return true },
	})

	p.fetchPrompts(context.Background(), "book1")

	if len(notes.added) != 1 || notes.added[0] != "q2/p2" {
		t.Fatalf("expected one new blank note, got %v", notes.added)
	}
	b, _ := cat.Book(context.Background(), "book1")
	if !b.NotesBuilt {
		t.Fatal("notes-built flag must be set after materialization")
	}
}

func TestSupplementaryModulesSkipWhenPresent(t *testing.T) {
	cat := catalog.NewInMemory()
	if err := cat.SaveBook(context.Background(), &catalog.Book{
		ID:      "book1",
		Modules: json.RawMessage(`{"existing":true}`),
	}); err != nil {
		t.Fatal(err)
	}

	mods := &stubModules{}
	p := New(nil, Deps{
		Books:     cat,
		Pages:     cat,
		Manifests: cat,
		Files:     store.NewFS(t.TempDir(), nil),
		Modules:   mods,
		Reachable: func() bool { return true },
	})

	p.fetchModules(context.Background(), "book1")

	if mods.calls != 0 {
		t.Fatal("present modules must not be refetched")
	}
}

type stubGlossary struct {
	terms  int
	err    error
	called bool
}

func (s *stubGlossary) FetchTerms(context.Context, string, string) (int, error) {
	s.called = true
	return s.terms, s.err
}

func (s *stubGlossary) FetchGlossary(context.Context, string, string) (int, error) {
	s.called = true
	return s.terms, s.err
}

type stubPrompts struct {
	prompts []remote.Prompt
	calls   int
}

func (s *stubPrompts) FetchPrompts(context.Context, string) ([]remote.Prompt, error) {
	s.calls++
	return s.prompts, nil
}

type stubNotes struct {
	existing map[string]bool
	added    []string
}

func (s *stubNotes) HasNote(_ context.Context, promptID, pageURI string) (bool, error) {
	return s.existing[promptID+"/"+pageURI], nil
}

func (s *stubNotes) AddBlankNote(_ context.Context, promptID, pageURI string) error {
	s.added = append(s.added, promptID+"/"+pageURI)
	return nil
}

type stubModules struct {
	calls int
}

func (s *stubModules) FetchModules(context.Context, string) (json.RawMessage, error) {
	s.calls++
	return json.RawMessage(`{}`), nil
}

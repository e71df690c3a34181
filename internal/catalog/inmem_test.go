package catalog

import (
	"context"
	"errors"
	"testing"
)

func seedPages(t *testing.T, s *InMemory) {
	t.Helper()
	err := s.ReplacePages(context.Background(), "book1", []Page{
		{BookID: "book1", URI: "ch1", Number: 1, Level: 1},
		{BookID: "book1", URI: "ch1-s1", Number: 2, Level: 2},
		{BookID: "book1", URI: "ch2", Number: 3, Level: 1},
		{BookID: "book1", URI: "ch2-s1", Number: 4, Level: 2},
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestBookRoundTrip(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	if _, err := s.Book(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := s.SaveBook(ctx, &Book{ID: "book1", TotalPages: 10}); err != nil {
		t.Fatal(err)
	}
	b, err := s.Book(ctx, "book1")
	if err != nil || b.TotalPages != 10 {
		t.Fatalf("book: %v %+v", err, b)
	}

	// Returned records are copies.
	b.TotalPages = 99
	again, _ := s.Book(ctx, "book1")
	if again.TotalPages != 10 {
		t.Fatal("mutating a returned record must not affect the store")
	}
}

func TestAssignAssetIDsWalksChapters(t *testing.T) {
	s := NewInMemory()
	seedPages(t, s)
	ctx := context.Background()

	err := s.AssignAssetIDs(ctx, "book1", []ManifestEntry{
		{AssetID: "a1", ChapterIndex: 1},
		{AssetID: "a2", ChapterIndex: 2},
	})
	if err != nil {
		t.Fatal(err)
	}

	level1, _ := s.ChapterLevelOnePages(ctx, "book1")
	if len(level1) != 2 {
		t.Fatalf("expected 2 level-one pages, got %d", len(level1))
	}
	if level1[0].AssetID != "a1" || level1[1].AssetID != "a2" {
		t.Fatalf("chapter pages misassigned: %+v", level1)
	}

	// Sub-pages inherit the enclosing chapter's asset: flipping a1's
	// downloaded flag must not reach ch2's subtree.
	if err := s.SetAssetDownloaded(ctx, "book1", "a1", true); err != nil {
		t.Fatal(err)
	}
	level1, _ = s.ChapterLevelOnePages(ctx, "book1")
	if !level1[0].Downloaded || level1[1].Downloaded {
		t.Fatalf("downloaded flag must follow the asset assignment: %+v", level1)
	}
}

func TestAssignAssetIDToAll(t *testing.T) {
	s := NewInMemory()
	seedPages(t, s)
	ctx := context.Background()

	if err := s.AssignAssetIDToAll(ctx, "book1", "whole"); err != nil {
		t.Fatal(err)
	}
	pages, _ := s.ChapterLevelOnePages(ctx, "book1")
	for _, pg := range pages {
		if pg.AssetID != "whole" {
			t.Fatalf("page %s not assigned: %+v", pg.URI, pg)
		}
	}
}

func TestPersistPreservesDownloadedFlags(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	if _, err := s.Persist(ctx, "book1", []ManifestEntry{
		{AssetID: "a1", ChapterIndex: 1},
		{AssetID: "a2", ChapterIndex: 2},
	}, nil); err != nil {
		t.Fatal(err)
	}
	if err := s.SetDownloaded(ctx, "book1", "a1", true); err != nil {
		t.Fatal(err)
	}

	// A manifest refresh keeps a1's downloaded flag.
	entries, err := s.Persist(ctx, "book1", []ManifestEntry{
		{AssetID: "a1", ChapterIndex: 1},
		{AssetID: "a2", ChapterIndex: 2},
		{AssetID: "a3", ChapterIndex: 3},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	byID := make(map[string]ManifestEntry, len(entries))
	for _, e := range entries {
		byID[e.AssetID] = e
	}
	if !byID["a1"].Downloaded || byID["a2"].Downloaded || byID["a3"].Downloaded {
		t.Fatalf("downloaded flags not preserved across refresh: %+v", entries)
	}
	if byID["a3"].BookID != "book1" {
		t.Fatal("persisted entries must carry the book id")
	}
}

func TestDownloadedFlagLevelsAreIndependent(t *testing.T) {
	s := NewInMemory()
	seedPages(t, s)
	ctx := context.Background()
	if err := s.AssignAssetIDToAll(ctx, "book1", "a1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Persist(ctx, "book1", []ManifestEntry{{AssetID: "a1", ChapterIndex: 1}}, nil); err != nil {
		t.Fatal(err)
	}

	if err := s.SetAssetDownloaded(ctx, "book1", "a1", true); err != nil {
		t.Fatal(err)
	}
	entries, _ := s.Fetch(ctx, "book1")
	if entries[0].Downloaded {
		t.Fatal("page-level write must not touch the manifest level")
	}

	ok, err := s.IsAssetDownloaded(ctx, "a1")
	if err != nil || ok {
		t.Fatalf("completion marker tracks the manifest level: %v %v", ok, err)
	}
	if err := s.SetDownloaded(ctx, "book1", "a1", true); err != nil {
		t.Fatal(err)
	}
	ok, err = s.IsAssetDownloaded(ctx, "a1")
	if err != nil || !ok {
		t.Fatalf("expected completion marker after manifest write: %v %v", ok, err)
	}
}

func TestSetDownloadedUnknownAsset(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	if _, err := s.Persist(ctx, "book1", []ManifestEntry{{AssetID: "a1"}}, nil); err != nil {
		t.Fatal(err)
	}
	if err := s.SetDownloaded(ctx, "book1", "nope", true); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.SetDownloaded(ctx, "book2", "a1", true); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown book, got %v", err)
	}
}

package catalog

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a record is not in the catalog.
var ErrNotFound = errors.New("catalog record not found")

// BookStore persists book records.
type BookStore interface {
	Book(ctx context.Context, id string) (*Book, error)
	SaveBook(ctx context.Context, b *Book) error
	// IsAssetDownloaded reports whether the asset has a persisted
	// completion marker, surviving process restarts.
	IsAssetDownloaded(ctx context.Context, assetID string) (bool, error)
}

// PageStore persists the derived page structure and the page-level per-asset
// downloaded flags.
type PageStore interface {
	// ReplacePages replaces the book's page tree.
	ReplacePages(ctx context.Context, bookID string, pages []Page) error
	// ChapterLevelOnePages lists the book's top-level chapter pages.
	ChapterLevelOnePages(ctx context.Context, bookID string) ([]Page, error)
	// AssignAssetIDs maps pages to per-chapter asset ids from the manifest.
	AssignAssetIDs(ctx context.Context, bookID string, entries []ManifestEntry) error
	// AssignAssetIDToAll points every page of the book at one asset id.
	AssignAssetIDToAll(ctx context.Context, bookID, assetID string) error
	// SetAssetDownloaded flips the page-level downloaded flag on every
	// page served by the asset.
	SetAssetDownloaded(ctx context.Context, bookID, assetID string, downloaded bool) error
}

// ManifestStore persists offline-manifest entries and the manifest-level
// downloaded flags.
type ManifestStore interface {
	// Persist stores the fetched manifest entries. For chunked books,
	// levelOne maps chapter entries to top-level pages; for whole-book
	// manifests it is nil. Returns the persisted entries.
	Persist(ctx context.Context, bookID string, entries []ManifestEntry, levelOne []Page) ([]ManifestEntry, error)
	// Fetch lists the book's persisted manifest entries.
	Fetch(ctx context.Context, bookID string) ([]ManifestEntry, error)
	// SetDownloaded flips the manifest-level downloaded flag for an asset.
	SetDownloaded(ctx context.Context, bookID, assetID string, downloaded bool) error
}

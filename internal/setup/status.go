package setup

import (
	"context"

	"github.com/shelfdapp/shelfd/internal/catalog"
	"github.com/shelfdapp/shelfd/internal/data"
	"github.com/shelfdapp/shelfd/internal/event"
)

// UpdateDownloadStatus is the two-phase downloaded-flag write: the page-level
// flag first, then the manifest-level flag. A failed second write rolls the
// first back to its prior value. Success publishes a status-changed event;
// failures are logged, never retried.
func (p *Pipeline) UpdateDownloadStatus(ctx context.Context, u *data.Unit, downloaded bool) {
	bookID := u.OwnerID
	if err := p.deps.Pages.SetAssetDownloaded(ctx, bookID, u.AssetID, downloaded); err != nil {
		p.log.Error("page-level downloaded flag update failed",
			"book_id", bookID, "asset_id", u.AssetID, "err", err)
		return
	}
	if err := p.deps.Manifests.SetDownloaded(ctx, bookID, u.AssetID, downloaded); err != nil {
		p.log.Error("manifest-level downloaded flag update failed, rolling back page flag",
			"book_id", bookID, "asset_id", u.AssetID, "err", err)
		if rerr := p.deps.Pages.SetAssetDownloaded(ctx, bookID, u.AssetID, !downloaded); rerr != nil {
			p.log.Error("page-level rollback failed",
				"book_id", bookID, "asset_id", u.AssetID, "err", rerr)
		}
		return
	}
	p.publish(event.Event{Type: event.TypeStatusChanged, Unit: u.Clone()})
}

// AssetDownloaded is the post-transfer hook: record the asset as downloaded,
// refresh the book-level downloaded flag and kick off the supplementary
// enrichment fetches.
func (p *Pipeline) AssetDownloaded(ctx context.Context, u *data.Unit) {
	p.UpdateDownloadStatus(ctx, u, true)
	p.refreshBookDownloaded(ctx, u.OwnerID)
	go p.SetupSupplementaryData(context.WithoutCancel(ctx), u.OwnerID)
}

/// AssetRemoved is the removal hook: clear the asset's downloaded flags and
// refresh the book-level flag.
func (p *Pipeline) AssetRemoved(ctx context.Context, u *data.Unit) {
	p.UpdateDownloadStatus(ctx, u, false)
	p.refreshBookDownloaded(ctx, u.OwnerID)
}

// refreshBookDownloaded derives the book's downloaded flag from its manifest
// entries: set only when every entry is downloaded.
func (p *Pipeline) refreshBookDownloaded(ctx context.Context, bookID string) {
	entries, err := p.deps.Manifests.Fetch(ctx, bookID)
	if err != nil {
		p.log.Debug("cannot derive book downloaded flag", "book_id", bookID, "err", err)
		return
	}
	all := len(entries) > 0
	for _, e := range entries {
		if !e.Downloaded {
			all = false
			break
		}
	}
	if err := p.mutateBook(ctx, bookID, func(b *catalog.Book) {
		b.Downloaded = all
	}); err != nil {
		p.log.Error("failed to save book downloaded flag", "book_id", bookID, "err", err)
	}
}

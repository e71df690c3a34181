package catalog

import (
	"context"
	"sync"
)

// InMemory implements BookStore, PageStore and ManifestStore in process
// memory. It backs tests and ephemeral deployments.
type InMemory struct {
	mu        sync.RWMutex
	books     map[string]*Book
	pages     map[string][]Page
	manifests map[string][]ManifestEntry
}

// NewInMemory creates an empty in-memory catalog.
func NewInMemory() *InMemory {
	return &InMemory{
		books:     make(map[string]*Book),
		pages:     make(map[string][]Page),
		manifests: make(map[string][]ManifestEntry),
	}
}

func (s *InMemory) Book(ctx context.Context, id string) (*Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.books[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (s *InMemory) SaveBook(ctx context.Context, b *Book) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *b
	s.books[b.ID] = &cp
	return nil
}

func (s *InMemory) IsAssetDownloaded(ctx context.Context, assetID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, entries := range s.manifests {
		for _, e := range entries {
			if e.AssetID == assetID && e.Downloaded {
				return true, nil
			}
		}
	}
	return false, nil
}

func (s *InMemory) ReplacePages(ctx context.Context, bookID string, pages []Page) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[bookID] = append([]Page(nil), pages...)
	return nil
}

func (s *InMemory) ChapterLevelOnePages(ctx context.Context, bookID string) ([]Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Page
	for _, p := range s.pages[bookID] {
		if p.Level == 1 {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *InMemory) AssignAssetIDs(ctx context.Context, bookID string, entries []ManifestEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byChapter := make(map[int]string, len(entries))
	for _, e := range entries {
		byChapter[e.ChapterIndex] = e.AssetID
	}
	pages := s.pages[bookID]
	chapter := 0
	for i := range pages {
		if pages[i].Level == 1 {
			chapter++
		}
		if id, ok := byChapter[chapter]; ok {
			pages[i].AssetID = id
		}
	}
	return nil
}

func (s *InMemory) AssignAssetIDToAll(ctx context.Context, bookID, assetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pages := s.pages[bookID]
	for i := range pages {
		pages[i].AssetID = assetID
	}
	return nil
}

func (s *InMemory) SetAssetDownloaded(ctx context.Context, bookID, assetID string, downloaded bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pages, ok := s.pages[bookID]
	if !ok {
		return ErrNotFound
	}
	for i := range pages {
		if pages[i].AssetID == assetID {
			pages[i].Downloaded = downloaded
		}
	}
	return nil
}

func (s *InMemory) SetDownloaded(ctx context.Context, bookID, assetID string, downloaded bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, ok := s.manifests[bookID]
	if !ok {
		return ErrNotFound
	}
	found := false
	for i := range entries {
		if entries[i].AssetID == assetID {
			entries[i].Downloaded = downloaded
			found = true
		}
	}
	if !found {
		return ErrNotFound
	}
	return nil
}

func (s *InMemory) Persist(ctx context.Context, bookID string, entries []ManifestEntry, levelOne []Page) ([]ManifestEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := make([]ManifestEntry, len(entries))
	copy(stored, entries)
	for i := range stored {
		stored[i].BookID = bookID
	}
	// Preserve downloaded flags across a manifest refresh.
	for _, old := range s.manifests[bookID] {
		if !old.Downloaded {
			continue
		}
		for i := range stored {
			if stored[i].AssetID == old.AssetID {
				stored[i].Downloaded = true
			}
		}
	}
	s.manifests[bookID] = stored
	return append([]ManifestEntry(nil), stored...), nil
}

func (s *InMemory) Fetch(ctx context.Context, bookID string) ([]ManifestEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ManifestEntry(nil), s.manifests[bookID]...), nil
}

var (
	_ BookStore     = (*InMemory)(nil)
	_ PageStore     = (*InMemory)(nil)
	_ ManifestStore = (*InMemory)(nil)
)

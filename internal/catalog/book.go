// Package catalog is the system of record for book content items: their
// metadata, profile, derived page structure, offline manifest entries and
// downloaded/glossary/notes flags. The download engine consults it and
// writes status back; it never treats the runtime registry as truth for
// completed state.
package catalog

import (
	"encoding/json"

	"github.com/shelfdapp/shelfd/internal/data"
)

// Metadata is the server-described book metadata the setup pipeline needs.
// TocSources lists candidate document URLs (toc.xhtml, package.opf).
type Metadata struct {
	Title      string   `json:"title"`
	TocSources []string `json:"tocSources"`
}

// Profile describes how the book is packaged for offline use.
type Profile struct {
	Access data.AccessKind `json:"access"`
}

// Book is one persisted content record.
type Book struct {
	ID            string          `json:"id"`
	IndexID       string          `json:"indexId,omitempty"`
	OnlineBaseURL string          `json:"onlineBaseUrl,omitempty"`
	Metadata      *Metadata       `json:"metadata,omitempty"`
	Profile       *Profile        `json:"profile,omitempty"`
	Modules       json.RawMessage `json:"modules,omitempty"`
	TotalPages    int             `json:"totalPages"`
	Downloaded    bool            `json:"downloaded"`
	HasGlossary   bool            `json:"hasGlossary"`
	NotesBuilt    bool            `json:"notesBuilt"`
}

// Page is one table-of-contents page of a book.
type Page struct {
	BookID  string `json:"bookId"`
	URI     string `json:"uri"`
	Title   string `json:"title"`
	Number  int    `json:"number"`
	Level   int    `json:"level"`
	AssetID string `json:"assetId,omitempty"`

	Downloaded bool `json:"downloaded"`
}

// ManifestEntry is one persisted offline-manifest asset of a book.
type ManifestEntry struct {
	BookID       string `json:"bookId"`
	AssetID      string `json:"assetId"`
	Src          string `json:"src"`
	Checksum     string `json:"checksum"`
	Size         int64  `json:"size"`
	ChapterIndex int    `json:"chapterIndex"`
	Downloaded   bool   `json:"downloaded"`
}

// Package remote declares the remote fetch workers the setup pipeline fans
// out to. Each worker is a black box returning a payload or an error;
// transport, retries and auth are its own concern.
package remote

import (
	"context"
	"encoding/json"

	"github.com/shelfdapp/shelfd/internal/catalog"
)

// TocDocument is the parsed table-of-contents page structure of a book.
type TocDocument struct {
	TotalPages int            `json:"totalPages"`
	Pages      []catalog.Page `json:"pages"`
}

// Prompt is one authoring prompt attached to a book page.
type Prompt struct {
	ID      string `json:"id"`
	PageURI string `json:"pageUri"`
}

// MetadataFetcher fetches book metadata.
type MetadataFetcher interface {
	FetchMetadata(ctx context.Context, bookID string) (*catalog.Metadata, error)
}

// ProfileFetcher fetches the book profile.
type ProfileFetcher interface {
	FetchProfile(ctx context.Context, bookID string) (*catalog.Profile, error)
}

// DocFetcher fetches a raw auxiliary document (toc.xhtml, package.opf) by URL.
type DocFetcher interface {
	FetchDoc(ctx context.Context, url string) ([]byte, error)
}

// TocFetcher fetches or derives the table-of-contents page structure.
type TocFetcher interface {
	FetchToc(ctx context.Context, bookID string) (*TocDocument, error)
}

// ManifestFetcher fetches the offline manifest for a book. The pipeline
// wires two of these: a primary source and a fallback.
type ManifestFetcher interface {
	FetchManifest(ctx context.Context, bookID string) ([]catalog.ManifestEntry, error)
}

// ModulesFetcher fetches the book's module definitions.
type ModulesFetcher interface {
	FetchModules(ctx context.Context, bookID string) (json.RawMessage, error)
}

// MultilingualGlossaryFetcher fetches multilingual glossary terms, returning
// how many were stored.
type MultilingualGlossaryFetcher interface {
	FetchTerms(ctx context.Context, bookID, glossaryURL string) (int, error)
}

// GlossaryFetcher fetches standard glossary items, returning how many were
// stored.
type GlossaryFetcher interface {
	FetchGlossary(ctx context.Context, bookID, indexID string) (int, error)
}

// AssignmentFetcher pulls the book's assignments into local storage.
type AssignmentFetcher interface {
	FetchAssignments(ctx context.Context, bookID string) error
}

// PromptFetcher fetches the book's authoring prompts.
type PromptFetcher interface {
	FetchPrompts(ctx context.Context, bookID string) ([]Prompt, error)
}

// NoteStore materializes blank notes for prompts in the notebook layer.
type NoteStore interface {
	HasNote(ctx context.Context, promptID, pageURI string) (bool, error)
	AddBlankNote(ctx context.Context, promptID, pageURI string) error
}

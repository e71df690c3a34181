package setup

import (
	"context"

	"github.com/shelfdapp/shelfd/internal/catalog"
)

// glossaryDocPath is the in-archive glossary document used to build the
// multilingual glossary URL from the book's online base URL.
const glossaryDocPath = "OPS/xhtml/glossary.xhtml"

// SetupSupplementaryData runs the best-effort enrichment fetches. There is no
// aggregation and no result: each step logs its own failures and the others
// proceed regardless.
func (p *Pipeline) SetupSupplementaryData(ctx context.Context, bookID string) {
	p.fetchModules(ctx, bookID)
	p.fetchAssignments(ctx, bookID)
	p.fetchGlossaryContent(ctx, bookID)
	p.fetchPrompts(ctx, bookID)
}

// fetchModules pulls the module definitions once; an already-populated record
// is left alone.
func (p *Pipeline) fetchModules(ctx context.Context, bookID string) {
	if p.deps.Modules == nil {
		return
	}
	b, err := p.deps.Books.Book(ctx, bookID)
	if err == nil && len(b.Modules) > 0 {
		return
	}

	raw, err := p.deps.Modules.FetchModules(ctx, bookID)
	if err != nil {
		p.log.Error("failed to fetch book modules", "book_id", bookID, "err", err)
		return
	}
	if err := p.mutateBook(ctx, bookID, func(b *catalog.Book) {
		b.Modules = raw
	}); err != nil {
		p.log.Error("failed to save book modules", "book_id", bookID, "err", err)
	}
}

func (p *Pipeline) fetchAssignments(ctx context.Context, bookID string) {
	if p.deps.Assignments == nil {
		p.log.Error("assignment worker not configured, skipping assignment fetch", "book_id", bookID)
		return
	}
	if err := p.deps.Assignments.FetchAssignments(ctx, bookID); err != nil {
		p.log.Error("failed to fetch assignments", "book_id", bookID, "err", err)
	}
}

// fetchGlossaryContent tries the multilingual glossary first and falls back
// to the standard glossary when it is unavailable or yields no terms.
// Presence of either sets the book's glossary flag.
func (p *Pipeline) fetchGlossaryContent(ctx context.Context, bookID string) {
	b, err := p.deps.Books.Book(ctx, bookID)
	if err != nil {
		p.log.Error("book record unavailable for glossary fetch", "book_id", bookID, "err", err)
		return
	}

	if p.deps.MLGlossary != nil {
		glossaryURL := b.OnlineBaseURL + glossaryDocPath
		terms, err := p.deps.MLGlossary.FetchTerms(ctx, bookID, glossaryURL)
		if err == nil && terms > 0 {
			p.setGlossaryFlag(ctx, bookID, true)
			return
		}
		if err != nil {
			p.log.Debug("multilingual glossary unavailable, falling back", "book_id", bookID, "err", err)
		}
	}

	if p.deps.Glossary == nil {
		p.setGlossaryFlag(ctx, bookID, false)
		return
	}
	items, err := p.deps.Glossary.FetchGlossary(ctx, bookID, b.IndexID)
	if err != nil {
		p.log.Error("failed to fetch glossary", "book_id", bookID, "err", err)
		p.setGlossaryFlag(ctx, bookID, false)
		return
	}
	p.setGlossaryFlag(ctx, bookID, items > 0)
}

func (p *Pipeline) setGlossaryFlag(ctx context.Context, bookID string, has bool) {
	if err := p.mutateBook(ctx, bookID, func(b *catalog.Book) {
		b.HasGlossary = has
	}); err != nil {
		p.log.Error("failed to save glossary flag", "book_id", bookID, "err", err)
	}
}

// fetchPrompts materializes one blank note per authoring prompt. The
// notes-built flag makes the step idempotent across setup runs.
func (p *Pipeline) fetchPrompts(ctx context.Context, bookID string) {
	if p.deps.Prompts == nil || p.deps.Notes == nil {
		return
	}
	b, err := p.deps.Books.Book(ctx, bookID)
	if err == nil && b.NotesBuilt {
		return
	}

	prompts, err := p.deps.Prompts.FetchPrompts(ctx, bookID)
	if err != nil {
		p.log.Error("failed to fetch prompts", "book_id", bookID, "err", err)
		return
	}
	if len(prompts) == 0 {
		return
	}

	for _, pr := range prompts {
		has, err := p.deps.Notes.HasNote(ctx, pr.ID, pr.PageURI)
		if err != nil {
			p.log.Error("note lookup failed", "prompt_id", pr.ID, "err", err)
			continue
		}
		if has {
			continue
		}
		if err := p.deps.Notes.AddBlankNote(ctx, pr.ID, pr.PageURI); err != nil {
			p.log.Error("failed to materialize blank note", "prompt_id", pr.ID, "err", err)
		}
	}

	if err := p.mutateBook(ctx, bookID, func(b *catalog.Book) {
		b.NotesBuilt = true
	}); err != nil {
		p.log.Error("failed to save notes-built flag", "book_id", bookID, "err", err)
	}
}

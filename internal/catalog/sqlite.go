package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLite implements BookStore, PageStore and ManifestStore on a device-local
// sqlite database.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the catalog database at path and ensures the
// schema exists.
func OpenSQLite(path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS books (
		id TEXT PRIMARY KEY,
		index_id TEXT NOT NULL DEFAULT '',
		online_base_url TEXT NOT NULL DEFAULT '',
		metadata TEXT,
		profile TEXT,
		modules TEXT,
		total_pages INTEGER NOT NULL DEFAULT 0,
		downloaded INTEGER NOT NULL DEFAULT 0,
		has_glossary INTEGER NOT NULL DEFAULT 0,
		notes_built INTEGER NOT NULL DEFAULT 0
	);
	CREATE TABLE IF NOT EXISTS pages (
		book_id TEXT NOT NULL,
		number INTEGER NOT NULL,
		uri TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		level INTEGER NOT NULL DEFAULT 0,
		asset_id TEXT NOT NULL DEFAULT '',
		downloaded INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (book_id, number)
	);
	CREATE TABLE IF NOT EXISTS manifest (
		book_id TEXT NOT NULL,
		asset_id TEXT NOT NULL,
		src TEXT NOT NULL DEFAULT '',
		checksum TEXT NOT NULL DEFAULT '',
		size INTEGER NOT NULL DEFAULT 0,
		chapter_index INTEGER NOT NULL DEFAULT 0,
		downloaded INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (book_id, asset_id)
	);`)
	if err != nil {
		return fmt.Errorf("migrate catalog schema: %w", err)
	}
	return nil
}

func (s *SQLite) Book(ctx context.Context, id string) (*Book, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, index_id, online_base_url, metadata, profile, modules,
		       total_pages, downloaded, has_glossary, notes_built
		FROM books WHERE id = ?`, id)

	var b Book
	var metadata, profile, modules sql.NullString
	err := row.Scan(&b.ID, &b.IndexID, &b.OnlineBaseURL, &metadata, &profile, &modules,
		&b.TotalPages, &b.Downloaded, &b.HasGlossary, &b.NotesBuilt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query book %s: %w", id, err)
	}

	if metadata.Valid && metadata.String != "" {
		b.Metadata = &Metadata{}
		if err := json.Unmarshal([]byte(metadata.String), b.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata for %s: %w", id, err)
		}
	}
	if profile.Valid && profile.String != "" {
		b.Profile = &Profile{}
		if err := json.Unmarshal([]byte(profile.String), b.Profile); err != nil {
			return nil, fmt.Errorf("decode profile for %s: %w", id, err)
		}
	}
	if modules.Valid && modules.String != "" {
		b.Modules = json.RawMessage(modules.String)
	}
	return &b, nil
}

func (s *SQLite) SaveBook(ctx context.Context, b *Book) error {
	var metadata, profile, modules any
	if b.Metadata != nil {
		raw, err := json.Marshal(b.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		metadata = string(raw)
	}
	if b.Profile != nil {
		raw, err := json.Marshal(b.Profile)
		if err != nil {
			return fmt.Errorf("encode profile: %w", err)
		}
		profile = string(raw)
	}
	if len(b.Modules) > 0 {
		modules = string(b.Modules)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO books (id, index_id, online_base_url, metadata, profile, modules,
		                   total_pages, downloaded, has_glossary, notes_built)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			index_id = excluded.index_id,
			online_base_url = excluded.online_base_url,
			metadata = excluded.metadata,
			profile = excluded.profile,
			modules = excluded.modules,
			total_pages = excluded.total_pages,
			downloaded = excluded.downloaded,
			has_glossary = excluded.has_glossary,
			notes_built = excluded.notes_built`,
		b.ID, b.IndexID, b.OnlineBaseURL, metadata, profile, modules,
		b.TotalPages, b.Downloaded, b.HasGlossary, b.NotesBuilt)
	if err != nil {
		return fmt.Errorf("save book %s: %w", b.ID, err)
	}
	return nil
}

func (s *SQLite) IsAssetDownloaded(ctx context.Context, assetID string) (bool, error) {
	var downloaded bool
	err := s.db.QueryRowContext(ctx,
		`SELECT downloaded FROM manifest WHERE asset_id = ? LIMIT 1`, assetID).Scan(&downloaded)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query asset %s: %w", assetID, err)
	}
	return downloaded, nil
}

func (s *SQLite) ReplacePages(ctx context.Context, bookID string, pages []Page) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM pages WHERE book_id = ?`, bookID); err != nil {
		return fmt.Errorf("clear pages for %s: %w", bookID, err)
	}
	for _, p := range pages {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO pages (book_id, number, uri, title, level, asset_id, downloaded)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			bookID, p.Number, p.URI, p.Title, p.Level, p.AssetID, p.Downloaded)
		if err != nil {
			return fmt.Errorf("insert page %d for %s: %w", p.Number, bookID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLite) ChapterLevelOnePages(ctx context.Context, bookID string) ([]Page, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT book_id, number, uri, title, level, asset_id, downloaded
		FROM pages WHERE book_id = ? AND level = 1 ORDER BY number`, bookID)
	if err != nil {
		return nil, fmt.Errorf("query level-one pages for %s: %w", bookID, err)
	}
	defer rows.Close()
	return scanPages(rows)
}

func (s *SQLite) AssignAssetIDs(ctx context.Context, bookID string, entries []ManifestEntry) error {
	pages, err := s.allPages(ctx, bookID)
	if err != nil {
		return err
	}
	byChapter := make(map[int]string, len(entries))
	for _, e := range entries {
		byChapter[e.ChapterIndex] = e.AssetID
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	chapter := 0
	for _, p := range pages {
		if p.Level == 1 {
			chapter++
		}
		id, ok := byChapter[chapter]
		if !ok {
			continue
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE pages SET asset_id = ? WHERE book_id = ? AND number = ?`,
			id, bookID, p.Number)
		if err != nil {
			return fmt.Errorf("assign asset id to page %d: %w", p.Number, err)
		}
	}
	return tx.Commit()
}

func (s *SQLite) AssignAssetIDToAll(ctx context.Context, bookID, assetID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE pages SET asset_id = ? WHERE book_id = ?`, assetID, bookID)
	if err != nil {
		return fmt.Errorf("assign asset id for %s: %w", bookID, err)
	}
	return nil
}

func (s *SQLite) SetAssetDownloaded(ctx context.Context, bookID, assetID string, downloaded bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pages SET downloaded = ? WHERE book_id = ? AND asset_id = ?`,
		downloaded, bookID, assetID)
	if err != nil {
		return fmt.Errorf("set page download flag for %s/%s: %w", bookID, assetID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) Persist(ctx context.Context, bookID string, entries []ManifestEntry, levelOne []Page) ([]ManifestEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stored := make([]ManifestEntry, len(entries))
	copy(stored, entries)
	for i := range stored {
		stored[i].BookID = bookID
		var downloaded bool
		err := tx.QueryRowContext(ctx,
			`SELECT downloaded FROM manifest WHERE book_id = ? AND asset_id = ?`,
			bookID, stored[i].AssetID).Scan(&downloaded)
		if err == nil && downloaded {
			stored[i].Downloaded = true
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO manifest (book_id, asset_id, src, checksum, size, chapter_index, downloaded)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(book_id, asset_id) DO UPDATE SET
				src = excluded.src,
				checksum = excluded.checksum,
				size = excluded.size,
				chapter_index = excluded.chapter_index,
				downloaded = excluded.downloaded`,
			bookID, stored[i].AssetID, stored[i].Src, stored[i].Checksum,
			stored[i].Size, stored[i].ChapterIndex, stored[i].Downloaded)
		if err != nil {
			return nil, fmt.Errorf("persist manifest entry %s: %w", stored[i].AssetID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit manifest for %s: %w", bookID, err)
	}
	return stored, nil
}

func (s *SQLite) Fetch(ctx context.Context, bookID string) ([]ManifestEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT book_id, asset_id, src, checksum, size, chapter_index, downloaded
		FROM manifest WHERE book_id = ? ORDER BY chapter_index`, bookID)
	if err != nil {
		return nil, fmt.Errorf("query manifest for %s: %w", bookID, err)
	}
	defer rows.Close()

	var out []ManifestEntry
	for rows.Next() {
		var e ManifestEntry
		if err := rows.Scan(&e.BookID, &e.AssetID, &e.Src, &e.Checksum, &e.Size, &e.ChapterIndex, &e.Downloaded); err != nil {
			return nil, fmt.Errorf("scan manifest entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLite) SetDownloaded(ctx context.Context, bookID, assetID string, downloaded bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE manifest SET downloaded = ? WHERE book_id = ? AND asset_id = ?`,
		downloaded, bookID, assetID)
	if err != nil {
		return fmt.Errorf("set manifest download flag for %s/%s: %w", bookID, assetID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) allPages(ctx context.Context, bookID string) ([]Page, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT book_id, number, uri, title, level, asset_id, downloaded
		FROM pages WHERE book_id = ? ORDER BY number`, bookID)
	if err != nil {
		return nil, fmt.Errorf("query pages for %s: %w", bookID, err)
	}
	defer rows.Close()
	return scanPages(rows)
}

func scanPages(rows *sql.Rows) ([]Page, error) {
	var out []Page
	for rows.Next() {
		var p Page
		if err := rows.Scan(&p.BookID, &p.Number, &p.URI, &p.Title, &p.Level, &p.AssetID, &p.Downloaded); err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

var (
	_ BookStore     = (*SQLite)(nil)
	_ PageStore     = (*SQLite)(nil)
	_ ManifestStore = (*SQLite)(nil)
)

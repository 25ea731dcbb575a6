package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/renderinc/helpdesk-search/internal/document"
)

// DB is the SQLite document store. Full-text ranking is served by a derived TextIndex that is
// kept in step with every write.
type DB struct {
	db    *sql.DB
	index TextIndex
	log   logrus.FieldLogger

	closeOnce sync.Once
	closeErr  error
}

var _ Store = (*DB)(nil)

// Open opens or creates a SQLite database. The schema is not touched; call EnsureSchema.
func Open(path string, index TextIndex, log logrus.FieldLogger) (*DB, error) {
	dsn := "file:" + path + "?_busy_timeout=5000&_foreign_keys=on&_txlock=immediate"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL lets readers proceed while ingestion writes
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	return &DB{db: db, index: index, log: log.WithField("component", "sqlite")}, nil
}

// Close closes the database and its text index
func (d *DB) Close() error {
	d.closeOnce.Do(func() {
		d.closeErr = errors.Join(d.db.Close(), d.index.Close())
	})
	return d.closeErr
}

// Ping checks that the database answers queries
func (d *DB) Ping(ctx context.Context) error {
	if err := d.db.PingContext(ctx); err != nil {
		return Unavailable("ping", err)
	}
	return nil
}

const documentColumns = `id, title, slug, category, description, content, keywords, difficulty, url, scraped_at, updated_at`

const upsertQuery = `
INSERT INTO documents (title, slug, category, description, content, keywords, difficulty, url)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(url) DO UPDATE SET
	content = excluded.content,
	description = excluded.description
RETURNING id
`

// Upsert inserts a document or overwrites content and description of the row with the same url
func (d *DB) Upsert(ctx context.Context, doc *document.Document) (UpsertResult, error) {
	if err := doc.Validate(); err != nil {
		return UpsertResult{}, err
	}

	keywords, err := encodeKeywords(doc.Keywords)
	if err != nil {
		return UpsertResult{}, err
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return UpsertResult{}, Unavailable("begin upsert", err)
	}
	defer tx.Rollback()

	var existing int64
	err = tx.QueryRowContext(ctx, "SELECT id FROM documents WHERE url = ?", doc.URL).Scan(&existing)
	inserted := errors.Is(err, sql.ErrNoRows)
	if err != nil && !inserted {
		return UpsertResult{}, Unavailable("lookup url", err)
	}

	var id int64
	err = tx.QueryRowContext(ctx, upsertQuery,
		doc.Title, doc.Slug, doc.Category, doc.Description, doc.Content, keywords, doc.Difficulty, doc.URL,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return UpsertResult{}, fmt.Errorf("%w: %s", ErrConflict, err)
		}
		return UpsertResult{}, Unavailable("upsert document", err)
	}

	if err := tx.Commit(); err != nil {
		return UpsertResult{}, Unavailable("commit upsert", err)
	}

	// Refresh the derived index from the stored row, not from the caller's copy
	stored, err := d.Get(ctx, id)
	if err != nil {
		return UpsertResult{}, err
	}
	if err := d.index.Index(stored); err != nil {
		return UpsertResult{}, Unavailable("index document", err)
	}

	return UpsertResult{ID: id, Inserted: inserted}, nil
}

// Get retrieves a document by id
func (d *DB) Get(ctx context.Context, id int64) (*document.Document, error) {
	row := d.db.QueryRowContext(ctx, "SELECT "+documentColumns+" FROM documents WHERE id = ?", id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, Unavailable("get document", err)
	}
	return doc, nil
}

// GetByURL retrieves a document by its canonical url
func (d *DB) GetByURL(ctx context.Context, url string) (*document.Document, error) {
	row := d.db.QueryRowContext(ctx, "SELECT "+documentColumns+" FROM documents WHERE url = ?", url)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, Unavailable("get document by url", err)
	}
	return doc, nil
}

// List retrieves documents, most recently updated first
func (d *DB) List(ctx context.Context, opts ListOptions) ([]*document.Document, error) {
	query := "SELECT " + documentColumns + " FROM documents WHERE true"
	var args []any

	if opts.Category != "" {
		query += " AND category = ?"
		args = append(args, opts.Category)
	}
	if opts.Keyword != "" {
		query += " AND id IN (SELECT document_id FROM document_keywords WHERE keyword = ?)"
		args = append(args, opts.Keyword)
	}
	query += " ORDER BY updated_at DESC, id DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, Unavailable("list documents", err)
	}
	defer rows.Close()

	var docs []*document.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, Unavailable("scan document", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, Unavailable("list documents", err)
	}

	return docs, nil
}

// Categories returns the document count of every category, ordered alphabetically ignoring
// case; the null category comes first
func (d *DB) Categories(ctx context.Context) ([]document.CategoryCount, error) {
	rows, err := d.db.QueryContext(ctx,
		"SELECT COALESCE(category, ''), COUNT(*) FROM documents GROUP BY category ORDER BY category COLLATE NOCASE ASC, category ASC")
	if err != nil {
		return nil, Unavailable("aggregate categories", err)
	}
	defer rows.Close()

	categories := []document.CategoryCount{}
	for rows.Next() {
		var c document.CategoryCount
		if err := rows.Scan(&c.Name, &c.Count); err != nil {
			return nil, Unavailable("scan category", err)
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, Unavailable("aggregate categories", err)
	}

	return categories, nil
}

// Count returns the total number of documents
func (d *DB) Count(ctx context.Context) (int, error) {
	var count int
	if err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents").Scan(&count); err != nil {
		return 0, Unavailable("count documents", err)
	}
	return count, nil
}

// RewriteURL replaces the url of one document
func (d *DB) RewriteURL(ctx context.Context, id int64, url string) error {
	res, err := d.db.ExecContext(ctx, "UPDATE documents SET url = ? WHERE id = ?", url, id)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrConflict, err)
		}
		return Unavailable("rewrite url", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Unavailable("rewrite url", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Search ranks documents through the derived text index and loads the matching rows
func (d *DB) Search(ctx context.Context, query string, limit int) ([]document.Scored, error) {
	if strings.TrimSpace(query) == "" || limit <= 0 {
		return []document.Scored{}, nil
	}

	hits, err := d.index.Search(query, limit)
	if err != nil {
		return nil, Unavailable("search index", err)
	}
	if len(hits) == 0 {
		return []document.Scored{}, nil
	}

	ids := make([]int64, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	docs, err := d.getMany(ctx, ids)
	if err != nil {
		return nil, err
	}

	results := make([]document.Scored, 0, len(hits))
	for _, h := range hits {
		doc, ok := docs[h.ID]
		if !ok {
			// index entry outlived its row; the next reindex drops it
			d.log.WithField("id", h.ID).Warn("Search hit has no stored document")
			continue
		}
		results = append(results, document.Scored{Document: doc, Score: h.Score})
	}

	return results, nil
}

// Reindex rebuilds the derived text index from the table
func (d *DB) Reindex(ctx context.Context, progress func(current, total int)) error {
	docs, err := d.List(ctx, ListOptions{})
	if err != nil {
		return fmt.Errorf("list documents: %w", err)
	}

	if err := d.index.Reset(); err != nil {
		return fmt.Errorf("reset index: %w", err)
	}

	const batchSize = 100
	for start := 0; start < len(docs); start += batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+batchSize, len(docs))
		if err := d.index.IndexBatch(docs[start:end]); err != nil {
			return fmt.Errorf("index batch: %w", err)
		}
		if progress != nil {
			progress(end, len(docs))
		}
	}

	return nil
}

// IndexCount returns the number of documents in the derived text index
func (d *DB) IndexCount() (uint64, error) {
	return d.index.Count()
}

func (d *DB) getMany(ctx context.Context, ids []int64) (map[int64]*document.Document, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := d.db.QueryContext(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE id IN ("+placeholders+")", args...)
	if err != nil {
		return nil, Unavailable("load documents", err)
	}
	defer rows.Close()

	docs := make(map[int64]*document.Document, len(ids))
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, Unavailable("scan document", err)
		}
		docs[doc.ID] = doc
	}
	if err := rows.Err(); err != nil {
		return nil, Unavailable("load documents", err)
	}

	return docs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*document.Document, error) {
	var (
		doc                                  document.Document
		slug, category, description, content sql.NullString
		keywords, difficulty                 sql.NullString
		scrapedAt, updatedAt                 int64
	)

	err := row.Scan(
		&doc.ID, &doc.Title, &slug, &category, &description, &content,
		&keywords, &difficulty, &doc.URL, &scrapedAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	doc.Slug = nullable(slug)
	doc.Category = nullable(category)
	doc.Description = nullable(description)
	doc.Content = nullable(content)
	doc.Difficulty = nullable(difficulty)
	doc.ScrapedAt = time.UnixMicro(scrapedAt).UTC()
	doc.UpdatedAt = time.UnixMicro(updatedAt).UTC()

	if keywords.Valid && keywords.String != "" {
		if err := json.Unmarshal([]byte(keywords.String), &doc.Keywords); err != nil {
			return nil, fmt.Errorf("decode keywords: %w", err)
		}
	}

	return &doc, nil
}

func nullable(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return &s.String
}

func encodeKeywords(keywords []string) (any, error) {
	if keywords == nil {
		return nil, nil
	}
	b, err := json.Marshal(keywords)
	if err != nil {
		return nil, fmt.Errorf("encode keywords: %w", err)
	}
	return string(b), nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

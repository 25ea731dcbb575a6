package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/renderinc/helpdesk-search/internal/document"
	"github.com/renderinc/helpdesk-search/internal/storage"
)

// DB is the PostgreSQL document store. Ranking runs in the database over a GIN-indexed tsvector.
type DB struct {
	pool   *pgxpool.Pool
	config string
	log    logrus.FieldLogger
}

var _ storage.Store = (*DB)(nil)

// IsURL reports whether a connection string selects this backend
func IsURL(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// Open connects to PostgreSQL. The schema is not touched; call EnsureSchema.
func Open(ctx context.Context, dsn, language string, log logrus.FieldLogger) (*DB, error) {
	config, ok := Configs[language]
	if !ok {
		return nil, fmt.Errorf("unsupported search language %q", language)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, storage.Unavailable("connect", err)
	}

	return &DB{pool: pool, config: config, log: log.WithField("component", "postgres")}, nil
}

// Close closes the connection pool
func (d *DB) Close() error {
	d.pool.Close()
	return nil
}

// Ping checks that the database answers queries
func (d *DB) Ping(ctx context.Context) error {
	if err := d.pool.Ping(ctx); err != nil {
		return storage.Unavailable("ping", err)
	}
	return nil
}

const documentColumns = `id, title, slug, category, description, content, keywords, difficulty, url, scraped_at, updated_at`

const upsertQuery = `
INSERT INTO documents (title, slug, category, description, content, keywords, difficulty, url)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (url) DO UPDATE SET
	content = EXCLUDED.content,
	description = EXCLUDED.description
RETURNING id, (xmax = 0) AS inserted
`

// Upsert inserts a document or overwrites content and description of the row with the same url
func (d *DB) Upsert(ctx context.Context, doc *document.Document) (storage.UpsertResult, error) {
	if err := doc.Validate(); err != nil {
		return storage.UpsertResult{}, err
	}

	var res storage.UpsertResult
	err := d.pool.QueryRow(ctx, upsertQuery,
		doc.Title, doc.Slug, doc.Category, doc.Description, doc.Content, doc.Keywords, doc.Difficulty, doc.URL,
	).Scan(&res.ID, &res.Inserted)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.UpsertResult{}, fmt.Errorf("%w: %s", storage.ErrConflict, err)
		}
		return storage.UpsertResult{}, storage.Unavailable("upsert document", err)
	}

	return res, nil
}

// Get retrieves a document by id
func (d *DB) Get(ctx context.Context, id int64) (*document.Document, error) {
	rows, err := d.pool.Query(ctx, "SELECT "+documentColumns+" FROM documents WHERE id = $1", id)
	if err != nil {
		return nil, storage.Unavailable("get document", err)
	}
	return collectOne(rows, "get document")
}

// GetByURL retrieves a document by its canonical url
func (d *DB) GetByURL(ctx context.Context, url string) (*document.Document, error) {
	rows, err := d.pool.Query(ctx, "SELECT "+documentColumns+" FROM documents WHERE url = $1", url)
	if err != nil {
		return nil, storage.Unavailable("get document by url", err)
	}
	return collectOne(rows, "get document by url")
}

// List retrieves documents, most recently updated first
func (d *DB) List(ctx context.Context, opts storage.ListOptions) ([]*document.Document, error) {
	query := "SELECT " + documentColumns + " FROM documents WHERE true"
	var args []any

	if opts.Category != "" {
		args = append(args, opts.Category)
		query += fmt.Sprintf(" AND category = $%d", len(args))
	}
	if opts.Keyword != "" {
		args = append(args, []string{opts.Keyword})
		query += fmt.Sprintf(" AND keywords @> $%d", len(args))
	}
	query += " ORDER BY updated_at DESC, id DESC"
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := d.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, storage.Unavailable("list documents", err)
	}
	docs, err := pgx.CollectRows(rows, scanDocument)
	if err != nil {
		return nil, storage.Unavailable("list documents", err)
	}
	return docs, nil
}

// Categories returns the document count of every category, ordered alphabetically ignoring
// case independently of the database locale; the null category comes first
func (d *DB) Categories(ctx context.Context) ([]document.CategoryCount, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT COALESCE(category, ''), COUNT(*)
		FROM documents
		GROUP BY category
		ORDER BY lower(category) COLLATE "C" ASC NULLS FIRST, category COLLATE "C" ASC`)
	if err != nil {
		return nil, storage.Unavailable("aggregate categories", err)
	}

	categories, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (document.CategoryCount, error) {
		var c document.CategoryCount
		err := row.Scan(&c.Name, &c.Count)
		return c, err
	})
	if err != nil {
		return nil, storage.Unavailable("aggregate categories", err)
	}
	if categories == nil {
		categories = []document.CategoryCount{}
	}
	return categories, nil
}

// Count returns the total number of documents
func (d *DB) Count(ctx context.Context) (int, error) {
	var count int
	if err := d.pool.QueryRow(ctx, "SELECT COUNT(*) FROM documents").Scan(&count); err != nil {
		return 0, storage.Unavailable("count documents", err)
	}
	return count, nil
}

// RewriteURL replaces the url of one document
func (d *DB) RewriteURL(ctx context.Context, id int64, url string) error {
	tag, err := d.pool.Exec(ctx, "UPDATE documents SET url = $1 WHERE id = $2", url, id)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", storage.ErrConflict, err)
		}
		return storage.Unavailable("rewrite url", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Search ranks documents with ts_rank against plainto_tsquery, ties by ascending id
func (d *DB) Search(ctx context.Context, query string, limit int) ([]document.Scored, error) {
	if strings.TrimSpace(query) == "" || limit <= 0 {
		return []document.Scored{}, nil
	}

	vector := searchVector(d.config)
	tsquery := fmt.Sprintf("plainto_tsquery('%s', $1)", d.config)
	sql := "SELECT " + documentColumns + ", ts_rank(" + vector + ", " + tsquery + ") AS rank" +
		" FROM documents WHERE " + vector + " @@ " + tsquery +
		" ORDER BY rank DESC, id ASC LIMIT $2"

	rows, err := d.pool.Query(ctx, sql, query, limit)
	if err != nil {
		return nil, storage.Unavailable("search documents", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (document.Scored, error) {
		var (
			doc  document.Document
			rank float32
		)
		err := row.Scan(append(documentFields(&doc), &rank)...)
		return document.Scored{Document: &doc, Score: float64(rank)}, err
	})
	if err != nil {
		return nil, storage.Unavailable("search documents", err)
	}
	if results == nil {
		results = []document.Scored{}
	}
	return results, nil
}

func documentFields(doc *document.Document) []any {
	return []any{
		&doc.ID, &doc.Title, &doc.Slug, &doc.Category, &doc.Description, &doc.Content,
		&doc.Keywords, &doc.Difficulty, &doc.URL, &doc.ScrapedAt, &doc.UpdatedAt,
	}
}

func scanDocument(row pgx.CollectableRow) (*document.Document, error) {
	var doc document.Document
	if err := row.Scan(documentFields(&doc)...); err != nil {
		return nil, err
	}
	doc.ScrapedAt = doc.ScrapedAt.UTC()
	doc.UpdatedAt = doc.UpdatedAt.UTC()
	return &doc, nil
}

func collectOne(rows pgx.Rows, op string) (*document.Document, error) {
	doc, err := pgx.CollectExactlyOneRow(rows, scanDocument)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, storage.Unavailable(op, err)
	}
	return doc, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

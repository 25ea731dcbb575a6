package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/renderinc/helpdesk-search/internal/document"
)

var (
	// ErrUnavailable wraps every connectivity or query failure against the document store
	ErrUnavailable = errors.New("document store unavailable")
	// ErrNotFound is returned when a lookup matches no row
	ErrNotFound = errors.New("document not found")
	// ErrConflict is returned when a write violates a uniqueness constraint other than the url upsert key
	ErrConflict = errors.New("document conflicts with an existing document")
)

// Unavailable wraps a driver error into the store error taxonomy
func Unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}

// SchemaResult reports what EnsureSchema did
type SchemaResult int

const (
	// SchemaUnchanged means the expected layout was already in place
	SchemaUnchanged SchemaResult = iota
	// SchemaCreated means the table did not exist and was created
	SchemaCreated
	// SchemaRecreated means a legacy layout was dropped and rebuilt; existing rows were lost
	SchemaRecreated
)

func (r SchemaResult) String() string {
	switch r {
	case SchemaCreated:
		return "created"
	case SchemaRecreated:
		return "recreated"
	default:
		return "unchanged"
	}
}

// UpsertResult describes the row written by Upsert
type UpsertResult struct {
	ID       int64
	Inserted bool
}

// ListOptions filters List
type ListOptions struct {
	Category string
	Keyword  string
	Limit    int // 0 = unlimited
}

// Schema is the schema lifecycle manager of a store
type Schema interface {
	// EnsureSchema creates the documents table when absent and destructively recreates it when the
	// url uniqueness constraint is missing. Safe to call on every start.
	EnsureSchema(ctx context.Context) (SchemaResult, error)
	// TableExists reports whether the documents table exists
	TableExists(ctx context.Context) (bool, error)
}

// Searcher ranks stored documents against a free-text query
type Searcher interface {
	// Search returns matches ordered by descending relevance, ties by ascending id
	Search(ctx context.Context, query string, limit int) ([]document.Scored, error)
}

// Store is the durable document store
type Store interface {
	Schema
	Searcher
	// Ping checks connectivity
	Ping(ctx context.Context) error
	// Upsert inserts a document or, when its url exists, overwrites content and description only
	Upsert(ctx context.Context, doc *document.Document) (UpsertResult, error)
	// Get retrieves a document by id
	Get(ctx context.Context, id int64) (*document.Document, error)
	// GetByURL retrieves a document by its canonical url
	GetByURL(ctx context.Context, url string) (*document.Document, error)
	// List returns documents ordered by updated_at descending
	List(ctx context.Context, opts ListOptions) ([]*document.Document, error)
	// Categories aggregates document counts per category, ordered by name
	Categories(ctx context.Context) ([]document.CategoryCount, error)
	// Count returns the number of stored documents
	Count(ctx context.Context) (int, error)
	// RewriteURL replaces the url of a document and nothing else
	RewriteURL(ctx context.Context, id int64, url string) error
	// Close releases the underlying resources
	Close() error
}

// Hit is a match returned by a derived text index
type Hit struct {
	ID    int64
	Score float64
}

// TextIndex is a derived full-text index over document title and content
type TextIndex interface {
	// Index adds or replaces the entry of one document
	Index(doc *document.Document) error
	// IndexBatch adds or replaces many entries at once
	IndexBatch(docs []*document.Document) error
	// Search returns hits ordered by descending score, ties by ascending id
	Search(query string, limit int) ([]Hit, error)
	// Reset drops every entry
	Reset() error
	// Count returns the number of indexed documents
	Count() (uint64, error)
	// Close closes the index
	Close() error
}

package storage_test

import (
	"context"
	"fmt"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renderinc/helpdesk-search/internal/document"
	"github.com/renderinc/helpdesk-search/internal/search"
	"github.com/renderinc/helpdesk-search/internal/storage"
)

func openTestDB(t *testing.T, path string) *storage.DB {
	t.Helper()

	idx, err := search.Open("", "en")
	require.NoError(t, err)

	logger, _ := test.NewNullLogger()
	db, err := storage.Open(path, idx, logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return db
}

func newTestDB(t *testing.T) *storage.DB {
	t.Helper()

	db := openTestDB(t, filepath.Join(t.TempDir(), "helpdesk.db"))
	_, err := db.EnsureSchema(context.Background())
	require.NoError(t, err)

	return db
}

func article(url, title, content string) *document.Document {
	return &document.Document{
		Title:       title,
		Category:    document.Optional("Financeiro"),
		Description: document.Optional(content),
		Content:     document.Optional(content),
		URL:         url,
	}
}

func TestDB_EnsureSchema(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, filepath.Join(t.TempDir(), "helpdesk.db"))

	exists, err := db.TableExists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)

	result, err := db.EnsureSchema(ctx)
	require.NoError(t, err)
	assert.Equal(t, storage.SchemaCreated, result)

	exists, err = db.TableExists(ctx)
	require.NoError(t, err)
	assert.True(t, exists)

	_, err = db.Upsert(ctx, article("https://ajuda.example.com/financeiro/boletos", "Boletos", "emitir boletos"))
	require.NoError(t, err)

	result, err = db.EnsureSchema(ctx)
	require.NoError(t, err)
	assert.Equal(t, storage.SchemaUnchanged, result)

	count, err := db.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	results, err := db.Search(ctx, "boletos", 5)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestDB_EnsureSchemaRecreatesLegacyLayout(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "helpdesk.db")

	legacy, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = legacy.Exec(`
		CREATE TABLE documents (id INTEGER PRIMARY KEY, title TEXT NOT NULL, url TEXT);
		INSERT INTO documents (title, url) VALUES ('old', 'https://old.example.com/a');
		INSERT INTO documents (title, url) VALUES ('old', 'https://old.example.com/a');
	`)
	require.NoError(t, err)
	require.NoError(t, legacy.Close())

	db := openTestDB(t, path)

	count, err := db.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, count)

	result, err := db.EnsureSchema(ctx)
	require.NoError(t, err)
	assert.Equal(t, storage.SchemaRecreated, result)

	// recreation is destructive
	count, err = db.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	result, err = db.EnsureSchema(ctx)
	require.NoError(t, err)
	assert.Equal(t, storage.SchemaUnchanged, result)
}

func TestDB_EnsureSchemaRebuildsDriftedIndex(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "helpdesk.db")

	db := openTestDB(t, path)
	_, err := db.EnsureSchema(ctx)
	require.NoError(t, err)
	_, err = db.Upsert(ctx, article("https://ajuda.example.com/a", "Backup", "configure backup"))
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// a fresh in-memory index has lost every entry
	db = openTestDB(t, path)
	indexed, err := db.IndexCount()
	require.NoError(t, err)
	require.Equal(t, uint64(0), indexed)

	result, err := db.EnsureSchema(ctx)
	require.NoError(t, err)
	assert.Equal(t, storage.SchemaUnchanged, result)

	indexed, err = db.IndexCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), indexed)
}

func TestDB_UpsertIsIdempotentPerURL(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	url := "https://ajuda.example.com/financeiro/boletos"
	first := article(url, "Boletos", "versão um")
	first.Slug = document.Optional("financeiro/boletos")
	first.Keywords = []string{"boleto", "cobrança"}

	res, err := db.Upsert(ctx, first)
	require.NoError(t, err)
	assert.True(t, res.Inserted)

	before, err := db.GetByURL(ctx, url)
	require.NoError(t, err)

	second := article(url, "Outro título", "versão dois")
	second.Category = document.Optional("Outra")
	res2, err := db.Upsert(ctx, second)
	require.NoError(t, err)
	assert.False(t, res2.Inserted)
	assert.Equal(t, res.ID, res2.ID)

	count, err := db.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	after, err := db.GetByURL(ctx, url)
	require.NoError(t, err)

	// content and description are overwritten, everything else is preserved
	assert.Equal(t, "versão dois", document.Deref(after.Content))
	assert.Equal(t, "versão dois", document.Deref(after.Description))
	assert.Equal(t, before.ID, after.ID)
	assert.Equal(t, "Boletos", after.Title)
	assert.Equal(t, "Financeiro", document.Deref(after.Category))
	assert.Equal(t, before.Slug, after.Slug)
	assert.ElementsMatch(t, []string{"boleto", "cobrança"}, after.Keywords)
	assert.Equal(t, before.ScrapedAt, after.ScrapedAt)
	assert.True(t, after.UpdatedAt.After(before.UpdatedAt))
}

func TestDB_UpdatedAtIsStrictlyMonotonic(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	url := "https://ajuda.example.com/a"
	_, err := db.Upsert(ctx, article(url, "A", "v0"))
	require.NoError(t, err)

	created, err := db.GetByURL(ctx, url)
	require.NoError(t, err)
	assert.False(t, created.UpdatedAt.Before(created.ScrapedAt))

	previous := created.UpdatedAt
	for i := 0; i < 5; i++ {
		_, err := db.Upsert(ctx, article(url, "A", "v"))
		require.NoError(t, err)

		doc, err := db.GetByURL(ctx, url)
		require.NoError(t, err)
		assert.True(t, doc.UpdatedAt.After(previous), "updated_at must increase on every write")
		assert.Equal(t, created.ScrapedAt, doc.ScrapedAt)
		previous = doc.UpdatedAt
	}

	// reads never touch updated_at
	doc, err := db.GetByURL(ctx, url)
	require.NoError(t, err)
	assert.Equal(t, previous, doc.UpdatedAt)
}

func TestDB_UpsertValidation(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	_, err := db.Upsert(ctx, &document.Document{Title: "", URL: "https://ajuda.example.com/a"})
	assert.ErrorIs(t, err, document.ErrInvalid)

	_, err = db.Upsert(ctx, &document.Document{Title: "x", URL: "relative/path"})
	assert.ErrorIs(t, err, document.ErrInvalid)

	count, err := db.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestDB_SlugUniqueness(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	a := article("https://ajuda.example.com/a", "A", "a")
	a.Slug = document.Optional("financeiro/a")
	_, err := db.Upsert(ctx, a)
	require.NoError(t, err)

	b := article("https://ajuda.example.com/b", "B", "b")
	b.Slug = document.Optional("financeiro/a")
	_, err = db.Upsert(ctx, b)
	assert.ErrorIs(t, err, storage.ErrConflict)

	// null slugs never conflict
	for _, url := range []string{"https://ajuda.example.com/c", "https://ajuda.example.com/d"} {
		_, err = db.Upsert(ctx, article(url, "C", "c"))
		require.NoError(t, err)
	}
}

func TestDB_ListAndCategories(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	docs := []*document.Document{
		{Title: "Boletos", Category: document.Optional("Financeiro"), URL: "https://ajuda.example.com/1", Keywords: []string{"cobrança"}},
		{Title: "Notas", Category: document.Optional("Fiscal"), URL: "https://ajuda.example.com/2", Keywords: []string{"nfe", "cobrança"}},
		{Title: "Contas", Category: document.Optional("Financeiro"), URL: "https://ajuda.example.com/3"},
		{Title: "Sem categoria", URL: "https://ajuda.example.com/4"},
	}
	for _, d := range docs {
		_, err := db.Upsert(ctx, d)
		require.NoError(t, err)
	}

	all, err := db.List(ctx, storage.ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	for i := 1; i < len(all); i++ {
		assert.False(t, all[i].UpdatedAt.After(all[i-1].UpdatedAt), "list must be ordered by updated_at desc")
	}

	financeiro, err := db.List(ctx, storage.ListOptions{Category: "Financeiro"})
	require.NoError(t, err)
	assert.Len(t, financeiro, 2)

	limited, err := db.List(ctx, storage.ListOptions{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	tagged, err := db.List(ctx, storage.ListOptions{Keyword: "cobrança"})
	require.NoError(t, err)
	assert.Len(t, tagged, 2)

	categories, err := db.Categories(ctx)
	require.NoError(t, err)
	assert.Equal(t, []document.CategoryCount{
		{Name: "", Count: 1},
		{Name: "Financeiro", Count: 2},
		{Name: "Fiscal", Count: 1},
	}, categories)
}

func TestDB_Search(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	_, err := db.Upsert(ctx, article("https://ajuda.example.com/a", "Backup Procedure", "how to configure backup"))
	require.NoError(t, err)
	_, err = db.Upsert(ctx, article("https://ajuda.example.com/b", "Invoices", "no mention of backup"))
	require.NoError(t, err)

	results, err := db.Search(ctx, "backup", 5)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "Backup Procedure", results[0].Document.Title)
	assert.Equal(t, "Invoices", results[1].Document.Title)

	results, err = db.Search(ctx, "payroll", 5)
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = db.Search(ctx, "", 5)
	require.NoError(t, err)
	assert.Empty(t, results)

	// the index follows content rewrites
	_, err = db.Upsert(ctx, article("https://ajuda.example.com/b", "Invoices", "payroll only"))
	require.NoError(t, err)
	results, err = db.Search(ctx, "backup", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Backup Procedure", results[0].Document.Title)
}

func TestDB_RewriteURL(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	res, err := db.Upsert(ctx, article("https://old.example.com/a", "A", "a"))
	require.NoError(t, err)
	before, err := db.Get(ctx, res.ID)
	require.NoError(t, err)

	require.NoError(t, db.RewriteURL(ctx, res.ID, "https://ajuda.example.com/financeiro/a"))

	after, err := db.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://ajuda.example.com/financeiro/a", after.URL)
	assert.Equal(t, before.Content, after.Content)
	assert.True(t, after.UpdatedAt.After(before.UpdatedAt))

	_, err = db.GetByURL(ctx, "https://old.example.com/a")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	assert.ErrorIs(t, db.RewriteURL(ctx, 9999, "https://ajuda.example.com/x"), storage.ErrNotFound)
}

func TestDB_Reindex(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	for _, url := range []string{"https://ajuda.example.com/a", "https://ajuda.example.com/b"} {
		_, err := db.Upsert(ctx, article(url, "Backup", "backup"))
		require.NoError(t, err)
	}

	var calls int
	err := db.Reindex(ctx, func(current, total int) {
		calls++
		assert.Equal(t, 2, total)
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	indexed, err := db.IndexCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), indexed)
}

func TestDB_ClosedStoreIsUnavailable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	db := newTestDB(t)
	require.NoError(t, db.Close())

	_, err := db.Count(ctx)
	assert.ErrorIs(t, err, storage.ErrUnavailable)
	assert.ErrorIs(t, db.Ping(ctx), storage.ErrUnavailable)
}

func TestDB_CategoriesIgnoreCase(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	for i, name := range []string{"Zeta", "financeiro", "alpha", "Financeiro"} {
		_, err := db.Upsert(ctx, &document.Document{
			Title:    name,
			Category: document.Optional(name),
			URL:      fmt.Sprintf("https://ajuda.example.com/%d", i),
		})
		require.NoError(t, err)
	}

	categories, err := db.Categories(ctx)
	require.NoError(t, err)
	assert.Equal(t, []document.CategoryCount{
		{Name: "alpha", Count: 1},
		{Name: "Financeiro", Count: 1},
		{Name: "financeiro", Count: 1},
		{Name: "Zeta", Count: 1},
	}, categories)
}

package ingest

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renderinc/helpdesk-search/internal/document"
	"github.com/renderinc/helpdesk-search/internal/metrics"
	"github.com/renderinc/helpdesk-search/internal/normalize"
	"github.com/renderinc/helpdesk-search/internal/search"
	"github.com/renderinc/helpdesk-search/internal/storage"
	"github.com/renderinc/helpdesk-search/internal/upstream"
	"github.com/renderinc/helpdesk-search/internal/upstream/upstreamtest"
)

const publicBase = "https://ajuda.example.com"

func newStore(t *testing.T) *storage.DB {
	t.Helper()

	idx, err := search.Open("", "en")
	require.NoError(t, err)

	logger, _ := test.NewNullLogger()
	db, err := storage.Open(filepath.Join(t.TempDir(), "helpdesk.db"), idx, logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.EnsureSchema(context.Background())
	require.NoError(t, err)
	return db
}

func twoCategorySite() *upstreamtest.Site {
	return &upstreamtest.Site{
		Categories: []upstreamtest.Category{
			{
				Slug: "financeiro",
				Name: "Financeiro",
				Articles: []upstreamtest.Article{
					{Slug: "conciliacao", Title: "Bank reconciliation", Body: `<p>Run the reconciliation wizard. See <a href="/docs/page">docs</a>.</p>`, Keywords: []string{"banco"}},
				},
			},
			{
				Slug: "estoque",
				Name: "Estoque",
				Articles: []upstreamtest.Article{
					{Slug: "inventario", Title: "Inventory count", Body: `<p>Count the warehouse stock.</p>`},
				},
			},
		},
	}
}

func newPipeline(t *testing.T, site *upstreamtest.Site, store Writer, opts Options) *Pipeline {
	t.Helper()

	srv := site.NewServer()
	t.Cleanup(srv.Close)

	client, err := upstream.NewClient(srv.URL)
	require.NoError(t, err)

	if opts.PublicBaseURL == "" {
		opts.PublicBaseURL = publicBase
	}
	if opts.Scheduler == nil {
		opts.Scheduler = Sequential{}
	}

	logger, _ := test.NewNullLogger()
	return NewPipeline(client, store, normalize.New(srv.URL), opts, logger)
}

func TestPipeline_TwoCategories(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	p := newPipeline(t, twoCategorySite(), store, Options{})

	result, err := p.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, result.CategoriesFound)
	assert.Equal(t, 2, result.DocumentsFound)
	assert.Equal(t, 2, result.DocumentsProcessed)
	assert.Equal(t, 2, result.Inserted)
	assert.Equal(t, 0, result.Updated)
	assert.Empty(t, result.Errors)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	doc, err := store.GetByURL(ctx, publicBase+"/financeiro/conciliacao")
	require.NoError(t, err)
	assert.Equal(t, "Bank reconciliation", doc.Title)
	assert.Equal(t, "Financeiro", document.Deref(doc.Category))
	assert.Equal(t, "financeiro/conciliacao", document.Deref(doc.Slug))
	assert.Equal(t, "Run the reconciliation wizard. See docs.", document.Deref(doc.Description))
	assert.Contains(t, document.Deref(doc.Content), `href="/financeiro/docs/page"`)
	assert.Equal(t, []string{"banco"}, doc.Keywords)

	_, err = store.GetByURL(ctx, publicBase+"/estoque/inventario")
	require.NoError(t, err)

	categories, err := store.Categories(ctx)
	require.NoError(t, err)
	assert.Equal(t, []document.CategoryCount{{Name: "Estoque", Count: 1}, {Name: "Financeiro", Count: 1}}, categories)

	results, err := store.Search(ctx, "reconciliation", 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "Bank reconciliation", results[0].Document.Title)
}

func TestPipeline_RerunIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	p := newPipeline(t, twoCategorySite(), store, Options{})

	_, err := p.Run(ctx)
	require.NoError(t, err)
	before, err := store.GetByURL(ctx, publicBase+"/financeiro/conciliacao")
	require.NoError(t, err)

	result, err := p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Inserted)
	assert.Equal(t, 2, result.Updated)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	after, err := store.GetByURL(ctx, publicBase+"/financeiro/conciliacao")
	require.NoError(t, err)
	assert.Equal(t, before.ID, after.ID)
	assert.Equal(t, before.Slug, after.Slug)
	assert.Equal(t, before.ScrapedAt, after.ScrapedAt)
	assert.True(t, after.UpdatedAt.After(before.UpdatedAt))
}

func TestPipeline_EmptyCategoryIsNotAnError(t *testing.T) {
	site := twoCategorySite()
	site.Categories = append(site.Categories, upstreamtest.Category{Slug: "vazia", Name: "Vazia"})
	p := newPipeline(t, site, newStore(t), Options{})

	result, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, result.CategoriesFound)
	assert.Equal(t, 1, result.EmptyCategories)
	assert.Equal(t, 2, result.DocumentsProcessed)
	assert.Empty(t, result.Errors)
}

func TestPipeline_DocumentFailureIsCounted(t *testing.T) {
	ctx := context.Background()
	site := twoCategorySite()
	site.Fail("/financeiro/conciliacao", -1)
	store := newStore(t)
	p := newPipeline(t, site, store, Options{})

	result, err := p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.DocumentsFound)
	assert.Equal(t, 1, result.DocumentsProcessed)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "Financeiro", result.Errors[0].Category)
	assert.Contains(t, result.Errors[0].URL, "/financeiro/conciliacao")
	assert.Contains(t, result.Errors[0].Message, "status 500")

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestPipeline_CategoryListingFailureIsCounted(t *testing.T) {
	site := twoCategorySite()
	site.Fail("/financeiro", -1)
	p := newPipeline(t, site, newStore(t), Options{})

	result, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.CategoriesFound)
	assert.Equal(t, 1, result.DocumentsProcessed)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "Financeiro", result.Errors[0].Category)
}

func TestPipeline_CategoryTreeFailureIsFatal(t *testing.T) {
	site := twoCategorySite()
	site.Fail("/", -1)
	p := newPipeline(t, site, newStore(t), Options{})

	result, err := p.Run(context.Background())
	assert.ErrorIs(t, err, upstream.ErrFetch)
	assert.Nil(t, result)
}

func TestPipeline_Retry(t *testing.T) {
	site := twoCategorySite()
	site.Fail("/financeiro/conciliacao", 2)
	p := newPipeline(t, site, newStore(t), Options{Retry: Retry{Attempts: 3, Initial: time.Millisecond, Max: 5 * time.Millisecond}})

	result, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.DocumentsProcessed)
	assert.Empty(t, result.Errors)
	assert.Equal(t, 3, site.Hits("/financeiro/conciliacao"))
}

func TestPipeline_StoreFailureIsCounted(t *testing.T) {
	p := newPipeline(t, twoCategorySite(), failingWriter{}, Options{})

	result, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.DocumentsProcessed)
	assert.Len(t, result.Errors, 2)
}

func TestPipeline_BoundedScheduler(t *testing.T) {
	ctx := context.Background()
	site := twoCategorySite()
	for i, slug := range []string{"a", "b", "c", "d"} {
		site.Categories[i%2].Articles = append(site.Categories[i%2].Articles,
			upstreamtest.Article{Slug: slug, Title: "Article " + slug, Body: "<p>extra</p>"})
	}
	store := newStore(t)
	p := newPipeline(t, site, store, Options{Scheduler: Bounded{Concurrency: 3}})

	result, err := p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, result.DocumentsProcessed)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, count)
}

func TestPipeline_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := newPipeline(t, twoCategorySite(), newStore(t), Options{Scheduler: Sequential{Delay: time.Hour}})

	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()

	result, err := p.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, result)
	assert.Equal(t, 1, result.DocumentsProcessed)
}

func TestSequential_Delay(t *testing.T) {
	var processed atomic.Int32
	tasks := func(yield func(Task) bool) {
		for range 3 {
			if !yield(Task{}) {
				return
			}
		}
	}

	start := time.Now()
	err := Sequential{Delay: 20 * time.Millisecond}.Run(context.Background(), tasks, func(context.Context, Task) {
		processed.Add(1)
	})
	require.NoError(t, err)
	assert.Equal(t, int32(3), processed.Load())
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestDocumentSlug(t *testing.T) {
	tests := []struct {
		ref  upstream.ArticleRef
		want string
	}{
		{upstream.ArticleRef{URL: "https://h/financeiro/Emitir-Boleto"}, "emitir-boleto"},
		{upstream.ArticleRef{URL: "https://h/financeiro/emitir-boleto/"}, "emitir-boleto"},
		{upstream.ArticleRef{URL: "https://h/", Title: "Como Emitir"}, "como-emitir"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DocumentSlug(tt.ref))
	}
}

type failingWriter struct{}

func (failingWriter) Upsert(context.Context, *document.Document) (storage.UpsertResult, error) {
	return storage.UpsertResult{}, storage.Unavailable("upsert document", assert.AnError)
}

func (failingWriter) Count(context.Context) (int, error) {
	return 0, storage.Unavailable("count documents", assert.AnError)
}

func TestPipeline_RefreshesStoredGauge(t *testing.T) {
	m := metrics.New()
	m.SetDocumentsStored(99)
	p := newPipeline(t, twoCategorySite(), newStore(t), Options{Metrics: m})

	_, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.DocumentsStored))
}

// Package ingest walks the upstream help center and upserts every article into the document store.
package ingest

import (
	"context"
	"fmt"
	"iter"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/renderinc/helpdesk-search/internal/document"
	"github.com/renderinc/helpdesk-search/internal/metrics"
	"github.com/renderinc/helpdesk-search/internal/normalize"
	"github.com/renderinc/helpdesk-search/internal/storage"
	"github.com/renderinc/helpdesk-search/internal/upstream"
)

// Source is the upstream help center
type Source interface {
	Categories(ctx context.Context) ([]upstream.Category, error)
	Articles(ctx context.Context, category upstream.Category) ([]upstream.ArticleRef, error)
	Article(ctx context.Context, ref upstream.ArticleRef) (*upstream.Article, error)
}

// Writer is the part of the document store ingestion writes to
type Writer interface {
	Upsert(ctx context.Context, doc *document.Document) (storage.UpsertResult, error)
	Count(ctx context.Context) (int, error)
}

// Task is one document to ingest
type Task struct {
	Category     upstream.Category
	CategorySlug string
	Ref          upstream.ArticleRef
}

// DocumentError is a recovered failure of one document or category listing
type DocumentError struct {
	URL      string `json:"url"`
	Category string `json:"category"`
	Message  string `json:"message"`
}

// Result holds ingestion statistics
type Result struct {
	CategoriesFound    int             `json:"categories_found"`
	EmptyCategories    int             `json:"empty_categories"`
	DocumentsFound     int             `json:"documents_found"`
	DocumentsProcessed int             `json:"documents_processed"`
	Inserted           int             `json:"inserted"`
	Updated            int             `json:"updated"`
	Errors             []DocumentError `json:"errors"`
	StartedAt          time.Time       `json:"started_at"`
	Duration           time.Duration   `json:"duration"`
}

// Options configures a Pipeline
type Options struct {
	// PublicBaseURL is the root of the canonical document URLs
	PublicBaseURL string
	Scheduler     Scheduler
	Retry         Retry
	Metrics       *metrics.Metrics
}

// Pipeline fetches, normalizes and upserts upstream articles
type Pipeline struct {
	source     Source
	store      Writer
	normalizer *normalize.Normalizer
	opts       Options
	log        logrus.FieldLogger
}

// NewPipeline creates an ingestion pipeline
func NewPipeline(source Source, store Writer, normalizer *normalize.Normalizer, opts Options, log logrus.FieldLogger) *Pipeline {
	if opts.Scheduler == nil {
		opts.Scheduler = Sequential{Delay: DefaultDelay}
	}
	if opts.Retry.Attempts == 0 {
		opts.Retry = NoRetry
	}
	return &Pipeline{
		source:     source,
		store:      store,
		normalizer: normalizer,
		opts:       opts,
		log:        log.WithField("component", "ingest"),
	}
}

// run accumulates the result of one ingestion; tasks may finish concurrently
type run struct {
	mu     sync.Mutex
	result Result
}

func (r *run) fail(url, category string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.result.Errors = append(r.result.Errors, DocumentError{URL: url, Category: category, Message: err.Error()})
}

// Run performs a full ingestion. Only a failure to fetch the category tree is returned as an
// error; per-document and per-category failures are logged and counted in the result.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	r := &run{result: Result{StartedAt: start.UTC(), Errors: []DocumentError{}}}

	p.log.Info("Starting ingestion")

	categories, err := p.source.Categories(ctx)
	if err != nil {
		p.opts.Metrics.RecordIngestRun(time.Since(start), err)
		return nil, fmt.Errorf("fetch category tree: %w", err)
	}
	r.result.CategoriesFound = len(categories)
	p.log.WithField("categories", len(categories)).Info("Fetched category tree")

	err = p.opts.Scheduler.Run(ctx, p.tasks(ctx, categories, r), func(ctx context.Context, task Task) {
		p.process(ctx, task, r)
	})
	p.refreshStored(context.WithoutCancel(ctx))

	r.mu.Lock()
	defer r.mu.Unlock()
	result := r.result
	result.Duration = time.Since(start)
	p.opts.Metrics.RecordIngestRun(result.Duration, err)

	if err != nil {
		return &result, fmt.Errorf("ingestion interrupted: %w", err)
	}

	p.log.WithFields(logrus.Fields{
		"found":     result.DocumentsFound,
		"processed": result.DocumentsProcessed,
		"inserted":  result.Inserted,
		"updated":   result.Updated,
		"errors":    len(result.Errors),
		"duration":  result.Duration.Round(time.Millisecond).String(),
	}).Info("Ingestion complete")

	return &result, nil
}

// refreshStored updates the stored document gauge after a run wrote to the store
func (p *Pipeline) refreshStored(ctx context.Context) {
	if p.opts.Metrics == nil {
		return
	}
	n, err := p.store.Count(ctx)
	if err != nil {
		p.log.WithError(err).Warn("Failed to count stored documents")
		return
	}
	p.opts.Metrics.SetDocumentsStored(n)
}

// tasks yields one task per listed article, fetching each category listing lazily
func (p *Pipeline) tasks(ctx context.Context, categories []upstream.Category, r *run) iter.Seq[Task] {
	return func(yield func(Task) bool) {
		for _, category := range categories {
			if ctx.Err() != nil {
				return
			}
			log := p.log.WithField("category", category.Name)

			refs, err := p.source.Articles(ctx, category)
			if err != nil {
				log.WithError(err).Warn("Failed to list category")
				r.fail(category.URL, category.Name, err)
				continue
			}

			r.mu.Lock()
			r.result.DocumentsFound += len(refs)
			if len(refs) == 0 {
				r.result.EmptyCategories++
			}
			r.mu.Unlock()

			if len(refs) == 0 {
				log.Info("Category has no documents, skipping")
				continue
			}
			log.WithField("documents", len(refs)).Info("Listed category")

			slug := document.CategorySlug(category.Name)
			for _, ref := range refs {
				if !yield(Task{Category: category, CategorySlug: slug, Ref: ref}) {
					return
				}
			}
		}
	}
}

// process ingests one document; failures are recorded, never returned
func (p *Pipeline) process(ctx context.Context, task Task, r *run) {
	log := p.log.WithFields(logrus.Fields{"url": task.Ref.URL, "category": task.Category.Name})

	res, err := p.ingestDocument(ctx, task)
	if err != nil {
		log.WithError(err).Warn("Failed to ingest document")
		r.fail(task.Ref.URL, task.Category.Name, err)
		p.opts.Metrics.RecordIngestDocument("failed")
		return
	}

	r.mu.Lock()
	r.result.DocumentsProcessed++
	if res.Inserted {
		r.result.Inserted++
	} else {
		r.result.Updated++
	}
	r.mu.Unlock()

	if res.Inserted {
		p.opts.Metrics.RecordIngestDocument("inserted")
	} else {
		p.opts.Metrics.RecordIngestDocument("updated")
	}
	log.WithField("id", res.ID).Debug("Ingested document")
}

func (p *Pipeline) ingestDocument(ctx context.Context, task Task) (storage.UpsertResult, error) {
	article, err := retry(ctx, p.opts.Retry, func() (*upstream.Article, error) {
		return p.source.Article(ctx, task.Ref)
	})
	if err != nil {
		return storage.UpsertResult{}, fmt.Errorf("fetch document: %w", err)
	}

	doc := p.buildDocument(task, article)
	res, err := p.store.Upsert(ctx, doc)
	if err != nil {
		return storage.UpsertResult{}, fmt.Errorf("store document: %w", err)
	}
	return res, nil
}

// buildDocument maps a fetched article onto its stored form
func (p *Pipeline) buildDocument(task Task, article *upstream.Article) *document.Document {
	docSlug := DocumentSlug(task.Ref)

	title := strings.TrimSpace(task.Ref.Title)
	if title == "" {
		title = article.Title
	}
	if title == "" {
		title = docSlug
	}

	return &document.Document{
		Title:       title,
		Slug:        document.Optional(task.CategorySlug + "/" + docSlug),
		Category:    document.Optional(task.Category.Name),
		Description: document.Optional(document.Truncate(article.Text, document.MaxDescriptionLength)),
		Content:     document.Optional(p.normalizer.Normalize(article.HTML, task.CategorySlug)),
		Keywords:    article.Keywords,
		Difficulty:  document.Optional(article.Difficulty),
		URL:         document.CanonicalURL(p.opts.PublicBaseURL, task.CategorySlug, docSlug),
	}
}

// DocumentSlug is the last path segment of the upstream article URL, or the slugified title
func DocumentSlug(ref upstream.ArticleRef) string {
	if u, err := url.Parse(ref.URL); err == nil {
		if base := path.Base(strings.TrimRight(u.Path, "/")); base != "." && base != "/" && base != "" {
			return strings.ToLower(base)
		}
	}
	return document.CategorySlug(ref.Title)
}

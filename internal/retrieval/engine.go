// Package retrieval ranks stored documents against free-text queries
package retrieval

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/renderinc/helpdesk-search/internal/document"
	"github.com/renderinc/helpdesk-search/internal/metrics"
	"github.com/renderinc/helpdesk-search/internal/storage"
)

const (
	// SuggestLimit is the default limit for search-as-you-type suggestions
	SuggestLimit = 5
	// ListLimit is the default limit for result listings
	ListLimit = 50
	// MaxLimit caps every caller-supplied limit
	MaxLimit = 100
)

// Engine ranks documents by full-text relevance. Results are ordered by descending score,
// ties by ascending id.
type Engine struct {
	searcher storage.Searcher
	metrics  *metrics.Metrics
	log      logrus.FieldLogger
}

// NewEngine creates a retrieval engine over a store
func NewEngine(searcher storage.Searcher, m *metrics.Metrics, log logrus.FieldLogger) *Engine {
	return &Engine{searcher: searcher, metrics: m, log: log.WithField("component", "retrieval")}
}

// Search returns at most limit matches. A blank query matches nothing; limit <= 0 means SuggestLimit.
func (e *Engine) Search(ctx context.Context, query string, limit int) ([]document.Scored, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []document.Scored{}, nil
	}

	start := time.Now()
	results, err := e.searcher.Search(ctx, query, ClampLimit(limit, SuggestLimit))
	if err != nil {
		return nil, err
	}

	e.metrics.RecordSearch(len(results), time.Since(start))
	e.log.WithFields(logrus.Fields{"query": query, "results": len(results)}).Debug("Search")
	return results, nil
}

// ClampLimit applies the default to a non-positive limit and caps it at MaxLimit
func ClampLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	return min(limit, MaxLimit)
}

package search

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/blevesearch/bleve/v2"
	_ "github.com/blevesearch/bleve/v2/analysis/lang/en"
	_ "github.com/blevesearch/bleve/v2/analysis/lang/pt"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/renderinc/helpdesk-search/internal/document"
	"github.com/renderinc/helpdesk-search/internal/storage"
)

// Languages maps the supported search languages to their Bleve analyzers
var Languages = map[string]string{
	"pt": "pt",
	"en": "en",
}

const textField = "text"

// Index wraps a Bleve index holding the derived full-text vector of every document
type Index struct {
	mu       sync.RWMutex
	index    bleve.Index
	path     string // empty for an in-memory index
	language string
}

var _ storage.TextIndex = (*Index)(nil)

// indexedDocument is what gets analyzed: title and the text of the content, nothing else
type indexedDocument struct {
	Text     string `json:"text"`
	Category string `json:"category"`
}

// Open opens or creates a Bleve index at path. An empty path creates an in-memory index.
// An existing index built for another language is discarded and recreated.
func Open(path, language string) (*Index, error) {
	if _, ok := Languages[language]; !ok {
		return nil, fmt.Errorf("unsupported search language %q", language)
	}

	i := &Index{path: path, language: language}

	if path == "" {
		if err := i.create(); err != nil {
			return nil, err
		}
		return i, nil
	}

	idx, err := bleve.Open(path)
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		if err := i.create(); err != nil {
			return nil, err
		}
		return i, nil
	} else if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}

	if idx.Mapping().AnalyzerNameForPath(textField) != Languages[language] {
		idx.Close()
		if err := os.RemoveAll(path); err != nil {
			return nil, fmt.Errorf("remove stale index: %w", err)
		}
		if err := i.create(); err != nil {
			return nil, err
		}
		return i, nil
	}

	i.index = idx
	return i, nil
}

func (i *Index) create() error {
	var (
		idx bleve.Index
		err error
	)
	if i.path == "" {
		idx, err = bleve.NewMemOnly(buildIndexMapping(i.language))
	} else {
		idx, err = bleve.New(i.path, buildIndexMapping(i.language))
	}
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	i.index = idx
	return nil
}

// buildIndexMapping analyzes the text field with the stemming and stop-word rules of one language
func buildIndexMapping(language string) mapping.IndexMapping {
	textFieldMapping := bleve.NewTextFieldMapping()
	textFieldMapping.Analyzer = Languages[language]
	textFieldMapping.Store = false
	textFieldMapping.IncludeInAll = false

	categoryFieldMapping := bleve.NewKeywordFieldMapping()
	categoryFieldMapping.IncludeInAll = false

	docMapping := bleve.NewDocumentStaticMapping()
	docMapping.AddFieldMappingsAt(textField, textFieldMapping)
	docMapping.AddFieldMappingsAt("category", categoryFieldMapping)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = docMapping
	indexMapping.DefaultAnalyzer = Languages[language]

	return indexMapping
}

// Close closes the index
func (i *Index) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.index.Close()
}

// Index adds or updates a document in the index
func (i *Index) Index(doc *document.Document) error {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.index.Index(docKey(doc.ID), toIndexed(doc))
}

// IndexBatch adds or updates many documents in one batch
func (i *Index) IndexBatch(docs []*document.Document) error {
	i.mu.RLock()
	defer i.mu.RUnlock()

	batch := i.index.NewBatch()
	for _, doc := range docs {
		if err := batch.Index(docKey(doc.ID), toIndexed(doc)); err != nil {
			return fmt.Errorf("batch index %d: %w", doc.ID, err)
		}
	}

	if err := i.index.Batch(batch); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// Search matches documents containing every analyzed query term. Terms that the language
// drops (stop words) never match, so a query made only of them returns nothing.
func (i *Index) Search(queryStr string, limit int) ([]storage.Hit, error) {
	if strings.TrimSpace(queryStr) == "" || limit <= 0 {
		return nil, nil
	}

	q := bleve.NewMatchQuery(queryStr)
	q.SetField(textField)
	q.SetOperator(blevequery.MatchQueryOperatorAnd)

	req := bleve.NewSearchRequestOptions(q, limit, 0, false)
	req.SortBy([]string{"-_score", "_id"})

	i.mu.RLock()
	results, err := i.index.Search(req)
	i.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	hits := make([]storage.Hit, 0, len(results.Hits))
	for _, hit := range results.Hits {
		id, err := strconv.ParseInt(hit.ID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse document key %q: %w", hit.ID, err)
		}
		hits = append(hits, storage.Hit{ID: id, Score: hit.Score})
	}

	return hits, nil
}

// Reset drops every entry by recreating the index
func (i *Index) Reset() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if err := i.index.Close(); err != nil {
		return fmt.Errorf("close index: %w", err)
	}
	if i.path != "" {
		if err := os.RemoveAll(i.path); err != nil {
			return fmt.Errorf("remove index: %w", err)
		}
	}
	return i.create()
}

// Count returns the number of documents in the index
func (i *Index) Count() (uint64, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.index.DocCount()
}

// docKey zero-pads ids so that sorting keys as strings sorts ids numerically
func docKey(id int64) string {
	return fmt.Sprintf("%019d", id)
}

func toIndexed(doc *document.Document) indexedDocument {
	return indexedDocument{
		Text:     doc.Title + " " + PlainText(document.Deref(doc.Content)),
		Category: document.Deref(doc.Category),
	}
}

// PlainText returns the text of an HTML fragment, markup dropped
func PlainText(html string) string {
	if html == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return html
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

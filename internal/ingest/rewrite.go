package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/renderinc/helpdesk-search/internal/document"
	"github.com/renderinc/helpdesk-search/internal/storage"
)

// URLStore is the part of the document store the URL rewrite needs
type URLStore interface {
	List(ctx context.Context, opts storage.ListOptions) ([]*document.Document, error)
	RewriteURL(ctx context.Context, id int64, url string) error
}

// RewriteResult holds URL rewrite statistics
type RewriteResult struct {
	Examined int `json:"examined"`
	Updated  int `json:"updated"`
	Skipped  int `json:"skipped"` // on a legacy domain but without a slug to derive the new url from
	Errors   int `json:"errors"`
}

// RewriteURLs moves every stored document whose url is on a legacy domain to its canonical url
// under publicBaseURL. Only the url column changes.
func RewriteURLs(ctx context.Context, store URLStore, legacyDomains []string, publicBaseURL string, log logrus.FieldLogger) (*RewriteResult, error) {
	docs, err := store.List(ctx, storage.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}

	res := &RewriteResult{Examined: len(docs)}
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if !onDomain(doc.URL, legacyDomains) {
			continue
		}

		target, ok := canonicalURLOf(doc, publicBaseURL)
		if !ok {
			log.WithField("id", doc.ID).Warn("Document on legacy domain has no slug, leaving url unchanged")
			res.Skipped++
			continue
		}
		if target == doc.URL {
			continue
		}

		if err := store.RewriteURL(ctx, doc.ID, target); err != nil {
			if errors.Is(err, storage.ErrUnavailable) {
				return res, fmt.Errorf("rewrite url of %d: %w", doc.ID, err)
			}
			log.WithError(err).WithField("id", doc.ID).Warn("Failed to rewrite url")
			res.Errors++
			continue
		}

		log.WithFields(logrus.Fields{"id": doc.ID, "from": doc.URL, "to": target}).Debug("Rewrote url")
		res.Updated++
	}

	log.WithFields(logrus.Fields{"examined": res.Examined, "updated": res.Updated, "skipped": res.Skipped}).Info("URL rewrite complete")
	return res, nil
}

func onDomain(rawURL string, domains []string) bool {
	for _, d := range domains {
		if d = strings.TrimSpace(d); d != "" && strings.Contains(rawURL, hostOf(d)) {
			return true
		}
	}
	return false
}

func hostOf(domain string) string {
	if i := strings.Index(domain, "://"); i >= 0 {
		domain = domain[i+3:]
	}
	return strings.TrimRight(domain, "/")
}

// canonicalURLOf derives the url from the stored slug, which carries its category slug prefix
func canonicalURLOf(doc *document.Document, publicBaseURL string) (string, bool) {
	slug := document.Deref(doc.Slug)
	if slug == "" {
		return "", false
	}
	categorySlug := document.CategorySlug(document.Deref(doc.Category))
	docSlug := strings.TrimPrefix(slug, categorySlug+"/")
	return document.CanonicalURL(publicBaseURL, categorySlug, docSlug), true
}

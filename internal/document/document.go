package document

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxDescriptionLength bounds the description preview, in runes
const MaxDescriptionLength = 500

// DefaultCategorySlug is used for documents without a category
const DefaultCategorySlug = "geral"

// ErrInvalid is returned when a document violates the store invariants
var ErrInvalid = errors.New("invalid document")

// Document represents a help-center article in the store
type Document struct {
	ID          int64     `json:"id" db:"id"`
	Title       string    `json:"title" db:"title"`
	Slug        *string   `json:"slug" db:"slug"`
	Category    *string   `json:"category" db:"category"`
	Description *string   `json:"description" db:"description"`
	Content     *string   `json:"content" db:"content"` // HTML
	Keywords    []string  `json:"keywords" db:"keywords"`
	Difficulty  *string   `json:"difficulty" db:"difficulty"`
	URL         string    `json:"url" db:"url"`
	ScrapedAt   time.Time `json:"scraped_at" db:"scraped_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// Scored pairs a document with its relevance score
type Scored struct {
	Document *Document `json:"document"`
	Score    float64   `json:"score"`
}

// CategoryCount is one row of the category aggregation
type CategoryCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Validate checks the invariants enforced at the store boundary
func (d *Document) Validate() error {
	if strings.TrimSpace(d.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalid)
	}
	if d.URL == "" {
		return fmt.Errorf("%w: url is required", ErrInvalid)
	}
	u, err := url.Parse(d.URL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("%w: url %q is not absolute", ErrInvalid, d.URL)
	}
	if d.Slug != nil && *d.Slug == "" {
		return fmt.Errorf("%w: slug must be null or non-empty", ErrInvalid)
	}
	if d.Description != nil && utf8.RuneCountInString(*d.Description) > MaxDescriptionLength {
		return fmt.Errorf("%w: description longer than %d characters", ErrInvalid, MaxDescriptionLength)
	}
	return nil
}

// SearchText is the text the full-text vector is derived from: title ' ' content
func (d *Document) SearchText() string {
	return d.Title + " " + Deref(d.Content)
}

// Optional returns nil for an empty string
func Optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the pointed-to string or ""
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Truncate cuts s to at most n runes
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// CategorySlug derives the path segment used for a category name
func CategorySlug(name string) string {
	slug := whitespaceRun.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "-")
	if slug == "" {
		return DefaultCategorySlug
	}
	return slug
}

// CanonicalURL builds the destination URL of a document from its category and document slugs
func CanonicalURL(baseURL, categorySlug, docSlug string) string {
	return strings.TrimRight(baseURL, "/") + "/" + categorySlug + "/" + strings.Trim(docSlug, "/")
}

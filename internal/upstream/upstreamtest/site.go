// Package upstreamtest serves a fake help center for tests.
package upstreamtest

import (
	"fmt"
	"html"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

// Article is one page of the fake help center
type Article struct {
	Slug     string
	Title    string
	Body     string // inner HTML of .article-content
	Keywords []string
}

// Category is one entry of the fake category tree
type Category struct {
	Slug     string
	Name     string
	Articles []Article
}

// Site is a fake help center. Paths listed in Fail answer 500.
type Site struct {
	Categories []Category

	mu    sync.Mutex
	fail  map[string]int
	hits  map[string]int
	extra string // additional markup on the index page
}

// NewServer starts serving the site. Close it when done.
func (s *Site) NewServer() *httptest.Server {
	s.mu.Lock()
	if s.fail == nil {
		s.fail = make(map[string]int)
	}
	s.hits = make(map[string]int)
	s.mu.Unlock()

	return httptest.NewServer(http.HandlerFunc(s.serve))
}

// Fail makes the next n requests to path answer 500. n < 0 fails forever.
func (s *Site) Fail(path string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail == nil {
		s.fail = make(map[string]int)
	}
	s.fail[path] = n
}

// WithIndexMarkup appends raw markup to the index page
func (s *Site) WithIndexMarkup(markup string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extra = markup
}

// Hits returns how many requests a path received
func (s *Site) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

func (s *Site) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.hits[r.URL.Path]++
	n, failing := s.fail[r.URL.Path]
	if failing && n != 0 {
		if n > 0 {
			s.fail[r.URL.Path] = n - 1
		}
		s.mu.Unlock()
		http.Error(w, "upstream error", http.StatusInternalServerError)
		return
	}
	extra := s.extra
	s.mu.Unlock()

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")

	switch {
	case r.URL.Path == "/":
		var b strings.Builder
		b.WriteString(`<html><body><nav class="sidebar-menu">`)
		for _, c := range s.Categories {
			fmt.Fprintf(&b, `<a href="/%s">%s%d</a>`, c.Slug, html.EscapeString(c.Name), len(c.Articles))
		}
		b.WriteString(`</nav>` + extra + `</body></html>`)
		fmt.Fprint(w, b.String())
	case len(parts) == 1:
		c, ok := s.category(parts[0])
		if !ok {
			http.NotFound(w, r)
			return
		}
		var b strings.Builder
		b.WriteString(`<html><body><ul class="article-list">`)
		for _, a := range c.Articles {
			fmt.Fprintf(&b, `<li><a href="/%s/%s">%s</a></li>`, c.Slug, a.Slug, html.EscapeString(a.Title))
		}
		b.WriteString(`</ul></body></html>`)
		fmt.Fprint(w, b.String())
	case len(parts) == 2:
		a, ok := s.article(parts[0], parts[1])
		if !ok {
			http.NotFound(w, r)
			return
		}
		fmt.Fprintf(w, `<html><head><title>%s</title><meta name="keywords" content="%s"></head>`+
			`<body><h1>%s</h1><div class="article-content">%s</div></body></html>`,
			html.EscapeString(a.Title), html.EscapeString(strings.Join(a.Keywords, ", ")),
			html.EscapeString(a.Title), a.Body)
	default:
		http.NotFound(w, r)
	}
}

func (s *Site) category(slug string) (Category, bool) {
	for _, c := range s.Categories {
		if c.Slug == slug {
			return c, true
		}
	}
	return Category{}, false
}

func (s *Site) article(category, slug string) (Article, bool) {
	c, ok := s.category(category)
	if !ok {
		return Article{}, false
	}
	for _, a := range c.Articles {
		if a.Slug == slug {
			return a, true
		}
	}
	return Article{}, false
}

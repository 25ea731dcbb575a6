// Package normalize rewrites scraped article HTML so its links point into this help center.
package normalize

import (
	"errors"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/renderinc/helpdesk-search/internal/document"
)

// Normalizer rewrites upstream absolute links to category-scoped relative paths.
// It is not idempotent: content must be normalized exactly once per ingestion.
type Normalizer struct {
	prefixes []string
	roots    map[string]bool
}

// New returns a Normalizer for the given upstream domains. A domain may be a bare host
// ("ajuda.example.com") or carry a scheme ("https://ajuda.example.com").
func New(domains ...string) *Normalizer {
	n := &Normalizer{roots: make(map[string]bool)}
	for _, d := range domains {
		d = strings.TrimRight(strings.TrimSpace(d), "/")
		if d == "" {
			continue
		}
		var roots []string
		if strings.Contains(d, "://") {
			roots = []string{d}
		} else {
			roots = []string{"https://" + d, "http://" + d}
		}
		for _, r := range roots {
			n.prefixes = append(n.prefixes, r+"/")
			n.roots[r] = true
		}
	}
	return n
}

// Normalize replaces every known domain prefix with "/" and then scopes every root-relative
// href under /{categorySlug}. External, protocol-relative and anchor links pass through.
func (n *Normalizer) Normalize(rawHTML, categorySlug string) string {
	if strings.TrimSpace(rawHTML) == "" {
		return rawHTML
	}
	if categorySlug == "" {
		categorySlug = document.DefaultCategorySlug
	}

	out := rawHTML
	for _, p := range n.prefixes {
		out = strings.ReplaceAll(out, p, "/")
	}

	// Only rewritten anchor start tags are re-rendered; every other token keeps its raw bytes,
	// so no element is hoisted or implied the way a tree parse would.
	var b strings.Builder
	b.Grow(len(out) + 64)
	rewritten := 0

	z := html.NewTokenizer(strings.NewReader(out))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if !errors.Is(z.Err(), io.EOF) {
				return out
			}
			b.Write(z.Raw())
			break
		}

		raw := string(z.Raw())
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			b.WriteString(raw)
			continue
		}

		tok := z.Token()
		if tok.DataAtom != atom.A || !n.scopeHref(tok.Attr, categorySlug) {
			b.WriteString(raw)
			continue
		}
		b.WriteString(tok.String())
		rewritten++
	}

	if rewritten == 0 {
		return out
	}
	return b.String()
}

// scopeHref rewrites a root-relative or domain-root href in place and reports whether it did
func (n *Normalizer) scopeHref(attrs []html.Attribute, categorySlug string) bool {
	for i, a := range attrs {
		if a.Namespace != "" || a.Key != "href" {
			continue
		}
		href := a.Val
		if n.roots[strings.TrimRight(href, "/")] {
			href = "/"
		}
		if !isRootRelative(href) {
			return false
		}
		attrs[i].Val = "/" + categorySlug + href
		return true
	}
	return false
}

func isRootRelative(href string) bool {
	return strings.HasPrefix(href, "/") && !strings.HasPrefix(href, "//")
}

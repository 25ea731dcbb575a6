package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// ErrFetch wraps every failure reaching the upstream help center
var ErrFetch = errors.New("upstream fetch failed")

const (
	categorySelector = "button.category-btn, .sidebar-menu a, .menu-item a"
	articleSelector  = "a.article-link, .article-list a, .list-group-item a"
	contentSelector  = ".article-content, .content, #root"
)

// category links carry a trailing article counter, e.g. "Financeiro12"
var trailingCounter = regexp.MustCompile(`\d+$`)

// Client scrapes the upstream help center
type Client struct {
	baseURL    *url.URL
	userAgent  string
	httpClient *http.Client
}

// NewClient creates a client for the help center rooted at baseURL
func NewClient(baseURL string) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return nil, fmt.Errorf("invalid upstream base url %q", baseURL)
	}

	return &Client{
		baseURL:   u,
		userAgent: "helpdesk-search/1.0",
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

// BaseURL returns the help center root
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// fetch retrieves and parses one page
func (c *Client) fetch(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrFetch, pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %s: status %d", ErrFetch, pageURL, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: parse: %w", ErrFetch, pageURL, err)
	}
	return doc, nil
}

// Categories fetches the top-level category tree from the base page
func (c *Client) Categories(ctx context.Context) ([]Category, error) {
	doc, err := c.fetch(ctx, c.baseURL.String())
	if err != nil {
		return nil, fmt.Errorf("get categories: %w", err)
	}

	var categories []Category
	seen := make(map[string]bool)
	doc.Find(categorySelector).Each(func(_ int, s *goquery.Selection) {
		name := strings.TrimSpace(trailingCounter.ReplaceAllString(strings.TrimSpace(s.Text()), ""))
		href, ok := c.resolve(s.AttrOr("href", ""))
		if !ok || name == "" || seen[href] {
			return
		}
		seen[href] = true
		categories = append(categories, Category{Name: name, URL: href})
	})

	return categories, nil
}

// Articles fetches the article links of one category page
func (c *Client) Articles(ctx context.Context, category Category) ([]ArticleRef, error) {
	doc, err := c.fetch(ctx, category.URL)
	if err != nil {
		return nil, fmt.Errorf("get articles of %s: %w", category.Name, err)
	}

	var refs []ArticleRef
	seen := make(map[string]bool)
	doc.Find(articleSelector).Each(func(_ int, s *goquery.Selection) {
		href, ok := c.resolve(s.AttrOr("href", ""))
		if !ok || seen[href] {
			return
		}
		seen[href] = true
		refs = append(refs, ArticleRef{Title: strings.TrimSpace(s.Text()), URL: href})
	})

	return refs, nil
}

// Article fetches one article page
func (c *Client) Article(ctx context.Context, ref ArticleRef) (*Article, error) {
	doc, err := c.fetch(ctx, ref.URL)
	if err != nil {
		return nil, fmt.Errorf("get article: %w", err)
	}

	article := &Article{
		Title:      strings.TrimSpace(doc.Find("h1").First().Text()),
		Difficulty: strings.TrimSpace(doc.Find(`meta[name="difficulty"]`).AttrOr("content", "")),
	}
	if article.Title == "" {
		article.Title = strings.TrimSpace(doc.Find("title").First().Text())
	}

	body := doc.Find(contentSelector).First()
	if body.Length() > 0 {
		html, err := body.Html()
		if err != nil {
			return nil, fmt.Errorf("render article content: %w", err)
		}
		article.HTML = html
		article.Text = strings.TrimSpace(body.Text())
	}

	for _, k := range strings.Split(doc.Find(`meta[name="keywords"]`).AttrOr("content", ""), ",") {
		if k = strings.TrimSpace(k); k != "" {
			article.Keywords = append(article.Keywords, k)
		}
	}

	return article, nil
}

// resolve turns an href into an absolute url on the upstream host. Links to other hosts are rejected.
func (c *Client) resolve(href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	abs := c.baseURL.ResolveReference(ref)
	if !strings.EqualFold(abs.Host, c.baseURL.Host) {
		return "", false
	}
	abs.Fragment = ""
	return abs.String(), true
}

package upstream

// Category is an entry of the upstream category tree
type Category struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// ArticleRef is an article link found on a category listing
type ArticleRef struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Article is the fetched content of one article page
type Article struct {
	Title      string   `json:"title"` // page heading, used when the listing link has no text
	HTML       string   `json:"html"`
	Text       string   `json:"text"`
	Keywords   []string `json:"keywords"`
	Difficulty string   `json:"difficulty"`
}

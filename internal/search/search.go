// Package search provides full-text document search with Meilisearch as the
// primary engine and PostgreSQL FTS as the fallback.
package search

// Result is a single search hit returned to the caller.
type Result struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Title    string `json:"title"`
	Snippet  string `json:"snippet"`
}

// Query describes a search request. CallerEmail scopes results to documents
// the caller is allowed to read.
type Query struct {
	Text        string
	CallerEmail string
	Code        bool
	Limit       int
	Offset      int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// DocumentRecord is the data we index for a document.
type DocumentRecord struct {
	ID           string   `json:"id"`
	Filename     string   `json:"filename"`
	Title        string   `json:"title"`
	Content      string   `json:"content"`
	Code         bool     `json:"code"`
	AllowedUsers []string `json:"allowedUsers"`
}

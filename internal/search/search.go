package search

// Result is a single knowledge-base search hit returned to the caller.
type Result struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Title    string `json:"title"`
	Snippet  string `json:"snippet"`
	Category string `json:"category,omitempty"`
}

// Query describes a search request over the knowledge base.
type Query struct {
	Text           string
	FilterType     string // empty = all feature surfaces
	FilterCategory string
	Limit          int
	Offset         int
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

// KBRecord is the data we index for a knowledge-base item.
type KBRecord struct {
	ID       string   `json:"id"`
	Type     string   `json:"type"`
	Title    string   `json:"title"`
	Summary  string   `json:"summary"`
	Body     string   `json:"body"`
	Category string   `json:"category"`
	Tags     []string `json:"tags"`
}

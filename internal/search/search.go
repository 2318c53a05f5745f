package search

// Result is a single card hit returned to the caller.
type Result struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Snippet   string `json:"snippet"`
	ListID    string `json:"listId"`
	ListTitle string `json:"listTitle"`
	BoardID   string `json:"boardId"`
}

// Query describes a card search request, always scoped to one tenant.
type Query struct {
	Text   string
	OrgID  string
	Limit  int
	Offset int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text card search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// CardRecord is the data we index for a card.
type CardRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	ListID      string `json:"listId"`
	ListTitle   string `json:"listTitle"`
	BoardID     string `json:"boardId"`
	OrgID       string `json:"orgId"`
}

package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultDocument   ResultType = "document"
	ResultLiterature ResultType = "literature"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type       ResultType `json:"type"`
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Snippet    string     `json:"snippet"`
	DocumentID string     `json:"documentId,omitempty"`
	FolderID   string     `json:"folderId,omitempty"`
	Status     string     `json:"status,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text           string
	FilterType     ResultType // empty = all types
	FilterFolderID string
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

// DocumentRecord is the data we index for a document.
type DocumentRecord struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	DocumentType string `json:"documentType"`
	Summary      string `json:"summary"`
	FolderID     string `json:"folderId"`
	Status       string `json:"status"`
}

// LiteratureRecord is the data we index for a literature reference.
type LiteratureRecord struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Journal  string `json:"journal"`
	Year     int    `json:"year"`
	Abstract string `json:"abstract"`
}

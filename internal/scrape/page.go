package scrape

import (
	"context"
	"net/http"
	"time"
)

// FetchRequest describes a single page retrieval.
type FetchRequest struct {
	URL       string
	UserAgent string
	Headers   http.Header
	Timeout   time.Duration
}

// Page is the fetched document.
type Page struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
	Rendered   bool
	Duration   time.Duration
}

// Fetcher retrieves one page.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (Page, error)
}

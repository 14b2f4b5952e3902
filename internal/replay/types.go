// Package replay defines core types shared across the fetch and scrape subsystems.
package replay

import (
	"net/http"
	"time"
)

// FetchRequest captures everything needed to fetch the upstream page.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// Document is the raw upstream page fetched for a single request.
// It is owned by the request that fetched it and never retained.
type Document struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	Rendered   bool
}

// OK reports whether the upstream answered with a 2xx status.
func (d Document) OK() bool {
	return d.StatusCode >= http.StatusOK && d.StatusCode < http.StatusMultipleChoices
}

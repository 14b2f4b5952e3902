package replay

import "context"

// Fetcher retrieves the upstream page and returns its body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (Document, error)
}

// Package fetcher downloads feeds and article pages over HTTP with per-host
// rate limiting and retries.
package fetcher

import "context"

// Response is a fully read HTTP response body.
type Response struct {
	// URL is the final URL after redirects.
	URL         string
	StatusCode  int
	ContentType string
	Body        []byte
}

// Getter downloads a URL.
type Getter interface {
	Get(ctx context.Context, url string) (*Response, error)
}

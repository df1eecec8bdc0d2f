package out

import "context"

// HTTPProber defines the contract for HTTP health probing.
// This allows for easy mocking in tests.
type HTTPProber interface {
	// Probe sends an HTTP request to the URL and returns status code and
	// response time in milliseconds.
	Probe(ctx context.Context, url string) (int, int64, error)
}

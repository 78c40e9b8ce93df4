// Package client is the outbound HTTP client behind the lapp network
// capability.
//
// Requests go through resty on top of a go-retryablehttp transport, so
// connection errors and retryable statuses are retried with backoff before
// the lapp sees a result. Every upstream host is guarded by its own circuit
// breaker and responses are capped at Config.MaxBodyBytes.
//
// Only http and https URLs are accepted.
//
// Example Usage:
//
//	c := client.NewClient(client.DefaultConfig())
//	resp, err := c.Fetch(ctx, client.Request{Method: "GET", URL: "https://example.com"})
package client

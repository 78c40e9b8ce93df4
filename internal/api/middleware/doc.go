// Package middleware provides the gin middleware shared by every route:
// CORS, per-client rate limiting, request ids with request logging, and the
// bearer token guarding the management API.
//
// Rejections use the same JSON body as the gateway:
//
//	{"error": {"kind": "rate_limited", "message": "rate limit exceeded"}}
package middleware

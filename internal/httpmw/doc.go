// Package httpmw provides HTTP middleware for the public API server.
//
// httpserver.NewHandler composes them outermost first: panic recovery,
// security headers, request ID, client key derivation, OTEL tracing,
// metrics, structured logging, then the chi router. Per-route rate limiting
// and admin auth are attached by the API packages.
//
// User-supplied values other than the request path are kept out of logs.
package httpmw

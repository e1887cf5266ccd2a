// Package api exposes the router over HTTP: mandate registration and
// revocation, asynchronous intent submission, intent status queries, dry-run
// previews, chain status, health and Prometheus metrics.
package api

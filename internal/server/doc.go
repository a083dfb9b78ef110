// Package server hosts the local admin HTTP surface of one tile cache: tile
// lookups and writes under /tiles and diagnostics under /-/. The Fiber app
// carries the request middleware chain (recover, request ID, access log);
// diagnostics routes are registered separately by the routes package so the
// CLI decides which surfaces to expose.
package server

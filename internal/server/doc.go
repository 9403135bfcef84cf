// Package server provides HTTP server lifecycle management: non-blocking
// start, graceful shutdown, and OS signal handling, shared by the
// RouteCodex external HTTP shell (internal/httpapi).
package server

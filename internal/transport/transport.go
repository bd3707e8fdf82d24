// Package transport carries JSON-RPC messages between clients and the
// dispatcher: an HTTP endpoint with one session per Mcp-Session-Id, and
// newline-delimited JSON over stdio.
package transport

import (
	"context"

	pgmcp "github.com/rickchristie/postgres-mcp-gateway"
)

// Dispatcher handles one raw message for a session and returns the encoded
// reply, or nil for notifications. *pgmcp.Dispatcher implements it.
type Dispatcher interface {
	HandleMessage(ctx context.Context, s *pgmcp.Session, data []byte) []byte
}

// SessionFactory returns a new, uninitialized session.
type SessionFactory func() *pgmcp.Session

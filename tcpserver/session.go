package tcpserver

import (
	"context"
	"net"
)

// Session is implemented by whatever handles one accepted connection.
type Session interface {
	// Handle runs the connection until it ends. It is started in its own
	// goroutine by the server and must return once ctx is cancelled or Close
	// is called.
	Handle(ctx context.Context)

	// Close ends the session. It must be safe to call multiple times and
	// concurrently with Handle.
	//
	// Returns:
	//   - An error if closing failed
	Close() error
}

// NewSessionFunc builds the Session for an accepted connection. The session
// takes ownership of conn.
type NewSessionFunc func(conn net.Conn) Session

// Package tcpserver accepts TCP connections and runs one Session per
// connection, keeping track of live sessions so that Stop can close them.
package tcpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cyberinferno/chatrelay/logger"
)

// maxAcceptBackoff caps the wait between failed accepts. An accept that
// still fails once the wait has reached the cap ends the accept loop.
var maxAcceptBackoff = time.Second

// ErrAccept wraps the accept failure that stopped the server.
var ErrAccept = errors.New("tcpserver: accept failed")

// TCPServer is a TCP server that accepts connections and delegates each one
// to a session created by NewSession. The server runs its accept loop in a
// goroutine and supports graceful stop.
type TCPServer struct {
	Logger     logger.Logger
	Name       string
	Addr       string
	NewSession NewSessionFunc

	listener net.Listener
	listen   func(network, address string) (net.Listener, error)
	running  atomic.Bool
	ctx      context.Context
	cancel   context.CancelFunc

	mu       sync.Mutex
	sessions map[uint64]Session
	nextConn uint64
	wg       sync.WaitGroup
}

// New creates a TCPServer. Call Start or Serve to begin accepting.
//
// Parameters:
//   - name: Name used in log entries
//   - addr: "host:port" to listen on; port 0 picks a free port
//   - newSession: Factory for per-connection sessions
//   - log: Logger
//
// Returns:
//   - A server that is not yet listening
func New(name, addr string, newSession NewSessionFunc, log logger.Logger) *TCPServer {
	if log == nil {
		log = logger.Nop()
	}

	return &TCPServer{
		Logger:     log.With(logger.Field{Key: "component", Value: "tcpserver"}),
		Name:       name,
		Addr:       addr,
		NewSession: newSession,
		listen:     net.Listen,
	}
}

// Start binds to Addr and begins the accept loop in a goroutine. It is safe
// to call only when the server is not already running. If the accept loop
// gives up, the server stops itself.
//
// Returns:
//   - An error if the server is already running or if listening on Addr fails
func (s *TCPServer) Start() error {
	ln, err := s.open()
	if err != nil {
		return err
	}

	go func() {
		if err := s.acceptLoop(ln); err != nil {
			s.Stop()
		}
	}()

	return nil
}

// Serve starts the server and blocks until ctx is cancelled or the accept
// loop fails, then stops it and waits up to drain for sessions to finish.
//
// Returns:
//   - nil after a clean shutdown
//   - The listen error, an error wrapping ErrAccept, or
//     context.DeadlineExceeded when sessions outlived drain
func (s *TCPServer) Serve(ctx context.Context, drain time.Duration) error {
	ln, err := s.open()
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.acceptLoop(ln)
	})
	g.Go(func() error {
		<-gctx.Done()
		s.Stop()
		return s.Wait(drain)
	})

	return g.Wait()
}

// open binds the listener and resets the per-run state.
func (s *TCPServer) open() (net.Listener, error) {
	if s.running.Load() {
		return nil, fmt.Errorf("server %s already running", s.Name)
	}

	ln, err := s.listen("tcp", s.Addr)
	if err != nil {
		s.Logger.Error("server failed to start", logger.Err(err))
		return nil, fmt.Errorf("server %s failed to start: %w", s.Name, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.sessions = make(map[uint64]Session)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()
	s.running.Store(true)

	s.Logger.Info(fmt.Sprintf("%s server started", s.Name), logger.Field{Key: "addr", Value: ln.Addr().String()})
	return ln, nil
}

// ListenAddr returns the bound address, or nil before Start.
func (s *TCPServer) ListenAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}

	return s.listener.Addr()
}

// Running reports whether the accept loop is active.
func (s *TCPServer) Running() bool {
	return s.running.Load()
}

// SessionCount returns the number of connections currently being handled,
// registered or not.
func (s *TCPServer) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.sessions)
}

// Stop closes the listener and every live session. Safe to call when the
// server is not running.
func (s *TCPServer) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}

	s.mu.Lock()
	_ = s.listener.Close()
	s.cancel()
	live := make([]Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		live = append(live, session)
	}
	s.mu.Unlock()

	for _, session := range live {
		_ = session.Close()
	}

	s.Logger.Info(fmt.Sprintf("%s server stopped", s.Name), logger.Field{Key: "closed_sessions", Value: len(live)})
}

// Wait blocks until every session handler has returned or timeout passes.
//
// Returns:
//   - context.DeadlineExceeded if sessions were still running at the deadline
func (s *TCPServer) Wait(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		s.Logger.Warn("sessions still running after drain timeout", logger.Field{Key: "remaining", Value: s.SessionCount()})
		return context.DeadlineExceeded
	}
}

// acceptLoop accepts connections until the listener is closed. Failed
// accepts back off instead of spinning.
//
// Returns:
//   - nil once the server is stopped
//   - An error wrapping ErrAccept if accepting still fails at the maximum
//     backoff
func (s *TCPServer) acceptLoop(ln net.Listener) error {
	var backoff time.Duration

	for {
		conn, err := ln.Accept()
		if err != nil {
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}

			if backoff == maxAcceptBackoff {
				s.Logger.Error(fmt.Sprintf("%s server giving up on accept", s.Name), logger.Err(err))
				return fmt.Errorf("%w: %w", ErrAccept, err)
			}

			if backoff == 0 {
				backoff = min(5*time.Millisecond, maxAcceptBackoff)
			} else {
				backoff = min(2*backoff, maxAcceptBackoff)
			}

			s.Logger.Error(fmt.Sprintf("%s server accept error", s.Name), logger.Err(err), logger.Field{Key: "retry_in", Value: backoff.String()})
			time.Sleep(backoff)
			continue
		}

		backoff = 0
		s.serveConn(conn)
	}
}

func (s *TCPServer) serveConn(conn net.Conn) {
	s.mu.Lock()
	if !s.running.Load() {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}

	session := s.NewSession(conn)
	s.nextConn++
	key := s.nextConn
	s.sessions[key] = session
	ctx := s.ctx
	s.wg.Add(1)
	s.mu.Unlock()

	s.Logger.Debug("connection accepted", logger.Field{Key: "remote_addr", Value: conn.RemoteAddr().String()})

	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.sessions, key)
			s.mu.Unlock()
		}()

		session.Handle(ctx)
	}()
}

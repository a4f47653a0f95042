// Package session runs one chat client connection: it reads the display
// name, joins the broadcast engine, relays chat lines until the client goes
// away, and tears everything down exactly once.
package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cyberinferno/chatrelay/broadcast"
	"github.com/cyberinferno/chatrelay/logger"
	"github.com/cyberinferno/chatrelay/registry"
)

// Options tunes a session.
type Options struct {
	// MaxLineBytes bounds a single inbound line; longer lines close the session.
	MaxLineBytes int
	// SendQueueSize is the number of outbound lines buffered per session.
	SendQueueSize int
	// WriteTimeout bounds each network write.
	WriteTimeout time.Duration
	// RegistrationTimeout bounds the wait for the display name; 0 disables it.
	RegistrationTimeout time.Duration
}

// DefaultOptions returns the settings used when none are configured.
func DefaultOptions() Options {
	return Options{
		MaxLineBytes:        1024,
		SendQueueSize:       64,
		WriteTimeout:        5 * time.Second,
		RegistrationTimeout: 30 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxLineBytes <= 0 {
		o.MaxLineBytes = d.MaxLineBytes
	}
	if o.SendQueueSize <= 0 {
		o.SendQueueSize = d.SendQueueSize
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = d.WriteTimeout
	}
	return o
}

// Session is one client connection. It implements registry.Member.
type Session struct {
	conn   net.Conn
	engine *broadcast.Engine
	opts   Options
	log    logger.Logger

	// mu orders chat forwarding against teardown so that no chat line from
	// this session is broadcast after its leave announcement.
	mu    sync.Mutex
	state State
	id    uint32
	name  string

	out        chan []byte
	done       chan struct{}
	writerDone chan struct{}

	closeOnce sync.Once
	connOnce  sync.Once
	connErr   error
}

var _ registry.Member = (*Session)(nil)

// New creates a session for conn. The session owns conn from now on and is
// the only one that closes it.
//
// Parameters:
//   - conn: The accepted connection
//   - engine: Broadcast engine the session joins
//   - log: Logger; the session adds remote_addr and, once known, session_id
//   - opts: Tuning; zero fields take DefaultOptions values
//
// Returns:
//   - A session in the Connecting state
func New(conn net.Conn, engine *broadcast.Engine, log logger.Logger, opts Options) *Session {
	if log == nil {
		log = logger.Nop()
	}

	opts = opts.withDefaults()
	return &Session{
		conn:       conn,
		engine:     engine,
		opts:       opts,
		log:        log.With(logger.Field{Key: "remote_addr", Value: conn.RemoteAddr().String()}),
		state:      Connecting,
		out:        make(chan []byte, opts.SendQueueSize),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
	}
}

// ID returns the registry id, or 0 before registration.
func (s *Session) ID() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Name implements registry.Member. The name is set once, before the
// session is registered, and never changes.
func (s *Session) Name() string {
	return s.name
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Deliver implements registry.Member. It queues line for the writer
// goroutine without blocking.
func (s *Session) Deliver(line []byte) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}

	select {
	case s.out <- line:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Handle runs the session until the client leaves, the connection fails or
// ctx is cancelled. Teardown has completed when Handle returns.
func (s *Session) Handle(ctx context.Context) {
	go s.writeLoop()
	defer func() {
		_ = s.Close()
		<-s.writerDone
	}()

	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.done:
		}
	}()

	// Room for a trailing "\r\n"; longer content is rejected in readLine.
	scanner := bufio.NewScanner(s.conn)
	scanner.Buffer(make([]byte, 0, min(4096, s.opts.MaxLineBytes+2)), s.opts.MaxLineBytes+2)

	if err := s.register(ctx, scanner); err != nil {
		s.log.Warn("registration dropped", logger.Err(err))
		return
	}

	for scanner.Scan() {
		text, err := s.readLine(scanner)
		if err != nil {
			s.log.Warn("read failed", append(s.fields(), logger.Err(err))...)
			return
		}

		if text == ExitKeyword {
			s.log.Info("client exited", s.fields()...)
			return
		}

		if !s.forward(ctx, text) {
			return
		}
	}

	if err := scanner.Err(); err != nil && !s.isClosed() {
		s.log.Warn("read failed", append(s.fields(), logger.Err(fmt.Errorf("%w: %w", ErrTransport, err)))...)
		return
	}

	s.log.Info("client disconnected", s.fields()...)
}

// register reads and validates the display name and joins the engine.
func (s *Session) register(ctx context.Context, scanner *bufio.Scanner) error {
	reg := s.engine.Registry()
	if reg.Count() >= reg.Capacity() {
		return registry.ErrCapacityExceeded
	}

	if s.opts.RegistrationTimeout > 0 {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.opts.RegistrationTimeout)); err != nil {
			return fmt.Errorf("%w: %w", ErrTransport, err)
		}
	}

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrTransport, err)
		}
		return fmt.Errorf("%w: connection closed before name", ErrTransport)
	}

	if err := s.conn.SetReadDeadline(time.Time{}); err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}

	line, err := s.readLine(scanner)
	if err != nil {
		return err
	}

	name, err := ValidateName(line)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.state != Connecting {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.name = name
	s.mu.Unlock()

	id, err := s.engine.Join(ctx, s)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.state == Closed {
		// Torn down while joining; the join was announced, so announce the leave.
		s.mu.Unlock()
		s.engine.Leave(context.Background(), id, name)
		return ErrSessionClosed
	}
	s.state = Active
	s.id = id
	s.mu.Unlock()

	s.log.Info("client joined", s.fields()...)
	return nil
}

// readLine returns the line the scanner just read, enforcing MaxLineBytes
// on its content.
func (s *Session) readLine(scanner *bufio.Scanner) (string, error) {
	text := scanner.Text()
	if len(text) > s.opts.MaxLineBytes {
		return "", fmt.Errorf("%w: %w (%d bytes)", ErrTransport, bufio.ErrTooLong, len(text))
	}

	return text, nil
}

// forward broadcasts one chat line. It returns false once the session is no
// longer active.
func (s *Session) forward(ctx context.Context, text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Active {
		return false
	}

	s.engine.Deliver(ctx, broadcast.Event{
		Kind:       broadcast.KindChat,
		OriginID:   s.id,
		OriginName: s.name,
		Text:       text,
		Origin:     s,
	})

	return true
}

// Close tears the session down: it leaves the registry and announces the
// departure (only if the session had joined), then closes the connection.
// Every step happens at most once no matter how often Close is called.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		prev := s.state
		s.state = Closed
		id, name := s.id, s.name
		s.mu.Unlock()

		if prev == Active {
			s.engine.Leave(context.Background(), id, name)
			s.log.Info("client left", logger.Field{Key: "session_id", Value: id}, logger.Field{Key: "name", Value: name})
		}

		close(s.done)
		s.closeConn()
	})

	return s.connErr
}

func (s *Session) closeConn() {
	s.connOnce.Do(func() {
		if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.connErr = err
		}
	})
}

// fields returns the identity fields for log entries.
func (s *Session) fields() []logger.Field {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.id == 0 {
		return nil
	}

	return []logger.Field{
		{Key: "session_id", Value: s.id},
		{Key: "name", Value: s.name},
	}
}

func (s *Session) isClosed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// writeLoop drains the outbound queue onto the connection. A failed or
// timed-out write closes the connection, which ends the read loop and so
// triggers the normal teardown.
func (s *Session) writeLoop() {
	defer close(s.writerDone)

	for {
		select {
		case <-s.done:
			return
		case line := <-s.out:
			if err := s.write(line); err != nil {
				if !s.isClosed() {
					s.log.Warn("write failed", append(s.fields(), logger.Err(err))...)
				}
				s.closeConn()
				return
			}
		}
	}
}

func (s *Session) write(line []byte) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout)); err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}

	if _, err := s.conn.Write(line); err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}

	return nil
}

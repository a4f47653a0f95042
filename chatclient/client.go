// Package chatclient provides an event-driven client for the chat relay. It
// registers a display name on connect and reports received lines, state
// changes and errors through handlers.
package chatclient

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/cyberinferno/chatrelay/session"
)

var (
	ErrClosed       = errors.New("chatclient: client is closed")
	ErrNotConnected = errors.New("chatclient: not connected")
	ErrMultiline    = errors.New("chatclient: message contains a newline")
)

// ConnectionState represents the current state of the connection.
type ConnectionState int

const (
	Disconnected ConnectionState = iota // Not connected
	Connecting                          // Dial and registration in progress
	Connected                           // Registered and relaying
	Closed                              // Closed by the caller; terminal
)

// String returns a human-readable name for the connection state.
func (cs ConnectionState) String() string {
	switch cs {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// ConnectionStateEvent is emitted when the connection state changes.
type ConnectionStateEvent struct {
	State     ConnectionState // The new connection state
	Address   string          // The relay address
	Timestamp time.Time       // When the state change occurred
	Error     error           // Non-nil if the change was caused by an error
}

// LineEvent carries one line received from the relay, without its newline.
type LineEvent struct {
	Line      string
	Timestamp time.Time
}

// ErrorEvent is emitted when a read or write fails.
type ErrorEvent struct {
	Error     error
	Timestamp time.Time
}

// Handlers are called synchronously from the client's read goroutine (or
// from the calling goroutine for state changes caused by Connect/Close), in
// the order events happen. A handler must not call Close.
type (
	ConnectionStateHandler func(event ConnectionStateEvent)
	LineHandler            func(event LineEvent)
	ErrorHandler           func(event ErrorEvent)
)

// Config holds client settings.
type Config struct {
	// Address is the relay "host:port".
	Address string
	// Name is the display name sent as the first line.
	Name string
	// ConnectionTimeout bounds the dial.
	ConnectionTimeout time.Duration
	// WriteTimeout bounds each send; 0 means no timeout.
	WriteTimeout time.Duration
	// MaxLineBytes bounds the content of a received line, excluding its
	// terminator.
	MaxLineBytes int
}

// DefaultConfig returns a Config with default timeouts for address and name.
//
// Returns:
//   - A Config with ConnectionTimeout 10s, WriteTimeout 10s, MaxLineBytes 4096
func DefaultConfig(address, name string) Config {
	return Config{
		Address:           address,
		Name:              name,
		ConnectionTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		MaxLineBytes:      4096,
	}
}

// Client is a chat relay client. It is safe for concurrent use.
type Client struct {
	config Config
	conn   net.Conn
	state  ConnectionState

	onConnectionState ConnectionStateHandler
	onLine            LineHandler
	onError           ErrorHandler

	mu      sync.RWMutex
	writeMu sync.Mutex
	wg      sync.WaitGroup
	closed  bool
}

// New creates a client in the Disconnected state.
func New(config Config) *Client {
	if config.MaxLineBytes <= 0 {
		config.MaxLineBytes = 4096
	}

	return &Client{config: config, state: Disconnected}
}

// OnConnectionState registers the handler for state changes, replacing any
// previous one.
func (c *Client) OnConnectionState(handler ConnectionStateHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnectionState = handler
}

// OnLine registers the handler for received lines, replacing any previous
// one.
func (c *Client) OnLine(handler LineHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onLine = handler
}

// OnError registers the handler for read and write errors, replacing any
// previous one.
func (c *Client) OnError(handler ErrorHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = handler
}

// Connect dials the relay, sends the display name and starts reading.
//
// Returns:
//   - nil on success; ErrClosed after Close; an error if already connected,
//     the dial fails or the name cannot be sent
func (c *Client) Connect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state == Connected || c.state == Connecting {
		c.mu.Unlock()
		return fmt.Errorf("already connected or connecting")
	}
	c.mu.Unlock()

	c.setState(Connecting, nil)

	dialer := net.Dialer{Timeout: c.config.ConnectionTimeout}
	conn, err := dialer.Dial("tcp", c.config.Address)
	if err != nil {
		c.setState(Disconnected, err)
		c.emitError(err)
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	if err := c.writeLine(conn, c.config.Name); err != nil {
		_ = conn.Close()
		c.setState(Disconnected, err)
		return fmt.Errorf("send name: %w", err)
	}

	c.setState(Connected, nil)

	c.wg.Add(1)
	go c.readLoop(conn)

	return nil
}

// Send writes one chat line.
//
// Returns:
//   - ErrMultiline if text contains a newline; ErrNotConnected when not
//     connected; the write error otherwise
func (c *Client) Send(text string) error {
	if strings.ContainsAny(text, "\r\n") {
		return ErrMultiline
	}

	c.mu.RLock()
	conn := c.conn
	state := c.state
	c.mu.RUnlock()

	if state != Connected || conn == nil {
		return ErrNotConnected
	}

	if err := c.writeLine(conn, text); err != nil {
		c.emitError(err)
		return err
	}

	return nil
}

// Exit sends the exit keyword and closes the client.
func (c *Client) Exit() error {
	sendErr := c.Send(session.ExitKeyword)
	closeErr := c.Close()
	return errors.Join(sendErr, closeErr)
}

// GetState returns the current connection state.
func (c *Client) GetState() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// IsConnected returns true if the client is in Connected state.
func (c *Client) IsConnected() bool {
	return c.GetState() == Connected
}

// Close closes the connection and waits for the read goroutine. Idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}

	c.closed = true
	var err error
	if c.conn != nil {
		err = c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	c.wg.Wait()
	c.setState(Closed, nil)

	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Done returns a channel closed when the read goroutine has stopped, i.e.
// when the relay closed the connection or the client was closed.
func (c *Client) Done() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	return done
}

func (c *Client) writeLine(conn net.Conn, text string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.config.WriteTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout)); err != nil {
			return err
		}
	}

	_, err := conn.Write([]byte(text + "\n"))
	return err
}

func (c *Client) readLoop(conn net.Conn) {
	defer c.wg.Done()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, min(4096, c.config.MaxLineBytes+2)), c.config.MaxLineBytes+2)

	var err error
	for scanner.Scan() {
		if len(scanner.Text()) > c.config.MaxLineBytes {
			err = bufio.ErrTooLong
			break
		}
		c.emitLine(scanner.Text())
	}

	if err == nil {
		err = scanner.Err()
	}
	if c.isClosed() {
		return
	}

	if err != nil {
		c.emitError(err)
	}

	c.mu.Lock()
	if c.conn == conn {
		_ = conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	c.setState(Disconnected, err)
}

func (c *Client) setState(state ConnectionState, err error) {
	c.mu.Lock()
	c.state = state
	handler := c.onConnectionState
	c.mu.Unlock()

	if handler != nil {
		handler(ConnectionStateEvent{
			State:     state,
			Address:   c.config.Address,
			Timestamp: time.Now(),
			Error:     err,
		})
	}
}

func (c *Client) emitLine(line string) {
	c.mu.RLock()
	handler := c.onLine
	c.mu.RUnlock()

	if handler != nil {
		handler(LineEvent{Line: line, Timestamp: time.Now()})
	}
}

func (c *Client) emitError(err error) {
	c.mu.RLock()
	handler := c.onError
	c.mu.RUnlock()

	if handler != nil {
		handler(ErrorEvent{Error: err, Timestamp: time.Now()})
	}
}

func (c *Client) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

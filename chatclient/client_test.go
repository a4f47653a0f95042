package chatclient

import (
	"bufio"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cyberinferno/chatrelay/broadcast"
	"github.com/cyberinferno/chatrelay/history"
	"github.com/cyberinferno/chatrelay/registry"
	"github.com/cyberinferno/chatrelay/session"
	"github.com/cyberinferno/chatrelay/tcpserver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

// recorder collects lines and states reported by a client.
type recorder struct {
	mu     sync.Mutex
	lines  []string
	states []ConnectionState
}

func (r *recorder) onLine(ev LineEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, ev.Line)
}

func (r *recorder) onState(ev ConnectionStateEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, ev.State)
}

func (r *recorder) has(line string) func() bool {
	return func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		for _, l := range r.lines {
			if l == line {
				return true
			}
		}
		return false
	}
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

func startRelay(t *testing.T, capacity int) (*tcpserver.TCPServer, *broadcast.Engine) {
	t.Helper()

	engine := broadcast.New(registry.New(capacity, nil), history.Nop{}, nil)
	srv := tcpserver.New("relay", "127.0.0.1:0", func(conn net.Conn) tcpserver.Session {
		return session.New(conn, engine, nil, session.DefaultOptions())
	}, nil)
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)

	return srv, engine
}

func connect(t *testing.T, srv *tcpserver.TCPServer, name string) (*Client, *recorder) {
	t.Helper()

	rec := &recorder{}
	c := New(DefaultConfig(srv.ListenAddr().String(), name))
	c.OnLine(rec.onLine)
	c.OnConnectionState(rec.onState)
	require.NoError(t, c.Connect())
	t.Cleanup(func() { _ = c.Close() })

	require.Eventually(t, rec.has("Welcome, "+name+"!"), waitFor, 5*time.Millisecond)
	return c, rec
}

func TestClient_Scenario(t *testing.T) {
	srv, engine := startRelay(t, 10)

	alice, aliceRec := connect(t, srv, "alice")
	bob, bobRec := connect(t, srv, "bob")
	require.Eventually(t, aliceRec.has("Server: bob has joined the chat"), waitFor, 5*time.Millisecond)

	require.NoError(t, alice.Send("hi"))
	require.Eventually(t, bobRec.has("alice: hi"), waitFor, 5*time.Millisecond)

	require.NoError(t, bob.Exit())
	require.Eventually(t, aliceRec.has("Server: bob has left the chat"), waitFor, 5*time.Millisecond)
	require.Eventually(t, func() bool { return engine.Registry().Count() == 1 }, waitFor, 5*time.Millisecond)

	assert.Equal(t, Closed, bob.GetState())
	assert.NotContains(t, aliceRec.snapshot(), "alice: hi")
}

func TestClient_States(t *testing.T) {
	srv, _ := startRelay(t, 10)

	c, rec := connect(t, srv, "alice")
	assert.True(t, c.IsConnected())
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []ConnectionState{Connecting, Connected, Closed}, rec.states)
	assert.ErrorIs(t, c.Connect(), ErrClosed)
}

func TestClient_ServerClosesConnection(t *testing.T) {
	srv, _ := startRelay(t, 1)

	connect(t, srv, "alice")

	rec := &recorder{}
	late := New(DefaultConfig(srv.ListenAddr().String(), "bob"))
	late.OnConnectionState(rec.onState)
	t.Cleanup(func() { _ = late.Close() })
	if err := late.Connect(); err != nil {
		// The relay may close before the name is written.
		assert.Equal(t, Disconnected, late.GetState())
		return
	}

	select {
	case <-late.Done():
	case <-time.After(waitFor):
		t.Fatal("relay did not close the connection")
	}
	assert.Equal(t, Disconnected, late.GetState())
	assert.ErrorIs(t, late.Send("anyone?"), ErrNotConnected)
}

func TestClient_LineLengthBoundary(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	const limit = 16
	exact := strings.Repeat("x", limit)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = conn.Write([]byte(exact + "\n" + exact + "\r\n" + exact + "x\n"))
		_, _ = io.Copy(io.Discard, conn)
	}()

	cfg := DefaultConfig(ln.Addr().String(), "alice")
	cfg.MaxLineBytes = limit

	rec := &recorder{}
	var (
		errMu    sync.Mutex
		reported error
	)
	c := New(cfg)
	c.OnLine(rec.onLine)
	c.OnError(func(ev ErrorEvent) {
		errMu.Lock()
		defer errMu.Unlock()
		reported = ev.Error
	})
	require.NoError(t, c.Connect())
	t.Cleanup(func() { _ = c.Close() })

	select {
	case <-c.Done():
	case <-time.After(waitFor):
		t.Fatal("oversized line did not end the read loop")
	}

	assert.Equal(t, []string{exact, exact}, rec.snapshot())
	errMu.Lock()
	defer errMu.Unlock()
	assert.ErrorIs(t, reported, bufio.ErrTooLong)
	assert.Equal(t, Disconnected, c.GetState())
}

func TestClient_Send(t *testing.T) {
	t.Run("rejects multi-line text", func(t *testing.T) {
		c := New(DefaultConfig("127.0.0.1:1", "alice"))
		assert.ErrorIs(t, c.Send("a\nb"), ErrMultiline)
	})

	t.Run("requires a connection", func(t *testing.T) {
		c := New(DefaultConfig("127.0.0.1:1", "alice"))
		assert.ErrorIs(t, c.Send("hello"), ErrNotConnected)
	})
}

func TestClient_DialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	var reported error
	c := New(Config{Address: addr, Name: "alice", ConnectionTimeout: time.Second})
	c.OnError(func(ev ErrorEvent) { reported = ev.Error })

	assert.Error(t, c.Connect())
	assert.Error(t, reported)
	assert.Equal(t, Disconnected, c.GetState())
}

func TestConnectionState_String(t *testing.T) {
	assert.Equal(t, "Disconnected", Disconnected.String())
	assert.Equal(t, "Connecting", Connecting.String())
	assert.Equal(t, "Connected", Connected.String())
	assert.Equal(t, "Closed", Closed.String())
	assert.Equal(t, "Unknown", ConnectionState(42).String())
}

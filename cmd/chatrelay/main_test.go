package main

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/chatrelay/app"
	"github.com/cyberinferno/chatrelay/chatclient"
	"github.com/cyberinferno/chatrelay/config"
)

// syncBuffer is a bytes.Buffer safe for one writer and one reader.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func startRelay(t *testing.T) string {
	t.Helper()

	cfg := config.Default()
	cfg.Addr = "127.0.0.1:0"
	cfg.History.Backend = config.BackendNone

	relay, err := app.New(context.Background(), cfg, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = relay.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.Eventually(t, func() bool { return relay.Addr() != nil }, time.Second, 5*time.Millisecond)
	return relay.Addr().String()
}

func TestRunConnect(t *testing.T) {
	addr := startRelay(t)

	watcherLines := make(chan string, 16)
	watcher := chatclient.New(chatclient.DefaultConfig(addr, "watcher"))
	watcher.OnLine(func(ev chatclient.LineEvent) { watcherLines <- ev.Line })
	require.NoError(t, watcher.Connect())
	t.Cleanup(func() { _ = watcher.Close() })

	select {
	case got := <-watcherLines:
		require.Equal(t, "Welcome, watcher!", got)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher was not welcomed")
	}

	var out syncBuffer
	err := runConnect(context.Background(), chatclient.DefaultConfig(addr, "alice"), strings.NewReader("hello\nbye\n"), &out)
	require.NoError(t, err)

	want := []string{
		"Server: alice has joined the chat",
		"alice: hello",
		"alice: bye",
		"Server: alice has left the chat",
	}
	for _, line := range want {
		select {
		case got := <-watcherLines:
			assert.Equal(t, line, got)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %q", line)
		}
	}
}

func TestRunConnect_ContextCancel(t *testing.T) {
	addr := startRelay(t)

	in, w := io.Pipe()
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	var out syncBuffer
	errCh := make(chan error, 1)
	go func() { errCh <- runConnect(ctx, chatclient.DefaultConfig(addr, "alice"), in, &out) }()

	require.Eventually(t, func() bool { return strings.Contains(out.String(), "Welcome, alice!") }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("connect did not return on cancel")
	}
}

func TestRunConnect_DialFailure(t *testing.T) {
	cfg := chatclient.DefaultConfig("127.0.0.1:1", "alice")
	cfg.ConnectionTimeout = 200 * time.Millisecond

	err := runConnect(context.Background(), cfg, strings.NewReader(""), io.Discard)
	assert.Error(t, err)
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"config", "init", path})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), path)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)

	root = newRootCmd()
	root.SetArgs([]string{"config", "init", path})
	assert.Error(t, root.Execute())
}

func TestConnectRequiresName(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"connect", "--addr", "127.0.0.1:1"})
	assert.Error(t, root.Execute())
}

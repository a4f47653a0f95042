package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()

	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		entry := map[string]any{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		out = append(out, entry)
	}

	return out
}

func TestZerologLogger_Levels(t *testing.T) {
	t.Run("entries below the level are dropped", func(t *testing.T) {
		var buf bytes.Buffer
		l := NewZerologLogger(zerolog.New(&buf), "relay", zerolog.InfoLevel)

		l.Debug("hidden")
		l.Info("shown")
		l.Error("also shown")

		entries := decodeLines(t, &buf)
		require.Len(t, entries, 2)
		assert.Equal(t, "shown", entries[0]["message"])
		assert.Equal(t, "relay", entries[0]["service"])
		assert.Equal(t, "error", entries[1]["level"])
	})

	t.Run("set level applies to derived loggers", func(t *testing.T) {
		var buf bytes.Buffer
		root := NewZerologLogger(zerolog.New(&buf), "relay", zerolog.InfoLevel)
		child := root.With(Field{Key: "component", Value: "registry"})

		child.Debug("before")
		root.SetLevel(zerolog.DebugLevel)
		child.Debug("after")

		entries := decodeLines(t, &buf)
		require.Len(t, entries, 1)
		assert.Equal(t, "after", entries[0]["message"])
		assert.Equal(t, "registry", entries[0]["component"])
	})
}

func TestZerologLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	l := NewZerologLogger(zerolog.New(&buf), "relay", zerolog.DebugLevel)

	l.Warn("write failed", Field{Key: "session_id", Value: 7}, Err(errors.New("boom")))

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, float64(7), entries[0]["session_id"])
	assert.Equal(t, "boom", entries[0]["error"])
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		"INFO":    zerolog.InfoLevel,
		"warn":    zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		" error ": zerolog.ErrorLevel,
		"bogus":   zerolog.InfoLevel,
		"":        zerolog.InfoLevel,
	}

	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), "level %q", in)
	}
}

func TestNewFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "relay.log")

	l, err := NewFile("relay", path, zerolog.InfoLevel)
	require.NoError(t, err)

	l.Info("persisted")
	require.NoError(t, l.Close())
	require.NoError(t, l.Close(), "close is idempotent")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "persisted")
}

func TestNop(t *testing.T) {
	l := Nop()
	require.NotNil(t, l)

	assert.NotPanics(t, func() {
		l.With(Field{Key: "k", Value: "v"}).Error("ignored")
		l.SetLevel(zerolog.DebugLevel)
		_ = l.Close()
	})
}

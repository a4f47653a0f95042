// Package history defines the append-only chat log the broadcast engine
// writes through, along with file, SQLite and Redis backed implementations.
package history

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrHistoryWrite wraps every failure to append a line.
	ErrHistoryWrite = errors.New("history: write failed")

	// ErrClosed is returned when appending to a closed sink.
	ErrClosed = errors.New("history: sink closed")
)

// Sink is an append-only, line-oriented log. Implementations must keep lines
// in call order.
type Sink interface {
	// Append stores one line. The line must not contain a trailing newline;
	// the sink adds its own record separator where it needs one.
	//
	// Parameters:
	//   - ctx: Context bounding the write
	//   - line: The formatted event text
	//
	// Returns:
	//   - An error wrapping ErrHistoryWrite on failure
	Append(ctx context.Context, line string) error

	// Close flushes and releases the sink. It is safe to call more than once.
	Close() error
}

// Reader is implemented by sinks that can return what they stored.
type Reader interface {
	// Lines returns every stored line in append order.
	Lines(ctx context.Context) ([]string, error)
}

func writeError(err error) error {
	return fmt.Errorf("%w: %w", ErrHistoryWrite, err)
}

// Nop is a Sink that discards every line.
type Nop struct{}

// Append implements Sink.
func (Nop) Append(context.Context, string) error { return nil }

// Close implements Sink.
func (Nop) Close() error { return nil }

// Multi appends each line to every wrapped sink in order. A failure in one
// sink does not stop the others; all failures are joined.
type Multi []Sink

// Append implements Sink.
func (m Multi) Append(ctx context.Context, line string) error {
	var errs []error
	for _, s := range m {
		if err := s.Append(ctx, line); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Close implements Sink.
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

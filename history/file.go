package history

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileSink appends one newline-terminated record per line to a plain text
// file. It is safe for concurrent use.
type FileSink struct {
	path string
	mu   sync.Mutex
	file *os.File
}

// NewFileSink opens (or creates) path in append mode.
//
// Parameters:
//   - path: History file location; parent directories are created
//
// Returns:
//   - The sink, or an error if the file could not be opened
func NewFileSink(path string) (*FileSink, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history directory: %w", err)
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open history file %s: %w", path, err)
	}

	return &FileSink{path: path, file: file}, nil
}

// Path returns the file being written.
func (s *FileSink) Path() string {
	return s.path
}

// Append implements Sink.
func (s *FileSink) Append(_ context.Context, line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return writeError(ErrClosed)
	}

	if _, err := s.file.WriteString(line + "\n"); err != nil {
		return writeError(err)
	}

	return nil
}

// Lines implements Reader by re-reading the file from disk.
func (s *FileSink) Lines(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open history file %s: %w", s.path, err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, strings.TrimSuffix(scanner.Text(), "\r"))
	}

	return lines, scanner.Err()
}

// Close implements Sink.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}

	err := s.file.Close()
	s.file = nil
	return err
}

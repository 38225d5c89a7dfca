// Package numstream implements the thread-safe number FIFO:
// a line-oriented input file plus an in-memory retry buffer, served
// retry-buffer-first.
package numstream

import (
	"bufio"
	"errors"
	"os"
	"strings"
	"sync"
)

// ErrEmpty is returned by Get when both the retry buffer and the file are
// exhausted, or the stream was closed.
var ErrEmpty = errors.New("numstream: empty")

// Stream wraps a line-oriented input file and a retry buffer fed by
// PushBack. All operations serialize on m.
type Stream struct {
	m       sync.Mutex
	file    *os.File
	scanner *bufio.Scanner
	retry   []string
	closed  bool
}

// Open builds a Stream reading lines from path. The file is kept open for
// the lifetime of the Stream so Dump can report its unread tail.
func Open(path string) (*Stream, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &Stream{file: f, scanner: bufio.NewScanner(f)}, nil
}

// Get returns the next number: the retry buffer first, then the file's next
// non-empty line. Fails with ErrEmpty once both sources are exhausted or the
// stream has been closed.
func (s *Stream) Get() (string, error) {
	s.m.Lock()
	defer s.m.Unlock()

	if s.closed {
		return "", ErrEmpty
	}

	if len(s.retry) > 0 {
		n := s.retry[0]
		s.retry = s.retry[1:]
		return n, nil
	}

	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" {
			continue
		}
		return line, nil
	}

	return "", ErrEmpty
}

// PushBack appends n to the retry buffer; it is always accepted and is
// served before any unread file line.
func (s *Stream) PushBack(n string) {
	s.m.Lock()
	s.retry = append(s.retry, n)
	s.m.Unlock()
}

// Empty reports whether both the retry buffer and the file are exhausted.
func (s *Stream) Empty() bool {
	s.m.Lock()
	defer s.m.Unlock()

	if s.closed || len(s.retry) > 0 {
		return s.closed && len(s.retry) == 0
	}

	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" {
			continue
		}
		s.retry = append(s.retry, line)
		return false
	}
	return true
}

// Close detaches from the underlying file; subsequent Get calls fail with
// ErrEmpty.
func (s *Stream) Close() error {
	s.m.Lock()
	defer s.m.Unlock()

	s.closed = true
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}

// Dump yields the retry buffer followed by the unread tail of the file, in
// order, for checkpointing. It does not close the stream.
func (s *Stream) Dump() []string {
	s.m.Lock()
	defer s.m.Unlock()

	out := make([]string, 0, len(s.retry))
	out = append(out, s.retry...)

	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" {
			continue
		}
		out = append(out, line)
	}

	return out
}

// Package history keeps the append-only record of every chat message seen
// during the current run, one JSON record per line. The log is truncated
// once at startup; late-joining viewers replay it before switching to the
// live feed.
package history

import (
	"bufio"
	"fmt"
	"os"
	"sync"
)

// Log is a process-lifetime JSONL file. Appends are serialized by a mutex
// so concurrent publishes from different adapters can never interleave a
// partial record.
type Log struct {
	path string

	mu sync.Mutex
	f  *os.File
}

// Open truncates the file at path and opens it for appending.
func Open(path string) (*Log, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create history file: %w", err)
	}
	return &Log{path: path, f: f}, nil
}

// Append durably writes one record followed by a newline. The record must
// not contain newlines itself (it is a single marshaled event).
func (l *Log) Append(record []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.f.Write(record); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	if _, err := l.f.Write([]byte{'\n'}); err != nil {
		return fmt.Errorf("write newline: %w", err)
	}
	return nil
}

// Replay streams every record appended so far, in append order, through fn.
// It reads from an independent handle so a large log is never loaded
// wholesale. Replay stops early if fn returns an error.
func (l *Log) Replay(fn func(record []byte) error) error {
	f, err := os.Open(l.path)
	if err != nil {
		return fmt.Errorf("open history file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		record := make([]byte, len(line))
		copy(record, line)
		if err := fn(record); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// Path returns the location of the log file.
func (l *Log) Path() string {
	return l.path
}

// Close closes the append handle.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}

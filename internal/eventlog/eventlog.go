// Package eventlog is the append-only CSV store of classification events.
//
// The file always begins with the fixed header line. The pipeline is the only
// appender; readers take a Snapshot and parse it without holding the lock.
package eventlog

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/andresmejia3/moodtrace/internal/types"
)

// Header is the required first line of every log, column by column.
var Header = []string{"Timestamp", "Detected Object", "Emotion"}

// ErrLogFormat is returned when a log is unreadable or its header is wrong.
var ErrLogFormat = errors.New("invalid event log format")

// Log manages a single CSV event log on disk.
type Log struct {
	path string
	mu   sync.RWMutex
}

// New returns a Log bound to path. Nothing is touched on disk until Ensure,
// Reset, Append or Snapshot is called.
func New(path string) *Log {
	return &Log{path: path}
}

// Path returns the file backing the log.
func (l *Log) Path() string {
	return l.path
}

// Reset truncates the log back to the header line, creating it if needed.
// Calling it repeatedly leaves the same header-only file.
func (l *Log) Reset() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("event log: create directory: %w", err)
	}
	if err := os.WriteFile(l.path, headerLine(), 0644); err != nil {
		return fmt.Errorf("event log: write header: %w", err)
	}
	return nil
}

// Ensure keeps an existing, valid log as is and writes a fresh header when the
// file is missing or empty. An existing file with a wrong header is rejected.
func (l *Log) Ensure() error {
	data, err := l.Snapshot()
	if errors.Is(err, os.ErrNotExist) || (err == nil && len(data) == 0) {
		return l.Reset()
	}
	if err != nil {
		return err
	}
	_, err = ValidateHeader(NewReader(bytes.NewReader(data)))
	return err
}

// Append writes one event as a single record and syncs it to disk.
func (l *Log) Append(ev types.Event) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(FormatRecord(ev)); err != nil {
		return fmt.Errorf("event log: encode: %w", err)
	}
	w.Flush()

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("event log: open %s: %w", l.path, err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return fmt.Errorf("event log: write: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("event log: sync: %w", err)
	}
	return f.Close()
}

// Snapshot returns the raw bytes of the log as of this call. Appends made
// afterwards are not reflected.
func (l *Log) Snapshot() ([]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return os.ReadFile(l.path)
}

// ReadAll parses every well-formed event in the log. Rows that cannot be
// parsed (bad timestamp, missing fields) are skipped.
func (l *Log) ReadAll() ([]types.Event, error) {
	data, err := l.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLogFormat, err)
	}
	return ReadEvents(bytes.NewReader(data))
}

// FormatRecord renders an event as the three CSV columns.
func FormatRecord(ev types.Event) []string {
	return []string{ev.Timestamp.Format(types.TimestampLayout), ev.Object, ev.Emotion}
}

// NewReader returns a csv.Reader configured for event logs. Rows may have a
// varying field count; callers decide what to do with short rows.
func NewReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(bufio.NewReader(r))
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	return cr
}

// ValidateHeader reads the first record and checks it against Header.
// Column names are compared after trimming surrounding whitespace.
func ValidateHeader(cr *csv.Reader) ([]string, error) {
	got, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: missing header", ErrLogFormat)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLogFormat, err)
	}
	if len(got) != len(Header) {
		return nil, fmt.Errorf("%w: header has %d columns, want %d", ErrLogFormat, len(got), len(Header))
	}
	for i, col := range got {
		col = strings.TrimSpace(strings.TrimPrefix(col, "\ufeff"))
		if col != Header[i] {
			return nil, fmt.Errorf("%w: header column %d is %q, want %q", ErrLogFormat, i+1, col, Header[i])
		}
	}
	return got, nil
}

// ReadEvents validates the header and parses the remaining rows into events.
func ReadEvents(r io.Reader) ([]types.Event, error) {
	cr := NewReader(r)
	if _, err := ValidateHeader(cr); err != nil {
		return nil, err
	}

	var events []types.Event
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrLogFormat, err)
		}
		if len(rec) < len(Header) {
			continue
		}
		ts, err := time.ParseInLocation(types.TimestampLayout, strings.TrimSpace(rec[0]), time.Local)
		if err != nil {
			continue
		}
		events = append(events, types.Event{Timestamp: ts, Object: rec[1], Emotion: rec[2]})
	}
	return events, nil
}

func headerLine() []byte {
	return []byte(strings.Join(Header, ",") + "\n")
}

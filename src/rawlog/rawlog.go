// Package rawlog appends inbound messages to a daily JSON-lines file.
package rawlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bytedance/sonic"
)

const fileSuffix = "_proxy.log"

// FileName returns the log file name for the day of t, e.g. 20240131_proxy.log.
func FileName(t time.Time) string {
	return t.Format("20060102") + fileSuffix
}

// Entry is one line of the raw log. Message holds the inbound bytes when they
// are valid JSON; anything else is kept verbatim in Raw.
type Entry struct {
	Time    time.Time       `json:"time"`
	Kind    string          `json:"kind"`
	Topic   string          `json:"topic,omitempty"`
	Message json.RawMessage `json:"message,omitempty"`
	Raw     string          `json:"raw,omitempty"`
}

const (
	KindUplink = "uplink"
	KindTable  = "routing_table"
)

// Writer appends entries to <dir>/<YYYYMMDD>_proxy.log, switching file when
// the day changes. It is safe for concurrent use.
type Writer struct {
	dir string
	now func() time.Time

	mu   sync.Mutex
	day  string
	file *os.File
}

type Option func(*Writer)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(w *Writer) {
		w.now = now
	}
}

// New creates dir if needed. Files are opened lazily on first write.
func New(dir string, opts ...Option) (*Writer, error) {
	if dir == "" {
		return nil, fmt.Errorf("raw log directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create raw log directory: %w", err)
	}
	w := &Writer{dir: dir, now: time.Now}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// WriteUplink logs one inbound message as received from the broker.
func (w *Writer) WriteUplink(topic string, data []byte) error {
	if w == nil {
		return nil
	}
	e := Entry{Kind: KindUplink, Topic: topic}
	if sonic.Valid(data) {
		e.Message = json.RawMessage(data)
	} else {
		e.Raw = string(data)
	}
	return w.write(e)
}

// WriteTable logs the routing table in effect.
func (w *Writer) WriteTable(table any) error {
	if w == nil {
		return nil
	}
	data, err := sonic.Marshal(table)
	if err != nil {
		return fmt.Errorf("failed to encode routing table: %w", err)
	}
	return w.write(Entry{Kind: KindTable, Message: data})
}

func (w *Writer) write(e Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	e.Time = now

	line, err := sonic.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode raw log entry: %w", err)
	}
	line = append(line, '\n')

	f, err := w.fileFor(now)
	if err != nil {
		return err
	}
	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("failed to write raw log: %w", err)
	}
	return nil
}

func (w *Writer) fileFor(now time.Time) (*os.File, error) {
	day := FileName(now)
	if w.file != nil && w.day == day {
		return w.file, nil
	}
	if w.file != nil {
		_ = w.file.Close()
		w.file = nil
	}
	path := filepath.Join(w.dir, day)
	// #nosec G304 - directory comes from configuration
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("failed to open raw log %s: %w", path, err)
	}
	w.file = f
	w.day = day
	return f, nil
}

func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

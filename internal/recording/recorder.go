// Package recording writes channel transcripts in asciicast v2 format.
// See https://docs.asciinema.org/manual/asciicast/v2/
package recording

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/acolita/promptshell/internal/ports"
)

// Header is the first line of a cast file.
type Header struct {
	Version   int               `json:"version"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Timestamp int64             `json:"timestamp"`
	Title     string            `json:"title,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
}

// Event is one [time, type, data] line.
type Event struct {
	Time float64
	Type string
	Data string
}

// MarshalJSON encodes the event as a three element array.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{e.Time, e.Type, e.Data})
}

// UnmarshalJSON decodes a three element array.
func (e *Event) UnmarshalJSON(b []byte) error {
	var raw []any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if len(raw) != 3 {
		return fmt.Errorf("event has %d fields, want 3", len(raw))
	}
	t, ok1 := raw[0].(float64)
	typ, ok2 := raw[1].(string)
	data, ok3 := raw[2].(string)
	if !ok1 || !ok2 || !ok3 {
		return fmt.Errorf("malformed event %s", b)
	}
	*e = Event{Time: t, Type: typ, Data: data}
	return nil
}

// Meta describes the recorded terminal.
type Meta struct {
	Title  string
	Term   string
	Width  int
	Height int
}

// Recorder appends events to a cast file. It satisfies shell.Recorder.
type Recorder struct {
	mu     sync.Mutex
	file   ports.FileHandle
	path   string
	start  time.Time
	clock  ports.Clock
	closed bool
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// NewRecorder creates <dir>/<name>_<timestamp>.cast and writes its header.
func NewRecorder(dir, name string, meta Meta, fsys ports.FileSystem, clock ports.Clock) (*Recorder, error) {
	if err := fsys.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create recording directory: %w", err)
	}

	now := clock.Now()
	base := strings.Trim(unsafeName.ReplaceAllString(name, "_"), "_")
	if base == "" {
		base = "channel"
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_%s.cast", base, now.UTC().Format("20060102_150405.000")))

	file, err := fsys.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create recording file: %w", err)
	}

	h := Header{
		Version:   2,
		Width:     meta.Width,
		Height:    meta.Height,
		Timestamp: now.Unix(),
		Title:     meta.Title,
	}
	if meta.Term != "" {
		h.Env = map[string]string{"TERM": meta.Term}
	}
	line, err := json.Marshal(h)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("marshal header: %w", err)
	}
	if _, err := file.Write(append(line, '\n')); err != nil {
		file.Close()
		return nil, fmt.Errorf("write header: %w", err)
	}

	return &Recorder{file: file, path: path, start: now, clock: clock}, nil
}

// RecordOutput records bytes received from the remote end.
func (r *Recorder) RecordOutput(data string) error { return r.record("o", data) }

// RecordInput records bytes sent to the remote end.
func (r *Recorder) RecordInput(data string) error { return r.record("i", data) }

// RecordMaskedInput records length asterisks in place of a secret.
func (r *Recorder) RecordMaskedInput(length int) error {
	return r.record("i", strings.Repeat("*", length))
}

func (r *Recorder) record(kind, data string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}

	line, err := json.Marshal(Event{
		Time: r.clock.Now().Sub(r.start).Seconds(),
		Type: kind,
		Data: data,
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := r.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

// Close syncs and closes the file. Later events are dropped.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if err := r.file.Sync(); err != nil {
		r.file.Close()
		return fmt.Errorf("sync recording: %w", err)
	}
	return r.file.Close()
}

// Path returns the cast file path.
func (r *Recorder) Path() string { return r.path }

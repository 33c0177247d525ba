package session

import (
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/acolita/promptshell/internal/ports"
)

// Record is what the store keeps about a connection.
type Record struct {
	ID          string    `json:"id"`
	Server      string    `json:"server"`
	Target      string    `json:"target"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	Opened      time.Time `json:"opened"`
}

// Store persists connection records so a restarted process can reconnect
// under the same handles.
type Store struct {
	mu      sync.Mutex
	path    string
	records map[string]Record
	fs      ports.FileSystem
	logger  *slog.Logger
}

// DefaultStorePath returns ~/.cache/promptshell/connections.json.
func DefaultStorePath(fsys ports.FileSystem) string {
	home, err := fsys.UserHomeDir()
	if err != nil {
		home = "/tmp"
	}
	return filepath.Join(home, ".cache", "promptshell", "connections.json")
}

// NewStore loads the records at path. A missing or unreadable file starts
// an empty store.
func NewStore(fsys ports.FileSystem, path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{path: path, records: make(map[string]Record), fs: fsys, logger: logger}
	s.load()
	return s
}

// Save records rec and writes the file.
func (s *Store) Save(rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = rec
	s.persist()
}

// Get returns the record for id.
func (s *Store) Get(id string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	return r, ok
}

// Delete forgets id and writes the file.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return
	}
	delete(s.records, id)
	s.persist()
}

// Records returns all records, oldest first.
func (s *Store) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Opened.Equal(out[j].Opened) {
			return out[i].Opened.Before(out[j].Opened)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Store) load() {
	data, err := s.fs.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("failed to load connection store", slog.String("error", err.Error()))
		}
		return
	}
	if err := json.Unmarshal(data, &s.records); err != nil {
		s.logger.Warn("failed to parse connection store", slog.String("error", err.Error()))
		s.records = make(map[string]Record)
	}
}

func (s *Store) persist() {
	data, err := json.MarshalIndent(s.records, "", "  ")
	if err != nil {
		s.logger.Warn("failed to marshal connection store", slog.String("error", err.Error()))
		return
	}
	if err := s.fs.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		s.logger.Warn("failed to create store directory", slog.String("error", err.Error()))
		return
	}
	if err := s.fs.WriteFile(s.path, data, 0o600); err != nil {
		s.logger.Warn("failed to write connection store", slog.String("error", err.Error()))
	}
}

package recording

import (
	"errors"
	"sync"

	"github.com/acolita/promptshell/internal/adapters/realclock"
	"github.com/acolita/promptshell/internal/ports"
)

// Manager owns one Recorder per channel handle.
type Manager struct {
	mu        sync.Mutex
	recorders map[string]*Recorder
	dir       string
	enabled   bool
	fs        ports.FileSystem
	clock     ports.Clock
}

// NewManager returns a Manager writing into dir. A disabled manager hands
// out nil recorders. A nil clock means the wall clock.
func NewManager(dir string, enabled bool, fsys ports.FileSystem, clock ports.Clock) *Manager {
	if clock == nil {
		clock = realclock.New()
	}
	return &Manager{
		recorders: make(map[string]*Recorder),
		dir:       dir,
		enabled:   enabled,
		fs:        fsys,
		clock:     clock,
	}
}

// Enabled reports whether recordings are written.
func (m *Manager) Enabled() bool { return m.enabled }

// Start opens a recorder for id, closing any previous one.
// It returns nil, nil when recording is disabled.
func (m *Manager) Start(id string, meta Meta) (*Recorder, error) {
	if !m.enabled {
		return nil, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.recorders[id]; ok {
		old.Close()
		delete(m.recorders, id)
	}
	r, err := NewRecorder(m.dir, id, meta, m.fs, m.clock)
	if err != nil {
		return nil, err
	}
	m.recorders[id] = r
	return r, nil
}

// Path returns the recording path for id, or "".
func (m *Manager) Path(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.recorders[id]; ok {
		return r.Path()
	}
	return ""
}

// Stop closes and forgets the recorder for id.
func (m *Manager) Stop(id string) error {
	m.mu.Lock()
	r, ok := m.recorders[id]
	delete(m.recorders, id)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return r.Close()
}

// CloseAll closes every open recorder.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	all := m.recorders
	m.recorders = make(map[string]*Recorder)
	m.mu.Unlock()

	var errs []error
	for _, r := range all {
		errs = append(errs, r.Close())
	}
	return errors.Join(errs...)
}

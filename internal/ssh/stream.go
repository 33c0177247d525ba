package ssh

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/acolita/promptshell/internal/ports"
)

type chunk struct {
	data []byte
	err  error
}

// stream adapts an ssh.Session to ports.Stream. Stdout is pumped by a
// goroutine so that reads can honour a deadline.
type stream struct {
	sess   *ssh.Session
	stdin  io.WriteCloser
	stdout io.Reader
	stderr io.Reader
	clock  ports.Clock

	chunks chan chunk
	done   chan struct{}

	mu       sync.Mutex
	deadline time.Time
	pending  []byte
	err      error

	errBuf     lockedBuffer
	stderrDone chan struct{}
	onClose    func()
	once       sync.Once
}

func newStream(sess *ssh.Session, clock ports.Clock, onClose func()) (*stream, error) {
	stdin, err := sess.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := sess.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	return &stream{
		sess:       sess,
		stdin:      stdin,
		stdout:     stdout,
		stderr:     stderr,
		clock:      clock,
		chunks:     make(chan chunk),
		done:       make(chan struct{}),
		stderrDone: make(chan struct{}),
		onClose:    onClose,
	}, nil
}

func (s *stream) run() {
	go s.pump()
	go func() {
		_, _ = io.Copy(&s.errBuf, s.stderr)
		close(s.stderrDone)
	}()
}

func (s *stream) pump() {
	buf := make([]byte, 32*1024)
	for {
		n, err := s.stdout.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			select {
			case s.chunks <- chunk{data: data}:
			case <-s.done:
				return
			}
		}
		if err != nil {
			select {
			case s.chunks <- chunk{err: err}:
			case <-s.done:
			}
			return
		}
	}
}

// Read returns buffered output first, then waits for the next chunk until
// the read deadline.
func (s *stream) Read(p []byte) (int, error) {
	s.mu.Lock()
	if len(s.pending) > 0 {
		n := copy(p, s.pending)
		s.pending = s.pending[n:]
		s.mu.Unlock()
		return n, nil
	}
	if s.err != nil {
		err := s.err
		s.mu.Unlock()
		return 0, err
	}
	deadline := s.deadline
	s.mu.Unlock()

	var c chunk
	select {
	case c = <-s.chunks:
	case <-s.done:
		return 0, io.ErrClosedPipe
	default:
		if deadline.IsZero() {
			select {
			case c = <-s.chunks:
			case <-s.done:
				return 0, io.ErrClosedPipe
			}
			break
		}
		wait := deadline.Sub(s.clock.Now())
		if wait <= 0 {
			return 0, os.ErrDeadlineExceeded
		}
		select {
		case c = <-s.chunks:
		case <-s.done:
			return 0, io.ErrClosedPipe
		case <-s.clock.After(wait):
			return 0, os.ErrDeadlineExceeded
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if c.err != nil {
		s.err = c.err
		return 0, c.err
	}
	n := copy(p, c.data)
	s.pending = c.data[n:]
	return n, nil
}

func (s *stream) Write(p []byte) (int, error) {
	select {
	case <-s.done:
		return 0, io.ErrClosedPipe
	default:
	}
	return s.stdin.Write(p)
}

// Stderr returns a reader over the error output received so far. Once
// stdout has ended it first waits, until the read deadline, for the error
// stream to end as well so the result is complete.
func (s *stream) Stderr() io.Reader {
	s.mu.Lock()
	finished := s.err != nil
	deadline := s.deadline
	s.mu.Unlock()
	if finished {
		s.waitStderr(deadline)
	}
	return &s.errBuf
}

func (s *stream) waitStderr(deadline time.Time) {
	if deadline.IsZero() {
		select {
		case <-s.stderrDone:
		case <-s.done:
		}
		return
	}
	wait := deadline.Sub(s.clock.Now())
	if wait <= 0 {
		return
	}
	select {
	case <-s.stderrDone:
	case <-s.done:
	case <-s.clock.After(wait):
	}
}

func (s *stream) SetReadDeadline(t time.Time) error {
	s.mu.Lock()
	s.deadline = t
	s.mu.Unlock()
	return nil
}

// Close ends the session. Calling it more than once is safe.
func (s *stream) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		_ = s.stdin.Close()
		if cerr := s.sess.Close(); cerr != nil && !errors.Is(cerr, io.EOF) {
			err = cerr
		}
		if s.onClose != nil {
			s.onClose()
		}
	})
	return err
}

// abort releases a stream whose session never started.
func (s *stream) abort() {
	s.once.Do(func() {
		close(s.done)
		_ = s.sess.Close()
	})
}

// lockedBuffer is written by the stderr pump and drained by callers. A
// read on an empty buffer reports io.EOF instead of blocking.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.buf.Len() == 0 {
		return 0, io.EOF
	}
	return b.buf.Read(p)
}

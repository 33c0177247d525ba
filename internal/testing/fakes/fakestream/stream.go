// Package fakestream provides a scripted duplex stream for testing channels
// and executors without a transport.
package fakestream

import (
	"bytes"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/acolita/promptshell/internal/ports"
)

// Stream is a fake ports.Stream.
//
// Buffered data is always returned before any deadline is considered. When
// nothing is buffered, Read blocks until more data is fed, the remote side
// hangs up, or the read deadline passes (measured with the wall clock, so a
// deadline computed from a fake clock in the past expires at once).
type Stream struct {
	mu         sync.Mutex
	notify     chan struct{}
	pending    []byte
	delayed    []delayedChunk
	replies    []string
	replyFunc  func(written string) string
	replyDelay time.Duration
	written    bytes.Buffer
	stderr     bytes.Buffer
	deadline   time.Time
	eof        bool
	closed     bool
	closeCalls int
	flushCalls int
	readErr    error
	writeErr   error
	closeErr   error
}

type delayedChunk struct {
	due  time.Time
	data []byte
}

// New creates an empty stream.
func New() *Stream {
	return &Stream{notify: make(chan struct{})}
}

// Feed makes data readable immediately.
func (s *Stream) Feed(data string) *Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, data...)
	s.signalLocked()
	return s
}

// ReplyOnWrite queues replies; each Write releases the next one.
func (s *Stream) ReplyOnWrite(replies ...string) *Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, replies...)
	return s
}

// SetReplyFunc computes the reply to every Write once queued replies are used up.
func (s *Stream) SetReplyFunc(fn func(written string) string) *Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replyFunc = fn
	return s
}

// SetReplyDelay delays the visibility of replies by d of wall time.
func (s *Stream) SetReplyDelay(d time.Duration) *Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replyDelay = d
	return s
}

// SetStderr sets the content of the error stream.
func (s *Stream) SetStderr(data string) *Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stderr.Reset()
	s.stderr.WriteString(data)
	return s
}

// HangUp makes Read return io.EOF once buffered data is drained.
func (s *Stream) HangUp() *Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eof = true
	s.signalLocked()
	return s
}

// SetReadError makes Read return err once buffered data is drained.
func (s *Stream) SetReadError(err error) *Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readErr = err
	s.signalLocked()
	return s
}

func (s *Stream) SetWriteError(err error) *Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeErr = err
	return s
}

func (s *Stream) SetCloseError(err error) *Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeErr = err
	return s
}

// Read implements io.Reader.
func (s *Stream) Read(p []byte) (int, error) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return 0, io.ErrClosedPipe
		}
		now := time.Now()
		s.releaseDueLocked(now)
		if len(s.pending) > 0 {
			n := copy(p, s.pending)
			s.pending = s.pending[n:]
			s.mu.Unlock()
			return n, nil
		}
		if s.readErr != nil {
			err := s.readErr
			s.mu.Unlock()
			return 0, err
		}
		if s.eof && len(s.delayed) == 0 {
			s.mu.Unlock()
			return 0, io.EOF
		}

		wait := time.Duration(-1)
		if !s.deadline.IsZero() {
			wait = s.deadline.Sub(now)
			if wait <= 0 {
				s.mu.Unlock()
				return 0, os.ErrDeadlineExceeded
			}
		}
		if len(s.delayed) > 0 {
			due := s.delayed[0].due.Sub(now)
			if wait < 0 || due < wait {
				wait = due
			}
		}
		ch := s.notify
		s.mu.Unlock()

		if wait < 0 {
			<-ch
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ch:
		case <-timer.C:
		}
		timer.Stop()
	}
}

// Write records p and releases the next reply.
func (s *Stream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, io.ErrClosedPipe
	}
	if s.writeErr != nil {
		return 0, s.writeErr
	}
	s.written.Write(p)

	reply, ok := s.nextReplyLocked(string(p))
	if !ok {
		return len(p), nil
	}
	if s.replyDelay > 0 {
		s.delayed = append(s.delayed, delayedChunk{due: time.Now().Add(s.replyDelay), data: []byte(reply)})
	} else {
		s.pending = append(s.pending, reply...)
	}
	s.signalLocked()
	return len(p), nil
}

func (s *Stream) nextReplyLocked(written string) (string, bool) {
	if len(s.replies) > 0 {
		r := s.replies[0]
		s.replies = s.replies[1:]
		return r, true
	}
	if s.replyFunc != nil {
		return s.replyFunc(written), true
	}
	return "", false
}

func (s *Stream) releaseDueLocked(now time.Time) {
	for len(s.delayed) > 0 && !s.delayed[0].due.After(now) {
		s.pending = append(s.pending, s.delayed[0].data...)
		s.delayed = s.delayed[1:]
	}
}

func (s *Stream) signalLocked() {
	close(s.notify)
	s.notify = make(chan struct{})
}

// Stderr returns a reader over the configured error stream content.
func (s *Stream) Stderr() io.Reader {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.NewReader(s.stderr.String())
}

// SetReadDeadline implements ports.Stream.
func (s *Stream) SetReadDeadline(t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deadline = t
	s.signalLocked()
	return nil
}

// Flush counts flush calls.
func (s *Stream) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushCalls++
	return nil
}

// Close marks the stream closed. Repeated calls are counted.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCalls++
	if !s.closed {
		s.closed = true
		s.signalLocked()
	}
	return s.closeErr
}

// --- Test helpers ---

// Written returns everything written to the stream.
func (s *Stream) Written() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written.String()
}

// Deadline returns the last read deadline set.
func (s *Stream) Deadline() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deadline
}

func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Stream) CloseCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls
}

func (s *Stream) FlushCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushCalls
}

// Ensure Stream implements ports.Stream and ports.Flusher.
var (
	_ ports.Stream  = (*Stream)(nil)
	_ ports.Flusher = (*Stream)(nil)
)

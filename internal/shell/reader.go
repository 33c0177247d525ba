package shell

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/acolita/promptshell/internal/ports"
	"github.com/acolita/promptshell/internal/prompt"
)

// Completion says why a read cycle ended.
type Completion string

const (
	CompletionPrompt  Completion = "prompt"
	CompletionTimeout Completion = "timeout"
	CompletionEOF     Completion = "eof"
)

// streamReader is the read loop shared by Channel and Executor. It owns the
// accumulation buffer for the in-flight read.
type streamReader struct {
	stream  ports.Stream
	br      *bufio.Reader
	session ports.RemoteSession
	clock   ports.Clock
	logger  *slog.Logger
	filters []ByteFilter
	buf     strings.Builder
}

func newStreamReader(stream ports.Stream, session ports.RemoteSession, o *options) *streamReader {
	for _, f := range o.filters {
		f.Reset()
	}
	return &streamReader{
		stream:  stream,
		br:      bufio.NewReader(stream),
		session: session,
		clock:   o.clock,
		logger:  o.logger,
		filters: o.filters,
	}
}

// reset empties the buffer.
func (r *streamReader) reset() {
	r.buf.Reset()
}

func (r *streamReader) String() string {
	return r.buf.String()
}

// readUntil sleeps for delay, then reads byte by byte until re matches the
// end of the buffer, the remote side hangs up, or timeout elapses. Timeout
// and hang-up are reported through the Completion, not as errors; an
// error means the session was lost mid-read.
func (r *streamReader) readUntil(re *regexp.Regexp, delay, timeout time.Duration) (Completion, error) {
	r.reset()
	deadline := r.arm(delay, timeout)
	defer r.flush()

	for {
		b, err := r.br.ReadByte()
		if err != nil {
			return r.classify(err)
		}
		if kept, ok := r.filter(b); ok {
			r.buf.WriteByte(kept)
			if prompt.MatchCompiled(re, r.buf.String()) {
				return CompletionPrompt, nil
			}
		}
		// A stream that never pauses would not trip the read deadline.
		if r.clock.Now().After(deadline) {
			return CompletionTimeout, nil
		}
	}
}

// readAll reads until the remote side hangs up or timeout elapses.
func (r *streamReader) readAll(delay, timeout time.Duration) (Completion, error) {
	r.reset()
	deadline := r.arm(delay, timeout)
	defer r.flush()

	chunk := make([]byte, 4096)
	for {
		n, err := r.br.Read(chunk)
		for _, b := range chunk[:n] {
			if kept, ok := r.filter(b); ok {
				r.buf.WriteByte(kept)
			}
		}
		if err != nil {
			return r.classify(err)
		}
		if r.clock.Now().After(deadline) {
			return CompletionTimeout, nil
		}
	}
}

func (r *streamReader) arm(delay, timeout time.Duration) time.Time {
	if delay > 0 {
		r.clock.Sleep(delay)
	}
	deadline := r.clock.Now().Add(timeout)
	if err := r.stream.SetReadDeadline(deadline); err != nil {
		r.logger.Debug("set read deadline", "error", err)
	}
	return deadline
}

func (r *streamReader) filter(b byte) (byte, bool) {
	for _, f := range r.filters {
		var ok bool
		if b, ok = f.Filter(b); !ok {
			return 0, false
		}
	}
	return b, true
}

func (r *streamReader) classify(err error) (Completion, error) {
	switch {
	case errors.Is(err, os.ErrDeadlineExceeded):
		return CompletionTimeout, nil
	case errors.Is(err, io.EOF):
		return CompletionEOF, nil
	case !r.session.IsLive():
		return "", err
	default:
		r.logger.Warn("stream read failed, returning partial output",
			"target", r.session.Target(),
			"bytes", r.buf.Len(),
			"error", err,
		)
		return CompletionEOF, nil
	}
}

func (r *streamReader) flush() {
	if f, ok := r.stream.(ports.Flusher); ok {
		if err := f.Flush(); err != nil {
			r.logger.Debug("flush stream", "error", err)
		}
	}
}

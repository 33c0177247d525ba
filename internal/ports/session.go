package ports

import (
	"io"
	"time"
)

// TermRequest carries the virtual terminal parameters sent with every
// shell and exec request.
type TermRequest struct {
	Term   string
	Env    map[string]string
	Width  int
	Height int
	// Unit is "chars" or "pixels" and tells the transport how to
	// interpret Width and Height.
	Unit string
}

// RemoteSession is a connected, authenticated transport. Channels and
// executors hold a non-owning reference to it.
type RemoteSession interface {
	// IsLive reports whether the session can still carry requests.
	IsLive() bool

	// Target identifies the remote end ("user@host:port") for logs and errors.
	Target() string

	// User is the remote login name.
	User() string

	// OpenShell requests a long-lived interactive shell stream.
	OpenShell(req TermRequest) (Stream, error)

	// OpenExec requests a one-shot stream running command.
	OpenExec(command string, req TermRequest) (Stream, error)
}

// Stream is a duplex byte stream with a separate error stream.
type Stream interface {
	io.Reader
	io.Writer

	// Stderr returns the auxiliary error stream. Reading it yields what
	// has arrived so far and does not block. After Read has reported the
	// end of the main stream, Stderr may wait until the read deadline for
	// the error stream to end.
	Stderr() io.Reader

	// SetReadDeadline makes Read calls after t fail with os.ErrDeadlineExceeded.
	// A zero t clears the deadline.
	SetReadDeadline(t time.Time) error

	Close() error
}

// Flusher is implemented by streams that buffer writes.
type Flusher interface {
	Flush() error
}

package shell

import (
	"errors"
	"fmt"
	"time"

	"github.com/acolita/promptshell/internal/chanconf"
)

// Sentinel errors. Operational failures are returned as *CommandError and
// match these with errors.Is.
var (
	ErrValidation      = chanconf.ErrValidation
	ErrConnection      = errors.New("session not live")
	ErrChannelOpen     = errors.New("cannot open shell channel")
	ErrChannelClosed   = errors.New("shell channel not open")
	ErrWrite           = errors.New("write to stream failed")
	ErrExecution       = errors.New("command execution failed")
	ErrTimeout         = errors.New("prompt not observed before deadline")
	ErrCommandRejected = errors.New("command rejected")
)

// CommandError describes a failed open, send or execute call.
type CommandError struct {
	Op      string // "open", "send" or "exec"
	Target  string
	Command string
	Kind    error // one of the sentinel errors
	Err     error // underlying cause, may be nil
}

func (e *CommandError) Error() string {
	msg := e.Op
	if e.Target != "" {
		msg += " " + e.Target
	}
	if e.Command != "" {
		msg += fmt.Sprintf(" %q", e.Command)
	}
	msg += ": " + e.Kind.Error()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the sentinel and the cause.
func (e *CommandError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// TimeoutError is returned in strict mode when a read ends without the
// prompt. Partial holds the post-processed output that did arrive.
type TimeoutError struct {
	Partial    string
	Completion Completion
	Timeout    time.Duration
}

func (e *TimeoutError) Error() string {
	if e.Completion == CompletionEOF {
		return "remote closed the stream before the prompt was observed"
	}
	return fmt.Sprintf("no completion within %s", e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return ErrTimeout }

// Package fakesession provides a fake RemoteSession for testing.
package fakesession

import (
	"errors"
	"sync"

	"github.com/acolita/promptshell/internal/ports"
	"github.com/acolita/promptshell/internal/testing/fakes/fakestream"
)

// ExecCall records a call to OpenExec.
type ExecCall struct {
	Command string
	Request ports.TermRequest
}

// Session is a fake ports.RemoteSession.
type Session struct {
	mu            sync.Mutex
	live          bool
	target        string
	user          string
	shell         ports.Stream
	shellErr      error
	execFunc      func(command string) (ports.Stream, error)
	shellRequests []ports.TermRequest
	execCalls     []ExecCall
}

// New creates a live session whose shell requests return shell.
// A nil shell makes OpenShell fail.
func New(shell ports.Stream) *Session {
	return &Session{
		live:   true,
		target: "test@fake:22",
		user:   "test",
		shell:  shell,
	}
}

// SetLive sets the value reported by IsLive.
func (s *Session) SetLive(live bool) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live = live
	return s
}

// SetUser sets the login name reported by User.
func (s *Session) SetUser(user string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = user
	return s
}

// SetShell replaces the stream returned by OpenShell.
func (s *Session) SetShell(stream ports.Stream) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shell = stream
	return s
}

// SetShellError makes OpenShell fail with err.
func (s *Session) SetShellError(err error) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shellErr = err
	return s
}

// SetExecFunc sets the function that produces exec streams.
func (s *Session) SetExecFunc(fn func(command string) (ports.Stream, error)) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.execFunc = fn
	return s
}

// SetExecOutput makes every exec request return a stream that yields
// output and then hangs up.
func (s *Session) SetExecOutput(output string) *Session {
	return s.SetExecFunc(func(string) (ports.Stream, error) {
		return fakestream.New().Feed(output).HangUp(), nil
	})
}

func (s *Session) IsLive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

func (s *Session) Target() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target
}

func (s *Session) User() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// OpenShell records the request and returns the configured stream.
func (s *Session) OpenShell(req ports.TermRequest) (ports.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shellRequests = append(s.shellRequests, req)
	if s.shellErr != nil {
		return nil, s.shellErr
	}
	if s.shell == nil {
		return nil, errors.New("fakesession: no shell configured")
	}
	return s.shell, nil
}

// OpenExec records the request and delegates to the exec function.
func (s *Session) OpenExec(command string, req ports.TermRequest) (ports.Stream, error) {
	s.mu.Lock()
	s.execCalls = append(s.execCalls, ExecCall{Command: command, Request: req})
	fn := s.execFunc
	s.mu.Unlock()

	if fn == nil {
		return nil, errors.New("fakesession: no exec configured")
	}
	return fn(command)
}

// --- Test helpers ---

func (s *Session) ShellRequests() []ports.TermRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ports.TermRequest(nil), s.shellRequests...)
}

func (s *Session) ExecCalls() []ExecCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ExecCall(nil), s.execCalls...)
}

// Ensure Session implements ports.RemoteSession.
var _ ports.RemoteSession = (*Session)(nil)

package shell

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/acolita/promptshell/internal/chanconf"
	"github.com/acolita/promptshell/internal/logging"
	"github.com/acolita/promptshell/internal/ports"
)

const maxStderr = 1 << 20

// ExecResult is the outcome of a one-shot command.
type ExecResult struct {
	Output     string
	Stderr     string
	Completion Completion // CompletionEOF or CompletionTimeout
	Elapsed    time.Duration
}

// Executor runs one-shot commands, each on a fresh exec request.
type Executor struct {
	session ports.RemoteSession
	cfg     chanconf.Configuration
	opts    *options
}

func NewExecutor(session ports.RemoteSession, cfg chanconf.Configuration, opts ...Option) *Executor {
	return &Executor{
		session: session,
		cfg:     cfg,
		opts:    buildOptions(opts),
	}
}

// Execute runs command and returns its trimmed output.
func (e *Executor) Execute(command string) (string, error) {
	res, err := e.ExecuteResult(command)
	return res.Output, err
}

// ExecuteResult runs command and reads until the remote side hangs up or the
// configured timeout elapses. A timeout is a degraded success unless strict
// timeouts are configured. The exec stream is closed before returning.
func (e *Executor) ExecuteResult(command string) (ExecResult, error) {
	target := e.session.Target()
	command = strings.TrimSpace(command)
	fail := func(kind, err error) error {
		return &CommandError{Op: "exec", Target: target, Command: command, Kind: kind, Err: err}
	}

	if !e.session.IsLive() {
		return ExecResult{}, fail(ErrConnection, nil)
	}
	if command == "" {
		return ExecResult{}, fail(ErrValidation, errors.New("empty command"))
	}
	if ok, reason := e.opts.checkGuard(command); !ok {
		return ExecResult{}, fail(ErrCommandRejected, errors.New(reason))
	}

	start := e.opts.clock.Now()
	stream, err := e.session.OpenExec(command, e.cfg.TermRequest())
	if err != nil {
		return ExecResult{}, fail(ErrExecution, err)
	}
	defer func() {
		if err := stream.Close(); err != nil && !errors.Is(err, io.EOF) {
			e.opts.logger.Debug("close exec stream", "target", target, "error", err)
		}
	}()
	e.opts.recordInput(command + "\n")

	reader := newStreamReader(stream, e.session, e.opts)
	completion, err := reader.readAll(e.cfg.InterCommandDelay(), e.cfg.Timeout())
	raw := reader.String()
	e.opts.recordOutput(raw)
	if err != nil {
		return ExecResult{}, fail(ErrExecution, fmt.Errorf("read output: %w", err))
	}

	stderr, err := io.ReadAll(io.LimitReader(stream.Stderr(), maxStderr))
	if err != nil {
		e.opts.logger.Debug("read exec stderr", "target", target, "error", err)
	}

	res := ExecResult{
		Output:     e.decode(strings.TrimSpace(raw)),
		Stderr:     e.decode(strings.TrimSpace(string(stderr))),
		Completion: completion,
		Elapsed:    e.opts.clock.Now().Sub(start),
	}
	e.opts.logger.Info("command executed",
		"target", target,
		logging.Command(command),
		"completion", completion,
		"elapsed", res.Elapsed,
		"bytes", len(raw),
	)

	if completion == CompletionTimeout {
		e.opts.logger.Info("exec stream still open at deadline, returning partial output",
			"target", target,
			logging.Command(command),
			"timeout", e.cfg.Timeout(),
		)
		if e.cfg.StrictTimeout() {
			return res, &TimeoutError{Partial: res.Output, Completion: completion, Timeout: e.cfg.Timeout()}
		}
	}
	return res, nil
}

func (e *Executor) decode(s string) string {
	out, err := decode(s, e.cfg.OutputEncoding())
	if err != nil {
		e.opts.logger.Warn("decode output", "target", e.session.Target(), "error", err)
	}
	return out
}

// Package shell drives commands over a remote session: Channel keeps one
// interactive shell open and detects the end of each response by matching
// the shell prompt, Executor runs one-shot commands and reads until the
// remote side hangs up.
package shell

import (
	"errors"
	"io"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/acolita/promptshell/internal/chanconf"
	"github.com/acolita/promptshell/internal/logging"
	"github.com/acolita/promptshell/internal/ports"
	"github.com/acolita/promptshell/internal/prompt"
)

const maskedCommand = "******"

// Result is the outcome of one send cycle.
type Result struct {
	// Output is the response with the echoed command line and the trailing
	// prompt removed, decoded to UTF-8.
	Output string
	// Raw is the buffer as read, after byte filtering.
	Raw        string
	Completion Completion
	Elapsed    time.Duration
	// Pending is set when the read ended without a prompt and the output
	// ends in a question such as a password request or a pager.
	Pending *prompt.Detection
}

// Channel is an interactive shell over a RemoteSession. One operation runs
// at a time; concurrent callers are serialised.
type Channel struct {
	mu      sync.Mutex
	session ports.RemoteSession
	cfg     chanconf.Configuration
	opts    *options
	matcher *prompt.Matcher

	stream ports.Stream
	stderr io.Reader
	reader *streamReader
	open   atomic.Bool
}

// NewChannel returns a closed channel. The configuration is fixed for the
// channel's lifetime.
func NewChannel(session ports.RemoteSession, cfg chanconf.Configuration, opts ...Option) *Channel {
	return &Channel{
		session: session,
		cfg:     cfg,
		opts:    buildOptions(opts),
		matcher: prompt.NewMatcher(),
	}
}

// Open requests a shell stream and consumes everything up to and including
// initialPrompt (the login banner and first prompt). On failure the channel
// stays closed.
func (c *Channel) Open(initialPrompt string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	target := c.session.Target()
	fail := func(kind, err error) error {
		return &CommandError{Op: "open", Target: target, Kind: kind, Err: err}
	}

	if c.stream != nil {
		return fail(ErrChannelOpen, errors.New("channel already open"))
	}
	re, err := c.compile(initialPrompt)
	if err != nil {
		return fail(ErrValidation, err)
	}
	if !c.session.IsLive() {
		return fail(ErrConnection, nil)
	}

	stream, err := c.session.OpenShell(c.cfg.TermRequest())
	if err != nil {
		return fail(ErrChannelOpen, err)
	}
	c.stream = stream
	c.stderr = stream.Stderr()
	c.reader = newStreamReader(stream, c.session, c.opts)
	c.open.Store(true)

	start := c.opts.clock.Now()
	completion, err := c.reader.readUntil(re, c.cfg.InterCommandDelay(), c.cfg.Timeout())
	banner := c.reader.String()
	c.opts.recordOutput(banner)
	if err != nil {
		c.closeLocked()
		return fail(ErrConnection, err)
	}
	if completion != CompletionPrompt {
		c.opts.logger.Info("initial prompt not observed",
			"target", target,
			"completion", completion,
			"timeout", c.cfg.Timeout(),
		)
		if c.cfg.StrictTimeout() {
			c.closeLocked()
			return fail(ErrChannelOpen, &TimeoutError{
				Partial:    strings.TrimSpace(banner),
				Completion: completion,
				Timeout:    c.cfg.Timeout(),
			})
		}
	}
	c.reader.reset()

	c.opts.logger.Info("shell channel opened",
		"target", target,
		"term", c.cfg.TermType(),
		"banner_bytes", len(banner),
		"elapsed", c.opts.clock.Now().Sub(start),
	)
	return nil
}

// Send writes command and returns the response once prompt is seen.
func (c *Channel) Send(command, promptPattern string) (string, error) {
	res, err := c.SendResult(command, promptPattern)
	return res.Output, err
}

// SendResult is Send with completion details.
//
// A read that ends on the deadline or on remote hang-up returns the partial
// output and a nil error, unless the configuration asks for strict timeouts,
// in which case the same Result comes back with a *TimeoutError. The
// channel stays open either way.
func (c *Channel) SendResult(command, promptPattern string) (Result, error) {
	command = strings.TrimSpace(command)
	return c.send(command, command, promptPattern, false)
}

// SendSecret sends a password or other secret. The value is masked in the
// transcript, in logs and in errors.
func (c *Channel) SendSecret(secret, promptPattern string) (Result, error) {
	return c.send(secret, maskedCommand, promptPattern, true)
}

func (c *Channel) send(command, shown, promptPattern string, secret bool) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	target := c.session.Target()
	fail := func(kind, err error) error {
		return &CommandError{Op: "send", Target: target, Command: shown, Kind: kind, Err: err}
	}

	if c.stream == nil {
		return Result{}, fail(ErrChannelClosed, nil)
	}
	if !secret {
		if ok, reason := c.opts.checkGuard(command); !ok {
			return Result{}, fail(ErrCommandRejected, errors.New(reason))
		}
	}
	re, err := c.compile(promptPattern)
	if err != nil {
		return Result{}, fail(ErrValidation, err)
	}
	if !c.session.IsLive() {
		return Result{}, fail(ErrConnection, nil)
	}

	c.reader.reset()
	start := c.opts.clock.Now()
	if _, err := io.WriteString(c.stream, command+c.opts.lineEnding); err != nil {
		return Result{}, fail(ErrWrite, err)
	}
	if secret {
		c.opts.recordMasked(len(command))
	} else {
		c.opts.recordInput(command + c.opts.lineEnding)
	}

	completion, err := c.reader.readUntil(re, c.cfg.InterCommandDelay(), c.cfg.Timeout())
	raw := c.reader.String()
	c.opts.recordOutput(raw)

	res := Result{
		Output:     c.postProcess(raw, promptPattern, secret, command),
		Raw:        raw,
		Completion: completion,
		Elapsed:    c.opts.clock.Now().Sub(start),
	}
	if err != nil {
		return res, fail(ErrConnection, err)
	}

	c.opts.logger.Info("command completed",
		"target", target,
		logging.Command(shown),
		"completion", completion,
		"elapsed", res.Elapsed,
		"bytes", len(raw),
	)
	if completion == CompletionPrompt {
		return res, nil
	}

	res.Pending = c.opts.detector.Detect(raw)
	c.opts.logger.Info("prompt not observed, returning partial output",
		"target", target,
		logging.Command(shown),
		"completion", completion,
		"timeout", c.cfg.Timeout(),
	)
	if c.cfg.StrictTimeout() {
		return res, &TimeoutError{Partial: res.Output, Completion: completion, Timeout: c.cfg.Timeout()}
	}
	return res, nil
}

// Close flushes and closes the shell stream. It is safe to call on a
// closed channel and never fails; close errors are logged.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Channel) closeLocked() {
	c.open.Store(false)
	if c.stream == nil {
		return
	}
	if f, ok := c.stream.(ports.Flusher); ok {
		if err := f.Flush(); err != nil {
			c.opts.logger.Warn("flush shell stream", "target", c.session.Target(), "error", err)
		}
	}
	if err := c.stream.Close(); err != nil && !errors.Is(err, io.EOF) {
		c.opts.logger.Warn("close shell stream", "target", c.session.Target(), "error", err)
	}
	c.stream = nil
	c.stderr = nil
	c.reader = nil
	c.opts.logger.Debug("shell channel closed", "target", c.session.Target())
}

// IsOpen reports whether the channel holds an open stream.
func (c *Channel) IsOpen() bool {
	return c.open.Load()
}

// ErrorStream returns the auxiliary error stream of the open shell, or nil.
func (c *Channel) ErrorStream() io.Reader {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stderr
}

// Configuration returns the channel's configuration.
func (c *Channel) Configuration() chanconf.Configuration {
	return c.cfg
}

func (c *Channel) compile(pattern string) (*regexp.Regexp, error) {
	return c.matcher.Compile(prompt.Expand(pattern, c.session.User()))
}

// postProcess drops the echoed command line, trims whitespace, strips the
// trailing prompt and decodes the result. A secret is usually not echoed,
// so after one the first line is only dropped when it is blank or repeats
// the secret.
func (c *Channel) postProcess(raw, promptPattern string, secret bool, sent string) string {
	out := raw
	if !secret {
		// blank lines left over from the previous cycle come before the echo
		out = strings.TrimLeft(out, "\r\n")
	}
	if i := strings.IndexByte(out, '\n'); i >= 0 {
		first := strings.TrimSpace(out[:i])
		if !secret || first == "" || first == sent {
			out = out[i+1:]
		}
	} else if !secret || strings.TrimSpace(out) == sent {
		out = ""
	}
	out = strings.ReplaceAll(out, "\r\n", "\n")
	out = strings.TrimSpace(out)
	out = strings.TrimSpace(prompt.Trim(out, prompt.Expand(promptPattern, c.session.User())))

	decoded, err := decode(out, c.cfg.OutputEncoding())
	if err != nil {
		c.opts.logger.Warn("decode output", "target", c.session.Target(), "error", err)
	}
	return decoded
}

package shell

import (
	"log/slog"

	"github.com/acolita/promptshell/internal/adapters/realclock"
	"github.com/acolita/promptshell/internal/ports"
	"github.com/acolita/promptshell/internal/prompt"
)

// Recorder receives the transcript of a channel or executor.
type Recorder interface {
	RecordInput(data string) error
	RecordMaskedInput(length int) error
	RecordOutput(data string) error
}

// Guard decides whether a command may be sent.
type Guard interface {
	IsAllowed(command string) (bool, string)
}

type options struct {
	clock      ports.Clock
	logger     *slog.Logger
	filters    []ByteFilter
	recorder   Recorder
	guard      Guard
	detector   *prompt.Detector
	lineEnding string
}

// Option configures a Channel or Executor.
type Option func(*options)

// WithClock sets the clock used for the settle delay and deadlines.
func WithClock(c ports.Clock) Option {
	return func(o *options) { o.clock = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithFilters installs byte filters, applied in order.
func WithFilters(filters ...ByteFilter) Option {
	return func(o *options) { o.filters = append(o.filters, filters...) }
}

// WithRecorder tees input and output to r.
func WithRecorder(r Recorder) Option {
	return func(o *options) { o.recorder = r }
}

// WithGuard rejects commands before they are written.
func WithGuard(g Guard) Option {
	return func(o *options) { o.guard = g }
}

// WithDetector replaces the detector used to recognise interactive
// questions in output that ended without a prompt.
func WithDetector(d *prompt.Detector) Option {
	return func(o *options) { o.detector = d }
}

// WithLineEnding sets the terminator appended to commands. Default "\n".
func WithLineEnding(s string) Option {
	return func(o *options) { o.lineEnding = s }
}

func buildOptions(opts []Option) *options {
	o := &options{lineEnding: "\n"}
	for _, opt := range opts {
		opt(o)
	}
	if o.clock == nil {
		o.clock = realclock.New()
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.detector == nil {
		o.detector = prompt.NewDetector()
	}
	return o
}

func (o *options) checkGuard(command string) (bool, string) {
	if o.guard == nil {
		return true, ""
	}
	return o.guard.IsAllowed(command)
}

func (o *options) recordInput(data string) {
	if o.recorder == nil {
		return
	}
	if err := o.recorder.RecordInput(data); err != nil {
		o.logger.Debug("record input", "error", err)
	}
}

func (o *options) recordMasked(n int) {
	if o.recorder == nil {
		return
	}
	if err := o.recorder.RecordMaskedInput(n); err != nil {
		o.logger.Debug("record input", "error", err)
	}
}

func (o *options) recordOutput(data string) {
	if o.recorder == nil || data == "" {
		return
	}
	if err := o.recorder.RecordOutput(data); err != nil {
		o.logger.Debug("record output", "error", err)
	}
}

package expect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/acolita/promptshell/internal/adapters/realclock"
	"github.com/acolita/promptshell/internal/logging"
	"github.com/acolita/promptshell/internal/ports"
	"github.com/acolita/promptshell/internal/prompt"
	"github.com/acolita/promptshell/internal/shell"
)

var (
	// ErrStepFailed is wrapped by every step failure.
	ErrStepFailed = errors.New("step failed")
	// ErrNoPrompt means the step ended without the expected prompt and no
	// answer applied.
	ErrNoPrompt = errors.New("prompt not seen")
)

// Conversation is the part of shell.Channel a script needs.
type Conversation interface {
	SendResult(command, promptPattern string) (shell.Result, error)
	SendSecret(secret, promptPattern string) (shell.Result, error)
}

// StepResult records what one step did.
type StepResult struct {
	Name       string
	Output     string
	Completion shell.Completion
	// Answered lists the detector pattern names that were answered.
	Answered []string
	Elapsed  time.Duration
	Err      error
}

// Report is the outcome of a script run.
type Report struct {
	Script string
	Steps  []StepResult
	// Failed counts steps with a non-nil Err.
	Failed  int
	Elapsed time.Duration
}

// Runner executes scripts over one conversation.
type Runner struct {
	conv   Conversation
	lookup func(string) string
	clock  ports.Clock
	logger *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithLookup sets the ${VAR} resolver for answers. The default is os.Getenv.
func WithLookup(fn func(string) string) Option {
	return func(r *Runner) { r.lookup = fn }
}

// WithClock sets the clock used for step timings.
func WithClock(c ports.Clock) Option {
	return func(r *Runner) { r.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// NewRunner returns a Runner sending through conv.
func NewRunner(conv Conversation, opts ...Option) *Runner {
	r := &Runner{conv: conv, lookup: os.Getenv, logger: slog.Default()}
	for _, o := range opts {
		o(r)
	}
	if r.clock == nil {
		r.clock = realclock.New()
	}
	return r
}

// Run executes the script's steps in order. It stops at the first failed
// step unless the script continues on error, and returns an error wrapping
// ErrStepFailed when any step failed. ctx is checked between sends.
func (r *Runner) Run(ctx context.Context, s *Script) (*Report, error) {
	start := r.clock.Now()
	rep := &Report{Script: s.Name}
	log := r.logger.With(slog.String("script", s.Name))

	var firstErr error
	for i := range s.Steps {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		st := &s.Steps[i]
		res := r.runStep(ctx, st)
		rep.Steps = append(rep.Steps, res)

		if res.Err == nil {
			log.Debug("step passed", slog.String("step", st.Name), slog.Duration("elapsed", res.Elapsed))
			continue
		}
		rep.Failed++
		log.Warn("step failed", slog.String("step", st.Name), slog.String("error", res.Err.Error()))
		if firstErr == nil {
			firstErr = fmt.Errorf("step %s: %w", st.Name, res.Err)
		}
		if errors.Is(res.Err, context.Canceled) || errors.Is(res.Err, context.DeadlineExceeded) {
			break
		}
		if !s.ContinueOnError {
			break
		}
	}
	rep.Elapsed = r.clock.Now().Sub(start)
	return rep, firstErr
}

func (r *Runner) runStep(ctx context.Context, st *Step) StepResult {
	start := r.clock.Now()
	out := StepResult{Name: st.Name}
	finish := func(err error) StepResult {
		out.Elapsed = r.clock.Now().Sub(start)
		out.Err = err
		return out
	}

	shown := st.Send
	if st.Secret {
		shown = "******"
	}
	r.logger.Debug("step send", slog.String("step", st.Name), logging.Command(shown))

	res, err := r.send(st.Send, st.Secret, st.expect)
	var output strings.Builder
	output.WriteString(res.Output)

	fired := make(map[int]int)
	for err == nil && res.Completion != shell.CompletionPrompt && res.Pending != nil {
		idx := pickAnswer(st.Answers, res.Pending, fired)
		if idx < 0 {
			break
		}
		if cerr := ctx.Err(); cerr != nil {
			out.Output = output.String()
			return finish(cerr)
		}
		a := &st.Answers[idx]
		fired[idx]++
		out.Answered = append(out.Answered, res.Pending.Pattern.Name)

		reply := os.Expand(a.Send, r.lookup)
		if a.Suggested && res.Pending.SuggestedResponse != "" {
			reply = res.Pending.SuggestedResponse
		}
		secret := a.Secret || res.Pending.IsPasswordPrompt()
		res, err = r.send(reply, secret, st.expect)
		if output.Len() > 0 && res.Output != "" {
			output.WriteByte('\n')
		}
		output.WriteString(res.Output)
	}

	out.Output = output.String()
	out.Completion = res.Completion
	if err != nil {
		return finish(err)
	}
	if res.Completion != shell.CompletionPrompt && !st.AllowTimeout {
		if res.Pending != nil {
			return finish(fmt.Errorf("%w: %w: unanswered %s question %q", ErrStepFailed, ErrNoPrompt,
				res.Pending.Pattern.Type, res.Pending.MatchedText))
		}
		return finish(fmt.Errorf("%w: %w (%s)", ErrStepFailed, ErrNoPrompt, res.Completion))
	}
	if st.reject != nil && st.reject.MatchString(out.Output) {
		return finish(fmt.Errorf("%w: output matches reject pattern %q", ErrStepFailed, st.Reject))
	}
	if st.require != nil && !st.require.MatchString(out.Output) {
		return finish(fmt.Errorf("%w: output does not match %q", ErrStepFailed, st.Require))
	}
	return finish(nil)
}

// send treats a strict timeout as a normal result so pending questions can
// still be answered.
func (r *Runner) send(text string, secret bool, promptPattern string) (shell.Result, error) {
	var (
		res shell.Result
		err error
	)
	if secret {
		res, err = r.conv.SendSecret(text, promptPattern)
	} else {
		res, err = r.conv.SendResult(text, promptPattern)
	}
	var te *shell.TimeoutError
	if errors.As(err, &te) {
		return res, nil
	}
	return res, err
}

func pickAnswer(answers []Answer, det *prompt.Detection, fired map[int]int) int {
	for i := range answers {
		if fired[i] >= answers[i].MaxRepeats {
			continue
		}
		if answers[i].applies(det) {
			return i
		}
	}
	return -1
}

package expect

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/acolita/promptshell/internal/chanconf"
	"github.com/acolita/promptshell/internal/prompt"
	"github.com/acolita/promptshell/internal/shell"
	"github.com/acolita/promptshell/internal/testing/fakes/fakeclock"
	"github.com/acolita/promptshell/internal/testing/fakes/fakesession"
	"github.com/acolita/promptshell/internal/testing/fakes/fakestream"
)

var epoch = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ==== fake conversation ====

type reply struct {
	out    string
	ask    string // question left pending; the read ends in timeout
	err    error
	strict bool // return the ask as a strict *shell.TimeoutError
}

type sent struct {
	text   string
	secret bool
	prompt string
}

type fakeConv struct {
	replies []reply
	sent    []sent
	det     *prompt.Detector
}

func newConv(replies ...reply) *fakeConv {
	return &fakeConv{replies: replies, det: prompt.NewDetector()}
}

func (f *fakeConv) SendResult(cmd, p string) (shell.Result, error) { return f.next(cmd, false, p) }
func (f *fakeConv) SendSecret(s, p string) (shell.Result, error)   { return f.next(s, true, p) }

func (f *fakeConv) next(text string, secret bool, p string) (shell.Result, error) {
	f.sent = append(f.sent, sent{text, secret, p})
	if len(f.replies) == 0 {
		return shell.Result{}, errors.New("fakeConv: no reply queued")
	}
	r := f.replies[0]
	f.replies = f.replies[1:]
	if r.err != nil {
		return shell.Result{}, r.err
	}
	res := shell.Result{Output: r.out, Completion: shell.CompletionPrompt}
	if r.ask != "" {
		res.Output = strings.TrimSpace(r.out + "\n" + r.ask)
		res.Completion = shell.CompletionTimeout
		res.Pending = f.det.Detect(r.out + "\n" + r.ask)
		if r.strict {
			return res, &shell.TimeoutError{Partial: res.Output, Completion: res.Completion}
		}
	}
	return res, nil
}

func mustParse(t *testing.T, src string) *Script {
	t.Helper()
	s, err := Parse([]byte(src))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return s
}

func run(t *testing.T, conv Conversation, s *Script, opts ...Option) (*Report, error) {
	t.Helper()
	opts = append([]Option{WithClock(fakeclock.New(epoch)), WithLogger(quietLogger())}, opts...)
	return NewRunner(conv, opts...).Run(context.Background(), s)
}

// ==== runner ====

func TestRun_Passes(t *testing.T) {
	s := mustParse(t, `
name: facts
steps:
  - send: uname -s
    require: Linux
  - send: id -u
`)
	conv := newConv(reply{out: "Linux"}, reply{out: "0"})
	rep, err := run(t, conv, s)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Failed != 0 || len(rep.Steps) != 2 {
		t.Fatalf("report = %+v", rep)
	}
	if rep.Steps[0].Output != "Linux" || rep.Steps[1].Output != "0" {
		t.Errorf("outputs = %q, %q", rep.Steps[0].Output, rep.Steps[1].Output)
	}
	if conv.sent[0].prompt != prompt.Linux.Pattern() {
		t.Errorf("prompt = %q, want linux family", conv.sent[0].prompt)
	}
}

func TestRun_AnswersPassword(t *testing.T) {
	s := mustParse(t, `
steps:
  - send: sudo id
    answers:
      - question: password
        send: ${SUDO_PASS}
`)
	conv := newConv(
		reply{ask: "[sudo] password for admin: "},
		reply{out: "uid=0(root)"},
	)
	lookup := func(k string) string {
		if k == "SUDO_PASS" {
			return "hunter2"
		}
		return ""
	}
	rep, err := run(t, conv, s, WithLookup(lookup))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []sent{{"sudo id", false, prompt.Linux.Pattern()}, {"hunter2", true, prompt.Linux.Pattern()}}
	if len(conv.sent) != len(want) {
		t.Fatalf("sent = %+v, want %+v", conv.sent, want)
	}
	for i := range want {
		if conv.sent[i] != want[i] {
			t.Errorf("sent[%d] = %+v, want %+v", i, conv.sent[i], want[i])
		}
	}
	st := rep.Steps[0]
	if len(st.Answered) != 1 || st.Answered[0] != "sudo_password" {
		t.Errorf("Answered = %v", st.Answered)
	}
	if !strings.HasSuffix(st.Output, "uid=0(root)") || st.Completion != shell.CompletionPrompt {
		t.Errorf("step = %+v", st)
	}
}

func TestRun_SuggestedAndRepeats(t *testing.T) {
	s := mustParse(t, `
steps:
  - send: show run
    answers:
      - question: pager
        suggested: true
        send: unused
        max_repeats: 2
  - send: apt-get upgrade
    answers:
      - suggested: true
`)
	conv := newConv(
		reply{out: "a", ask: " --More-- "},
		reply{out: "b", ask: " --More-- "},
		reply{out: "c"},
		reply{ask: "Do you want to continue? [Y/n] "},
		reply{out: "done"},
	)
	rep, err := run(t, conv, s)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := []string{}
	for _, x := range conv.sent {
		got = append(got, x.text)
	}
	want := []string{"show run", " ", " ", "apt-get upgrade", "Y"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("sent = %q, want %q", got, want)
	}
	if n := len(rep.Steps[0].Answered); n != 2 {
		t.Errorf("pager answered %d times, want 2", n)
	}
}

func TestRun_Failures(t *testing.T) {
	writeErr := errors.New("broken pipe")
	tests := []struct {
		name    string
		script  string
		replies []reply
		want    error
		msg     string
	}{
		{
			name:    "unanswered question",
			script:  "steps:\n  - send: passwd\n  - send: never\n",
			replies: []reply{{ask: "Password: "}},
			want:    ErrNoPrompt,
			msg:     "unanswered password question",
		},
		{
			name:    "answer exhausted",
			script:  "steps:\n  - send: less f\n    answers:\n      - question: pager\n        send: ' '\n",
			replies: []reply{{ask: "--More--"}, {ask: "--More--"}},
			want:    ErrNoPrompt,
		},
		{
			name:    "timeout without question",
			script:  "steps:\n  - send: sleep 99\n",
			replies: []reply{{ask: "still working"}},
			want:    ErrNoPrompt,
			msg:     "timeout",
		},
		{
			name:    "require miss",
			script:  "steps:\n  - send: cat /etc/os-release\n    require: Debian\n",
			replies: []reply{{out: "ID=alpine"}},
			want:    ErrStepFailed,
			msg:     "does not match",
		},
		{
			name:    "reject hit",
			script:  "steps:\n  - send: apt-get install x\n    reject: '^E: '\n",
			replies: []reply{{out: "E: Unable to locate package x"}},
			want:    ErrStepFailed,
			msg:     "reject",
		},
		{
			name:    "send error",
			script:  "steps:\n  - send: ls\n",
			replies: []reply{{err: writeErr}},
			want:    writeErr,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conv := newConv(tt.replies...)
			rep, err := run(t, conv, mustParse(t, tt.script))
			if !errors.Is(err, tt.want) {
				t.Fatalf("Run() error = %v, want %v", err, tt.want)
			}
			if !strings.Contains(err.Error(), tt.msg) {
				t.Errorf("error %q does not mention %q", err, tt.msg)
			}
			if rep.Failed != 1 || len(rep.Steps) != 1 {
				t.Errorf("report = %+v; want one failed step and a stop", rep)
			}
		})
	}
}

func TestRun_AllowTimeout(t *testing.T) {
	s := mustParse(t, "steps:\n  - send: reboot\n    allow_timeout: true\n")
	rep, err := run(t, newConv(reply{ask: "Connection closing"}), s)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Steps[0].Completion != shell.CompletionTimeout {
		t.Errorf("Completion = %q, want timeout", rep.Steps[0].Completion)
	}
}

func TestRun_ContinueOnError(t *testing.T) {
	s := mustParse(t, `
continue_on_error: true
steps:
  - name: check
    send: test -f /etc/flag
    require: present
  - send: uptime
`)
	conv := newConv(reply{out: ""}, reply{out: "up"})
	rep, err := run(t, conv, s)
	if !errors.Is(err, ErrStepFailed) || !strings.Contains(err.Error(), "step check") {
		t.Fatalf("Run() error = %v", err)
	}
	if len(rep.Steps) != 2 || rep.Failed != 1 || rep.Steps[1].Err != nil {
		t.Errorf("report = %+v", rep)
	}
}

func TestRun_StrictTimeoutStillAnswered(t *testing.T) {
	s := mustParse(t, "steps:\n  - send: ssh other\n    answers:\n      - suggested: true\n")
	conv := newConv(
		reply{ask: "Are you sure you want to continue connecting (yes/no)?", strict: true},
		reply{out: "welcome"},
	)
	if _, err := run(t, conv, s); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if conv.sent[1].text != "yes" {
		t.Errorf("answer = %q, want yes", conv.sent[1].text)
	}
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	conv := newConv(reply{out: "x"})
	_, err := NewRunner(conv, WithLogger(quietLogger())).Run(ctx, mustParse(t, "steps:\n  - send: ls\n"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if len(conv.sent) != 0 {
		t.Errorf("sent = %+v, want nothing", conv.sent)
	}
}

// ==== over a channel ====

func TestRun_OverChannel(t *testing.T) {
	const p = `user@host:~\$`
	stream := fakestream.New().Feed("user@host:~$ ")
	ch := shell.NewChannel(fakesession.New(stream), chanconf.Default(),
		shell.WithClock(fakeclock.New(epoch)), shell.WithLogger(quietLogger()))
	if err := ch.Open(p); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer ch.Close()

	stream.ReplyOnWrite(
		"sudo id\n[sudo] password for user: ",
		"\nuid=0(root) gid=0(root)\nuser@host:~$ ",
	)
	s := mustParse(t, `
prompt: 'user@host:~\$'
steps:
  - send: sudo id
    require: uid=0
    answers:
      - question: password
        send: hunter2
`)
	rep, err := run(t, ch, s)
	if err != nil {
		t.Fatalf("Run: %v (report %+v)", err, rep)
	}
	if got := stream.Written(); got != "sudo id\nhunter2\n" {
		t.Errorf("written = %q", got)
	}
	if !strings.Contains(rep.Steps[0].Output, "uid=0(root)") {
		t.Errorf("output = %q", rep.Steps[0].Output)
	}
}

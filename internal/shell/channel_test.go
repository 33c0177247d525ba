package shell

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/acolita/promptshell/internal/adapters/realclock"
	"github.com/acolita/promptshell/internal/chanconf"
	"github.com/acolita/promptshell/internal/testing/fakes/fakeclock"
	"github.com/acolita/promptshell/internal/testing/fakes/fakesession"
	"github.com/acolita/promptshell/internal/testing/fakes/fakestream"
)

const linuxPrompt = `user@host:~\$`

// epoch is in the past so read deadlines derived from the fake clock have
// already expired when a fake stream runs dry.
var epoch = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOptions(extra ...Option) []Option {
	return append([]Option{WithClock(fakeclock.New(epoch)), WithLogger(quietLogger())}, extra...)
}

// openChannel returns an open channel whose banner has been consumed.
func openChannel(t *testing.T, cfg chanconf.Configuration, extra ...Option) (*Channel, *fakestream.Stream, *fakesession.Session) {
	t.Helper()
	stream := fakestream.New().Feed("Last login: Mon Jan 1\nuser@host:~$ ")
	sess := fakesession.New(stream)
	ch := NewChannel(sess, cfg, testOptions(extra...)...)
	if err := ch.Open(linuxPrompt); err != nil {
		t.Fatalf("Open: %v", err)
	}
	return ch, stream, sess
}

type memRecorder struct {
	mu     sync.Mutex
	input  []string
	output []string
	masked []int
}

func (r *memRecorder) RecordInput(data string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.input = append(r.input, data)
	return nil
}

func (r *memRecorder) RecordMaskedInput(n int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.masked = append(r.masked, n)
	return nil
}

func (r *memRecorder) RecordOutput(data string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.output = append(r.output, data)
	return nil
}

type denyGuard struct{ word string }

func (g denyGuard) IsAllowed(cmd string) (bool, string) {
	if strings.Contains(cmd, g.word) {
		return false, "blocked: " + g.word
	}
	return true, ""
}

// ---------------------------------------------------------------------------
// Open
// ---------------------------------------------------------------------------

func TestOpen_ConsumesBanner(t *testing.T) {
	ch, stream, sess := openChannel(t, chanconf.Default())

	if !ch.IsOpen() {
		t.Fatal("IsOpen() = false after Open")
	}
	reqs := sess.ShellRequests()
	if len(reqs) != 1 {
		t.Fatalf("shell requests = %d, want 1", len(reqs))
	}
	if reqs[0].Term != "vanilla" || reqs[0].Width != 80 || reqs[0].Height != 25 || reqs[0].Unit != "chars" {
		t.Errorf("shell request = %+v", reqs[0])
	}

	stream.ReplyOnWrite("whoami\nuser\nuser@host:~$ ")
	out, err := ch.Send("whoami", linuxPrompt)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if out != "user" {
		t.Errorf("Send() = %q, want %q (banner leaked?)", out, "user")
	}
}

func TestOpen_Twice(t *testing.T) {
	ch, _, sess := openChannel(t, chanconf.Default())

	err := ch.Open(linuxPrompt)
	if !errors.Is(err, ErrChannelOpen) {
		t.Fatalf("second Open error = %v, want ErrChannelOpen", err)
	}
	if !ch.IsOpen() {
		t.Error("failed second Open should leave the first channel open")
	}
	if n := len(sess.ShellRequests()); n != 1 {
		t.Errorf("shell requests = %d, want 1", n)
	}
}

func TestOpen_AfterCloseReopens(t *testing.T) {
	sess := fakesession.New(fakestream.New().Feed("$ "))
	ch := NewChannel(sess, chanconf.Default(), testOptions()...)

	if err := ch.Open(`\$`); err != nil {
		t.Fatalf("Open: %v", err)
	}
	ch.Close()

	sess.SetShell(fakestream.New().Feed("$ "))
	if err := ch.Open(`\$`); err != nil {
		t.Fatalf("Open after Close: %v", err)
	}
	if !ch.IsOpen() {
		t.Error("IsOpen() = false after reopening")
	}
	if n := len(sess.ShellRequests()); n != 2 {
		t.Errorf("shell requests = %d, want 2", n)
	}
}

func TestOpen_Failures(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*fakesession.Session)
		prompt  string
		wantErr error
	}{
		{"dead session", func(s *fakesession.Session) { s.SetLive(false) }, `\$`, ErrConnection},
		{"transport refuses", func(s *fakesession.Session) { s.SetShellError(errors.New("administratively prohibited")) }, `\$`, ErrChannelOpen},
		{"invalid prompt", func(s *fakesession.Session) {}, `([`, ErrValidation},
		{"empty prompt", func(s *fakesession.Session) {}, ``, ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stream := fakestream.New().Feed("$ ")
			sess := fakesession.New(stream)
			tt.setup(sess)
			ch := NewChannel(sess, chanconf.Default(), testOptions()...)

			err := ch.Open(tt.prompt)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Open error = %v, want %v", err, tt.wantErr)
			}
			if ch.IsOpen() {
				t.Error("channel should stay closed")
			}
			var cerr *CommandError
			if !errors.As(err, &cerr) || cerr.Op != "open" || cerr.Target != "test@fake:22" {
				t.Errorf("error = %#v, want *CommandError with op and target", err)
			}
		})
	}
}

func TestOpen_DeadSessionMakesNoRequest(t *testing.T) {
	sess := fakesession.New(fakestream.New()).SetLive(false)
	ch := NewChannel(sess, chanconf.Default(), testOptions()...)

	if err := ch.Open(`\$`); !errors.Is(err, ErrConnection) {
		t.Fatalf("Open error = %v, want ErrConnection", err)
	}
	if n := len(sess.ShellRequests()); n != 0 {
		t.Errorf("shell requests = %d, want 0", n)
	}
}

func TestOpen_BannerWithoutPrompt(t *testing.T) {
	t.Run("degraded", func(t *testing.T) {
		stream := fakestream.New().Feed("Welcome to the jungle\n")
		ch := NewChannel(fakesession.New(stream), chanconf.Default(), testOptions()...)
		if err := ch.Open(linuxPrompt); err != nil {
			t.Fatalf("Open: %v", err)
		}
		if !ch.IsOpen() {
			t.Error("channel should be open after degraded Open")
		}
	})

	t.Run("strict", func(t *testing.T) {
		stream := fakestream.New().Feed("Welcome to the jungle\n")
		cfg := chanconf.Default().WithStrictTimeout(true)
		ch := NewChannel(fakesession.New(stream), cfg, testOptions()...)

		err := ch.Open(linuxPrompt)
		if !errors.Is(err, ErrChannelOpen) || !errors.Is(err, ErrTimeout) {
			t.Fatalf("Open error = %v, want ErrChannelOpen and ErrTimeout", err)
		}
		var terr *TimeoutError
		if !errors.As(err, &terr) || terr.Partial != "Welcome to the jungle" {
			t.Errorf("TimeoutError = %+v", terr)
		}
		if ch.IsOpen() || !stream.Closed() {
			t.Error("strict Open failure should close the stream and leave the channel closed")
		}
	})
}

// ---------------------------------------------------------------------------
// Send
// ---------------------------------------------------------------------------

func TestSend_EchoAndPromptStripped(t *testing.T) {
	ch, stream, _ := openChannel(t, chanconf.Default())
	stream.ReplyOnWrite("echo hello\nhello\nuser@host:~$ ")

	res, err := ch.SendResult("echo hello", linuxPrompt)
	if err != nil {
		t.Fatalf("SendResult: %v", err)
	}
	if res.Output != "hello" {
		t.Errorf("Output = %q, want %q", res.Output, "hello")
	}
	if res.Completion != CompletionPrompt {
		t.Errorf("Completion = %q, want prompt", res.Completion)
	}
	if res.Pending != nil {
		t.Errorf("Pending = %+v, want nil", res.Pending)
	}
	if got := stream.Written(); got != "echo hello\n" {
		t.Errorf("written = %q, want %q", got, "echo hello\n")
	}
}

func TestSend_TrimsCommandAndCRLF(t *testing.T) {
	ch, stream, _ := openChannel(t, chanconf.Default())
	stream.ReplyOnWrite("ls\r\na\r\nb\r\nuser@host:~$ ")

	out, err := ch.Send("  ls \n", linuxPrompt)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if out != "a\nb" {
		t.Errorf("Send() = %q, want %q", out, "a\nb")
	}
	if got := stream.Written(); got != "ls\n" {
		t.Errorf("written = %q, want %q", got, "ls\n")
	}
}

func TestSend_LeadingBlankLinesBeforeEcho(t *testing.T) {
	ch, stream, _ := openChannel(t, chanconf.Default())
	stream.ReplyOnWrite("\r\n\r\nshow clock\r\n12:00:00\r\nuser@host:~$ ")

	out, err := ch.Send("show clock", linuxPrompt)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if out != "12:00:00" {
		t.Errorf("Send() = %q, want %q", out, "12:00:00")
	}
}

func TestSend_SequentialCommands(t *testing.T) {
	ch, stream, _ := openChannel(t, chanconf.Default())
	stream.ReplyOnWrite(
		"pwd\n/home/user\nuser@host:~$ ",
		"id -un\nuser\nuser@host:~$ ",
	)

	for _, tc := range []struct{ cmd, want string }{{"pwd", "/home/user"}, {"id -un", "user"}} {
		out, err := ch.Send(tc.cmd, linuxPrompt)
		if err != nil {
			t.Fatalf("Send(%q): %v", tc.cmd, err)
		}
		if out != tc.want {
			t.Errorf("Send(%q) = %q, want %q", tc.cmd, out, tc.want)
		}
	}
}

func TestSend_MetacharacterPrompt(t *testing.T) {
	stream := fakestream.New().Feed("\r\nrouter#")
	ch := NewChannel(fakesession.New(stream), chanconf.Default(), testOptions()...)
	if err := ch.Open(`router#`); err != nil {
		t.Fatalf("Open: %v", err)
	}

	stream.ReplyOnWrite("show clock\r\n*12:00:00.000 UTC Mon Jan 1 2024\r\nrouter#")
	out, err := ch.Send("show clock", `router#`)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if out != "*12:00:00.000 UTC Mon Jan 1 2024" {
		t.Errorf("Send() = %q", out)
	}
}

func TestSend_TimeoutReturnsPartial(t *testing.T) {
	ch, stream, _ := openChannel(t, chanconf.Default())
	stream.ReplyOnWrite("reboot\nThe system is going down NOW!")

	res, err := ch.SendResult("reboot", linuxPrompt)
	if err != nil {
		t.Fatalf("SendResult error = %v, want nil (degraded success)", err)
	}
	if res.Output != "The system is going down NOW!" {
		t.Errorf("Output = %q", res.Output)
	}
	if res.Completion != CompletionTimeout {
		t.Errorf("Completion = %q, want timeout", res.Completion)
	}
	if !ch.IsOpen() {
		t.Error("channel should remain open after a timeout")
	}
}

func TestSend_StrictTimeout(t *testing.T) {
	cfg := chanconf.Default().WithStrictTimeout(true)
	ch, stream, _ := openChannel(t, cfg)
	stream.ReplyOnWrite("reboot\nThe system is going down NOW!")

	out, err := ch.Send("reboot", linuxPrompt)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Send error = %v, want ErrTimeout", err)
	}
	var terr *TimeoutError
	if !errors.As(err, &terr) {
		t.Fatalf("error %T is not *TimeoutError", err)
	}
	if terr.Partial != "The system is going down NOW!" || out != terr.Partial {
		t.Errorf("partial = %q, output = %q", terr.Partial, out)
	}
	if terr.Completion != CompletionTimeout || terr.Timeout != chanconf.DefaultTimeout {
		t.Errorf("TimeoutError = %+v", terr)
	}
	if !ch.IsOpen() {
		t.Error("channel should remain open after a strict timeout")
	}
}

func TestSend_RemoteHangUp(t *testing.T) {
	ch, stream, _ := openChannel(t, chanconf.Default())
	stream.ReplyOnWrite("exit\nlogout\n")
	stream.HangUp()

	res, err := ch.SendResult("exit", linuxPrompt)
	if err != nil {
		t.Fatalf("SendResult: %v", err)
	}
	if res.Completion != CompletionEOF {
		t.Errorf("Completion = %q, want eof", res.Completion)
	}
	if res.Output != "logout" {
		t.Errorf("Output = %q, want logout", res.Output)
	}

	strict := NewChannel(fakesession.New(fakestream.New().Feed("$ ").HangUp()),
		chanconf.Default().WithStrictTimeout(true), testOptions()...)
	if err := strict.Open(`\$`); err != nil {
		t.Fatalf("Open: %v", err)
	}
	_, err = strict.Send("exit", `\$`)
	var terr *TimeoutError
	if !errors.As(err, &terr) || terr.Completion != CompletionEOF {
		t.Errorf("strict hang-up error = %v, want *TimeoutError with eof", err)
	}
}

func TestSend_SlowStreamHonoursShortTimeout(t *testing.T) {
	cfg, err := chanconf.Default().WithTimeout(time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	cfg, _ = cfg.WithInterCommandDelay(0)

	stream := fakestream.New().Feed("$ ")
	ch := NewChannel(fakesession.New(stream), cfg, WithClock(realclock.New()), WithLogger(quietLogger()))
	if err := ch.Open(`\$`); err != nil {
		t.Fatalf("Open: %v", err)
	}
	stream.SetReplyDelay(time.Second).ReplyOnWrite("sleep 1\ndone\n$ ")

	start := time.Now()
	res, err := ch.SendResult("sleep 1", `\$`)
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("SendResult: %v", err)
	}
	if elapsed > 500*time.Millisecond {
		t.Errorf("SendResult took %s, want close to 1ms", elapsed)
	}
	if res.Completion != CompletionTimeout {
		t.Errorf("Completion = %q, want timeout", res.Completion)
	}
	if res.Output != "" {
		t.Errorf("Output = %q, want empty", res.Output)
	}
}

func TestSend_NotOpen(t *testing.T) {
	stream := fakestream.New()
	ch := NewChannel(fakesession.New(stream), chanconf.Default(), testOptions()...)

	_, err := ch.Send("ls", `\$`)
	if !errors.Is(err, ErrChannelClosed) {
		t.Fatalf("Send error = %v, want ErrChannelClosed", err)
	}
	if stream.Written() != "" {
		t.Error("nothing should be written to an unopened channel")
	}
}

func TestSend_DeadSession(t *testing.T) {
	ch, stream, sess := openChannel(t, chanconf.Default())
	sess.SetLive(false)

	_, err := ch.Send("ls", linuxPrompt)
	if !errors.Is(err, ErrConnection) {
		t.Fatalf("Send error = %v, want ErrConnection", err)
	}
	if stream.Written() != "" {
		t.Errorf("written = %q, want nothing", stream.Written())
	}
}

func TestSend_WriteFailure(t *testing.T) {
	ch, stream, _ := openChannel(t, chanconf.Default())
	stream.SetWriteError(io.ErrClosedPipe)

	_, err := ch.Send("ls", linuxPrompt)
	if !errors.Is(err, ErrWrite) || !errors.Is(err, io.ErrClosedPipe) {
		t.Fatalf("Send error = %v, want ErrWrite wrapping io.ErrClosedPipe", err)
	}
	var cerr *CommandError
	if !errors.As(err, &cerr) || cerr.Command != "ls" || cerr.Op != "send" {
		t.Errorf("CommandError = %+v", cerr)
	}
	if !ch.IsOpen() {
		t.Error("channel should remain open after a write failure")
	}
}

func TestSend_ReadErrorOnLostSession(t *testing.T) {
	ch, stream, sess := openChannel(t, chanconf.Default())
	reset := errors.New("connection reset by peer")
	stream.SetReplyFunc(func(string) string {
		sess.SetLive(false)
		return "ls\n"
	})
	stream.SetReadError(reset)

	_, err := ch.Send("ls", linuxPrompt)
	if !errors.Is(err, ErrConnection) || !errors.Is(err, reset) {
		t.Fatalf("Send error = %v, want ErrConnection wrapping the read error", err)
	}
}

func TestSend_ReadErrorOnLiveSessionIsDegraded(t *testing.T) {
	ch, stream, _ := openChannel(t, chanconf.Default())
	stream.ReplyOnWrite("ls\nfile\n")
	stream.SetReadError(errors.New("stream hiccup"))

	res, err := ch.SendResult("ls", linuxPrompt)
	if err != nil {
		t.Fatalf("SendResult: %v", err)
	}
	if res.Output != "file" || res.Completion != CompletionEOF {
		t.Errorf("result = %+v", res)
	}
}

func TestSend_GuardRejects(t *testing.T) {
	ch, stream, _ := openChannel(t, chanconf.Default(), WithGuard(denyGuard{word: "reload"}))

	_, err := ch.Send("reload in 5", linuxPrompt)
	if !errors.Is(err, ErrCommandRejected) {
		t.Fatalf("Send error = %v, want ErrCommandRejected", err)
	}
	if !strings.Contains(err.Error(), "blocked: reload") {
		t.Errorf("error %q should carry the guard reason", err)
	}
	if stream.Written() != "" {
		t.Errorf("written = %q, want nothing", stream.Written())
	}
}

func TestSend_UsernamePlaceholder(t *testing.T) {
	stream := fakestream.New().Feed("ops@web1:~$ ")
	sess := fakesession.New(stream).SetUser("ops")
	ch := NewChannel(sess, chanconf.Default(), testOptions()...)

	if err := ch.Open(`{username}@[\w.-]+:[^$]*\$`); err != nil {
		t.Fatalf("Open: %v", err)
	}
	stream.ReplyOnWrite("uptime\nup 3 days\nops@web1:~$ ")
	out, err := ch.Send("uptime", `{username}@[\w.-]+:[^$]*\$`)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if out != "up 3 days" {
		t.Errorf("Send() = %q", out)
	}
}

func TestSend_PendingQuestionAndSecret(t *testing.T) {
	rec := &memRecorder{}
	ch, stream, _ := openChannel(t, chanconf.Default(), WithRecorder(rec))
	stream.ReplyOnWrite(
		"sudo id -u\n[sudo] password for user: ",
		"\n0\nuser@host:~$ ",
	)

	res, err := ch.SendResult("sudo id -u", linuxPrompt)
	if err != nil {
		t.Fatalf("SendResult: %v", err)
	}
	if res.Pending == nil || !res.Pending.IsPasswordPrompt() {
		t.Fatalf("Pending = %+v, want password question", res.Pending)
	}

	res, err = ch.SendSecret("hunter2", linuxPrompt)
	if err != nil {
		t.Fatalf("SendSecret: %v", err)
	}
	if res.Output != "0" {
		t.Errorf("Output = %q, want 0", res.Output)
	}
	if !strings.HasSuffix(stream.Written(), "hunter2\n") {
		t.Errorf("secret not written: %q", stream.Written())
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	for _, in := range rec.input {
		if strings.Contains(in, "hunter2") {
			t.Errorf("secret recorded in clear: %q", in)
		}
	}
	if len(rec.masked) != 1 || rec.masked[0] != len("hunter2") {
		t.Errorf("masked input = %v", rec.masked)
	}
	if len(rec.output) == 0 || !strings.Contains(rec.output[0], "Last login") {
		t.Errorf("banner not recorded: %v", rec.output)
	}
}

func TestSendSecret_FirstLine(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  string
	}{
		{"blank line after the hidden secret", "\r\nok\r\nuser@host:~$ ", "ok"},
		{"secret echoed back", "hunter2\r\nok\r\nuser@host:~$ ", "ok"},
		{"output on the first line", "ok\r\nuser@host:~$ ", "ok"},
		{"question asked again", "\r\nSorry, try again.\r\n[sudo] password for user: ", "Sorry, try again.\n[sudo] password for user:"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch, stream, _ := openChannel(t, chanconf.Default())
			stream.ReplyOnWrite(tt.reply)

			res, err := ch.SendSecret("hunter2", linuxPrompt)
			if err != nil {
				t.Fatalf("SendSecret: %v", err)
			}
			if res.Output != tt.want {
				t.Errorf("Output = %q, want %q", res.Output, tt.want)
			}
		})
	}
}

func TestSend_SecretNotInError(t *testing.T) {
	ch, stream, _ := openChannel(t, chanconf.Default())
	stream.SetWriteError(errors.New("broken pipe"))

	_, err := ch.SendSecret("hunter2", linuxPrompt)
	if err == nil || strings.Contains(err.Error(), "hunter2") {
		t.Errorf("error %v should not contain the secret", err)
	}
}

func TestSend_TelnetFilter(t *testing.T) {
	stream := fakestream.New().Feed("\xff\xfb\x01\xff\xfd\x03router>")
	ch := NewChannel(fakesession.New(stream), chanconf.Default(), testOptions(WithFilters(NewTelnetFilter()))...)
	if err := ch.Open(`router>`); err != nil {
		t.Fatalf("Open: %v", err)
	}

	stream.ReplyOnWrite("show ver\n\xff\xfb\x1fVersion 1.0\nrouter>")
	res, err := ch.SendResult("show ver", `router>`)
	if err != nil {
		t.Fatalf("SendResult: %v", err)
	}
	if res.Output != "Version 1.0" {
		t.Errorf("Output = %q, want %q", res.Output, "Version 1.0")
	}
	if strings.IndexByte(res.Raw, 0xff) >= 0 {
		t.Errorf("Raw still contains IAC: %q", res.Raw)
	}
}

func TestSend_OutputEncoding(t *testing.T) {
	cfg, err := chanconf.Default().WithOutputEncoding("windows-1251")
	if err != nil {
		t.Fatal(err)
	}
	ch, stream, _ := openChannel(t, cfg)
	stream.ReplyOnWrite("echo\n\xcf\xf0\xe8\xe2\xe5\xf2\nuser@host:~$ ")

	out, err := ch.Send("echo", linuxPrompt)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if out != "Привет" {
		t.Errorf("Send() = %q, want %q", out, "Привет")
	}
}

func TestSend_LineEnding(t *testing.T) {
	ch, stream, _ := openChannel(t, chanconf.Default(), WithLineEnding("\r\n"))
	stream.ReplyOnWrite("ls\r\nuser@host:~$ ")

	if _, err := ch.Send("ls", linuxPrompt); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := stream.Written(); got != "ls\r\n" {
		t.Errorf("written = %q", got)
	}
}

// ---------------------------------------------------------------------------
// Close
// ---------------------------------------------------------------------------

func TestClose_Idempotent(t *testing.T) {
	ch, stream, _ := openChannel(t, chanconf.Default())

	ch.Close()
	ch.Close()

	if ch.IsOpen() {
		t.Error("IsOpen() = true after Close")
	}
	if stream.CloseCalls() != 1 {
		t.Errorf("stream closed %d times, want 1", stream.CloseCalls())
	}
	if stream.FlushCalls() == 0 {
		t.Error("Close should flush the stream")
	}
	if ch.ErrorStream() != nil {
		t.Error("ErrorStream() should be nil after Close")
	}

	neverOpened := NewChannel(fakesession.New(fakestream.New()), chanconf.Default(), testOptions()...)
	neverOpened.Close()
	if neverOpened.IsOpen() {
		t.Error("IsOpen() = true on a never-opened channel")
	}
}

func TestClose_SwallowsErrors(t *testing.T) {
	ch, stream, _ := openChannel(t, chanconf.Default())
	stream.SetCloseError(errors.New("close failed"))

	ch.Close()
	if ch.IsOpen() {
		t.Error("channel should be closed even when the stream close fails")
	}
	if _, err := ch.Send("ls", linuxPrompt); !errors.Is(err, ErrChannelClosed) {
		t.Errorf("Send after Close error = %v, want ErrChannelClosed", err)
	}
}

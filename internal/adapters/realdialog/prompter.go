// Package realdialog asks the operator for passwords and key passphrases.
//
// The prompt is drawn on the controlling terminal (/dev/tty), not on
// stdin/stdout, so it also works while stdio carries the MCP protocol or
// piped data. A huh form is used on capable terminals; dumb terminals get
// a plain no-echo read, and non-terminal input is read line by line.
package realdialog

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"
)

var (
	// ErrNoTerminal means there is nowhere to ask.
	ErrNoTerminal = errors.New("no terminal available for prompting")
	// ErrCancelled means the operator aborted the prompt.
	ErrCancelled = errors.New("prompt cancelled")
	// ErrNoInput means the input ended before a line was read.
	ErrNoInput = errors.New("no input")
)

// Prompter implements ports.CredentialPrompter.
type Prompter struct {
	open  func() (io.ReadWriteCloser, error)
	plain bool
}

// Option configures a Prompter.
type Option func(*Prompter)

// WithStreams prompts on rw instead of the controlling terminal. rw is
// not closed.
func WithStreams(rw io.ReadWriter) Option {
	return func(p *Prompter) {
		p.open = func() (io.ReadWriteCloser, error) { return nopCloser{rw}, nil }
	}
}

// WithPlain disables the form and uses a bare no-echo read.
func WithPlain() Option {
	return func(p *Prompter) {
		p.plain = true
	}
}

// New returns a Prompter on /dev/tty. TERM=dumb selects plain mode.
func New(opts ...Option) *Prompter {
	p := &Prompter{
		open:  openTTY,
		plain: os.Getenv("TERM") == "dumb",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func openTTY() (io.ReadWriteCloser, error) {
	return os.OpenFile("/dev/tty", os.O_RDWR, 0)
}

// PromptSecret shows title and description and returns the entered value
// without echoing it.
func (p *Prompter) PromptSecret(title, description string) (string, error) {
	rw, err := p.open()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoTerminal, err)
	}
	defer rw.Close()

	f := asFile(rw)
	if f == nil || !term.IsTerminal(int(f.Fd())) {
		return readLine(rw, rw, title, description)
	}
	if p.plain {
		return readNoEcho(f, title, description)
	}
	return runForm(f, title, description)
}

func runForm(tty *os.File, title, description string) (string, error) {
	var value string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title(title).
				Description(description).
				EchoMode(huh.EchoModePassword).
				Value(&value),
		),
	).WithInput(tty).WithOutput(tty).WithShowHelp(false)

	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return "", ErrCancelled
		}
		return "", fmt.Errorf("prompt form: %w", err)
	}
	return value, nil
}

func readNoEcho(tty *os.File, title, description string) (string, error) {
	writeHeader(tty, title, description)
	b, err := term.ReadPassword(int(tty.Fd()))
	fmt.Fprintln(tty)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(b), nil
}

// readLine reads one line from a non-terminal. Input is not echoed by us;
// whatever feeds r controls visibility.
func readLine(r io.Reader, w io.Writer, title, description string) (string, error) {
	writeHeader(w, title, description)
	sc := bufio.NewScanner(r)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return "", fmt.Errorf("read input: %w", err)
		}
		return "", ErrNoInput
	}
	return strings.TrimRight(sc.Text(), "\r"), nil
}

func writeHeader(w io.Writer, title, description string) {
	if description != "" {
		fmt.Fprintf(w, "%s\n", description)
	}
	fmt.Fprintf(w, "%s: ", title)
}

type nopCloser struct{ io.ReadWriter }

func asFile(rw io.ReadWriter) *os.File {
	if nc, ok := rw.(nopCloser); ok {
		rw = nc.ReadWriter
	}
	f, _ := rw.(*os.File)
	return f
}

func (nopCloser) Close() error { return nil }

// Package expect runs scripted conversations over an interactive channel.
// Each step sends a command, waits for a prompt and may answer questions
// the remote side asks on the way (passwords, confirmations, pagers).
package expect

import (
	"errors"
	"fmt"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/acolita/promptshell/internal/ports"
	"github.com/acolita/promptshell/internal/prompt"
)

// ErrInvalidScript is wrapped by every script validation error.
var ErrInvalidScript = errors.New("invalid script")

// defaultMaxAnswers bounds how often one answer may fire within a step.
const defaultMaxAnswers = 1

// Script is a named sequence of steps sharing a prompt.
type Script struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
	// Prompt is a regex or a family name (linux, cisco, huawei, any).
	Prompt string `yaml:"prompt"`
	// ContinueOnError keeps running after a failed step.
	ContinueOnError bool   `yaml:"continue_on_error,omitempty"`
	Steps           []Step `yaml:"steps"`

	prompt string
}

// Step sends one command.
type Step struct {
	Name string `yaml:"name"`
	Send string `yaml:"send"`
	// Secret masks the command in logs and recordings.
	Secret bool `yaml:"secret,omitempty"`
	// Expect overrides the script prompt for this step.
	Expect string `yaml:"expect,omitempty"`
	// Require must match the step output for the step to pass.
	Require string `yaml:"require,omitempty"`
	// Reject fails the step when it matches the output.
	Reject string `yaml:"reject,omitempty"`
	// AllowTimeout accepts a step that ends without a prompt.
	AllowTimeout bool     `yaml:"allow_timeout,omitempty"`
	Answers      []Answer `yaml:"answers,omitempty"`

	expect  string
	require *regexp.Regexp
	reject  *regexp.Regexp
}

// Answer responds to a question detected in output that ended without a
// prompt. Question selects by detector pattern name or question type;
// Match selects by regex over the question text. With neither set the
// answer applies to any question.
type Answer struct {
	Question string `yaml:"question,omitempty"`
	Match    string `yaml:"match,omitempty"`
	// Send may reference ${VAR}; values come from the runner's lookup.
	Send string `yaml:"send"`
	// Suggested sends the detector's suggested response instead of Send.
	Suggested  bool `yaml:"suggested,omitempty"`
	Secret     bool `yaml:"secret,omitempty"`
	MaxRepeats int  `yaml:"max_repeats,omitempty"`

	match *regexp.Regexp
}

// Parse decodes and compiles a YAML script.
func Parse(data []byte) (*Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScript, err)
	}
	if err := s.Compile(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Load reads and parses the script at path.
func Load(fsys ports.FileSystem, path string) (*Script, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Compile resolves prompt families and compiles every pattern.
func (s *Script) Compile() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidScript, fmt.Sprintf(format, args...))
	}

	if len(s.Steps) == 0 {
		return invalid("no steps")
	}
	if s.Prompt == "" {
		s.Prompt = string(prompt.Linux)
	}
	s.prompt = prompt.Resolve(s.Prompt)
	if _, err := prompt.Compile(s.prompt); err != nil {
		return invalid("prompt: %v", err)
	}

	for i := range s.Steps {
		st := &s.Steps[i]
		if st.Name == "" {
			st.Name = fmt.Sprintf("step-%d", i+1)
		}
		st.expect = s.prompt
		if st.Expect != "" {
			st.expect = prompt.Resolve(st.Expect)
			if _, err := prompt.Compile(st.expect); err != nil {
				return invalid("step %s: expect: %v", st.Name, err)
			}
		}
		var err error
		if st.require, err = compileOptional(st.Require); err != nil {
			return invalid("step %s: require: %v", st.Name, err)
		}
		if st.reject, err = compileOptional(st.Reject); err != nil {
			return invalid("step %s: reject: %v", st.Name, err)
		}
		for j := range st.Answers {
			a := &st.Answers[j]
			if a.match, err = compileOptional(a.Match); err != nil {
				return invalid("step %s: answer %d: %v", st.Name, j+1, err)
			}
			if a.Send == "" && !a.Suggested {
				return invalid("step %s: answer %d: nothing to send", st.Name, j+1)
			}
			if a.MaxRepeats <= 0 {
				a.MaxRepeats = defaultMaxAnswers
			}
		}
	}
	return nil
}

func compileOptional(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, nil
	}
	return regexp.Compile(pattern)
}

// applies reports whether the answer fits the detected question.
func (a *Answer) applies(d *prompt.Detection) bool {
	if a.Question != "" && a.Question != d.Pattern.Name && a.Question != string(d.Pattern.Type) {
		return false
	}
	if a.match != nil && !a.match.MatchString(d.ContextBuffer+"\n"+d.MatchedText) {
		return false
	}
	return true
}

// Package prompt decides when a remote shell has handed control back, and
// recognises the interactive questions a command can stop on instead.
package prompt

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// ErrInvalidPattern is returned for empty or uncompilable prompt patterns.
var ErrInvalidPattern = errors.New("invalid prompt pattern")

// UsernamePlaceholder is replaced by Expand with the quoted login name.
const UsernamePlaceholder = "{username}"

// TailWindow bounds how much of the buffer end is inspected per match.
// The window start is moved back to a line boundary so that ^ keeps its
// meaning.
const TailWindow = 1024

// Compile builds the end-anchored matcher for pattern: case-insensitive,
// multiline, optionally followed by a single whitespace character at the
// very end of the buffer.
func Compile(pattern string) (*regexp.Regexp, error) {
	if strings.TrimSpace(pattern) == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidPattern)
	}
	re, err := regexp.Compile(`(?im)(?:` + pattern + `)\s?\z`)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidPattern, pattern, err)
	}
	return re, nil
}

// Matches reports whether buffer ends with pattern. An invalid pattern
// never matches.
func Matches(buffer, pattern string) bool {
	return defaultMatcher.Matches(buffer, pattern)
}

// Matcher caches compiled patterns. It is safe for concurrent use.
type Matcher struct {
	mu    sync.Mutex
	cache map[string]*regexp.Regexp
}

var defaultMatcher = NewMatcher()

func NewMatcher() *Matcher {
	return &Matcher{cache: make(map[string]*regexp.Regexp)}
}

// Compile returns the cached matcher for pattern, compiling it on first use.
func (m *Matcher) Compile(pattern string) (*regexp.Regexp, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if re, ok := m.cache[pattern]; ok {
		return re, nil
	}
	re, err := Compile(pattern)
	if err != nil {
		return nil, err
	}
	m.cache[pattern] = re
	return re, nil
}

func (m *Matcher) Matches(buffer, pattern string) bool {
	re, err := m.Compile(pattern)
	if err != nil {
		return false
	}
	return MatchCompiled(re, buffer)
}

// MatchCompiled runs a matcher from Compile against the tail of buffer.
func MatchCompiled(re *regexp.Regexp, buffer string) bool {
	return re.MatchString(tail(buffer))
}

func tail(buffer string) string {
	if len(buffer) <= TailWindow {
		return buffer
	}
	// start at the beginning of the line holding the window start, even
	// when that line is longer than the window
	cut := strings.LastIndexByte(buffer[:len(buffer)-TailWindow], '\n') + 1
	return buffer[cut:]
}

// Trim removes a trailing occurrence of pattern, and any whitespace after
// it, from output. Output is returned unchanged when the pattern is
// invalid or absent.
func Trim(output, pattern string) string {
	if strings.TrimSpace(pattern) == "" {
		return output
	}
	re, err := regexp.Compile(`(?im)(?:` + pattern + `)\s*\z`)
	if err != nil {
		return output
	}
	loc := re.FindStringIndex(output)
	if loc == nil {
		return output
	}
	return output[:loc[0]]
}

// Expand substitutes the {username} placeholder with the quoted user name.
func Expand(pattern, username string) string {
	return strings.ReplaceAll(pattern, UsernamePlaceholder, regexp.QuoteMeta(username))
}

// Literal turns plain prompt text into a pattern matching it verbatim.
func Literal(text string) string {
	return regexp.QuoteMeta(text)
}

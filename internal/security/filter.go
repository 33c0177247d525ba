// Package security holds the command guard, credential lookup and secret
// handling shared by the CLI and the MCP server.
package security

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/acolita/promptshell/internal/config"
)

// CommandFilter rejects commands matching a blocklist pattern, or not
// matching any allowlist pattern when an allowlist is configured.
// It satisfies shell.Guard.
type CommandFilter struct {
	mu        sync.RWMutex
	blocklist []*regexp.Regexp
	allowlist []*regexp.Regexp
}

// NewCommandFilter compiles the given patterns.
func NewCommandFilter(blocklist, allowlist []string) (*CommandFilter, error) {
	block, err := compileAll("blocklist", blocklist)
	if err != nil {
		return nil, err
	}
	allow, err := compileAll("allowlist", allowlist)
	if err != nil {
		return nil, err
	}
	return &CommandFilter{blocklist: block, allowlist: allow}, nil
}

// FilterFromConfig builds the filter described by the security section.
// An empty blocklist falls back to DefaultBlocklist.
func FilterFromConfig(sc config.SecurityConfig) (*CommandFilter, error) {
	block := sc.CommandBlocklist
	if len(block) == 0 {
		block = DefaultBlocklist()
	}
	return NewCommandFilter(block, sc.CommandAllowlist)
}

func compileAll(list string, patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s pattern %q: %w", list, p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// IsAllowed reports whether command may be sent, and why not.
// Multi-line input is checked line by line since each line reaches the
// remote shell as its own command.
func (cf *CommandFilter) IsAllowed(command string) (bool, string) {
	cf.mu.RLock()
	defer cf.mu.RUnlock()

	for _, line := range commandLines(command) {
		if ok, reason := cf.checkLine(line); !ok {
			return false, reason
		}
	}
	return true, ""
}

func (cf *CommandFilter) checkLine(line string) (bool, string) {
	for _, re := range cf.blocklist {
		if re.MatchString(line) {
			return false, fmt.Sprintf("command blocked by pattern: %s", re)
		}
	}
	if len(cf.allowlist) == 0 {
		return true, ""
	}
	for _, re := range cf.allowlist {
		if re.MatchString(line) {
			return true, ""
		}
	}
	return false, "command not in allowlist"
}

// commandLines splits on newlines and drops blank lines. A command that is
// entirely blank yields one empty line so the allowlist still applies.
func commandLines(command string) []string {
	var lines []string
	for _, l := range strings.Split(strings.ReplaceAll(command, "\r\n", "\n"), "\n") {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, strings.TrimSpace(l))
		}
	}
	if len(lines) == 0 {
		return []string{""}
	}
	return lines
}

// AddBlock appends a blocklist pattern at runtime.
func (cf *CommandFilter) AddBlock(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("invalid blocklist pattern %q: %w", pattern, err)
	}
	cf.mu.Lock()
	cf.blocklist = append(cf.blocklist, re)
	cf.mu.Unlock()
	return nil
}

// HasBlocklist reports whether any blocklist patterns are configured.
func (cf *CommandFilter) HasBlocklist() bool {
	cf.mu.RLock()
	defer cf.mu.RUnlock()
	return len(cf.blocklist) > 0
}

// HasAllowlist reports whether any allowlist patterns are configured.
func (cf *CommandFilter) HasAllowlist() bool {
	cf.mu.RLock()
	defer cf.mu.RUnlock()
	return len(cf.allowlist) > 0
}

// DefaultBlocklist returns patterns for commands that destroy the target.
func DefaultBlocklist() []string {
	return []string{
		`rm\s+-rf\s+/\s*$`,          // rm -rf /
		`rm\s+-rf\s+/\*`,            // rm -rf /*
		`mkfs\.`,                    // mkfs
		`dd\s+.*of=/dev/[sh]d`,      // dd to raw disks
		`:\s*\(\s*\)\s*\{\s*:\s*\|`, // fork bomb
		`>\s*/dev/[sh]d`,            // redirect to raw disks

		// network device wipes
		`(?i)^\s*(reload|erase\s+startup-config|write\s+erase)\b`,
	}
}

package prompt

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// Detection is a question found at the end of a command's output.
type Detection struct {
	Pattern           Pattern
	MatchedText       string
	ContextBuffer     string // text before the match within the inspected lines
	SuggestedResponse string
}

// Detector finds interactive questions in output that ended without a prompt.
type Detector struct {
	patterns       []Pattern
	customPatterns []Pattern
	mu             sync.RWMutex
}

// NewDetector creates a detector with the default patterns.
func NewDetector() *Detector {
	return &Detector{
		patterns: DefaultPatterns(),
	}
}

// AddPattern registers a pattern that is tried before the defaults.
func (d *Detector) AddPattern(p Pattern) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.customPatterns = append(d.customPatterns, p)
}

// AddPatternFromConfig compiles regex and registers it as a custom pattern.
// Unknown question types are treated as text.
func (d *Detector) AddPatternFromConfig(name, regex, questionType string, maskInput bool) error {
	re, err := regexp.Compile(regex)
	if err != nil {
		return fmt.Errorf("question pattern %s: %w", name, err)
	}

	qt := QuestionType(questionType)
	switch qt {
	case QuestionPassword, QuestionConfirmation, QuestionPager:
	default:
		qt = QuestionText
	}

	d.AddPattern(Pattern{
		Name:      name,
		Regex:     re,
		Type:      qt,
		MaskInput: maskInput,
	})
	return nil
}

// Detect returns the first question found in the last lines of buffer,
// or nil.
func (d *Detector) Detect(buffer string) *Detection {
	d.mu.RLock()
	defer d.mu.RUnlock()

	recent := lastLines(buffer, 10)
	for _, p := range d.customPatterns {
		if det := matchPattern(recent, p); det != nil {
			return det
		}
	}
	for _, p := range d.patterns {
		if det := matchPattern(recent, p); det != nil {
			return det
		}
	}
	return nil
}

func lastLines(buffer string, n int) string {
	lines := strings.Split(buffer, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

func matchPattern(recent string, p Pattern) *Detection {
	loc := p.Regex.FindStringIndex(recent)
	if loc == nil {
		return nil
	}
	return &Detection{
		Pattern:           p,
		MatchedText:       recent[loc[0]:loc[1]],
		ContextBuffer:     strings.TrimSpace(recent[:loc[0]]),
		SuggestedResponse: p.SuggestedResponse,
	}
}

// IsPasswordPrompt reports whether the answer should be a secret.
func (det *Detection) IsPasswordPrompt() bool {
	return det.Pattern.Type == QuestionPassword
}

// Hint returns a short instruction for the caller.
func (det *Detection) Hint() string {
	switch det.Pattern.Type {
	case QuestionPassword:
		return "Password required. Send the password to continue."
	case QuestionConfirmation:
		if det.SuggestedResponse != "" {
			return "Confirmation required. Suggested response: " + det.SuggestedResponse
		}
		return "Confirmation required. Send an empty line to accept."
	case QuestionPager:
		return "Pager waiting. Send a space for the next page or 'q' to quit."
	default:
		return "Input required."
	}
}

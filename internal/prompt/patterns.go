package prompt

import "regexp"

// QuestionType classifies an interactive question.
type QuestionType string

const (
	QuestionPassword     QuestionType = "password"
	QuestionConfirmation QuestionType = "confirmation"
	QuestionPager        QuestionType = "pager"
	QuestionText         QuestionType = "text"
)

// Pattern recognises one kind of interactive question.
type Pattern struct {
	Name              string
	Regex             *regexp.Regexp
	Type              QuestionType
	MaskInput         bool
	SuggestedResponse string
}

// DefaultPatterns returns the built-in question patterns. Order matters:
// the first match wins.
func DefaultPatterns() []Pattern {
	return []Pattern{
		// Passwords
		{
			Name:      "sudo_password",
			Regex:     regexp.MustCompile(`(?i)\[sudo\]\s+password\s+for\s+\S+:\s*$`),
			Type:      QuestionPassword,
			MaskInput: true,
		},
		{
			Name:      "ssh_passphrase",
			Regex:     regexp.MustCompile(`(?i)enter passphrase for key.*:\s*$`),
			Type:      QuestionPassword,
			MaskInput: true,
		},
		{
			Name:      "password_generic",
			Regex:     regexp.MustCompile(`(?i)password:\s*$`),
			Type:      QuestionPassword,
			MaskInput: true,
		},
		{
			Name:  "username",
			Regex: regexp.MustCompile(`(?i)(?:username|login):\s*$`),
			Type:  QuestionText,
		},

		// Confirmations
		{
			Name:              "ssh_host_key",
			Regex:             regexp.MustCompile(`(?i)are you sure you want to continue connecting \(yes/no(/\[fingerprint\])?\)\?`),
			Type:              QuestionConfirmation,
			SuggestedResponse: "yes",
		},
		{
			Name:  "cisco_confirm",
			Regex: regexp.MustCompile(`(?i)\[confirm\]\s*$`),
			Type:  QuestionConfirmation,
		},
		{
			Name:              "huawei_confirm",
			Regex:             regexp.MustCompile(`\[Y/N\]:?\s*$`),
			Type:              QuestionConfirmation,
			SuggestedResponse: "Y",
		},
		{
			Name:              "apt_confirmation",
			Regex:             regexp.MustCompile(`(?i)do you want to continue\?\s*\[Y/n\]\s*$`),
			Type:              QuestionConfirmation,
			SuggestedResponse: "Y",
		},
		{
			Name:              "yes_no_generic",
			Regex:             regexp.MustCompile(`(?i)[\[(]yes/no[\])]\??\s*$`),
			Type:              QuestionConfirmation,
			SuggestedResponse: "yes",
		},
		{
			Name:              "y_n_generic",
			Regex:             regexp.MustCompile(`(?i)[\[(]y/n[\])]\??:?\s*$`),
			Type:              QuestionConfirmation,
			SuggestedResponse: "y",
		},

		// Pagers
		{
			Name:              "more_pager",
			Regex:             regexp.MustCompile(`--\s?More\s?--`),
			Type:              QuestionPager,
			SuggestedResponse: " ",
		},
		{
			Name:              "vrp_pager",
			Regex:             regexp.MustCompile(`-{2,}\s*More\s*-{2,}`),
			Type:              QuestionPager,
			SuggestedResponse: " ",
		},
		{
			Name:              "less_pager",
			Regex:             regexp.MustCompile(`(?i)\(END\)\s*$`),
			Type:              QuestionPager,
			SuggestedResponse: "q",
		},
	}
}

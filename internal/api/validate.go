package api

import (
	"regexp"
	"unicode/utf8"
)

// Field length limits enforced on write paths.
const (
	maxDisplayNameLen = 100
	maxEmailLen       = 254 // RFC 5321
	minPasswordLen    = 8
	maxPasswordLen    = 256
	maxMessageLen     = 4000 // chat message body, in runes
	maxFileNameLen    = 255  // attachment file names
)

var (
	// Structural email check only, full RFC validation is not the goal.
	emailRe = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

	// Usernames: 3-32 chars of lowercase letters, digits, dots and
	// underscores, starting with a letter.
	usernameRe = regexp.MustCompile(`^[a-z][a-z0-9._]{2,31}$`)
)

// Each validator returns an error message for the client, or "" when the
// value passes.

func validateUsername(field, value string) string {
	if value == "" {
		return field + " is required"
	}
	if !usernameRe.MatchString(value) {
		return field + " must be 3-32 lowercase letters, digits, dots or underscores, starting with a letter"
	}
	return ""
}

func validateEmail(field, value string) string {
	if value == "" {
		return field + " is required"
	}
	if len(value) > maxEmailLen {
		return field + " exceeds maximum length"
	}
	if !emailRe.MatchString(value) {
		return field + " is not a valid email address"
	}
	return ""
}

func validatePassword(field, value string) string {
	if value == "" {
		return field + " is required"
	}
	if len(value) < minPasswordLen {
		return field + " must be at least 8 characters"
	}
	if len(value) > maxPasswordLen {
		return field + " exceeds maximum length"
	}
	return ""
}

// validateStringLen limits a string to maxLen runes, not bytes, so
// multibyte names get the full budget.
func validateStringLen(field, value string, maxLen int) string {
	if utf8.RuneCountInString(value) > maxLen {
		return field + " exceeds maximum length"
	}
	return ""
}

func validateRequiredStringLen(field, value string, maxLen int) string {
	if value == "" {
		return field + " is required"
	}
	return validateStringLen(field, value, maxLen)
}

// validateNoControlChars rejects control characters other than the
// whitespace a chat message legitimately carries (\n, \r, \t).
func validateNoControlChars(field, value string) string {
	for _, r := range value {
		if r < 32 && r != '\n' && r != '\r' && r != '\t' {
			return field + " contains invalid characters"
		}
	}
	return ""
}

package services

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"reverie/internal/apperrors"
)

const maxMessageChars = 2000

// idPattern bounds user and session identifiers: URL-safe, no
// separators that could collide with storage key prefixes.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,100}$`)

// SanitizeMessage strips null bytes and control characters and
// collapses whitespace runs to single spaces.
func SanitizeMessage(message string) string {
	var b strings.Builder
	b.Grow(len(message))
	for _, r := range message {
		if r == 0 || (unicode.IsControl(r) && r != '\n' && r != '\t') {
			continue
		}
		b.WriteRune(r)
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// ValidateTurnInput checks identifiers and sanitizes the message
// before anything touches the store. Returns the sanitized message.
// An empty sessionID is allowed; the caller mints one.
func ValidateTurnInput(userID, sessionID, message string) (string, error) {
	if !idPattern.MatchString(userID) {
		return "", apperrors.NewValidationFailure("user_id must be 1-100 characters of [A-Za-z0-9_-]")
	}
	if sessionID != "" && !idPattern.MatchString(sessionID) {
		return "", apperrors.NewValidationFailure("session_id must be 1-100 characters of [A-Za-z0-9_-]")
	}

	clean := SanitizeMessage(message)
	if clean == "" {
		return "", apperrors.NewValidationFailure("message must not be empty")
	}
	if utf8.RuneCountInString(clean) > maxMessageChars {
		return "", apperrors.NewValidationFailure("message must be at most 2000 characters")
	}
	return clean, nil
}

// ValidateUserID checks a bare user identifier for the profile,
// export, and erase endpoints.
func ValidateUserID(userID string) error {
	if !idPattern.MatchString(userID) {
		return apperrors.NewValidationFailure("user_id must be 1-100 characters of [A-Za-z0-9_-]")
	}
	return nil
}

package user

import (
	"net/mail"
	"regexp"
	"strings"
	"unicode/utf8"
)

const minPasswordLen = 8

var passwordRules = []struct {
	re      *regexp.Regexp
	message string
}{
	{regexp.MustCompile(`[A-Z]`), "Password must contain at least one uppercase letter"},
	{regexp.MustCompile(`[a-z]`), "Password must contain at least one lowercase letter"},
	{regexp.MustCompile(`[0-9]`), "Password must contain at least one number"},
	{regexp.MustCompile(`[^A-Za-z0-9]`), "Password must contain at least one special character"},
}

// normalizeEmail lowercases and trims; addresses compare case-insensitively.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// validateRegister checks fields in order and returns the first violation.
func validateRegister(dto *RegisterDTO) *ValidationError {
	email := normalizeEmail(dto.Email)
	if email == "" {
		return &ValidationError{Field: "email", Message: "Email is required"}
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return &ValidationError{Field: "email", Message: "Please enter a valid email address"}
	}

	return validatePassword("password", dto.Password)
}

func validatePassword(field, password string) *ValidationError {
	if utf8.RuneCountInString(password) < minPasswordLen {
		return &ValidationError{Field: field, Message: "Password must be at least 8 characters"}
	}
	for _, rule := range passwordRules {
		if !rule.re.MatchString(password) {
			return &ValidationError{Field: field, Message: rule.message}
		}
	}
	return nil
}

package auth

import (
	"errors"
	"regexp"
	"strings"
	"unicode"
)

var (
	ErrMissingFields      = errors.New("email and password are required")
	ErrPasswordTooShort   = errors.New("password must be at least 8 characters")
	ErrPasswordTooLong    = errors.New("password must be at most 72 bytes")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrWeakPassword       = errors.New("password needs upper case, lower case and a digit")
	ErrAccountExists      = errors.New("account already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrSessionExpired     = errors.New("session expired")
	ErrRateLimited        = errors.New("too many attempts")
)

const (
	MinPasswordLen = 8
	// MaxPasswordLen is the bcrypt input limit, in bytes.
	MaxPasswordLen = 72
)

var emailRe = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// Op names the form an error came from; messages differ slightly.
type Op string

const (
	OpSignIn Op = "signin"
	OpSignUp Op = "signup"
)

type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Normalize trims the email and lower-cases it for storage lookups.
func (c Credentials) Normalize() Credentials {
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))
	return c
}

// Validate applies the form rules: sign-in checks presence, length and email
// shape; sign-up additionally requires mixed case and a digit.
func (c Credentials) Validate(op Op) error {
	email := strings.TrimSpace(c.Email)
	if email == "" || c.Password == "" {
		return ErrMissingFields
	}
	if len(c.Password) < MinPasswordLen {
		return ErrPasswordTooShort
	}
	if len(c.Password) > MaxPasswordLen {
		return ErrPasswordTooLong
	}
	if !emailRe.MatchString(email) {
		return ErrInvalidEmail
	}
	if op == OpSignUp && !strongPassword(c.Password) {
		return ErrWeakPassword
	}
	return nil
}

func strongPassword(p string) bool {
	var lower, upper, digit bool
	for _, r := range p {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	return lower && upper && digit
}

// Describe renders err the way the login and signup pages show it.
func Describe(err error, op Op) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, ErrMissingFields):
		if op == OpSignUp {
			return "⚠️ REGISTRATION REQUIRED: Both email and password fields must be completed"
		}
		return "⚠️ AUTHENTICATION REQUIRED: Both email and password fields must be completed"
	case errors.Is(err, ErrPasswordTooShort):
		return "🔒 SECURITY PROTOCOL: Password must contain at least 8 characters for system access"
	case errors.Is(err, ErrPasswordTooLong):
		return "🔒 SECURITY PROTOCOL: Password must not exceed 72 characters"
	case errors.Is(err, ErrInvalidEmail):
		return "📧 FORMAT ERROR: Please enter a valid email address (example: user@domain.com)"
	case errors.Is(err, ErrWeakPassword):
		return "🔑 SECURITY ENHANCEMENT: Password should contain uppercase, lowercase, and numbers for better protection"
	case errors.Is(err, ErrInvalidCredentials):
		return "🚫 ACCESS DENIED: Invalid email or password. Please check your credentials and try again."
	case errors.Is(err, ErrAccountExists):
		return "👤 ACCOUNT EXISTS: This email is already registered. Try logging in or use password recovery."
	case errors.Is(err, ErrSessionExpired):
		return "⏰ SESSION EXPIRED: Your session has timed out. Please log in again to continue."
	case errors.Is(err, ErrRateLimited):
		if op == OpSignUp {
			return "⏰ RATE LIMIT: Too many registration attempts. Please wait a few minutes before trying again."
		}
		return "⏰ RATE LIMIT: Too many login attempts. Please wait a few minutes before trying again."
	}
	if msg := err.Error(); msg != "" {
		return "💻 SYSTEM MESSAGE: " + msg
	}
	return Unavailable(op)
}

// Unavailable is the generic message for failures the user cannot fix.
func Unavailable(op Op) string {
	if op == OpSignUp {
		return "SYSTEM ERROR: Unable to process registration request"
	}
	return "SYSTEM ERROR: Unable to process authentication request"
}

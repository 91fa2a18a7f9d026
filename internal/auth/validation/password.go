// Package validation screens untrusted request payloads and new passwords.
package validation

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

var (
	ErrPasswordTooShort = errors.New("password is too short")
	ErrPasswordTooLong  = errors.New("password is too long")
	ErrMissingUppercase = errors.New("password must contain at least one uppercase letter")
	ErrMissingLowercase = errors.New("password must contain at least one lowercase letter")
	ErrMissingNumber    = errors.New("password must contain at least one number")
	ErrMissingSpecial   = errors.New("password must contain at least one special character")
	ErrContainsEmail    = errors.New("password cannot contain the email name")
	ErrCommonPassword   = errors.New("password is too common")
	ErrConsecutiveChars = errors.New("password contains consecutive repeated characters")
	ErrSequentialChars  = errors.New("password contains sequential characters")
)

type PasswordPolicy struct {
	MinLength         int  `json:"min_length"`
	MaxLength         int  `json:"max_length"`
	RequireUppercase  bool `json:"require_uppercase"`
	RequireLowercase  bool `json:"require_lowercase"`
	RequireNumbers    bool `json:"require_numbers"`
	RequireSpecial    bool `json:"require_special"`
	MaxRepeatingChars int  `json:"max_repeating_chars"`
	PreventSequential bool `json:"prevent_sequential"`
	PreventEmailPart  bool `json:"prevent_email_part"`
}

// DefaultPasswordPolicy returns the policy used when nothing is configured.
// minLength follows the environment: 12 in production, 8 elsewhere.
// Sequence screening is opt-in.
func DefaultPasswordPolicy(minLength int) PasswordPolicy {
	if minLength <= 0 {
		minLength = 8
	}
	return PasswordPolicy{
		MinLength:         minLength,
		MaxLength:         128,
		RequireUppercase:  true,
		RequireLowercase:  true,
		RequireNumbers:    true,
		RequireSpecial:    true,
		MaxRepeatingChars: 3,
		PreventEmailPart:  true,
	}
}

// Describe lists the policy as human readable requirements.
func (p PasswordPolicy) Describe() []string {
	reqs := []string{fmt.Sprintf("between %d and %d characters", p.MinLength, p.MaxLength)}
	if p.RequireUppercase {
		reqs = append(reqs, "at least one uppercase letter")
	}
	if p.RequireLowercase {
		reqs = append(reqs, "at least one lowercase letter")
	}
	if p.RequireNumbers {
		reqs = append(reqs, "at least one number")
	}
	if p.RequireSpecial {
		reqs = append(reqs, "at least one special character")
	}
	if p.MaxRepeatingChars > 0 {
		reqs = append(reqs, fmt.Sprintf("no character repeated more than %d times in a row", p.MaxRepeatingChars))
	}
	if p.PreventSequential {
		reqs = append(reqs, "no runs of three sequential letters or digits")
	}
	if p.PreventEmailPart {
		reqs = append(reqs, "must not contain the name part of the email address")
	}
	return reqs
}

type PasswordValidator struct {
	policy PasswordPolicy
}

func NewPasswordValidator(policy PasswordPolicy) *PasswordValidator {
	return &PasswordValidator{policy: policy}
}

func (v *PasswordValidator) Policy() PasswordPolicy {
	return v.policy
}

// ValidatePassword returns the first policy rule password breaks, or nil.
func (v *PasswordValidator) ValidatePassword(password, email string) error {
	length := len([]rune(password))
	if length < v.policy.MinLength {
		return ErrPasswordTooShort
	}
	if v.policy.MaxLength > 0 && length > v.policy.MaxLength {
		return ErrPasswordTooLong
	}

	var hasUpper, hasLower, hasNumber, hasSpecial bool
	for _, char := range password {
		switch {
		case unicode.IsUpper(char):
			hasUpper = true
		case unicode.IsLower(char):
			hasLower = true
		case unicode.IsNumber(char):
			hasNumber = true
		case unicode.IsPunct(char) || unicode.IsSymbol(char):
			hasSpecial = true
		}
	}

	switch {
	case v.policy.RequireUppercase && !hasUpper:
		return ErrMissingUppercase
	case v.policy.RequireLowercase && !hasLower:
		return ErrMissingLowercase
	case v.policy.RequireNumbers && !hasNumber:
		return ErrMissingNumber
	case v.policy.RequireSpecial && !hasSpecial:
		return ErrMissingSpecial
	}

	if v.policy.MaxRepeatingChars > 0 && hasRepeatRun(password, v.policy.MaxRepeatingChars) {
		return ErrConsecutiveChars
	}
	if v.policy.PreventSequential && hasSequence(password) {
		return ErrSequentialChars
	}
	if v.policy.PreventEmailPart && containsEmailName(password, email) {
		return ErrContainsEmail
	}
	if commonPasswords[strings.ToLower(password)] {
		return ErrCommonPassword
	}
	return nil
}

func hasRepeatRun(password string, limit int) bool {
	var last rune
	count := 0
	for _, char := range password {
		if count > 0 && char == last {
			count++
			if count > limit {
				return true
			}
			continue
		}
		last = char
		count = 1
	}
	return false
}

var sequences = []string{
	"abcdefghijklmnopqrstuvwxyz",
	"0123456789",
}

func hasSequence(password string) bool {
	lower := strings.ToLower(password)
	for _, seq := range sequences {
		for i := 0; i+3 <= len(seq); i++ {
			run := seq[i : i+3]
			if strings.Contains(lower, run) || strings.Contains(lower, reverse(run)) {
				return true
			}
		}
	}
	return false
}

// containsEmailName checks the local part of email; names under 3 characters are ignored.
func containsEmailName(password, email string) bool {
	name, _, _ := strings.Cut(email, "@")
	if len(name) < 3 {
		return false
	}
	return strings.Contains(strings.ToLower(password), strings.ToLower(name))
}

var commonPasswords = map[string]bool{
	"password123":  true,
	"password123!": true,
	"12345678":     true,
	"qwerty123":    true,
	"admin123":     true,
	"letmein":      true,
	"welcome1":     true,
	"iloveyou1!":   true,
	"passw0rd!":    true,
}

func reverse(s string) string {
	runes := []rune(s)
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}
	return string(runes)
}

package domain

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	emailPattern = regexp.MustCompile(`^[a-zA-Z0-9_.+-]+@[a-zA-Z0-9-]+\.[a-zA-Z0-9-.]+$`)
	// Russian mobile numbers in international format: +7XXXXXXXXXX.
	phonePattern = regexp.MustCompile(`^\+7\d{10}$`)
)

var (
	ErrTextTooShort   = errors.New("appeal text is too short")
	ErrTextTooLong    = errors.New("appeal text is too long")
	ErrInvalidContact = errors.New("contact must be an email or a +7XXXXXXXXXX phone number")
	ErrEmptyPosition  = errors.New("position must not be empty")
)

// AppealRules bounds appeal text length in characters.
type AppealRules struct {
	MinTextLen int
	MaxTextLen int
}

func (r AppealRules) ValidateText(text string) error {
	n := utf8.RuneCountInString(strings.TrimSpace(text))
	if r.MinTextLen > 0 && n < r.MinTextLen {
		return fmt.Errorf("%w: %d < %d", ErrTextTooShort, n, r.MinTextLen)
	}
	if r.MaxTextLen > 0 && n > r.MaxTextLen {
		return fmt.Errorf("%w: %d > %d", ErrTextTooLong, n, r.MaxTextLen)
	}
	return nil
}

// ValidateContact accepts an empty value (anonymous appeal), an email, or
// a phone number.
func ValidateContact(contact string) error {
	c := strings.TrimSpace(contact)
	if c == "" || emailPattern.MatchString(c) || phonePattern.MatchString(c) {
		return nil
	}
	return ErrInvalidContact
}

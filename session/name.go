package session

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/cyberinferno/chatrelay/broadcast"
)

const (
	MinNameBytes = 2
	MaxNameBytes = 31

	// ExitKeyword ends the session when received as a whole line.
	ExitKeyword = "exit"
)

// ValidateName trims the trailing line terminator from raw and checks it is
// usable as a display name.
//
// Parameters:
//   - raw: The registration line as read from the wire
//
// Returns:
//   - The display name
//   - An error wrapping ErrInvalidRegistration and the specific cause
func ValidateName(raw string) (string, error) {
	name := strings.TrimRight(raw, "\r\n")

	if len(name) < MinNameBytes || len(name) > MaxNameBytes {
		return "", fmt.Errorf("%w: %w (got %d)", ErrInvalidRegistration, ErrNameLength, len(name))
	}

	if !utf8.ValidString(name) || strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("%w: %w", ErrInvalidRegistration, ErrNameEncoding)
	}

	for _, r := range name {
		if unicode.IsControl(r) {
			return "", fmt.Errorf("%w: %w", ErrInvalidRegistration, ErrNameEncoding)
		}
	}

	if strings.EqualFold(name, broadcast.ServerName) {
		return "", fmt.Errorf("%w: %w", ErrInvalidRegistration, ErrNameReserved)
	}

	return name, nil
}

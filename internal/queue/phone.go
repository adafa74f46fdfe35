package queue

import (
	"fmt"
	"regexp"
	"strings"
)

// e164Pattern is the wire format every gateway in use accepts.
var e164Pattern = regexp.MustCompile(`^\+[1-9]\d{6,14}$`)

// NormalizePhone converts a raw phone number into E.164: formatting
// characters are stripped, an international "00" prefix becomes "+", and a
// bare national-format number gets a leading "+". Returns a ValidationError
// when the result is not a plausible E.164 number.
func NormalizePhone(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", &ValidationError{Field: "recipient", Reason: "empty phone number"}
	}

	var b strings.Builder
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '.' || r == '(' || r == ')':
			// formatting noise
		default:
			return "", &ValidationError{Field: "recipient", Reason: fmt.Sprintf("unexpected character %q in phone number", r)}
		}
	}

	out := b.String()
	switch {
	case strings.HasPrefix(out, "+"):
	case strings.HasPrefix(out, "00"):
		out = "+" + out[2:]
	default:
		out = "+" + out
	}

	if !e164Pattern.MatchString(out) {
		return "", &ValidationError{Field: "recipient", Reason: fmt.Sprintf("not an E.164 number: %q", raw)}
	}
	return out, nil
}

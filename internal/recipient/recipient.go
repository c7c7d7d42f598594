// Package recipient normalizes outbound message destinations.
package recipient

import (
	"errors"
	"fmt"
	"strings"
)

const (
	MinDigits = 10
	MaxDigits = 15
)

var ErrInvalid = errors.New("invalid recipient")

// Recipient is a digits-only destination (country code + subscriber number).
type Recipient string

func (r Recipient) String() string { return string(r) }

// Normalize strips every non-digit from raw and checks the remaining length.
func Normalize(raw string) (Recipient, error) {
	var b strings.Builder
	b.Grow(len(raw))
	for _, c := range raw {
		if c >= '0' && c <= '9' {
			b.WriteRune(c)
		}
	}
	d := b.String()
	if len(d) < MinDigits || len(d) > MaxDigits {
		return "", fmt.Errorf("%w: %q has %d digits (want %d-%d)", ErrInvalid, raw, len(d), MinDigits, MaxDigits)
	}
	return Recipient(d), nil
}

// NormalizeAll normalizes a batch. One bad entry rejects the whole batch;
// the error lists every offending input.
func NormalizeAll(raws []string) ([]Recipient, error) {
	out := make([]Recipient, 0, len(raws))
	var bad []string
	for _, raw := range raws {
		r, err := Normalize(raw)
		if err != nil {
			bad = append(bad, raw)
			continue
		}
		out = append(out, r)
	}
	if len(bad) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalid, strings.Join(bad, ", "))
	}
	return out, nil
}

// Split parses a comma separated list as typed in chat ("573001112233,573004445566").
func Split(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Pretty groups a 12-digit number as "57 300 000 0001"; other lengths are returned as-is.
func Pretty(r Recipient) string {
	s := string(r)
	if len(s) != 12 {
		return s
	}
	return s[:2] + " " + s[2:5] + " " + s[5:8] + " " + s[8:]
}

// Strings converts a slice for logging and JSON views.
func Strings(rs []Recipient) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = string(r)
	}
	return out
}

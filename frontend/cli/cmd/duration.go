package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const maxTokenExpiry = 365 * 24 * time.Hour

// calendarUnits are the suffixes time.ParseDuration does not know.
var calendarUnits = map[byte]time.Duration{
	'd': 24 * time.Hour,
	'w': 7 * 24 * time.Hour,
}

// ParseDuration accepts everything time.ParseDuration does plus a single day
// or week quantity such as "30d" or "2w".
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}

	unit, ok := calendarUnits[s[len(s)-1]]
	if !ok {
		return time.ParseDuration(s)
	}

	n, err := strconv.ParseFloat(s[:len(s)-1], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return time.Duration(n * float64(unit)), nil
}

// ValidateTokenExpiry bounds token lifetimes to (0, 365d].
func ValidateTokenExpiry(d time.Duration) error {
	switch {
	case d <= 0:
		return fmt.Errorf("expiry duration must be positive")
	case d > maxTokenExpiry:
		return fmt.Errorf("expiry duration exceeds maximum of 365 days")
	}
	return nil
}

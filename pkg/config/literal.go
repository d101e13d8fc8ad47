package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// unitDurations maps the duration/rate unit suffixes to their lengths.
var unitDurations = map[string]time.Duration{
	"s": time.Second,
	"m": time.Minute,
	"h": time.Hour,
	"d": 24 * time.Hour,
}

// ParseDuration parses the `<integer><unit>` duration literal, with unit
// one of s, m, h, d.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return 0, fmt.Errorf("invalid duration %q: want <integer><s|m|h|d>", s)
	}

	unit, ok := unitDurations[s[len(s)-1:]]
	if !ok {
		return 0, fmt.Errorf("invalid duration %q: unknown unit %q", s, s[len(s)-1:])
	}

	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid duration %q: want <integer><s|m|h|d>", s)
	}

	return time.Duration(n) * unit, nil
}

// Rate is a parsed `<integer>/<unit>` literal: Count events per Per.
type Rate struct {
	Count int
	Per   time.Duration
}

// Interval returns the time for one token to regenerate (Per / Count).
func (r Rate) Interval() time.Duration {
	if r.Count <= 0 {
		return 0
	}
	return r.Per / time.Duration(r.Count)
}

// ParseRate parses the `<integer>/<unit>` rate literal, e.g. "4/m".
func ParseRate(s string) (Rate, error) {
	s = strings.TrimSpace(s)
	slash := strings.IndexByte(s, '/')
	if slash < 1 || slash != len(s)-2 {
		return Rate{}, fmt.Errorf("invalid rate %q: want <integer>/<s|m|h|d>", s)
	}

	n, err := strconv.Atoi(s[:slash])
	if err != nil || n < 1 {
		return Rate{}, fmt.Errorf("invalid rate %q: count must be a positive integer", s)
	}

	unit, ok := unitDurations[s[slash+1:]]
	if !ok {
		return Rate{}, fmt.Errorf("invalid rate %q: unknown unit %q", s, s[slash+1:])
	}

	return Rate{Count: n, Per: unit}, nil
}

// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
)

var durationUnits = map[string]time.Duration{
	"s":       time.Second,
	"sec":     time.Second,
	"secs":    time.Second,
	"second":  time.Second,
	"seconds": time.Second,
	"m":       time.Minute,
	"min":     time.Minute,
	"mins":    time.Minute,
	"minute":  time.Minute,
	"minutes": time.Minute,
	"h":       time.Hour,
	"hr":      time.Hour,
	"hrs":     time.Hour,
	"hour":    time.Hour,
	"hours":   time.Hour,
	"d":       24 * time.Hour,
	"day":     24 * time.Hour,
	"days":    24 * time.Hour,
	"w":       7 * 24 * time.Hour,
	"week":    7 * 24 * time.Hour,
	"weeks":   7 * 24 * time.Hour,
}

// ParseDuration parses human durations like "30s", "1d2h3m", "2 weeks", or
// "1 day 6 hours". Units above hours are not covered by time.ParseDuration,
// which is why this exists.
func ParseDuration(raw string) (time.Duration, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}

	if strings.ContainsAny(s, " \t") {
		s = strings.Join(strings.Fields(s), "")
	}

	var total time.Duration
	i := 0
	for i < len(s) {
		j := i
		for j < len(s) && (unicode.IsDigit(rune(s[j])) || s[j] == '.') {
			j++
		}
		if j == i {
			return 0, fmt.Errorf("invalid duration %q: expected number at %q", raw, s[i:])
		}
		value, err := strconv.ParseFloat(s[i:j], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", raw, err)
		}

		k := j
		for k < len(s) && unicode.IsLetter(rune(s[k])) {
			k++
		}
		if k == j {
			return 0, fmt.Errorf("invalid duration %q: missing unit after %q", raw, s[i:j])
		}
		unit, ok := durationUnits[s[j:k]]
		if !ok {
			return 0, fmt.Errorf("invalid duration %q: unknown unit %q", raw, s[j:k])
		}

		total += time.Duration(value * float64(unit))
		i = k
	}

	return total, nil
}

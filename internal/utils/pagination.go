// Package utils holds query-string helpers shared by the HTTP handlers.
package utils

import "strconv"

// AtoiDefault parses s as a base-10 int, returning def when s is empty or
// not a number. Surrounding whitespace is not trimmed.
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// Limit parses a "limit" query value. Missing or malformed input yields def;
// anything else is clamped to [1, max].
func Limit(raw string, def, max int) int {
	n := AtoiDefault(raw, def)
	switch {
	case n < 1:
		return 1
	case n > max:
		return max
	}
	return n
}

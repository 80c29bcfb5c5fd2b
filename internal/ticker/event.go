// Package ticker turns chat text into ticker events and decides which of
// them are worth relaying for the current page session.
package ticker

import (
	"regexp"
	"strings"
)

// Event is a single ticker mention. Symbol always matches [A-Z]{1,6}.
type Event struct {
	Symbol       string `json:"symbol"`
	HighPriority bool   `json:"highPriority"`
}

var reSymbol = regexp.MustCompile(`^[A-Z]{1,6}$`)

// ValidSymbol reports whether s is an uppercase 1-6 letter symbol.
func ValidSymbol(s string) bool { return reSymbol.MatchString(s) }

// Normalize trims whitespace and uppercases. It does not validate.
func Normalize(s string) string { return strings.ToUpper(strings.TrimSpace(s)) }

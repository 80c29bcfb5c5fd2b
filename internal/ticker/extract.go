package ticker

import (
	"regexp"
	"strings"
)

// A free-text candidate: optional "$", 1-5 uppercase letters, optional "!".
var reCandidate = regexp.MustCompile(`^\$?([A-Z]{1,5})(!?)$`)

// Punctuation that commonly hugs a token in chat ("($TSLA!)," etc).
// "!" is deliberately absent: it is the priority marker.
const tokenTrim = `,.;:?()[]"'`

// Extract scans whitespace-separated tokens and returns every ticker
// candidate in order of appearance. Lowercase or malformed tokens are
// skipped. Extract has no side effects.
func Extract(text string) []Event {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return nil
	}
	var out []Event
	for _, tok := range fields {
		tok = strings.Trim(tok, tokenTrim)
		m := reCandidate.FindStringSubmatch(tok)
		if m == nil {
			continue
		}
		out = append(out, Event{Symbol: m[1], HighPriority: m[2] == "!"})
	}
	return out
}

// ExtractAttr validates a symbol carried in a structured attribute rather
// than free text. No priority marker exists there, so the event is normal
// priority.
func ExtractAttr(value string) (Event, bool) {
	if !ValidSymbol(value) {
		return Event{}, false
	}
	return Event{Symbol: value}, true
}

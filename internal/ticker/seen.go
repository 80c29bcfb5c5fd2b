package ticker

import "sync"

// SeenSet is the per-page-session memory of relayed symbols.
//
// A symbol enters the set the first time it is relayed. Later mentions are
// relayed again only when marked high priority, and never re-insert.
// The set has no expiry; drop it (or Reset) when the session ends.
type SeenSet struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewSeenSet() *SeenSet {
	return &SeenSet{seen: map[string]struct{}{}}
}

// ShouldRelay decides without mutating the set.
func (s *SeenSet) ShouldRelay(ev Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, seen := s.seen[ev.Symbol]
	return !seen || ev.HighPriority
}

// RecordSeen marks the symbol as relayed. Already-present symbols are left alone.
func (s *SeenSet) RecordSeen(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[ev.Symbol]; !ok {
		s.seen[ev.Symbol] = struct{}{}
	}
}

// Admit is ShouldRelay followed by RecordSeen under one lock, for callers
// that observe the same session from several goroutines.
func (s *SeenSet) Admit(ev Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.seen[ev.Symbol]; !seen {
		s.seen[ev.Symbol] = struct{}{}
		return true
	}
	return ev.HighPriority
}

func (s *SeenSet) Contains(symbol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[symbol]
	return ok
}

func (s *SeenSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

// Reset forgets everything (navigation / reload).
func (s *SeenSet) Reset() {
	s.mu.Lock()
	s.seen = map[string]struct{}{}
	s.mu.Unlock()
}

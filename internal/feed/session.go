// Package feed observes chat feeds and turns their text into relayed ticker
// events. Every connection to a feed is one page session with its own
// dedup memory.
package feed

import (
	"bytes"
	"encoding/json"
	"sync/atomic"

	"tickerwatch/internal/ticker"
	logx "tickerwatch/pkg/logx"
)

// Relayer forwards an admitted event. It must not block.
type Relayer interface {
	Relay(ev ticker.Event)
}

// Frame is the structured message form. Text is free chat text; Symbol is
// a ticker carried as an attribute (no priority marker).
type Frame struct {
	Text   string `json:"text"`
	Symbol string `json:"symbol"`
}

type SessionStats struct {
	Name     string `json:"name"`
	Messages uint64 `json:"messages"`
	Relayed  uint64 `json:"relayed"`
	Resets   uint64 `json:"resets"`
	Seen     int    `json:"seen"`
}

type Session struct {
	name  string
	seen  *ticker.SeenSet
	relay Relayer
	log   logx.Logger

	messages, relayed, resets atomic.Uint64
}

func NewSession(name string, relay Relayer, log logx.Logger) *Session {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Session{name: name, seen: ticker.NewSeenSet(), relay: relay, log: log}
}

// Observe handles one chunk of free text and returns how many events were
// relayed.
func (s *Session) Observe(text string) int {
	s.messages.Add(1)
	n := 0
	for _, ev := range ticker.Extract(text) {
		if s.admit(ev) {
			n++
		}
	}
	return n
}

// ObserveAttr handles a symbol taken from a structured attribute.
func (s *Session) ObserveAttr(value string) bool {
	ev, ok := ticker.ExtractAttr(value)
	if !ok {
		return false
	}
	return s.admit(ev)
}

// ObserveFrame accepts a JSON Frame or, failing that, raw text.
func (s *Session) ObserveFrame(data []byte) int {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var f Frame
		if err := json.Unmarshal(data, &f); err == nil {
			n := 0
			if f.Symbol != "" && s.ObserveAttr(f.Symbol) {
				n++
			}
			if f.Text != "" {
				n += s.Observe(f.Text)
			} else if f.Symbol != "" {
				s.messages.Add(1)
			}
			return n
		}
	}
	return s.Observe(string(data))
}

func (s *Session) admit(ev ticker.Event) bool {
	if !s.seen.Admit(ev) {
		return false
	}
	s.relayed.Add(1)
	s.log.Debug("ticker spotted", logx.String("symbol", ev.Symbol), logx.Bool("high_priority", ev.HighPriority))
	if s.relay != nil {
		s.relay.Relay(ev)
	}
	return true
}

// Reset starts a new page session (navigation or reconnect).
func (s *Session) Reset() {
	s.seen.Reset()
	s.resets.Add(1)
}

func (s *Session) Stats() SessionStats {
	return SessionStats{
		Name:     s.name,
		Messages: s.messages.Load(),
		Relayed:  s.relayed.Load(),
		Resets:   s.resets.Load(),
		Seen:     s.seen.Len(),
	}
}

// Package snooze keeps the set of symbols whose delivery is suppressed.
//
// The set lives in memory and is written through to a storage.Store under
// KeyList on every change. Changes are published to subscribers so a UI can
// bind to the live set.
package snooze

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"tickerwatch/internal/eventbus"
	"tickerwatch/internal/storage"
	"tickerwatch/internal/ticker"
	logx "tickerwatch/pkg/logx"
)

const (
	KeyList      = "snooze.list"
	KeyLastClear = "snooze.last_clear"

	EventSet     = "snooze.set"
	EventCleared = "snooze.cleared"
)

var ErrMalformed = errors.New("malformed symbol")

// Change is the Data of every published event.
type Change struct {
	Symbol  string    `json:"symbol,omitempty"`
	Snoozed bool      `json:"snoozed"`
	Cleared int       `json:"cleared,omitempty"`
	Reason  string    `json:"reason,omitempty"`
	At      time.Time `json:"at"`
}

type Store struct {
	kv  storage.Store
	log logx.Logger
	bus eventbus.Bus

	mu  sync.RWMutex
	set map[string]struct{}
}

// Open loads the persisted list. A missing or unreadable list starts empty.
func Open(ctx context.Context, kv storage.Store, log logx.Logger) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	if kv == nil {
		kv = storage.NewMemory()
	}
	s := &Store{kv: kv, log: log, bus: eventbus.New(), set: map[string]struct{}{}}

	raw, ok, err := kv.Get(ctx, KeyList)
	switch {
	case err != nil:
		log.Warn("snooze list unavailable; starting empty", logx.Err(err))
	case ok:
		var syms []string
		if err := json.Unmarshal(raw, &syms); err != nil {
			log.Warn("snooze list corrupt; starting empty", logx.Err(err))
			break
		}
		for _, sym := range syms {
			if sym = ticker.Normalize(sym); ticker.ValidSymbol(sym) {
				s.set[sym] = struct{}{}
			}
		}
	}
	return s
}

// SetSnooze adds or removes symbol. The in-memory set always changes; a
// persistence failure is returned but does not roll it back.
func (s *Store) SetSnooze(ctx context.Context, symbol string, snoozed bool) error {
	sym := ticker.Normalize(symbol)
	if !ticker.ValidSymbol(sym) {
		return fmt.Errorf("%w: %q", ErrMalformed, symbol)
	}

	s.mu.Lock()
	_, had := s.set[sym]
	if had == snoozed {
		s.mu.Unlock()
		return nil
	}
	if snoozed {
		s.set[sym] = struct{}{}
	} else {
		delete(s.set, sym)
	}
	err := s.persistLocked(ctx)
	s.mu.Unlock()

	s.bus.Publish(eventbus.Event{Type: EventSet, Data: Change{Symbol: sym, Snoozed: snoozed, At: time.Now()}})
	s.log.Info("snooze changed", logx.String("symbol", sym), logx.Bool("snoozed", snoozed))
	return err
}

func (s *Store) IsSnoozed(symbol string) bool {
	sym := ticker.Normalize(symbol)
	s.mu.RLock()
	_, ok := s.set[sym]
	s.mu.RUnlock()
	return ok
}

// ClearAll empties the set. reason is carried on the published event.
func (s *Store) ClearAll(ctx context.Context, reason string) error {
	s.mu.Lock()
	n := len(s.set)
	s.set = map[string]struct{}{}
	err := s.persistLocked(ctx)
	s.mu.Unlock()

	s.bus.Publish(eventbus.Event{Type: EventCleared, Data: Change{Cleared: n, Reason: reason, At: time.Now()}})
	s.log.Info("snoozes cleared", logx.Int("count", n), logx.String("reason", reason))
	return err
}

// List returns the snoozed symbols in sorted order.
func (s *Store) List() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.set))
	for sym := range s.set {
		out = append(out, sym)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Subscribe returns a stream of change events. Slow subscribers drop events.
func (s *Store) Subscribe(buffer int) (<-chan eventbus.Event, func()) {
	return s.bus.Subscribe(buffer)
}

func (s *Store) persistLocked(ctx context.Context) error {
	syms := make([]string, 0, len(s.set))
	for sym := range s.set {
		syms = append(syms, sym)
	}
	sort.Strings(syms)
	b, err := json.Marshal(syms)
	if err != nil {
		return err
	}
	if err := s.kv.Put(ctx, KeyList, b); err != nil {
		s.log.Warn("snooze list not persisted", logx.Err(err))
		return fmt.Errorf("persist snooze list: %w", err)
	}
	return nil
}

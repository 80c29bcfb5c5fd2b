package alertq

import (
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"tickerwatch/internal/clock"
	logx "tickerwatch/pkg/logx"
)

func newTestQueue(t *testing.T, mutate func(o *Options[string])) (*Queue[string], *clock.Manual) {
	t.Helper()
	clk := clock.NewManual(time.Date(2026, 1, 2, 9, 30, 0, 0, time.UTC))
	opts := Options[string]{Name: "test", Clock: clk, TransitionDelay: 300 * time.Millisecond}
	if mutate != nil {
		mutate(&opts)
	}
	return New(opts), clk
}

func payloads(items []Item[string]) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.Payload)
	}
	return out
}

func currentPayload(q *Queue[string]) string {
	it, ok := q.Current()
	if !ok {
		return ""
	}
	return it.Payload
}

func TestEnqueueDismissPromotesAfterDelay(t *testing.T) {
	q, clk := newTestQueue(t, nil)

	mustEnqueue(t, q, "A")
	mustEnqueue(t, q, "B")
	if got := currentPayload(q); got != "A" {
		t.Fatalf("current = %q, want A", got)
	}
	if diff := cmp.Diff([]string{"B"}, payloads(q.Backlog())); diff != "" {
		t.Fatalf("backlog (-want +got):\n%s", diff)
	}

	if !q.DismissCurrent() {
		t.Fatal("DismissCurrent reported nothing to dismiss")
	}
	if _, ok := q.Current(); ok {
		t.Fatal("next item promoted before transition delay")
	}
	if !q.Snapshot().Transitioning {
		t.Fatal("snapshot should report a pending transition")
	}

	clk.Advance(299 * time.Millisecond)
	if _, ok := q.Current(); ok {
		t.Fatal("promoted too early")
	}
	clk.Advance(time.Millisecond)
	if got := currentPayload(q); got != "B" {
		t.Fatalf("current = %q, want B", got)
	}
	if n := len(q.Backlog()); n != 0 {
		t.Fatalf("backlog len = %d", n)
	}
}

func TestEnqueueDuringTransitionWaits(t *testing.T) {
	q, clk := newTestQueue(t, nil)
	mustEnqueue(t, q, "A")
	q.DismissCurrent()
	mustEnqueue(t, q, "B")
	if _, ok := q.Current(); ok {
		t.Fatal("enqueue during transition must not promote immediately")
	}
	clk.Advance(300 * time.Millisecond)
	if got := currentPayload(q); got != "B" {
		t.Fatalf("current = %q, want B", got)
	}
}

func TestEnqueueAfterIdleTransitionPromotesImmediately(t *testing.T) {
	q, clk := newTestQueue(t, nil)
	mustEnqueue(t, q, "A")
	q.DismissCurrent()
	clk.Advance(time.Second)
	mustEnqueue(t, q, "B")
	if got := currentPayload(q); got != "B" {
		t.Fatalf("current = %q, want B", got)
	}
}

func TestAutoDismiss(t *testing.T) {
	q, clk := newTestQueue(t, func(o *Options[string]) {
		o.Duration = func(string) time.Duration { return 5 * time.Second }
	})
	mustEnqueue(t, q, "A")
	mustEnqueue(t, q, "B")

	clk.Advance(5 * time.Second)
	if _, ok := q.Current(); ok {
		t.Fatal("A should have auto-dismissed")
	}
	clk.Advance(300 * time.Millisecond)
	if got := currentPayload(q); got != "B" {
		t.Fatalf("current = %q, want B", got)
	}
	clk.Advance(5*time.Second + 300*time.Millisecond)
	if _, ok := q.Current(); ok {
		t.Fatal("B should have auto-dismissed")
	}
	if clk.Pending() != 0 {
		t.Fatalf("timers left armed: %d", clk.Pending())
	}
}

func TestManualDismissCancelsTimer(t *testing.T) {
	var dismissed []string
	q, clk := newTestQueue(t, func(o *Options[string]) {
		o.Duration = func(string) time.Duration { return 5 * time.Second }
		o.OnDismiss = func(it Item[string]) { dismissed = append(dismissed, it.Payload) }
	})
	mustEnqueue(t, q, "A")
	clk.Advance(time.Second)
	q.DismissCurrent()
	mustEnqueue(t, q, "B")
	clk.Advance(300 * time.Millisecond)

	// A's original timer would have fired at t=5s and must not dismiss B.
	clk.Advance(3800 * time.Millisecond)
	if got := currentPayload(q); got != "B" {
		t.Fatalf("current = %q, want B (stale timer fired?)", got)
	}
	if diff := cmp.Diff([]string{"A"}, dismissed); diff != "" {
		t.Fatalf("dismissed (-want +got):\n%s", diff)
	}
}

func TestOnPromoteRunsAtPromotion(t *testing.T) {
	var promoted []string
	q, clk := newTestQueue(t, func(o *Options[string]) {
		o.OnPromote = func(it Item[string]) { promoted = append(promoted, it.Payload) }
	})
	mustEnqueue(t, q, "A")
	mustEnqueue(t, q, "B")
	if diff := cmp.Diff([]string{"A"}, promoted); diff != "" {
		t.Fatalf("promoted (-want +got):\n%s", diff)
	}
	q.DismissCurrent()
	if len(promoted) != 1 {
		t.Fatal("promotion side effect ran at dismissal")
	}
	clk.Advance(300 * time.Millisecond)
	if diff := cmp.Diff([]string{"A", "B"}, promoted); diff != "" {
		t.Fatalf("promoted (-want +got):\n%s", diff)
	}
}

func TestMaxBacklogDropsOldest(t *testing.T) {
	q, _ := newTestQueue(t, func(o *Options[string]) { o.MaxBacklog = 2 })
	for _, p := range []string{"A", "B", "C", "D"} {
		mustEnqueue(t, q, p)
	}
	snap := q.Snapshot()
	if snap.Current == nil || snap.Current.Payload != "A" {
		t.Fatalf("current = %+v", snap.Current)
	}
	if diff := cmp.Diff([]string{"C", "D"}, payloads(snap.Backlog)); diff != "" {
		t.Fatalf("backlog (-want +got):\n%s", diff)
	}
	if snap.Dropped != 1 {
		t.Fatalf("Dropped = %d, want 1", snap.Dropped)
	}
}

type enqueueReporter struct{ q *Queue[string] }

func (r enqueueReporter) Report(_, message string, _ map[string]string) { _, _ = r.q.Enqueue(message) }

func TestBacklogWarningMayReenterQueue(t *testing.T) {
	svc, log := logx.New(logx.Config{Level: "warn", Alerts: logx.AlertsConfig{Enabled: true, MinLevel: "warn", RatePerSec: 10}})
	t.Cleanup(func() { _ = svc.Close() })
	q, _ := newTestQueue(t, func(o *Options[string]) {
		o.MaxBacklog = 1
		o.Log = log
	})
	svc.SetReporter(enqueueReporter{q: q})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 3; i++ {
			log.Warn("feed down")
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Warn blocked: the backlog warning re-entered a held lock")
	}
	if snap := q.Snapshot(); snap.Dropped == 0 || len(snap.Backlog) != 1 {
		t.Fatalf("snapshot = dropped %d, backlog %d", snap.Dropped, len(snap.Backlog))
	}
}

func TestDismissByID(t *testing.T) {
	q, _ := newTestQueue(t, nil)
	mustEnqueue(t, q, "A")
	b := mustEnqueue(t, q, "B")
	mustEnqueue(t, q, "C")

	if !q.Dismiss(b.ID) {
		t.Fatal("Dismiss(B) = false")
	}
	if diff := cmp.Diff([]string{"C"}, payloads(q.Backlog())); diff != "" {
		t.Fatalf("backlog (-want +got):\n%s", diff)
	}
	if q.Dismiss("nope") {
		t.Fatal("Dismiss(unknown) = true")
	}
	if q.DismissCurrent(); q.DismissCurrent() {
		t.Fatal("second DismissCurrent during transition should report false")
	}
}

func TestStopRejectsEnqueue(t *testing.T) {
	q, clk := newTestQueue(t, func(o *Options[string]) {
		o.Duration = func(string) time.Duration { return time.Second }
	})
	mustEnqueue(t, q, "A")
	q.Stop()
	if _, err := q.Enqueue("B"); err != ErrStopped {
		t.Fatalf("Enqueue after Stop err = %v", err)
	}
	if clk.Pending() != 0 {
		t.Fatalf("timers left armed after Stop: %d", clk.Pending())
	}
}

func TestConcurrentEnqueueSingleCurrent(t *testing.T) {
	q := New(Options[int]{Name: "race", TransitionDelay: time.Hour})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = q.Enqueue(i)
		}(i)
	}
	wg.Wait()
	snap := q.Snapshot()
	if snap.Current == nil || len(snap.Backlog) != 49 {
		t.Fatalf("current=%v backlog=%d", snap.Current, len(snap.Backlog))
	}
	q.Stop()
}

func mustEnqueue(t *testing.T, q *Queue[string], p string) Item[string] {
	t.Helper()
	it, err := q.Enqueue(p)
	if err != nil {
		t.Fatalf("Enqueue(%q): %v", p, err)
	}
	return it
}

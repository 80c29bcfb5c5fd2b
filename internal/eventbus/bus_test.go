package eventbus

import "testing"

func TestPublishFiltersAndDrops(t *testing.T) {
	b := New()
	all, unsubAll := b.Subscribe(1)
	defer unsubAll()
	snz, unsubSnz := b.Subscribe(4, "snooze.")
	defer unsubSnz()

	b.Publish(Event{Type: "delivery.sent"})
	b.Publish(Event{Type: "snooze.set"})

	if ev := <-all; ev.Type != "delivery.sent" || ev.Time.IsZero() {
		t.Fatalf("all got %+v", ev)
	}
	if ev := <-snz; ev.Type != "snooze.set" {
		t.Fatalf("filtered got %+v", ev)
	}
	if b.Dropped() != 1 {
		t.Fatalf("Dropped = %d, want 1 (second event to full buffer)", b.Dropped())
	}
}

func TestUnsubscribeClosesAndIsIdempotent(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed")
	}
	b.Publish(Event{Type: "x"})
}

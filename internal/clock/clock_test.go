package clock

import (
	"testing"
	"time"
)

func TestManualFiresInDueOrder(t *testing.T) {
	c := NewManual(time.Unix(0, 0))
	var got []string
	c.AfterFunc(2*time.Second, func() { got = append(got, "b") })
	c.AfterFunc(time.Second, func() {
		got = append(got, "a")
		c.AfterFunc(500*time.Millisecond, func() { got = append(got, "a2") })
	})
	stopped := c.AfterFunc(time.Second, func() { got = append(got, "x") })
	if !stopped.Stop() {
		t.Fatal("Stop on armed timer should report true")
	}

	c.Advance(1500 * time.Millisecond)
	if len(got) != 2 || got[0] != "a" || got[1] != "a2" {
		t.Fatalf("after 1.5s got %v", got)
	}
	c.Advance(time.Second)
	if len(got) != 3 || got[2] != "b" {
		t.Fatalf("after 2.5s got %v", got)
	}
	if c.Pending() != 0 {
		t.Fatalf("Pending = %d", c.Pending())
	}
	if want := time.Unix(0, 0).Add(2500 * time.Millisecond); !c.Now().Equal(want) {
		t.Fatalf("Now = %v, want %v", c.Now(), want)
	}
}

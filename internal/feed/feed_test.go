package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"

	"tickerwatch/internal/config"
	"tickerwatch/internal/ticker"
	logx "tickerwatch/pkg/logx"
)

type recorder struct {
	mu  sync.Mutex
	evs []ticker.Event
	ch  chan ticker.Event
}

func newRecorder() *recorder { return &recorder{ch: make(chan ticker.Event, 64)} }

func (r *recorder) Relay(ev ticker.Event) {
	r.mu.Lock()
	r.evs = append(r.evs, ev)
	r.mu.Unlock()
	select {
	case r.ch <- ev:
	default:
	}
}

func (r *recorder) events() []ticker.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ticker.Event(nil), r.evs...)
}

func (r *recorder) next(t *testing.T) ticker.Event {
	t.Helper()
	select {
	case ev := <-r.ch:
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for relayed event")
		return ticker.Event{}
	}
}

func TestSessionDedup(t *testing.T) {
	rec := newRecorder()
	s := NewSession("test", rec, logx.Nop())

	s.Observe("watching $GME and AMC")
	s.Observe("GME again")
	s.Observe("GME! now")
	s.Observe("GME!")

	want := []ticker.Event{
		{Symbol: "GME"},
		{Symbol: "AMC"},
		{Symbol: "GME", HighPriority: true},
		{Symbol: "GME", HighPriority: true},
	}
	if diff := cmp.Diff(want, rec.events()); diff != "" {
		t.Fatalf("relayed mismatch (-want +got):\n%s", diff)
	}

	s.Reset()
	if n := s.Observe("GME"); n != 1 {
		t.Fatalf("after reset GME relayed %d times, want 1", n)
	}
	st := s.Stats()
	if st.Resets != 1 || st.Messages != 5 || st.Relayed != 5 || st.Seen != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestSessionObserveFrame(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  []ticker.Event
	}{
		{name: "raw text", frame: "buy $TSLA!", want: []ticker.Event{{Symbol: "TSLA", HighPriority: true}}},
		{name: "json text", frame: `{"text":"NVDA looks good"}`, want: []ticker.Event{{Symbol: "NVDA"}}},
		{name: "json attr", frame: `{"symbol":"BRKB"}`, want: []ticker.Event{{Symbol: "BRKB"}}},
		{name: "json attr invalid", frame: `{"symbol":"brk.b"}`},
		{name: "json both", frame: `{"symbol":"AAPL","text":"MSFT!"}`, want: []ticker.Event{{Symbol: "AAPL"}, {Symbol: "MSFT", HighPriority: true}}},
		{name: "broken json falls back to text", frame: `{"text": AMD`, want: []ticker.Event{{Symbol: "AMD"}}},
		{name: "nothing", frame: "hello world"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := newRecorder()
			s := NewSession(tt.name, rec, logx.Nop())
			s.ObserveFrame([]byte(tt.frame))
			if diff := cmp.Diff(tt.want, rec.events()); diff != "" {
				t.Fatalf("(-want +got):\n%s", diff)
			}
		})
	}
}

func TestReadLines(t *testing.T) {
	rec := newRecorder()
	s := NewSession("stdin", rec, logx.Nop())
	in := strings.NewReader("GME\nGME\n$AMC!\n")
	if err := ReadLines(context.Background(), in, s); err != nil {
		t.Fatalf("ReadLines: %v", err)
	}
	want := []ticker.Event{{Symbol: "GME"}, {Symbol: "AMC", HighPriority: true}}
	if diff := cmp.Diff(want, rec.events()); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
}

// feedServer pushes each message in msgs to every connection, then closes it.
func feedServer(t *testing.T, msgs ...string) *httptest.Server {
	t.Helper()
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, m := range msgs {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
				return
			}
		}
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string { return "ws" + strings.TrimPrefix(srv.URL, "http") }

func TestWatcherReconnectStartsFreshSession(t *testing.T) {
	srv := feedServer(t, "GME", "GME")
	rec := newRecorder()
	w := NewWatcher(rec, logx.Nop())
	defer w.Stop()

	w.Apply(context.Background(), config.WatchConfig{
		Enabled:        true,
		ReconnectDelay: "10ms",
		Channels:       []config.Channel{{URL: wsURL(srv), DisplayName: "chan"}},
	})

	// One relay per connection: the duplicate is suppressed within a
	// session, and the reconnect resets the memory.
	for range 2 {
		if ev := rec.next(t); ev.Symbol != "GME" {
			t.Fatalf("relayed %+v", ev)
		}
	}
	stats := w.Stats()
	if len(stats) != 1 || stats[0].Name != "chan" {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestWatcherApplyRemovesChannels(t *testing.T) {
	srv := feedServer(t, "AMC")
	rec := newRecorder()
	w := NewWatcher(rec, logx.Nop())
	defer w.Stop()

	ctx := context.Background()
	cfg := config.WatchConfig{
		Enabled:        true,
		ReconnectDelay: "1h",
		Channels:       []config.Channel{{URL: wsURL(srv), DisplayName: "a"}},
	}
	w.Apply(ctx, cfg)
	rec.next(t)
	if got := len(w.Stats()); got != 1 {
		t.Fatalf("channels = %d, want 1", got)
	}

	cfg.Channels = nil
	w.Apply(ctx, cfg)
	if got := len(w.Stats()); got != 0 {
		t.Fatalf("channels after removal = %d, want 0", got)
	}

	cfg.Channels = []config.Channel{{URL: wsURL(srv), DisplayName: "a"}}
	cfg.Enabled = false
	w.Apply(ctx, cfg)
	if got := len(w.Stats()); got != 0 {
		t.Fatalf("disabled watcher runs %d channels", got)
	}
}

func TestWatcherStopWithUnreachableFeed(t *testing.T) {
	w := NewWatcher(newRecorder(), logx.Nop())
	w.Apply(context.Background(), config.WatchConfig{
		Enabled:        true,
		ReconnectDelay: "5ms",
		Channels:       []config.Channel{{URL: "ws://127.0.0.1:1/feed"}},
	})
	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return")
	}
}

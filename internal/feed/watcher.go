package feed

import (
	"bufio"
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tickerwatch/internal/config"
	logx "tickerwatch/pkg/logx"
)

const DefaultReconnectDelay = 3 * time.Second

// Watcher keeps one websocket session per whitelisted channel. Apply adds
// and removes channels as the whitelist changes.
type Watcher struct {
	relay  Relayer
	log    logx.Logger
	dialer *websocket.Dialer

	mu       sync.Mutex
	delay    time.Duration
	channels map[string]*channelRun
	wg       sync.WaitGroup
}

type channelRun struct {
	ch      config.Channel
	cancel  context.CancelFunc
	session *Session
}

func NewWatcher(relay Relayer, log logx.Logger) *Watcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Watcher{
		relay:    relay,
		log:      log,
		dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		delay:    DefaultReconnectDelay,
		channels: map[string]*channelRun{},
	}
}

// Apply reconciles running channels with cfg. Channels no longer listed are
// stopped; new ones are started under ctx.
func (w *Watcher) Apply(ctx context.Context, cfg config.WatchConfig) {
	delay, err := config.ParseDurationOrDefault("watch.reconnect_delay", cfg.ReconnectDelay, DefaultReconnectDelay)
	if err != nil {
		w.log.Warn("bad reconnect delay; using default", logx.Err(err))
		delay = DefaultReconnectDelay
	}
	want := map[string]config.Channel{}
	if cfg.Enabled {
		for _, ch := range cfg.Channels {
			want[ch.URL] = ch
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.delay = delay
	for url, run := range w.channels {
		if nw, ok := want[url]; !ok || nw.DisplayName != run.ch.DisplayName {
			run.cancel()
			delete(w.channels, url)
			w.log.Info("channel unwatched", logx.String("url", url))
		}
	}
	for url, ch := range want {
		if _, ok := w.channels[url]; ok {
			continue
		}
		cctx, cancel := context.WithCancel(ctx)
		run := &channelRun{ch: ch, cancel: cancel, session: NewSession(displayName(ch), w.relay, w.log.With(logx.String("channel", displayName(ch))))}
		w.channels[url] = run
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.runChannel(cctx, run)
		}()
		w.log.Info("channel watched", logx.String("url", url), logx.String("name", ch.DisplayName))
	}
}

func displayName(ch config.Channel) string {
	if ch.DisplayName != "" {
		return ch.DisplayName
	}
	return ch.URL
}

// Stop cancels every channel and waits for the readers to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	for url, run := range w.channels {
		run.cancel()
		delete(w.channels, url)
	}
	w.mu.Unlock()
	w.wg.Wait()
}

func (w *Watcher) Stats() []SessionStats {
	w.mu.Lock()
	out := make([]SessionStats, 0, len(w.channels))
	for _, run := range w.channels {
		out = append(out, run.session.Stats())
	}
	w.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (w *Watcher) reconnectDelay() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.delay
}

// runChannel dials, reads until the connection drops, and redials after the
// reconnect delay. Each connection starts a fresh session.
func (w *Watcher) runChannel(ctx context.Context, run *channelRun) {
	log := w.log.With(logx.String("channel", displayName(run.ch)))
	for first := true; ctx.Err() == nil; first = false {
		if !first {
			t := time.NewTimer(w.reconnectDelay())
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
		}
		if err := w.readOnce(ctx, run); err != nil && ctx.Err() == nil {
			log.Warn("feed disconnected", logx.Err(err))
		}
	}
}

func (w *Watcher) readOnce(ctx context.Context, run *channelRun) error {
	conn, _, err := w.dialer.DialContext(ctx, run.ch.URL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	run.session.Reset()
	w.log.Debug("feed connected", logx.String("url", run.ch.URL))
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if mt == websocket.TextMessage {
			run.session.ObserveFrame(data)
		}
	}
}

// ReadLines feeds r line by line into one session until EOF or ctx is done.
func ReadLines(ctx context.Context, r io.Reader, s *Session) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.ObserveFrame(sc.Bytes())
	}
	return sc.Err()
}

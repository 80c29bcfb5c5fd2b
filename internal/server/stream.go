package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tickerwatch/internal/alerts"
	logx "tickerwatch/pkg/logx"
)

const (
	pingEvery   = 30 * time.Second
	readTimeout = 75 * time.Second
	writeWait   = 5 * time.Second
)

var wsUpgrader = websocket.Upgrader{
	CheckOrigin:       func(*http.Request) bool { return true },
	EnableCompression: true,
}

// StateMsg is pushed to UI clients on connect and after every change.
type StateMsg struct {
	Type    string           `json:"type"`
	Alerts  alerts.Snapshots `json:"alerts"`
	Snoozes []string         `json:"snoozes"`
}

// ControlMsg is what a UI client sends back.
//
//	{"type":"dismiss","queue":"toasts"}            dismiss current
//	{"type":"dismiss","queue":"toasts","id":"..."} dismiss one item
//	{"type":"snooze","symbol":"GME"}
//	{"type":"unsnooze","symbol":"GME"}
type ControlMsg struct {
	Type   string `json:"type"`
	Queue  string `json:"queue,omitempty"`
	ID     string `json:"id,omitempty"`
	Symbol string `json:"symbol,omitempty"`
}

type wsClient struct {
	conn *websocket.Conn
	out  chan StateMsg
	done chan struct{}
}

// Hub fans state snapshots out to websocket clients. Notify is cheap and
// coalesces: a burst of changes produces one push.
type Hub struct {
	s   *Server
	log logx.Logger

	kick chan struct{}

	mu      sync.RWMutex
	clients map[*wsClient]struct{}
}

func newHub(s *Server, log logx.Logger) *Hub {
	return &Hub{s: s, log: log, kick: make(chan struct{}, 1), clients: map[*wsClient]struct{}{}}
}

// Notify schedules a push of the current state.
func (h *Hub) Notify() {
	select {
	case h.kick <- struct{}{}:
	default:
	}
}

// Run pushes state after each Notify until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.kick:
			h.broadcast(h.state())
		}
	}
}

func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) state() StateMsg {
	msg := StateMsg{Type: "state", Snoozes: []string{}}
	if h.s.d.Alerts != nil {
		msg.Alerts = h.s.d.Alerts.Snapshot()
	}
	if h.s.d.Snoozes != nil {
		msg.Snoozes = h.s.d.Snoozes.List()
	}
	return msg
}

func (h *Hub) broadcast(msg StateMsg) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		// Only the newest state matters; replace a stale pending one.
		select {
		case c.out <- msg:
		default:
			select {
			case <-c.out:
			default:
			}
			select {
			case c.out <- msg:
			default:
			}
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	for c := range h.clients {
		_ = c.conn.Close()
	}
	h.mu.Unlock()
}

func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	c := &wsClient{conn: conn, out: make(chan StateMsg, 1), done: make(chan struct{})}
	c.out <- h.state()

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.log.Debug("stream client connected", logx.String("remote", r.RemoteAddr))

	go h.writeLoop(c)

	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if mt != websocket.TextMessage {
			continue
		}
		var ctrl ControlMsg
		if err := json.Unmarshal(data, &ctrl); err != nil {
			continue
		}
		h.control(r.Context(), ctrl)
	}

	close(c.done)
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	h.log.Debug("stream client disconnected", logx.String("remote", r.RemoteAddr))
}

func (h *Hub) writeLoop(c *wsClient) {
	ping := time.NewTicker(pingEvery)
	defer ping.Stop()
	for {
		select {
		case msg := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				_ = c.conn.Close()
				return
			}
		case <-ping.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.conn.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (h *Hub) control(ctx context.Context, m ControlMsg) {
	var err error
	typ := strings.ToLower(m.Type)
	switch typ {
	case "dismiss":
		if h.s.d.Alerts == nil {
			return
		}
		if m.ID != "" {
			_, err = h.s.d.Alerts.Dismiss(m.Queue, m.ID)
		} else {
			_, err = h.s.d.Alerts.DismissCurrent(m.Queue)
		}
	case "snooze", "unsnooze":
		if h.s.d.Snoozes == nil {
			return
		}
		err = h.s.d.Snoozes.SetSnooze(ctx, m.Symbol, typ == "snooze")
		h.Notify()
	default:
		return
	}
	if err != nil {
		h.log.Debug("stream control rejected", logx.String("type", typ), logx.Err(err))
	}
}

// Package server is the local notification endpoint the watcher relays to,
// plus the small JSON/websocket surface a UI uses to show and dismiss
// alerts and manage snoozes.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"tickerwatch/internal/alerts"
	"tickerwatch/internal/delivery"
	"tickerwatch/internal/ticker"
	logx "tickerwatch/pkg/logx"
)

type EventHandler interface {
	Handle(ev ticker.Event) delivery.Outcome
}

type SnoozeStore interface {
	SetSnooze(ctx context.Context, symbol string, snoozed bool) error
	IsSnoozed(symbol string) bool
	ClearAll(ctx context.Context, reason string) error
	List() []string
}

type AlertBoard interface {
	Snapshot() alerts.Snapshots
	DismissCurrent(queue string) (bool, error)
	Dismiss(queue, id string) (bool, error)
}

type Deps struct {
	Events  EventHandler
	Snoozes SnoozeStore
	Alerts  AlertBoard
	// Health adds component details to GET /health.
	Health func() map[string]any
	Log    logx.Logger
}

type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type Server struct {
	cfg Config
	d   Deps
	log logx.Logger
	hub *Hub
	mux *http.ServeMux
}

func New(cfg Config, d Deps) *Server {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	s := &Server{cfg: cfg, d: d, log: d.Log, mux: http.NewServeMux()}
	s.hub = newHub(s, d.Log)
	s.routes()
	return s
}

func (s *Server) Hub() *Hub { return s.hub }

// Handler returns the full handler chain (CORS included).
func (s *Server) Handler() http.Handler { return withCORS(s.mux) }

// Run listens on cfg.Addr and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.log.Info("notification server listening", logx.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		s.hub.closeAll()
		s.log.Info("notification server stopped")
		return ctx.Err()
	}
}

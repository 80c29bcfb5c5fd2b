// Package pprof serves net/http/pprof on a separate, optional listener.
package pprof

import (
	"context"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"sync"
	"time"

	rtsup "tickerwatch/internal/runtime/supervisor"
	logx "tickerwatch/pkg/logx"
)

// Config controls the debug listener. An empty Addr disables it.
// A non-loopback Addr requires a Token.
type Config struct {
	Addr  string
	Token string
}

func (c Config) Enabled() bool { return strings.TrimSpace(c.Addr) != "" }

var ErrInsecureBind = errors.New("pprof: non-loopback addr requires a token")

type Service struct {
	log logx.Logger

	mu   sync.Mutex
	cfg  Config
	sup  *rtsup.Supervisor
	srv  *http.Server
	addr string
}

func New(log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{log: log}
}

// Addr is the bound address, or "" when not running.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Reconfigure starts, stops or restarts the listener to match cfg. An
// unchanged config on a running listener is a no-op.
func (s *Service) Reconfigure(ctx context.Context, cfg Config) error {
	s.mu.Lock()
	same := s.sup != nil && s.cfg == cfg
	s.mu.Unlock()
	if same {
		return nil
	}
	s.Stop(ctx)
	if !cfg.Enabled() {
		return nil
	}
	return s.start(ctx, cfg)
}

func (s *Service) start(ctx context.Context, cfg Config) error {
	addr := strings.TrimSpace(cfg.Addr)
	if strings.TrimSpace(cfg.Token) == "" && !isLoopbackAddr(addr) {
		return ErrInsecureBind
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           Handler(cfg.Token),
		ReadHeaderTimeout: 5 * time.Second,
	}
	sup := rtsup.New(ctx, rtsup.WithLogger(s.log))

	s.mu.Lock()
	s.cfg, s.sup, s.srv, s.addr = cfg, sup, srv, ln.Addr().String()
	s.mu.Unlock()

	sup.Go("pprof.serve", func(c context.Context) error {
		stop := context.AfterFunc(c, func() { _ = srv.Close() })
		defer stop()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	s.log.Info("pprof started", logx.String("addr", ln.Addr().String()), logx.Bool("token_set", cfg.Token != ""))
	return nil
}

// Stop shuts the listener down, bounded by ctx.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	sup, srv := s.sup, s.srv
	s.sup, s.srv, s.addr = nil, nil, ""
	s.cfg = Config{}
	s.mu.Unlock()
	if sup == nil {
		return
	}
	_ = srv.Shutdown(ctx)
	sup.Cancel()
	_ = sup.Wait(ctx)
	s.log.Info("pprof stopped")
}

// Handler exposes the pprof endpoints under /debug/pprof/. A non-empty
// token is required as "Authorization: Bearer <token>" or ?token=.
func Handler(token string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", hpprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", hpprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", hpprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", hpprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", hpprof.Trace)
	return withAuth(strings.TrimSpace(token), mux)
}

func withAuth(tok string, h http.Handler) http.Handler {
	if tok == "" {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.URL.Query().Get("token")
		if got == "" {
			if ah, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
				got = strings.TrimSpace(ah)
			}
		}
		if got != tok {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		h.ServeHTTP(w, r)
	})
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}

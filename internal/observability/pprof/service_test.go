package pprof

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	logx "tickerwatch/pkg/logx"
)

func TestHandlerAuth(t *testing.T) {
	h := Handler("s3cret")
	tests := []struct {
		name   string
		target string
		header string
		want   int
	}{
		{name: "no token", target: "/debug/pprof/", want: http.StatusUnauthorized},
		{name: "wrong token", target: "/debug/pprof/?token=nope", want: http.StatusUnauthorized},
		{name: "query token", target: "/debug/pprof/?token=s3cret", want: http.StatusOK},
		{name: "bearer", target: "/debug/pprof/", header: "Bearer s3cret", want: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestReconfigure(t *testing.T) {
	s := New(logx.Nop())
	ctx := context.Background()

	if err := s.Reconfigure(ctx, Config{Addr: "0.0.0.0:0"}); !errors.Is(err, ErrInsecureBind) {
		t.Fatalf("insecure bind err = %v", err)
	}
	if err := s.Reconfigure(ctx, Config{Addr: "127.0.0.1:0"}); err != nil {
		t.Fatalf("Reconfigure: %v", err)
	}
	addr := s.Addr()
	if addr == "" {
		t.Fatal("not running")
	}
	resp, err := http.Get("http://" + addr + "/debug/pprof/")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	if err := s.Reconfigure(ctx, Config{}); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if s.Addr() != "" {
		t.Fatal("still running after disable")
	}
}

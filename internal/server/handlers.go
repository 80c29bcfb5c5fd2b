package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"tickerwatch/internal/alerts"
	"tickerwatch/internal/snooze"
	"tickerwatch/internal/ticker"
	logx "tickerwatch/pkg/logx"
)

const maxBody = 4 << 10

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func sendJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func sendError(w http.ResponseWriter, status int, message string) {
	sendJSON(w, status, ErrorResponse{Error: http.StatusText(status), Message: message})
}

// withCORS answers every preflight with 200 and tags every response with
// permissive headers; the relay runs in another origin.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /notify", s.handleNotify)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /snooze", s.handleSnoozeList)
	s.mux.HandleFunc("POST /snooze", s.handleSnoozeAdd)
	s.mux.HandleFunc("DELETE /snooze", s.handleSnoozeClear)
	s.mux.HandleFunc("DELETE /snooze/{symbol}", s.handleSnoozeRemove)
	s.mux.HandleFunc("GET /alerts", s.handleAlerts)
	s.mux.HandleFunc("POST /alerts/{queue}/dismiss", s.handleDismiss)
	s.mux.HandleFunc("GET /alerts/stream", s.hub.serveWS)
}

// NotifyResponse is returned for every accepted event, whatever happens to
// delivery afterwards.
type NotifyResponse struct {
	Status  string `json:"status"`
	Symbol  string `json:"symbol"`
	Outcome string `json:"outcome,omitempty"`
}

// decodeNotify accepts {"symbol", "highPriority"} and the older
// {"ticker", "highPriority"} body.
func decodeNotify(r *http.Request) (ticker.Event, error) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return ticker.Event{}, errors.New("body must be a JSON object")
	}
	raw, ok := body["symbol"]
	if !ok {
		raw, ok = body["ticker"]
	}
	if !ok {
		return ticker.Event{}, errors.New("missing symbol")
	}
	sym, ok := raw.(string)
	if !ok {
		return ticker.Event{}, errors.New("symbol must be a string")
	}
	sym = ticker.Normalize(sym)
	if !ticker.ValidSymbol(sym) {
		return ticker.Event{}, errors.New("symbol must be 1-6 letters")
	}
	high, _ := body["highPriority"].(bool)
	return ticker.Event{Symbol: sym, HighPriority: high}, nil
}

func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	ev, err := decodeNotify(r)
	if err != nil {
		s.log.Debug("notify rejected", logx.Err(err))
		sendError(w, http.StatusBadRequest, err.Error())
		return
	}
	resp := NotifyResponse{Status: "ok", Symbol: ev.Symbol}
	if s.d.Events != nil {
		resp.Outcome = string(s.d.Events.Handle(ev))
	}
	sendJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{"status": "ok"}
	if s.d.Health != nil {
		for k, v := range s.d.Health() {
			out[k] = v
		}
	}
	sendJSON(w, http.StatusOK, out)
}

type snoozeRequest struct {
	Symbol string `json:"symbol"`
}

type snoozeList struct {
	Symbols []string `json:"symbols"`
}

func (s *Server) snoozes(w http.ResponseWriter) bool {
	if s.d.Snoozes == nil {
		sendError(w, http.StatusServiceUnavailable, "snooze store unavailable")
		return false
	}
	return true
}

func (s *Server) handleSnoozeList(w http.ResponseWriter, r *http.Request) {
	if !s.snoozes(w) {
		return
	}
	sendJSON(w, http.StatusOK, snoozeList{Symbols: s.d.Snoozes.List()})
}

func (s *Server) handleSnoozeAdd(w http.ResponseWriter, r *http.Request) {
	if !s.snoozes(w) {
		return
	}
	var req snoozeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "body must be {\"symbol\": string}")
		return
	}
	s.setSnooze(w, r, req.Symbol, true)
}

func (s *Server) handleSnoozeRemove(w http.ResponseWriter, r *http.Request) {
	if !s.snoozes(w) {
		return
	}
	s.setSnooze(w, r, r.PathValue("symbol"), false)
}

func (s *Server) setSnooze(w http.ResponseWriter, r *http.Request, sym string, on bool) {
	err := s.d.Snoozes.SetSnooze(r.Context(), sym, on)
	switch {
	case errors.Is(err, snooze.ErrMalformed):
		sendError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		// The in-memory change stands; only persistence failed.
		s.log.Warn("snooze persisted partially", logx.Err(err))
	}
	s.hub.Notify()
	sendJSON(w, http.StatusOK, snoozeList{Symbols: s.d.Snoozes.List()})
}

func (s *Server) handleSnoozeClear(w http.ResponseWriter, r *http.Request) {
	if !s.snoozes(w) {
		return
	}
	if err := s.d.Snoozes.ClearAll(r.Context(), "manual"); err != nil {
		s.log.Warn("snooze clear persisted partially", logx.Err(err))
	}
	s.hub.Notify()
	sendJSON(w, http.StatusOK, snoozeList{Symbols: s.d.Snoozes.List()})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if s.d.Alerts == nil {
		sendError(w, http.StatusServiceUnavailable, "alerts unavailable")
		return
	}
	sendJSON(w, http.StatusOK, s.d.Alerts.Snapshot())
}

type dismissResponse struct {
	Dismissed bool `json:"dismissed"`
}

// handleDismiss dismisses the current item, or ?id= for a specific one.
func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	if s.d.Alerts == nil {
		sendError(w, http.StatusServiceUnavailable, "alerts unavailable")
		return
	}
	queue := r.PathValue("queue")
	var (
		ok  bool
		err error
	)
	if id := r.URL.Query().Get("id"); id != "" {
		ok, err = s.d.Alerts.Dismiss(queue, id)
	} else {
		ok, err = s.d.Alerts.DismissCurrent(queue)
	}
	if errors.Is(err, alerts.ErrUnknownQueue) {
		sendError(w, http.StatusNotFound, err.Error())
		return
	}
	sendJSON(w, http.StatusOK, dismissResponse{Dismissed: ok})
}

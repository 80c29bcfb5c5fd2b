// Package alerts owns the three presentation queues: errors, ticker toasts
// and modal dialogs. They share the alertq engine and differ only in payload
// and side effects.
package alerts

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"tickerwatch/internal/alertq"
	"tickerwatch/internal/clock"
	logx "tickerwatch/pkg/logx"
)

const (
	QueueErrors  = "errors"
	QueueToasts  = "toasts"
	QueueDialogs = "dialogs"
)

var ErrUnknownQueue = errors.New("unknown alert queue")

// PresentationError is an error the user should see.
type PresentationError struct {
	Source  string            `json:"source"`
	Level   string            `json:"level"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// Toast is a transient ticker alert.
type Toast struct {
	Symbol       string `json:"symbol"`
	HighPriority bool   `json:"high_priority"`
	ChartURL     string `json:"chart_url,omitempty"`
}

type Dialog struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type Config struct {
	ToastDuration   time.Duration
	TransitionDelay time.Duration
	MaxBacklog      int
}

type Deps struct {
	Clock clock.Clock
	Log   logx.Logger
	// OnToastShown runs when a toast becomes current (sound hook).
	OnToastShown func(Toast)
	// OnChange receives the name of a queue whose state changed.
	OnChange func(queue string)
}

type Manager struct {
	Errors  *alertq.Queue[PresentationError]
	Toasts  *alertq.Queue[Toast]
	Dialogs *alertq.Queue[Dialog]

	log logx.Logger
}

func New(cfg Config, deps Deps) *Manager {
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	changed := func(name string) {
		if deps.OnChange != nil {
			deps.OnChange(name)
		}
	}
	toastDur := cfg.ToastDuration

	m := &Manager{log: log}
	m.Errors = alertq.New(alertq.Options[PresentationError]{
		Name:            QueueErrors,
		Clock:           deps.Clock,
		Log:             log,
		TransitionDelay: cfg.TransitionDelay,
		MaxBacklog:      cfg.MaxBacklog,
		OnChange:        func(alertq.Snapshot[PresentationError]) { changed(QueueErrors) },
	})
	m.Toasts = alertq.New(alertq.Options[Toast]{
		Name:            QueueToasts,
		Clock:           deps.Clock,
		Log:             log,
		TransitionDelay: cfg.TransitionDelay,
		MaxBacklog:      cfg.MaxBacklog,
		Duration:        func(Toast) time.Duration { return toastDur },
		OnPromote: func(it alertq.Item[Toast]) {
			if deps.OnToastShown != nil {
				deps.OnToastShown(it.Payload)
			}
		},
		OnChange: func(alertq.Snapshot[Toast]) { changed(QueueToasts) },
	})
	m.Dialogs = alertq.New(alertq.Options[Dialog]{
		Name:            QueueDialogs,
		Clock:           deps.Clock,
		Log:             log,
		TransitionDelay: cfg.TransitionDelay,
		MaxBacklog:      cfg.MaxBacklog,
		OnChange:        func(alertq.Snapshot[Dialog]) { changed(QueueDialogs) },
	})
	return m
}

// Report implements logx.Reporter. It never fails: a stopped queue simply
// swallows the record.
func (m *Manager) Report(level, message string, fields map[string]string) {
	src := fields["comp"]
	if src == "" {
		src = "app"
	}
	_, _ = m.Errors.Enqueue(PresentationError{Source: src, Level: level, Message: message, Fields: fields})
}

// ReportError queues err for display under source.
func (m *Manager) ReportError(source string, err error) {
	if err == nil {
		return
	}
	_, _ = m.Errors.Enqueue(PresentationError{Source: source, Level: "error", Message: err.Error()})
}

func (m *Manager) ShowDialog(title, body string) {
	_, _ = m.Dialogs.Enqueue(Dialog{Title: title, Body: body})
}

// Snapshots is the JSON view of all three queues.
type Snapshots struct {
	Errors  alertq.Snapshot[PresentationError] `json:"errors"`
	Toasts  alertq.Snapshot[Toast]             `json:"toasts"`
	Dialogs alertq.Snapshot[Dialog]            `json:"dialogs"`
}

func (m *Manager) Snapshot() Snapshots {
	return Snapshots{
		Errors:  m.Errors.Snapshot(),
		Toasts:  m.Toasts.Snapshot(),
		Dialogs: m.Dialogs.Snapshot(),
	}
}

// DismissCurrent dismisses the current item of the named queue.
func (m *Manager) DismissCurrent(queue string) (bool, error) {
	switch strings.ToLower(queue) {
	case QueueErrors:
		return m.Errors.DismissCurrent(), nil
	case QueueToasts:
		return m.Toasts.DismissCurrent(), nil
	case QueueDialogs:
		return m.Dialogs.DismissCurrent(), nil
	}
	return false, fmt.Errorf("%w: %q", ErrUnknownQueue, queue)
}

// Dismiss removes one item by id from the named queue.
func (m *Manager) Dismiss(queue, id string) (bool, error) {
	switch strings.ToLower(queue) {
	case QueueErrors:
		return m.Errors.Dismiss(id), nil
	case QueueToasts:
		return m.Toasts.Dismiss(id), nil
	case QueueDialogs:
		return m.Dialogs.Dismiss(id), nil
	}
	return false, fmt.Errorf("%w: %q", ErrUnknownQueue, queue)
}

func Names() []string {
	n := []string{QueueErrors, QueueToasts, QueueDialogs}
	sort.Strings(n)
	return n
}

func (m *Manager) Stop() {
	m.Errors.Stop()
	m.Toasts.Stop()
	m.Dialogs.Stop()
}

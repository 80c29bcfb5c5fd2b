package notifier

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

// Notification is one ticker alert, ready for delivery.
type Notification struct {
	Symbol       string    `json:"symbol"`
	HighPriority bool      `json:"high_priority"`
	ChartURL     string    `json:"chart_url,omitempty"`
	At           time.Time `json:"at"`
}

// Title is the headline every deliverer shows. It always contains the symbol.
func (n Notification) Title() string {
	if n.HighPriority {
		return "🚨 " + n.Symbol
	}
	return "📈 " + n.Symbol
}

func (n Notification) Body() string {
	if n.HighPriority {
		return n.Symbol + " flagged as high priority"
	}
	return n.Symbol + " mentioned"
}

// Deliverer is an output channel (desktop, Telegram, ...).
type Deliverer interface {
	Name() string
	Deliver(ctx context.Context, n Notification) error
}

// Snoozer is what the "snooze" action calls.
type Snoozer interface {
	SetSnooze(ctx context.Context, symbol string, snoozed bool) error
}

// ChartURL expands a chart template. "{symbol}" is the only placeholder.
func ChartURL(template, symbol string) string {
	if template == "" {
		return ""
	}
	return strings.ReplaceAll(template, "{symbol}", symbol)
}

type Config struct {
	Enabled     bool
	Workers     int
	QueueSize   int
	RatePerSec  int
	SendTimeout time.Duration
}

// DeliveryEvent is published on the bus for every delivery attempt.
type DeliveryEvent struct {
	Symbol    string    `json:"symbol"`
	Deliverer string    `json:"deliverer,omitempty"`
	At        time.Time `json:"at"`
	Error     string    `json:"error,omitempty"`
}

const (
	EventQueued  = "delivery.queued"
	EventSent    = "delivery.sent"
	EventFailed  = "delivery.failed"
	EventDropped = "delivery.dropped"
)

type HistoryItem struct {
	At        time.Time `json:"at"`
	Symbol    string    `json:"symbol"`
	Deliverer string    `json:"deliverer"`
	Error     string    `json:"error,omitempty"`
}

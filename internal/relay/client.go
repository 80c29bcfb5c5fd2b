// Package relay forwards ticker events to the local notification server.
//
// Relays are fire-and-forget: a failure is logged and the event dropped.
// Nothing is retried or queued.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"tickerwatch/internal/config"
	"tickerwatch/internal/ticker"
	logx "tickerwatch/pkg/logx"
)

// PortSource is the external store the port is read from on a cache miss.
type PortSource interface {
	NotifyPort() int
}

type Options struct {
	// Timeout bounds one relay call. Zero uses DefaultTimeout.
	Timeout time.Duration
	// Host defaults to 127.0.0.1.
	Host string
	// HTTPClient overrides the transport (tests).
	HTTPClient *http.Client
}

const DefaultTimeout = 5 * time.Second

type Stats struct {
	Sent   uint64 `json:"sent"`
	Failed uint64 `json:"failed"`
}

type Client struct {
	log  logx.Logger
	src  PortSource
	hc   *http.Client
	host string

	// port caches the resolved port; 0 means miss.
	port atomic.Int64

	inflight sync.WaitGroup
	sent     atomic.Uint64
	failed   atomic.Uint64
}

func New(src PortSource, log logx.Logger, opts Options) *Client {
	if log.IsZero() {
		log = logx.Nop()
	}
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	host := opts.Host
	if host == "" {
		host = "127.0.0.1"
	}
	return &Client{log: log, src: src, hc: hc, host: host}
}

// Port returns the cached port, reading through to the PortSource on a miss.
func (c *Client) Port() int {
	if p := c.port.Load(); p != 0 {
		return int(p)
	}
	p := config.DefaultPort
	if c.src != nil {
		p = config.ValidPortOr(c.src.NotifyPort(), config.DefaultPort)
	}
	c.port.Store(int64(p))
	return p
}

// SetPort updates the cache. Out-of-range values store the default port.
// Concurrent writers race; the last one wins.
func (c *Client) SetPort(p int) {
	c.port.Store(int64(config.ValidPortOr(p, config.DefaultPort)))
}

// Invalidate forces the next Port call to consult the PortSource.
func (c *Client) Invalidate() { c.port.Store(0) }

// Watch applies config change notifications to the port cache until ctx is
// done or updates is closed.
func (c *Client) Watch(ctx context.Context, updates <-chan *config.Config) {
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-updates:
			if !ok {
				return
			}
			prev := c.port.Load()
			c.SetPort(cfg.NotifyPort())
			if next := c.port.Load(); next != prev {
				c.log.Info("relay port updated", logx.Int64("from", prev), logx.Int64("to", next))
			}
		}
	}
}

// Relay posts ev in the background and returns immediately.
func (c *Client) Relay(ev ticker.Event) {
	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		if err := c.Send(context.Background(), ev); err != nil {
			c.log.Warn("relay failed; dropped",
				logx.String("symbol", ev.Symbol),
				logx.Bool("high_priority", ev.HighPriority),
				logx.Err(err),
			)
		}
	}()
}

// Send performs one relay call synchronously.
func (c *Client) Send(ctx context.Context, ev ticker.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	url := "http://" + c.host + ":" + strconv.Itoa(c.Port()) + "/notify"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		c.failed.Add(1)
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.failed.Add(1)
		return fmt.Errorf("relay %s: status %d", url, resp.StatusCode)
	}
	c.sent.Add(1)
	c.log.Debug("relayed", logx.String("symbol", ev.Symbol), logx.Bool("high_priority", ev.HighPriority))
	return nil
}

// Wait blocks until in-flight relays finish or ctx is done.
func (c *Client) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) Stats() Stats {
	return Stats{Sent: c.sent.Load(), Failed: c.failed.Load()}
}

package snooze

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"tickerwatch/internal/clock"
	"tickerwatch/internal/config"
	"tickerwatch/internal/storage"
	logx "tickerwatch/pkg/logx"
)

const dayLayout = "2006-01-02"

// Scheduler clears the store once per day at or after a wall-clock time.
//
// The last cleared day is persisted, so a restart after the configured time
// catches up exactly once and a restart before it waits. Besides the exact
// cron entry, a minute tick re-checks so a host that slept through the
// trigger still clears when it wakes.
type Scheduler struct {
	store *Store
	kv    storage.Store
	clk   clock.Clock
	log   logx.Logger

	// OnClear runs after a scheduled clear (not after manual ones).
	OnClear func(cleared int)

	mu      sync.Mutex
	enabled bool
	hour    int
	minute  int
	loc     *time.Location
	lastDay string
	loaded  bool
	c       *cron.Cron
	parser  cron.Parser
}

func NewScheduler(store *Store, kv storage.Store, clk clock.Clock, log logx.Logger) *Scheduler {
	if clk == nil {
		clk = clock.Real()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if kv == nil {
		kv = store.kv
	}
	return &Scheduler{
		store:  store,
		kv:     kv,
		clk:    clk,
		log:    log,
		loc:    time.Local,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Apply sets the daily clear time ("HH:MM", empty disables) and timezone.
// A running scheduler is restarted with the new entries.
func (s *Scheduler) Apply(cfg config.SnoozeConfig) error {
	clearAt := strings.TrimSpace(cfg.ClearAt)
	var h, m int
	if clearAt != "" {
		var err error
		if h, m, err = config.ParseClock("snooze.clear_at", clearAt); err != nil {
			return err
		}
	}
	loc, err := config.LoadLocation("snooze.timezone", cfg.Timezone)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	changed := s.enabled != (clearAt != "") || s.hour != h || s.minute != m || s.loc.String() != loc.String()
	s.enabled, s.hour, s.minute, s.loc = clearAt != "", h, m, loc
	if changed && s.c != nil {
		s.restartLocked()
	}
	return nil
}

// Start loads the last cleared day, catches up if today's clear is overdue
// and starts the cron triggers.
func (s *Scheduler) Start(ctx context.Context) {
	s.loadLastDay(ctx)
	s.Check(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.restartLocked()
}

// Stop halts the cron triggers and waits for a running check to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

func (s *Scheduler) restartLocked() {
	if s.c != nil {
		// Entries only call Check, which takes s.mu briefly; do not wait here.
		s.c.Stop()
	}
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	if !s.enabled {
		s.log.Info("daily snooze clear disabled")
		return
	}
	job := cron.FuncJob(func() { s.Check(context.Background()) })
	spec := fmt.Sprintf("%d %d * * *", s.minute, s.hour)
	if _, err := s.c.AddJob(spec, job); err != nil {
		s.log.Error("daily snooze clear not scheduled", logx.String("spec", spec), logx.Err(err))
		return
	}
	_, _ = s.c.AddJob("@every 1m", job)
	s.c.Start()
	s.log.Info("daily snooze clear scheduled",
		logx.String("at", fmt.Sprintf("%02d:%02d", s.hour, s.minute)),
		logx.String("tz", s.loc.String()),
	)
}

// Check clears the store if today's clear time has passed and today has not
// been cleared yet. It reports whether a clear happened.
func (s *Scheduler) Check(ctx context.Context) bool {
	s.mu.Lock()
	if !s.enabled {
		s.mu.Unlock()
		return false
	}
	now := s.clk.Now().In(s.loc)
	today := now.Format(dayLayout)
	due := time.Date(now.Year(), now.Month(), now.Day(), s.hour, s.minute, 0, 0, s.loc)
	if now.Before(due) || s.lastDay == today {
		s.mu.Unlock()
		return false
	}
	s.lastDay = today
	s.mu.Unlock()

	cleared := len(s.store.List())
	if err := s.store.ClearAll(ctx, "daily"); err != nil {
		s.log.Warn("daily snooze clear not persisted", logx.Err(err))
	}
	if err := s.kv.Put(ctx, KeyLastClear, []byte(`"`+today+`"`)); err != nil {
		s.log.Warn("last clear day not persisted", logx.Err(err))
	}
	if s.OnClear != nil {
		s.OnClear(cleared)
	}
	return true
}

// LastDay returns the last day (YYYY-MM-DD, scheduler timezone) a scheduled
// clear ran.
func (s *Scheduler) LastDay() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastDay
}

func (s *Scheduler) loadLastDay(ctx context.Context) {
	s.mu.Lock()
	if s.loaded {
		s.mu.Unlock()
		return
	}
	s.loaded = true
	s.mu.Unlock()

	raw, ok, err := s.kv.Get(ctx, KeyLastClear)
	if err != nil {
		s.log.Warn("last clear day unavailable", logx.Err(err))
		return
	}
	if !ok {
		return
	}
	day := strings.Trim(string(raw), "\" \n")
	if _, err := time.Parse(dayLayout, day); err != nil {
		s.log.Warn("last clear day corrupt; ignoring", logx.String("value", day))
		return
	}
	s.mu.Lock()
	s.lastDay = day
	s.mu.Unlock()
}

package alerts

import (
	"errors"
	"testing"
	"time"

	"tickerwatch/internal/clock"
	logx "tickerwatch/pkg/logx"
)

func TestToastsAutoDismissAndNotifyPromotion(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	var shown []string
	var changes int
	m := New(Config{ToastDuration: 6 * time.Second, TransitionDelay: 300 * time.Millisecond}, Deps{
		Clock:        clk,
		OnToastShown: func(ts Toast) { shown = append(shown, ts.Symbol) },
		OnChange:     func(string) { changes++ },
	})

	_, _ = m.Toasts.Enqueue(Toast{Symbol: "TSLA"})
	_, _ = m.Toasts.Enqueue(Toast{Symbol: "GME"})
	if len(shown) != 1 || shown[0] != "TSLA" {
		t.Fatalf("shown = %v", shown)
	}

	clk.Advance(6*time.Second + 300*time.Millisecond)
	if len(shown) != 2 || shown[1] != "GME" {
		t.Fatalf("shown = %v", shown)
	}
	if changes == 0 {
		t.Fatal("OnChange never called")
	}
}

func TestErrorsAndDialogsStayUntilDismissed(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	m := New(Config{ToastDuration: time.Second}, Deps{Clock: clk})

	m.Report("error", "relay port busy", map[string]string{"comp": "server"})
	m.ReportError("feed", errors.New("dial refused"))
	m.ShowDialog("Snoozes cleared", "Daily clear ran")

	clk.Advance(time.Hour)
	snap := m.Snapshot()
	if snap.Errors.Current == nil || snap.Errors.Current.Payload.Source != "server" {
		t.Fatalf("errors current = %+v", snap.Errors.Current)
	}
	if len(snap.Errors.Backlog) != 1 || snap.Errors.Backlog[0].Payload.Message != "dial refused" {
		t.Fatalf("errors backlog = %+v", snap.Errors.Backlog)
	}
	if snap.Dialogs.Current == nil || snap.Dialogs.Current.Payload.Title != "Snoozes cleared" {
		t.Fatalf("dialogs current = %+v", snap.Dialogs.Current)
	}
}

func TestDismissByQueueName(t *testing.T) {
	m := New(Config{}, Deps{Clock: clock.NewManual(time.Unix(0, 0))})
	m.ShowDialog("a", "b")

	ok, err := m.DismissCurrent("Dialogs")
	if err != nil || !ok {
		t.Fatalf("DismissCurrent = %v, %v", ok, err)
	}
	if _, err := m.DismissCurrent("popups"); !errors.Is(err, ErrUnknownQueue) {
		t.Fatalf("unknown queue err = %v", err)
	}
	if _, err := m.Dismiss("popups", "x"); !errors.Is(err, ErrUnknownQueue) {
		t.Fatalf("unknown queue err = %v", err)
	}
}

func TestReporterSurvivesBacklogOverflow(t *testing.T) {
	svc, log := logx.New(logx.Config{Level: "warn", Alerts: logx.AlertsConfig{Enabled: true, MinLevel: "warn", RatePerSec: 10}})
	t.Cleanup(func() { _ = svc.Close() })
	m := New(Config{MaxBacklog: 1}, Deps{
		Clock: clock.NewManual(time.Unix(0, 0)),
		Log:   svc.QuietLogger(),
	})
	svc.SetReporter(m)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, msg := range []string{"relay down", "feed down", "disk full"} {
			log.Warn(msg)
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Warn deadlocked on the error queue")
	}

	snap := m.Snapshot().Errors
	if snap.Current == nil || snap.Current.Payload.Message != "relay down" {
		t.Fatalf("current = %+v", snap.Current)
	}
	// The overflow warning goes through the quiet logger and is not queued.
	if len(snap.Backlog) != 1 || snap.Backlog[0].Payload.Message != "disk full" || snap.Dropped != 1 {
		t.Fatalf("backlog = %+v, dropped = %d", snap.Backlog, snap.Dropped)
	}
}

package logx

import (
	"bytes"
	"strings"
	"sync"
	"testing"
)

type recordingReporter struct {
	mu   sync.Mutex
	msgs []string
	lvls []string
}

func (r *recordingReporter) Report(level, message string, fields map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lvls = append(r.lvls, level)
	r.msgs = append(r.msgs, message+"|"+fields["comp"])
}

func TestAlertSinkReportsAtMinLevel(t *testing.T) {
	svc, log := New(Config{Level: "debug", Alerts: AlertsConfig{Enabled: true, MinLevel: "warn", RatePerSec: 100}})
	t.Cleanup(func() { _ = svc.Close() })

	rep := &recordingReporter{}
	svc.SetReporter(rep)

	l := log.With(String("comp", "relay"))
	l.Info("not reported")
	l.Warn("port unreachable")
	l.Error("server failed")

	rep.mu.Lock()
	defer rep.mu.Unlock()
	if len(rep.msgs) != 2 {
		t.Fatalf("reported %d records, want 2: %v", len(rep.msgs), rep.msgs)
	}
	if rep.msgs[0] != "port unreachable|relay" || rep.lvls[0] != "warn" {
		t.Fatalf("unexpected first report %q (%s)", rep.msgs[0], rep.lvls[0])
	}
}

func TestAlertSinkRateLimited(t *testing.T) {
	svc, log := New(Config{Level: "info", Alerts: AlertsConfig{Enabled: true, MinLevel: "error", RatePerSec: 1}})
	t.Cleanup(func() { _ = svc.Close() })

	rep := &recordingReporter{}
	svc.SetReporter(rep)
	for i := 0; i < 5; i++ {
		log.Error("storm")
	}

	rep.mu.Lock()
	defer rep.mu.Unlock()
	if len(rep.msgs) != 1 {
		t.Fatalf("reported %d records, want 1 (burst=1)", len(rep.msgs))
	}
}

func TestQuietLoggerSkipsReporter(t *testing.T) {
	svc, log := New(Config{Level: "debug", Alerts: AlertsConfig{Enabled: true, MinLevel: "warn", RatePerSec: 100}})
	t.Cleanup(func() { _ = svc.Close() })

	rep := &recordingReporter{}
	svc.SetReporter(rep)
	svc.QuietLogger().With(String("comp", "alerts")).Error("backlog full")
	log.Error("relay down")

	rep.mu.Lock()
	defer rep.mu.Unlock()
	if len(rep.msgs) != 1 || rep.msgs[0] != "relay down|" {
		t.Fatalf("reported %v, want only the regular logger's record", rep.msgs)
	}
	if !svc.QuietLogger().Enabled(LevelDebug) {
		t.Fatal("quiet logger should share the configured level")
	}
}

func TestNopAndZeroLoggerAreSafe(t *testing.T) {
	var zero Logger
	if !zero.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	zero.Info("dropped")
	Nop().Error("dropped")
}

func TestWriterLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "test"))
	log.Debug("hello", Int("n", 3), Bool("ok", true))

	out := buf.String()
	for _, want := range []string{`"comp":"test"`, `"n":3`, `"ok":true`, `"message":"hello"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("output %q missing %s", out, want)
		}
	}
}

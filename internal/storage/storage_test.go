package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	logx "tickerwatch/pkg/logx"
)

func TestStoreDrivers(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name     string
		cfg      Config
		persists bool
	}{
		{name: "memory", cfg: Config{Driver: "memory"}},
		{name: "file", cfg: Config{Driver: "file", Path: filepath.Join(dir, "state.json")}, persists: true},
		{name: "sqlite", cfg: Config{Driver: "sqlite", Path: filepath.Join(dir, "state.db")}, persists: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			st, err := Open(tt.cfg, logx.Nop())
			if err != nil {
				t.Fatalf("Open: %v", err)
			}

			if _, ok, err := st.Get(ctx, "snooze.list"); err != nil || ok {
				t.Fatalf("Get on empty store = ok:%v err:%v", ok, err)
			}
			if err := st.Put(ctx, "snooze.list", []byte(`["GME"]`)); err != nil {
				t.Fatalf("Put: %v", err)
			}
			if err := st.Put(ctx, "snooze.list", []byte(`["GME","AMC"]`)); err != nil {
				t.Fatalf("Put overwrite: %v", err)
			}
			if err := st.Put(ctx, "other", []byte(`1`)); err != nil {
				t.Fatalf("Put other: %v", err)
			}
			if err := st.Delete(ctx, "other"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if err := st.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}

			if !tt.persists {
				return
			}
			st2, err := Open(tt.cfg, logx.Nop())
			if err != nil {
				t.Fatalf("reopen: %v", err)
			}
			defer st2.Close()
			v, ok, err := st2.Get(ctx, "snooze.list")
			if err != nil || !ok {
				t.Fatalf("Get after reopen = ok:%v err:%v", ok, err)
			}
			if string(v) != `["GME","AMC"]` {
				t.Fatalf("value after reopen = %s", v)
			}
			if _, ok, _ := st2.Get(ctx, "other"); ok {
				t.Fatal("deleted key survived reopen")
			}
		})
	}
}

func TestFileStoreRejectsNonJSON(t *testing.T) {
	st, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "s.json")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()
	if err := st.Put(context.Background(), "k", []byte("not json")); !errors.Is(err, ErrNotJSON) {
		t.Fatalf("Put err = %v, want ErrNotJSON", err)
	}
}

func TestFileStoreCorruptSnapshotStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.json")
	if err := os.WriteFile(path, []byte("{broken"), 0o600); err != nil {
		t.Fatal(err)
	}
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open should tolerate corrupt snapshot: %v", err)
	}
	defer st.Close()
	if _, ok, _ := st.Get(context.Background(), "anything"); ok {
		t.Fatal("expected empty store")
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestClosedMemoryStore(t *testing.T) {
	st := NewMemory()
	_ = st.Close()
	if err := st.Put(context.Background(), "k", []byte("1")); !errors.Is(err, ErrClosed) {
		t.Fatalf("Put after close = %v", err)
	}
}

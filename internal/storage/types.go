package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")
	// ErrNotJSON is returned by the file driver, which keeps one JSON document.
	ErrNotJSON = errors.New("storage value is not valid JSON")
)

// Store is the key-value API used by services. Values are opaque bytes;
// callers own the encoding (JSON in practice).
type Store interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Config configures storage.
//
// If Driver is empty or "memory", an in-memory store is used.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

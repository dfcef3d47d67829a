package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")
)

const defaultMaxEntries = 10000

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines next to Path
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	MaxEntries  int           // 0 means default
}

// Entry is one journal record.
type Entry struct {
	ID        string    `json:"id"`
	At        time.Time `json:"at"`
	Tag       string    `json:"tag"`
	Kind      string    `json:"kind"`
	Event     string    `json:"event"`
	Remaining int64     `json:"remaining,omitempty"`
	Fires     uint64    `json:"fires,omitempty"`
	Hook      string    `json:"hook,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Query selects entries for Recent. An empty Tag matches every task.
type Query struct {
	Tag   string
	Limit int
}

func (q Query) limit() int {
	if q.Limit <= 0 {
		return 50
	}
	return q.Limit
}

// Store is the journal API.
type Store interface {
	Append(ctx context.Context, e Entry) error
	// Recent returns matching entries, newest first.
	Recent(ctx context.Context, q Query) ([]Entry, error)
	Close() error
}

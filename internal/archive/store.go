// SPDX-License-Identifier: MIT

// Package archive keeps a durable record of finalized sessions. It is
// write-once per session and never feeds back into live coordination
// state; the registry stays authoritative for in-flight work.
package archive

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound signals a lookup for a session never archived.
var ErrNotFound = errors.New("archive: not found")

// Entry is the durable summary of one finalized session.
type Entry struct {
	SessionID        string    `json:"session_id"`
	StartTime        time.Time `json:"start_time"`
	FinalizedAt      time.Time `json:"finalized_at"`
	Trigger          string    `json:"trigger"` // timeout|proactive|stop|shutdown
	ImagesProcessed  int       `json:"images_processed"`
	UniqueCategories []string  `json:"unique_categories"`
	TotalObjects     int       `json:"total_objects"`
	OverBudget       bool      `json:"over_budget"`
	ReportPath       string    `json:"report_path"`
	ReportWritten    bool      `json:"report_written"`
}

// Store is the archive backend. Put is idempotent on session id: the
// first archived entry wins, matching at-most-once finalization.
type Store interface {
	Put(ctx context.Context, e Entry) error
	Get(ctx context.Context, sessionID string) (*Entry, error)
	List(ctx context.Context) ([]Entry, error)
	Close() error
}

// Open creates a Store for the configured backend.
func Open(backend, path string) (Store, error) {
	switch backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return NewSqliteStore(path)
	default:
		return nil, fmt.Errorf("unknown archive backend: %s", backend)
	}
}

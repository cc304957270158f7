// Package store persists sources, probe results and pattern history.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

// ErrNotFound signals that no source exists for the requested id.
var ErrNotFound = errors.New("source not found")

// Store is the durable source of truth for scheduler state.
type Store interface {
	// UpsertSource inserts or fully replaces the row keyed by source id.
	UpsertSource(ctx context.Context, src models.Source) error
	GetSource(ctx context.Context, id string) (models.Source, error)
	ListSources(ctx context.Context) ([]models.Source, error)
	// DueSources returns enabled sources with a next check at or before now, oldest first.
	DueSources(ctx context.Context, now time.Time) ([]models.Source, error)
	// CommitProbe writes one reconciliation step atomically. Only the scheduling state
	// of the source is updated so configuration edits made during the probe survive.
	// It returns ErrNotFound when the source no longer exists.
	CommitProbe(ctx context.Context, commit models.Commit) error
	RecentResults(ctx context.Context, sourceID string, limit int) ([]models.ProbeResult, error)
	PatternHistory(ctx context.Context, sourceID string, limit int) ([]models.PatternSnapshot, error)
	// Prune deletes probe results and pattern history older than before.
	Prune(ctx context.Context, before time.Time) (int64, error)
	Close() error
}

// Options selects a backend.
type Options struct {
	Driver        string
	DataDirectory string
	DSN           string
}

// Open returns the Store implementation named by opts.Driver.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Driver {
	case "", "memory":
		return NewMemory(), nil
	case "duckdb":
		return NewDuckDB(ctx, opts.DataDirectory)
	case "postgres":
		return NewPostgres(ctx, opts.DSN)
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
}

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
)

func normaliseLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultHistoryLimit
	case limit > maxHistoryLimit:
		return maxHistoryLimit
	}
	return limit
}

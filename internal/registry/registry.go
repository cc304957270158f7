// Package registry owns the set of monitored sources and their scheduling state.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/models"
	"github.com/miradorstack/mirador-sentinel/internal/store"
)

// ErrInvalidSource is returned when a source fails validation.
var ErrInvalidSource = errors.New("invalid source")

// ErrNotFound is returned for operations on unknown source ids.
var ErrNotFound = store.ErrNotFound

// Registry validates sources and persists them through a store.Store.
type Registry struct {
	store  store.Store
	logger *slog.Logger
	now    func() time.Time

	// onChange is signalled after any write that may move a next check earlier.
	onChange func()
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithChangeHook registers a callback fired after registrations and triggers.
func WithChangeHook(fn func()) Option {
	return func(r *Registry) { r.onChange = fn }
}

// New builds a Registry over st.
func New(st store.Store, logger *slog.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{store: st, logger: logger, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetChangeHook replaces the change callback. It must be called before the registry is shared.
func (r *Registry) SetChangeHook(fn func()) {
	r.onChange = fn
}

// Register inserts or replaces a source's configuration. Existing scheduling state is
// preserved unless the caller supplies state of its own; a source seen for the first
// time is scheduled for an immediate check.
func (r *Registry) Register(ctx context.Context, src models.Source) (models.Source, error) {
	src, err := normalise(src)
	if err != nil {
		return models.Source{}, err
	}

	existing, err := r.store.GetSource(ctx, src.ID)
	switch {
	case err == nil:
		if src.SourceState.IsZero() {
			// Freshness weight is configuration; everything else in the state is carried over.
			weight := src.DataFreshnessWeight
			src.SourceState = existing.SourceState
			src.DataFreshnessWeight = weight
		}
	case errors.Is(err, store.ErrNotFound):
		if src.SourceState.IsZero() {
			src.SuccessRate = 1
			src.NextCheck = models.TimePtr(r.now())
		}
	default:
		return models.Source{}, fmt.Errorf("lookup source %s: %w", src.ID, err)
	}

	if err := r.store.UpsertSource(ctx, src); err != nil {
		return models.Source{}, fmt.Errorf("register source %s: %w", src.ID, err)
	}
	r.logger.Info("source registered",
		slog.String("source_id", src.ID),
		slog.String("type", string(src.Type)),
		slog.String("frequency", string(src.Frequency)),
	)
	r.changed()
	return src, nil
}

// LoadStatic registers every source declared in configuration, stopping at the first error.
func (r *Registry) LoadStatic(ctx context.Context, sources []models.Source) error {
	for _, src := range sources {
		if _, err := r.Register(ctx, src); err != nil {
			return err
		}
	}
	return nil
}

// DueSources returns enabled sources whose next check is at or before now.
func (r *Registry) DueSources(ctx context.Context, now time.Time) ([]models.Source, error) {
	return r.store.DueSources(ctx, now)
}

// Get returns a single source.
func (r *Registry) Get(ctx context.Context, id string) (models.Source, error) {
	return r.store.GetSource(ctx, id)
}

// List returns every registered source.
func (r *Registry) List(ctx context.Context) ([]models.Source, error) {
	return r.store.ListSources(ctx)
}

// Enable resumes scheduling for a source. A source without a pending check is due immediately.
func (r *Registry) Enable(ctx context.Context, id string) (models.Source, error) {
	return r.update(ctx, id, func(src *models.Source) {
		src.Enabled = true
		if src.NextCheck == nil {
			src.NextCheck = models.TimePtr(r.now())
		}
	})
}

// Disable stops scheduling a source without deleting its history.
func (r *Registry) Disable(ctx context.Context, id string) (models.Source, error) {
	return r.update(ctx, id, func(src *models.Source) {
		src.Enabled = false
	})
}

// TriggerNow makes a source due on the next tick.
func (r *Registry) TriggerNow(ctx context.Context, id string) (models.Source, error) {
	return r.update(ctx, id, func(src *models.Source) {
		src.NextCheck = models.TimePtr(r.now())
	})
}

func (r *Registry) update(ctx context.Context, id string, mutate func(*models.Source)) (models.Source, error) {
	src, err := r.store.GetSource(ctx, id)
	if err != nil {
		return models.Source{}, err
	}
	mutate(&src)
	if err := r.store.UpsertSource(ctx, src); err != nil {
		return models.Source{}, fmt.Errorf("update source %s: %w", id, err)
	}
	r.changed()
	return src, nil
}

func (r *Registry) changed() {
	if r.onChange != nil {
		r.onChange()
	}
}

func normalise(src models.Source) (models.Source, error) {
	if src.ID == "" {
		return models.Source{}, fmt.Errorf("%w: source id is required", ErrInvalidSource)
	}
	if !src.Type.Valid() {
		return models.Source{}, fmt.Errorf("%w: source %s has unknown type %q", ErrInvalidSource, src.ID, src.Type)
	}
	tier, err := models.ParseFrequencyTier(string(src.Frequency))
	if err != nil {
		return models.Source{}, fmt.Errorf("%w: source %s: %v", ErrInvalidSource, src.ID, err)
	}
	src.Frequency = tier
	if src.DataFreshnessWeight < 0 {
		return models.Source{}, fmt.Errorf("%w: source %s freshness weight must be positive", ErrInvalidSource, src.ID)
	}
	if src.DataFreshnessWeight == 0 {
		src.DataFreshnessWeight = 1
	}
	if src.Name == "" {
		src.Name = src.ID
	}
	return src.Clone(), nil
}

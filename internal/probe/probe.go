// Package probe dispatches checks to type-specific probers and normalises their outcomes.
package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

// Prober checks a single source. Implementations must honour ctx cancellation.
type Prober interface {
	Probe(ctx context.Context, src models.Source) (models.ProbeResult, error)
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context, src models.Source) (models.ProbeResult, error)

// Probe implements Prober.
func (f ProberFunc) Probe(ctx context.Context, src models.Source) (models.ProbeResult, error) {
	return f(ctx, src)
}

// ErrNoProber is reported when no prober is registered for a source type.
var ErrNoProber = errors.New("no prober registered")

// Dispatcher selects a prober by source type. Dispatch never fails: every error,
// panic or timeout is folded into an unsuccessful ProbeResult.
type Dispatcher struct {
	logger  *slog.Logger
	timeout time.Duration
	now     func() time.Time

	mu      sync.RWMutex
	probers map[models.SourceType]Prober
}

// NewDispatcher creates a dispatcher. A timeout of zero leaves probes unbounded.
func NewDispatcher(logger *slog.Logger, timeout time.Duration) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		logger:  logger,
		timeout: timeout,
		now:     func() time.Time { return time.Now().UTC() },
		probers: make(map[models.SourceType]Prober),
	}
}

// Register installs p for sources of type t, replacing any previous prober.
func (d *Dispatcher) Register(t models.SourceType, p Prober) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.probers[t] = p
}

// Types lists the source types with a registered prober.
func (d *Dispatcher) Types() []models.SourceType {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]models.SourceType, 0, len(d.probers))
	for _, t := range models.SourceTypes {
		if _, ok := d.probers[t]; ok {
			out = append(out, t)
		}
	}
	return out
}

type outcome struct {
	result models.ProbeResult
	err    error
}

// Dispatch probes src and returns a fully stamped result.
func (d *Dispatcher) Dispatch(ctx context.Context, src models.Source) models.ProbeResult {
	start := d.now()

	d.mu.RLock()
	prober, ok := d.probers[src.Type]
	d.mu.RUnlock()
	if !ok {
		return d.stamp(src, models.FailedResult(src, fmt.Sprintf("%v for source type %q", ErrNoProber, src.Type)), start)
	}

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("prober panicked", slog.String("source_id", src.ID), slog.Any("panic", r))
				done <- outcome{err: fmt.Errorf("prober panic: %v", r)}
			}
		}()
		result, err := prober.Probe(ctx, src.Clone())
		done <- outcome{result: result, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-ctx.Done():
		out = outcome{err: fmt.Errorf("probe aborted: %w", ctx.Err())}
	}

	if out.err != nil {
		d.logger.Warn("probe failed",
			slog.String("source_id", src.ID),
			slog.String("type", string(src.Type)),
			slog.Any("error", out.err),
		)
		failed := models.FailedResult(src, out.err.Error())
		failed.DataPoints = out.result.DataPoints
		return d.stamp(src, failed, start)
	}
	return d.stamp(src, out.result, start)
}

func (d *Dispatcher) stamp(src models.Source, result models.ProbeResult, start time.Time) models.ProbeResult {
	result.ID = uuid.NewString()
	result.SourceID = src.ID
	result.SourceType = src.Type
	result.Timestamp = start
	if result.ProcessingTime <= 0 {
		result.ProcessingTime = d.now().Sub(start).Seconds()
	}
	if !result.Success && result.ErrorMessage == nil {
		msg := "probe reported failure"
		result.ErrorMessage = &msg
	}
	result.NextCheckRecommended = nil
	return result
}

// Package alerts evaluates probe outcomes against thresholds and hands alerts to notifiers.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

// Notifier delivers an alert to an external system.
type Notifier interface {
	Notify(ctx context.Context, alert models.Alert) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, alert models.Alert) error

// Notify implements Notifier.
func (f NotifierFunc) Notify(ctx context.Context, alert models.Alert) error {
	return f(ctx, alert)
}

// Dispatcher fans alerts out to every notifier without blocking the caller.
type Dispatcher struct {
	notifiers []Notifier
	timeout   time.Duration
	logger    *slog.Logger
	onFailure func()

	wg sync.WaitGroup
}

// NewDispatcher builds a dispatcher. Each delivery is bounded by timeout when positive.
func NewDispatcher(logger *slog.Logger, timeout time.Duration, notifiers ...Notifier) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{notifiers: notifiers, timeout: timeout, logger: logger}
}

// OnFailure registers a callback fired once per failed delivery.
func (d *Dispatcher) OnFailure(fn func()) {
	d.onFailure = fn
}

// Dispatch delivers alerts asynchronously. Delivery errors and panics are logged only.
func (d *Dispatcher) Dispatch(alerts ...models.Alert) {
	for _, alert := range alerts {
		for _, n := range d.notifiers {
			d.wg.Add(1)
			go d.deliver(n, alert)
		}
	}
}

func (d *Dispatcher) deliver(n Notifier, alert models.Alert) {
	defer d.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			d.failed(alert, fmt.Errorf("notifier panic: %v", r))
		}
	}()

	ctx := context.Background()
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	if err := n.Notify(ctx, alert); err != nil {
		d.failed(alert, err)
	}
}

func (d *Dispatcher) failed(alert models.Alert, err error) {
	d.logger.Warn("alert delivery failed",
		slog.String("source_id", alert.SourceID),
		slog.String("title", alert.Title),
		slog.Any("error", err),
	)
	if d.onFailure != nil {
		d.onFailure()
	}
}

// Wait blocks until every in-flight delivery has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Threshold keys understood in Source.AlertThresholds.
const (
	ThresholdChanges        = "changes_detected"
	ThresholdDataPoints     = "data_points"
	ThresholdProcessingTime = "processing_time"
	ThresholdFailures       = "failure_count"
	ThresholdPriority       = "priority"
)

// Categories attached to generated alerts.
const (
	CategoryPattern   = "pattern"
	CategoryThreshold = "threshold"
)

// ErrInvalidThreshold reports a threshold value that is not numeric.
var ErrInvalidThreshold = errors.New("invalid threshold")

// Evaluate derives the alerts for one reconciled probe. src must already carry the
// updated failure count; pattern may be nil.
func Evaluate(src models.Source, result models.ProbeResult, pattern *models.PatternSnapshot, now time.Time) []models.Alert {
	var out []models.Alert

	if pattern != nil && pattern.Notable() {
		priority := models.PriorityMedium
		title := fmt.Sprintf("Rising %s on %s", pattern.MetricType, displayName(src))
		if pattern.AnomalyDetected {
			priority = models.PriorityHigh
			title = fmt.Sprintf("Anomalous %s on %s", pattern.MetricType, displayName(src))
		}
		out = append(out, models.Alert{
			Title:    title,
			Message:  fmt.Sprintf("trend=%s volatility=%s recommendation=%s", pattern.Trend, pattern.Volatility, pattern.Recommendation),
			Priority: priority,
			Category: CategoryPattern,
			SourceID: src.ID,
			Data: map[string]any{
				"pattern_id":     pattern.ID,
				"value":          pattern.Value,
				"trend":          string(pattern.Trend),
				"volatility":     string(pattern.Volatility),
				"confidence":     pattern.Confidence,
				"recommendation": string(pattern.Recommendation),
			},
			CreatedAt: now,
		})
	}

	observed := map[string]float64{
		ThresholdChanges:        float64(result.ChangesDetected),
		ThresholdDataPoints:     float64(result.DataPoints),
		ThresholdProcessingTime: result.ProcessingTime,
		ThresholdFailures:       float64(src.FailureCount),
	}
	priority := thresholdPriority(src.AlertThresholds)
	for _, key := range []string{ThresholdChanges, ThresholdDataPoints, ThresholdProcessingTime, ThresholdFailures} {
		raw, ok := src.AlertThresholds[key]
		if !ok {
			continue
		}
		limit, err := toFloat(raw)
		if err != nil {
			continue
		}
		if value := observed[key]; value > limit {
			out = append(out, models.Alert{
				Title:    fmt.Sprintf("%s exceeded %s threshold", displayName(src), key),
				Message:  fmt.Sprintf("%s=%g exceeds %g", key, value, limit),
				Priority: priority,
				Category: CategoryThreshold,
				SourceID: src.ID,
				Data: map[string]any{
					"metric":      key,
					"value":       value,
					"threshold":   limit,
					"result_id":   result.ID,
					"source_type": string(src.Type),
				},
				CreatedAt: now,
			})
		}
	}
	return out
}

func thresholdPriority(thresholds map[string]any) models.Priority {
	if raw, ok := thresholds[ThresholdPriority].(string); ok {
		switch p := models.Priority(raw); p {
		case models.PriorityLow, models.PriorityMedium, models.PriorityHigh, models.PriorityCritical:
			return p
		}
	}
	return models.PriorityMedium
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidThreshold, n)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("%w: %T", ErrInvalidThreshold, v)
	}
}

func displayName(src models.Source) string {
	if src.Name != "" {
		return src.Name
	}
	return src.ID
}

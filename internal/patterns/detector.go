package patterns

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

const (
	// DefaultWindowSize bounds the number of observations kept per source and metric.
	DefaultWindowSize = 20

	minClassifyPoints   = 3
	recentPoints        = 3
	volatilityPoints    = 5
	increaseRatio       = 1.5
	decreaseRatio       = 0.7
	volatilityThreshold = 0.3
)

// Detector classifies trend and volatility over a sliding window per source and metric.
type Detector struct {
	size   int
	logger *slog.Logger

	mu      sync.RWMutex
	windows map[windowKey]*window
}

type windowKey struct {
	sourceID string
	metric   string
}

// NewDetector constructs a Detector. Snapshots are returned to the caller, which owns
// persisting and publishing them.
func NewDetector(logger *slog.Logger, size int) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	if size < volatilityPoints {
		size = DefaultWindowSize
	}
	return &Detector{
		size:    size,
		logger:  logger,
		windows: make(map[windowKey]*window),
	}
}

// Observe appends value to the source's window and returns a snapshot once enough
// history exists to classify it.
func (d *Detector) Observe(ctx context.Context, sourceID, metric string, value float64, at time.Time) (models.PatternSnapshot, bool) {
	w := d.window(windowKey{sourceID: sourceID, metric: metric})
	values := w.push(value)
	if len(values) < minClassifyPoints {
		return models.PatternSnapshot{}, false
	}

	snapshot := Classify(values)
	snapshot.ID = uuid.NewString()
	snapshot.SourceID = sourceID
	snapshot.MetricType = metric
	snapshot.Value = value
	snapshot.Timestamp = at.UTC()

	if snapshot.Notable() {
		d.logger.Debug("notable pattern",
			slog.String("source_id", sourceID),
			slog.String("trend", string(snapshot.Trend)),
			slog.Bool("anomaly", snapshot.AnomalyDetected),
		)
	}
	return snapshot, true
}

// History returns a copy of the current window for a source and metric.
func (d *Detector) History(sourceID, metric string) []float64 {
	d.mu.RLock()
	w, ok := d.windows[windowKey{sourceID: sourceID, metric: metric}]
	d.mu.RUnlock()
	if !ok {
		return nil
	}
	return w.values()
}

// Forget drops every window held for sourceID.
func (d *Detector) Forget(sourceID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for key := range d.windows {
		if key.sourceID == sourceID {
			delete(d.windows, key)
		}
	}
}

func (d *Detector) window(key windowKey) *window {
	d.mu.RLock()
	w, ok := d.windows[key]
	d.mu.RUnlock()
	if ok {
		return w
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if w, ok = d.windows[key]; !ok {
		w = newWindow(d.size)
		d.windows[key] = w
	}
	return w
}

// Classify derives trend, volatility and a recommendation from ordered observations
// (oldest first). It expects at least three values.
func Classify(values []float64) models.PatternSnapshot {
	snapshot := models.PatternSnapshot{
		Trend:      models.TrendStable,
		Volatility: models.VolatilityLow,
	}
	if len(values) < minClassifyPoints {
		snapshot.Recommendation = models.RecommendContinue
		return snapshot
	}

	recentAvg := mean(values[len(values)-recentPoints:])
	historicalAvg := recentAvg
	if len(values) > recentPoints {
		historicalAvg = mean(values[:len(values)-recentPoints])
	}

	switch {
	case recentAvg > historicalAvg*increaseRatio:
		snapshot.Trend = models.TrendIncreasing
	case recentAvg < historicalAvg*decreaseRatio:
		snapshot.Trend = models.TrendDecreasing
	}
	snapshot.Confidence = deviation(recentAvg, historicalAvg)

	if len(values) >= volatilityPoints {
		if coefficientOfVariation(values[len(values)-volatilityPoints:]) > volatilityThreshold {
			snapshot.Volatility = models.VolatilityHigh
			snapshot.AnomalyDetected = true
		}
	}

	snapshot.Recommendation = recommend(snapshot)
	return snapshot
}

func recommend(s models.PatternSnapshot) models.Recommendation {
	switch {
	case s.AnomalyDetected:
		return models.RecommendInvestigate
	case s.Trend == models.TrendIncreasing:
		return models.RecommendIncreaseFrequency
	case s.Trend == models.TrendDecreasing:
		return models.RecommendReduceFrequency
	default:
		return models.RecommendContinue
	}
}

func deviation(recent, historical float64) float64 {
	if historical == 0 {
		if recent == 0 {
			return 0
		}
		return 1
	}
	return math.Min(1, math.Abs(recent/historical-1))
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func coefficientOfVariation(values []float64) float64 {
	m := mean(values)
	if m == 0 {
		return 0
	}
	variance := 0.0
	for _, v := range values {
		variance += math.Pow(v-m, 2)
	}
	variance /= float64(len(values))
	return math.Sqrt(variance) / math.Abs(m)
}

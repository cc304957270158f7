// Package schedule computes adaptive next-check times for monitored sources.
package schedule

import (
	"math"
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

const (
	// FailureThreshold is the consecutive failure count above which intervals widen.
	FailureThreshold = 2
	// MinInterval keeps every computed next check strictly in the future.
	MinInterval = 30 * time.Second

	minChangeMultiplier  = 0.5
	changeStep           = 0.1
	maxFailureMultiplier = 2.0
	failureStep          = 0.2

	successDecay        = 0.9
	processingSmoothing = 0.2
)

var baseIntervals = map[models.FrequencyTier]time.Duration{
	models.FrequencyCritical: 5 * time.Minute,
	models.FrequencyHigh:     15 * time.Minute,
	models.FrequencyNormal:   30 * time.Minute,
	models.FrequencyLow:      2 * time.Hour,
	models.FrequencyMinimal:  8 * time.Hour,
}

// BaseInterval returns the polling interval for a frequency tier. Unknown tiers poll at NORMAL.
func BaseInterval(tier models.FrequencyTier) time.Duration {
	if d, ok := baseIntervals[tier]; ok {
		return d
	}
	return baseIntervals[models.FrequencyNormal]
}

// Multiplier scales the base interval from the latest result and the source's
// already-updated failure count.
func Multiplier(src models.Source, result models.ProbeResult) float64 {
	multiplier := 1.0
	switch {
	case result.ChangesDetected > 0:
		multiplier = math.Max(minChangeMultiplier, 1-float64(result.ChangesDetected)*changeStep)
	case src.FailureCount > FailureThreshold:
		multiplier = math.Min(maxFailureMultiplier, 1+float64(src.FailureCount)*failureStep)
	}

	weight := src.DataFreshnessWeight
	if weight <= 0 {
		weight = 1
	}
	return multiplier * (2.0 - weight)
}

// NextCheckTime returns when src should next be probed. The result is always at
// least MinInterval after now.
func NextCheckTime(src models.Source, result models.ProbeResult, now time.Time) time.Time {
	interval := time.Duration(float64(BaseInterval(src.Frequency)) * Multiplier(src, result))
	if interval < MinInterval {
		interval = MinInterval
	}
	return now.Add(interval)
}

// ApplyOutcome folds a probe result into the source's health counters. It must run
// before NextCheckTime so the failure count reflects the latest attempt.
func ApplyOutcome(src models.Source, result models.ProbeResult, now time.Time) models.Source {
	out := src.Clone()
	if result.Success {
		out.FailureCount = 0
		out.SuccessRate = clampUnit(out.SuccessRate*successDecay + (1 - successDecay))
	} else {
		out.FailureCount++
		out.SuccessRate = clampUnit(out.SuccessRate * successDecay)
	}

	if out.AvgProcessingTime <= 0 {
		out.AvgProcessingTime = result.ProcessingTime
	} else {
		out.AvgProcessingTime = out.AvgProcessingTime*(1-processingSmoothing) + result.ProcessingTime*processingSmoothing
	}
	out.LastCheck = models.TimePtr(now)
	return out
}

// Reconcile applies the outcome and schedules the next check in one step.
func Reconcile(src models.Source, result models.ProbeResult, now time.Time) models.Source {
	out := ApplyOutcome(src, result, now)
	out.NextCheck = models.TimePtr(NextCheckTime(out, result, now))
	return out
}

func clampUnit(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

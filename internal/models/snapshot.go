package models

import "time"

// Trend classifies the direction of recent observations.
type Trend string

const (
	TrendStable     Trend = "stable"
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
)

// Volatility classifies the spread of recent observations.
type Volatility string

const (
	VolatilityLow  Volatility = "low"
	VolatilityHigh Volatility = "high"
)

// Recommendation is a categorical hint derived from trend and volatility.
type Recommendation string

const (
	RecommendIncreaseFrequency Recommendation = "increase_monitoring_frequency"
	RecommendReduceFrequency   Recommendation = "reduce_monitoring_frequency"
	RecommendInvestigate       Recommendation = "investigate_cause"
	RecommendContinue          Recommendation = "continue_normal_monitoring"
)

// MetricChanges is the metric type fed to the pattern detector from probe change counts.
const MetricChanges = "changes_detected"

// PatternSnapshot is a trend/volatility classification over a source's recent history.
type PatternSnapshot struct {
	ID              string         `json:"pattern_id"`
	SourceID        string         `json:"source_id"`
	Timestamp       time.Time      `json:"timestamp"`
	MetricType      string         `json:"metric_type"`
	Value           float64        `json:"value"`
	Trend           Trend          `json:"trend"`
	Volatility      Volatility     `json:"volatility"`
	AnomalyDetected bool           `json:"anomaly_detected"`
	Confidence      float64        `json:"confidence"`
	Recommendation  Recommendation `json:"recommendation"`
}

// Notable reports whether the snapshot should be surfaced to alerting.
func (p PatternSnapshot) Notable() bool {
	return p.AnomalyDetected || p.Trend == TrendIncreasing
}

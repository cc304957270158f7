package models

import (
	"encoding/json"
	"time"
)

// Status summarises scheduler state for operators.
type Status struct {
	Running       bool               `json:"running"`
	TotalSources  int                `json:"total_sources"`
	ActiveSources int                `json:"active_sources"`
	SourcesByType map[SourceType]int `json:"sources_by_type"`
	Performance   Performance        `json:"performance"`
	Upcoming      []UpcomingCheck    `json:"upcoming_checks"`
	GeneratedAt   time.Time          `json:"generated_at"`
}

// Performance carries rolling scheduler counters.
type Performance struct {
	TotalTicks       int64   `json:"total_ticks"`
	SuccessfulTicks  int64   `json:"successful_ticks"`
	AlertsGenerated  int64   `json:"alerts_generated"`
	PatternsDetected int64   `json:"patterns_detected"`
	AvgTickSeconds   float64 `json:"avg_tick_seconds"`
	P95TickSeconds   float64 `json:"p95_tick_seconds"`
}

// UpcomingCheck describes the next scheduled probe of one source.
type UpcomingCheck struct {
	SourceID  string        `json:"source_id"`
	Name      string        `json:"name"`
	TimeUntil time.Duration `json:"time_until_seconds"`
	Frequency FrequencyTier `json:"frequency"`
}

type upcomingCheckJSON struct {
	SourceID         string        `json:"source_id"`
	Name             string        `json:"name"`
	TimeUntilSeconds float64       `json:"time_until_seconds"`
	Frequency        FrequencyTier `json:"frequency"`
}

// MarshalJSON renders TimeUntil in seconds.
func (u UpcomingCheck) MarshalJSON() ([]byte, error) {
	return json.Marshal(upcomingCheckJSON{
		SourceID:         u.SourceID,
		Name:             u.Name,
		TimeUntilSeconds: u.TimeUntil.Seconds(),
		Frequency:        u.Frequency,
	})
}

// UnmarshalJSON accepts the form produced by MarshalJSON.
func (u *UpcomingCheck) UnmarshalJSON(data []byte) error {
	var raw upcomingCheckJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*u = UpcomingCheck{
		SourceID:  raw.SourceID,
		Name:      raw.Name,
		TimeUntil: time.Duration(raw.TimeUntilSeconds * float64(time.Second)),
		Frequency: raw.Frequency,
	}
	return nil
}

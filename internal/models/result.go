package models

import "time"

// ProbeResult records one check attempt against a source. It is never mutated once
// reconciliation has stamped NextCheckRecommended.
type ProbeResult struct {
	ID                   string     `json:"result_id"`
	SourceID             string     `json:"source_id"`
	SourceType           SourceType `json:"source_type"`
	Timestamp            time.Time  `json:"timestamp"`
	DataPoints           int        `json:"data_points"`
	ChangesDetected      int        `json:"changes_detected"`
	AlertsGenerated      int        `json:"alerts_generated"`
	ProcessingTime       float64    `json:"processing_time"`
	Success              bool       `json:"success"`
	ErrorMessage         *string    `json:"error_message,omitempty"`
	ConfidenceScore      float64    `json:"confidence_score"`
	NextCheckRecommended *time.Time `json:"next_check_recommended,omitempty"`
}

// FailedResult builds an unsuccessful result carrying msg.
func FailedResult(src Source, msg string) ProbeResult {
	return ProbeResult{
		SourceID:     src.ID,
		SourceType:   src.Type,
		Timestamp:    time.Now().UTC(),
		Success:      false,
		ErrorMessage: &msg,
	}
}

// Error returns the error message or an empty string.
func (r ProbeResult) Error() string {
	if r.ErrorMessage == nil {
		return ""
	}
	return *r.ErrorMessage
}

// Commit groups the writes of a single reconciliation step for one source.
type Commit struct {
	Source  Source
	Result  ProbeResult
	Pattern *PatternSnapshot
}

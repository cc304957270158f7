package models

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// SourceType enumerates the kinds of sources the scheduler knows how to probe.
type SourceType string

const (
	SourceTypeHTTP   SourceType = "http"
	SourceTypeConsul SourceType = "consul"
	SourceTypeS3     SourceType = "s3"
	SourceTypeSQL    SourceType = "sql"
)

// SourceTypes lists every supported source type.
var SourceTypes = []SourceType{SourceTypeHTTP, SourceTypeConsul, SourceTypeS3, SourceTypeSQL}

// Valid reports whether t is one of the supported source types.
func (t SourceType) Valid() bool {
	for _, known := range SourceTypes {
		if t == known {
			return true
		}
	}
	return false
}

// FrequencyTier is a coarse polling class mapped to a base interval.
type FrequencyTier string

const (
	FrequencyCritical FrequencyTier = "CRITICAL"
	FrequencyHigh     FrequencyTier = "HIGH"
	FrequencyNormal   FrequencyTier = "NORMAL"
	FrequencyLow      FrequencyTier = "LOW"
	FrequencyMinimal  FrequencyTier = "MINIMAL"
)

// ParseFrequencyTier normalises user input into a FrequencyTier.
func ParseFrequencyTier(value string) (FrequencyTier, error) {
	tier := FrequencyTier(strings.ToUpper(strings.TrimSpace(value)))
	switch tier {
	case FrequencyCritical, FrequencyHigh, FrequencyNormal, FrequencyLow, FrequencyMinimal:
		return tier, nil
	case "":
		return FrequencyNormal, nil
	default:
		return "", fmt.Errorf("unknown frequency tier %q", value)
	}
}

// Source is a monitored endpoint: its configuration plus live scheduling state.
type Source struct {
	ID              string         `json:"source_id" yaml:"id"`
	Type            SourceType     `json:"source_type" yaml:"type"`
	Name            string         `json:"name" yaml:"name"`
	Frequency       FrequencyTier  `json:"frequency" yaml:"frequency"`
	Enabled         bool           `json:"enabled" yaml:"enabled"`
	QueryParameters map[string]any `json:"query_parameters,omitempty" yaml:"query_parameters"`
	AlertThresholds map[string]any `json:"alert_thresholds,omitempty" yaml:"alert_thresholds"`

	SourceState `yaml:",inline"`
}

// UnmarshalYAML decodes a configured source, treating an omitted enabled flag as true.
func (s *Source) UnmarshalYAML(value *yaml.Node) error {
	type plain Source
	out := plain{Enabled: true}
	if err := value.Decode(&out); err != nil {
		return err
	}
	*s = Source(out)
	return nil
}

// SourceState holds the fields mutated after every probe attempt.
type SourceState struct {
	LastCheck           *time.Time `json:"last_check,omitempty" yaml:"-"`
	NextCheck           *time.Time `json:"next_check,omitempty" yaml:"-"`
	FailureCount        int        `json:"failure_count" yaml:"-"`
	SuccessRate         float64    `json:"success_rate" yaml:"-"`
	AvgProcessingTime   float64    `json:"avg_processing_time" yaml:"-"`
	DataFreshnessWeight float64    `json:"data_freshness_weight" yaml:"freshness_weight"`
}

// IsZero reports whether no probe has ever touched the state.
func (s SourceState) IsZero() bool {
	return s.LastCheck == nil && s.NextCheck == nil && s.FailureCount == 0 && s.SuccessRate == 0 && s.AvgProcessingTime == 0
}

// Due reports whether the source should be probed at now.
func (s Source) Due(now time.Time) bool {
	return s.Enabled && s.NextCheck != nil && !s.NextCheck.After(now)
}

// Clone returns a copy that shares no mutable maps or pointers with s.
func (s Source) Clone() Source {
	out := s
	out.QueryParameters = cloneMap(s.QueryParameters)
	out.AlertThresholds = cloneMap(s.AlertThresholds)
	out.LastCheck = cloneTime(s.LastCheck)
	out.NextCheck = cloneTime(s.NextCheck)
	return out
}

// StringParam returns a query parameter as a string, or fallback if absent.
func (s Source) StringParam(key, fallback string) string {
	v, ok := s.QueryParameters[key]
	if !ok || v == nil {
		return fallback
	}
	if str, ok := v.(string); ok {
		return str
	}
	return fmt.Sprint(v)
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// TimePtr returns a pointer to t.
func TimePtr(t time.Time) *time.Time {
	return &t
}

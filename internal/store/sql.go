package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

// Statements shared by the SQL backends; both DuckDB and Postgres accept $n placeholders
// and ON CONFLICT upserts.
const (
	sourceColumns = `source_id, source_type, name, frequency, last_check, next_check, failure_count,
		success_rate, avg_processing_time, data_freshness_weight, enabled, query_parameters, alert_thresholds`

	upsertSourceSQL = `INSERT INTO sources (` + sourceColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (source_id) DO UPDATE SET
			source_type = EXCLUDED.source_type,
			name = EXCLUDED.name,
			frequency = EXCLUDED.frequency,
			last_check = EXCLUDED.last_check,
			next_check = EXCLUDED.next_check,
			failure_count = EXCLUDED.failure_count,
			success_rate = EXCLUDED.success_rate,
			avg_processing_time = EXCLUDED.avg_processing_time,
			data_freshness_weight = EXCLUDED.data_freshness_weight,
			enabled = EXCLUDED.enabled,
			query_parameters = EXCLUDED.query_parameters,
			alert_thresholds = EXCLUDED.alert_thresholds`

	commitStateSQL = `UPDATE sources SET last_check = $2, next_check = $3, failure_count = $4,
		success_rate = $5, avg_processing_time = $6
		WHERE source_id = $1`

	getSourceSQL   = `SELECT ` + sourceColumns + ` FROM sources WHERE source_id = $1`
	listSourcesSQL = `SELECT ` + sourceColumns + ` FROM sources ORDER BY source_id`
	dueSourcesSQL  = `SELECT ` + sourceColumns + ` FROM sources
		WHERE enabled AND next_check IS NOT NULL AND next_check <= $1
		ORDER BY next_check`

	insertResultSQL = `INSERT INTO probe_results (result_id, source_id, source_type, timestamp, data_points,
		changes_detected, alerts_generated, processing_time, success, error_message, confidence_score,
		next_check_recommended)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	recentResultsSQL = `SELECT result_id, source_id, source_type, timestamp, data_points, changes_detected,
		alerts_generated, processing_time, success, error_message, confidence_score, next_check_recommended
		FROM probe_results WHERE source_id = $1 ORDER BY timestamp DESC LIMIT $2`

	insertPatternSQL = `INSERT INTO pattern_history (pattern_id, source_id, timestamp, metric_type, value, trend,
		volatility, anomaly_detected, confidence, recommendation)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	patternHistorySQL = `SELECT pattern_id, source_id, timestamp, metric_type, value, trend, volatility,
		anomaly_detected, confidence, recommendation
		FROM pattern_history WHERE source_id = $1 ORDER BY timestamp DESC LIMIT $2`

	pruneResultsSQL  = `DELETE FROM probe_results WHERE timestamp < $1`
	prunePatternsSQL = `DELETE FROM pattern_history WHERE timestamp < $1`
)

// stateArgs binds the probe-owned columns for commitStateSQL.
func stateArgs(src models.Source) []any {
	return []any{
		src.ID, nullableTime(src.LastCheck), nullableTime(src.NextCheck), src.FailureCount,
		src.SuccessRate, src.AvgProcessingTime,
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func sourceArgs(src models.Source) ([]any, error) {
	params, err := encodeJSON(src.QueryParameters)
	if err != nil {
		return nil, fmt.Errorf("encode query_parameters: %w", err)
	}
	thresholds, err := encodeJSON(src.AlertThresholds)
	if err != nil {
		return nil, fmt.Errorf("encode alert_thresholds: %w", err)
	}
	return []any{
		src.ID, string(src.Type), src.Name, string(src.Frequency),
		nullableTime(src.LastCheck), nullableTime(src.NextCheck), src.FailureCount,
		src.SuccessRate, src.AvgProcessingTime, src.DataFreshnessWeight, src.Enabled,
		params, thresholds,
	}, nil
}

func scanSource(row scanner) (models.Source, error) {
	var (
		src                   models.Source
		sourceType, frequency string
		params, thresholds    string
		lastCheck, nextCheck  *time.Time
	)
	if err := row.Scan(
		&src.ID, &sourceType, &src.Name, &frequency, &lastCheck, &nextCheck, &src.FailureCount,
		&src.SuccessRate, &src.AvgProcessingTime, &src.DataFreshnessWeight, &src.Enabled,
		&params, &thresholds,
	); err != nil {
		return models.Source{}, err
	}
	src.Type = models.SourceType(sourceType)
	src.Frequency = models.FrequencyTier(frequency)
	src.LastCheck = utcPtr(lastCheck)
	src.NextCheck = utcPtr(nextCheck)

	var err error
	if src.QueryParameters, err = decodeJSON(params); err != nil {
		return models.Source{}, fmt.Errorf("decode query_parameters for %s: %w", src.ID, err)
	}
	if src.AlertThresholds, err = decodeJSON(thresholds); err != nil {
		return models.Source{}, fmt.Errorf("decode alert_thresholds for %s: %w", src.ID, err)
	}
	return src, nil
}

func resultArgs(r models.ProbeResult) []any {
	return []any{
		r.ID, r.SourceID, string(r.SourceType), r.Timestamp.UTC(), r.DataPoints, r.ChangesDetected,
		r.AlertsGenerated, r.ProcessingTime, r.Success, nullableString(r.ErrorMessage), r.ConfidenceScore,
		nullableTime(r.NextCheckRecommended),
	}
}

func scanResult(row scanner) (models.ProbeResult, error) {
	var (
		r          models.ProbeResult
		sourceType string
		next       *time.Time
	)
	if err := row.Scan(
		&r.ID, &r.SourceID, &sourceType, &r.Timestamp, &r.DataPoints, &r.ChangesDetected,
		&r.AlertsGenerated, &r.ProcessingTime, &r.Success, &r.ErrorMessage, &r.ConfidenceScore, &next,
	); err != nil {
		return models.ProbeResult{}, err
	}
	r.SourceType = models.SourceType(sourceType)
	r.Timestamp = r.Timestamp.UTC()
	r.NextCheckRecommended = utcPtr(next)
	return r, nil
}

func patternArgs(p models.PatternSnapshot) []any {
	return []any{
		p.ID, p.SourceID, p.Timestamp.UTC(), p.MetricType, p.Value, string(p.Trend),
		string(p.Volatility), p.AnomalyDetected, p.Confidence, string(p.Recommendation),
	}
}

func scanPattern(row scanner) (models.PatternSnapshot, error) {
	var (
		p                                 models.PatternSnapshot
		trend, volatility, recommendation string
	)
	if err := row.Scan(
		&p.ID, &p.SourceID, &p.Timestamp, &p.MetricType, &p.Value, &trend,
		&volatility, &p.AnomalyDetected, &p.Confidence, &recommendation,
	); err != nil {
		return models.PatternSnapshot{}, err
	}
	p.Timestamp = p.Timestamp.UTC()
	p.Trend = models.Trend(trend)
	p.Volatility = models.Volatility(volatility)
	p.Recommendation = models.Recommendation(recommendation)
	return p, nil
}

func encodeJSON(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeJSON(raw string) (map[string]any, error) {
	if raw == "" || raw == "{}" || raw == "null" {
		return nil, nil
	}
	out := make(map[string]any)
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// nullableTime and nullableString hand drivers an untyped nil for SQL NULL.
func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

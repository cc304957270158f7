package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

func sampleSource(id string, next time.Time) models.Source {
	return models.Source{
		ID:              id,
		Type:            models.SourceTypeHTTP,
		Name:            "api " + id,
		Frequency:       models.FrequencyNormal,
		Enabled:         true,
		QueryParameters: map[string]any{"url": "http://example.test/" + id},
		SourceState: models.SourceState{
			NextCheck:           models.TimePtr(next),
			SuccessRate:         1,
			DataFreshnessWeight: 1,
		},
	}
}

// exerciseStore runs the behaviour every backend must share.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if _, err := s.GetSource(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	due := sampleSource("due", now.Add(-time.Minute))
	later := sampleSource("later", now.Add(time.Hour))
	earliest := sampleSource("earliest", now.Add(-time.Hour))
	disabled := sampleSource("disabled", now.Add(-time.Hour))
	disabled.Enabled = false
	unscheduled := sampleSource("unscheduled", now)
	unscheduled.NextCheck = nil

	for _, src := range []models.Source{due, later, earliest, disabled, unscheduled} {
		if err := s.UpsertSource(ctx, src); err != nil {
			t.Fatalf("upsert %s: %v", src.ID, err)
		}
	}
	// Upserting twice replaces rather than duplicates.
	due.Name = "renamed"
	if err := s.UpsertSource(ctx, due); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}

	all, err := s.ListSources(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("expected 5 sources, got %d", len(all))
	}

	got, err := s.GetSource(ctx, "due")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "renamed" {
		t.Fatalf("expected replaced name, got %q", got.Name)
	}
	if got.StringParam("url", "") != "http://example.test/due" {
		t.Fatalf("query parameters not round-tripped: %+v", got.QueryParameters)
	}

	dueSources, err := s.DueSources(ctx, now)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(dueSources) != 2 || dueSources[0].ID != "earliest" || dueSources[1].ID != "due" {
		t.Fatalf("unexpected due sources: %+v", ids(dueSources))
	}

	msg := "connection refused"
	next := now.Add(30 * time.Minute)
	got.NextCheck = models.TimePtr(next)
	got.LastCheck = models.TimePtr(now)
	got.FailureCount = 1
	result := models.ProbeResult{
		ID:                   "result-1",
		SourceID:             got.ID,
		SourceType:           got.Type,
		Timestamp:            now,
		Success:              false,
		ErrorMessage:         &msg,
		NextCheckRecommended: models.TimePtr(next),
	}
	pattern := models.PatternSnapshot{
		ID:             "pattern-1",
		SourceID:       got.ID,
		Timestamp:      now,
		MetricType:     models.MetricChanges,
		Value:          3,
		Trend:          models.TrendIncreasing,
		Volatility:     models.VolatilityLow,
		Recommendation: models.RecommendIncreaseFrequency,
	}
	if err := s.CommitProbe(ctx, models.Commit{Source: got, Result: result, Pattern: &pattern}); err != nil {
		t.Fatalf("commit: %v", err)
	}

	stored, err := s.GetSource(ctx, "due")
	if err != nil {
		t.Fatalf("get after commit: %v", err)
	}
	if stored.FailureCount != 1 || stored.NextCheck == nil || !stored.NextCheck.Equal(next) {
		t.Fatalf("state not committed: %+v", stored.SourceState)
	}

	// A commit carries the source as it was read before the probe. Configuration
	// changed in the meantime must survive it.
	edited := stored
	edited.Enabled = false
	edited.Name = "edited mid-probe"
	edited.Frequency = models.FrequencyLow
	edited.DataFreshnessWeight = 2.5
	edited.QueryParameters = map[string]any{"url": "http://example.test/moved"}
	if err := s.UpsertSource(ctx, edited); err != nil {
		t.Fatalf("edit: %v", err)
	}
	stale := stored
	stale.FailureCount = 2
	stale.LastCheck = models.TimePtr(now.Add(time.Minute))
	staleResult := models.ProbeResult{ID: "result-2", SourceID: "due", SourceType: stale.Type, Timestamp: now.Add(-time.Second)}
	if err := s.CommitProbe(ctx, models.Commit{Source: stale, Result: staleResult}); err != nil {
		t.Fatalf("commit with stale source: %v", err)
	}
	merged, err := s.GetSource(ctx, "due")
	if err != nil {
		t.Fatalf("get after stale commit: %v", err)
	}
	if merged.Enabled || merged.Name != "edited mid-probe" || merged.Frequency != models.FrequencyLow ||
		merged.DataFreshnessWeight != 2.5 || merged.StringParam("url", "") != "http://example.test/moved" {
		t.Fatalf("commit overwrote configuration: %+v", merged)
	}
	if merged.FailureCount != 2 || merged.LastCheck == nil || !merged.LastCheck.Equal(now.Add(time.Minute)) {
		t.Fatalf("state not committed over edited row: %+v", merged.SourceState)
	}

	ghost := sampleSource("ghost", now)
	ghostResult := models.ProbeResult{ID: "result-ghost", SourceID: "ghost", Timestamp: now}
	if err := s.CommitProbe(ctx, models.Commit{Source: ghost, Result: ghostResult}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound committing an unknown source, got %v", err)
	}
	if rows, _ := s.RecentResults(ctx, "ghost", 10); len(rows) != 0 {
		t.Fatalf("rejected commit must not persist its result")
	}

	results, err := s.RecentResults(ctx, "due", 10)
	if err != nil {
		t.Fatalf("recent results: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %+v", results)
	}
	for _, r := range results {
		if r.ID == "result-1" && (r.Error() != msg || r.Success) {
			t.Fatalf("unexpected result: %+v", r)
		}
	}

	patterns, err := s.PatternHistory(ctx, "due", 10)
	if err != nil {
		t.Fatalf("pattern history: %v", err)
	}
	if len(patterns) != 1 || patterns[0].Trend != models.TrendIncreasing {
		t.Fatalf("unexpected patterns: %+v", patterns)
	}

	removed, err := s.Prune(ctx, now.Add(time.Second))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if removed != 3 {
		t.Fatalf("expected 3 pruned rows, got %d", removed)
	}
	if results, _ := s.RecentResults(ctx, "due", 10); len(results) != 0 {
		t.Fatalf("expected results to be pruned, got %d", len(results))
	}
	if _, err := s.GetSource(ctx, "due"); err != nil {
		t.Fatalf("prune must keep sources: %v", err)
	}
}

func ids(sources []models.Source) []string {
	out := make([]string, len(sources))
	for i, src := range sources {
		out[i] = src.ID
	}
	return out
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	src := sampleSource("a", time.Now())
	if err := s.UpsertSource(ctx, src); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	src.QueryParameters["url"] = "mutated"

	got, _ := s.GetSource(ctx, "a")
	if got.StringParam("url", "") == "mutated" {
		t.Fatalf("store shares maps with caller")
	}
}

func TestRecentResultsLimit(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	src := sampleSource("a", time.Now())
	if err := s.UpsertSource(ctx, src); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		r := models.ProbeResult{ID: string(rune('a' + i)), SourceID: "a", Timestamp: base.Add(time.Duration(i) * time.Second), Success: true}
		if err := s.CommitProbe(ctx, models.Commit{Source: src, Result: r}); err != nil {
			t.Fatalf("commit: %v", err)
		}
	}
	got, _ := s.RecentResults(ctx, "a", 2)
	if len(got) != 2 || got[0].ID != "e" || got[1].ID != "d" {
		t.Fatalf("expected newest two results, got %+v", got)
	}
}

func TestNormaliseLimit(t *testing.T) {
	cases := map[int]int{0: defaultHistoryLimit, -1: defaultHistoryLimit, 10: 10, 5000: maxHistoryLimit}
	for in, want := range cases {
		if got := normaliseLimit(in); got != want {
			t.Fatalf("normaliseLimit(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), Options{Driver: "mysql"}); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}

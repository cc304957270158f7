package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestEvaluatePatternAlerts(t *testing.T) {
	src := models.Source{ID: "api", Name: "Orders API"}
	anomaly := &models.PatternSnapshot{
		ID: "p1", MetricType: models.MetricChanges, Trend: models.TrendIncreasing,
		Volatility: models.VolatilityHigh, AnomalyDetected: true, Recommendation: models.RecommendInvestigate,
	}
	alerts := Evaluate(src, models.ProbeResult{}, anomaly, now)
	if len(alerts) != 1 || alerts[0].Priority != models.PriorityHigh || alerts[0].Category != CategoryPattern {
		t.Fatalf("unexpected alerts %+v", alerts)
	}

	rising := &models.PatternSnapshot{Trend: models.TrendIncreasing, Volatility: models.VolatilityLow}
	alerts = Evaluate(src, models.ProbeResult{}, rising, now)
	if len(alerts) != 1 || alerts[0].Priority != models.PriorityMedium {
		t.Fatalf("expected medium alert for rising trend, got %+v", alerts)
	}

	stable := &models.PatternSnapshot{Trend: models.TrendStable, Volatility: models.VolatilityLow}
	if alerts := Evaluate(src, models.ProbeResult{}, stable, now); len(alerts) != 0 {
		t.Fatalf("stable pattern must not alert, got %+v", alerts)
	}
}

func TestEvaluateThresholds(t *testing.T) {
	src := models.Source{
		ID: "db",
		AlertThresholds: map[string]any{
			ThresholdChanges:        5,
			ThresholdProcessingTime: "2.5",
			ThresholdFailures:       3,
			ThresholdDataPoints:     "many",
			ThresholdPriority:       "critical",
		},
		SourceState: models.SourceState{FailureCount: 1},
	}
	result := models.ProbeResult{ChangesDetected: 8, ProcessingTime: 1.0, DataPoints: 1000}

	alerts := Evaluate(src, result, nil, now)
	if len(alerts) != 1 {
		t.Fatalf("expected one threshold alert, got %+v", alerts)
	}
	if alerts[0].Data["metric"] != ThresholdChanges || alerts[0].Priority != models.PriorityCritical {
		t.Fatalf("unexpected alert %+v", alerts[0])
	}

	result.ProcessingTime = 3
	src.FailureCount = 4
	if alerts := Evaluate(src, result, nil, now); len(alerts) != 3 {
		t.Fatalf("expected three threshold alerts, got %d", len(alerts))
	}
}

func TestDispatcherIsolatesFailures(t *testing.T) {
	var delivered, failures atomic.Int32
	ok := NotifierFunc(func(ctx context.Context, a models.Alert) error {
		delivered.Add(1)
		return nil
	})
	broken := NotifierFunc(func(ctx context.Context, a models.Alert) error {
		return errors.New("smtp down")
	})
	panicky := NotifierFunc(func(ctx context.Context, a models.Alert) error {
		panic("boom")
	})

	d := NewDispatcher(nil, time.Second, ok, broken, panicky)
	d.OnFailure(func() { failures.Add(1) })
	d.Dispatch(models.Alert{Title: "a"}, models.Alert{Title: "b"})
	d.Wait()

	if delivered.Load() != 2 {
		t.Fatalf("expected 2 deliveries, got %d", delivered.Load())
	}
	if failures.Load() != 4 {
		t.Fatalf("expected 4 failures, got %d", failures.Load())
	}
}

func TestWebhookNotifier(t *testing.T) {
	var got models.Alert
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			w.WriteHeader(http.StatusUnsupportedMediaType)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	n := WebhookNotifier{URL: server.URL}
	if err := n.Notify(context.Background(), models.Alert{Title: "spike", SourceID: "api"}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if got.Title != "spike" || got.SourceID != "api" {
		t.Fatalf("unexpected payload %+v", got)
	}
}

func TestWebhookNotifierStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	if err := (WebhookNotifier{URL: server.URL}).Notify(context.Background(), models.Alert{}); err == nil {
		t.Fatalf("expected error for 502")
	}
}

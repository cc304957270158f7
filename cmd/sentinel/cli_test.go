package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

func TestParseKeyValues(t *testing.T) {
	got, err := parseKeyValues([]string{"url=http://x/api?a=b", "changes_detected=10", "strict=true", "query=SELECT 1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got["url"] != "http://x/api?a=b" {
		t.Fatalf("url should keep everything after the first '=', got %v", got["url"])
	}
	if got["changes_detected"] != float64(10) {
		t.Fatalf("numeric values should decode as numbers, got %T", got["changes_detected"])
	}
	if got["strict"] != true {
		t.Fatalf("boolean values should decode as bool, got %v", got["strict"])
	}
	if got["query"] != "SELECT 1" {
		t.Fatalf("unexpected query %v", got["query"])
	}

	if _, err := parseKeyValues([]string{"missing"}); err == nil {
		t.Fatalf("expected error for pair without '='")
	}
	if m, err := parseKeyValues(nil); err != nil || m != nil {
		t.Fatalf("expected nil map for no pairs, got %v %v", m, err)
	}
}

func TestRenderStatus(t *testing.T) {
	var buf bytes.Buffer
	renderStatus(&buf, models.Status{
		Running:       true,
		TotalSources:  3,
		ActiveSources: 2,
		SourcesByType: map[models.SourceType]int{models.SourceTypeHTTP: 2, models.SourceTypeSQL: 1},
		Performance:   models.Performance{TotalTicks: 4, SuccessfulTicks: 4, AlertsGenerated: 1},
		Upcoming: []models.UpcomingCheck{
			{SourceID: "orders", Name: "Orders API", TimeUntil: 125 * time.Second, Frequency: models.FrequencyHigh},
			{SourceID: "billing", TimeUntil: -time.Second, Frequency: models.FrequencyLow},
		},
	})
	out := buf.String()
	for _, want := range []string{"running", "2 active / 3 total", "http=2 sql=1", "Orders API", "2m05s", "billing", "overdue"} {
		if !strings.Contains(out, want) {
			t.Fatalf("status output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderSources(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	renderSources(&buf, []models.Source{
		{ID: "orders", Type: models.SourceTypeHTTP, Frequency: models.FrequencyHigh, Enabled: true,
			SourceState: models.SourceState{NextCheck: models.TimePtr(now.Add(45 * time.Second)), SuccessRate: 1}},
		{ID: "legacy", Type: models.SourceTypeSQL, Frequency: models.FrequencyLow, Enabled: false},
	}, now)
	out := buf.String()
	for _, want := range []string{"2 registered", "orders", "45s", "100%", "legacy", "disabled"} {
		if !strings.Contains(out, want) {
			t.Fatalf("sources output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	renderSources(&buf, nil, now)
	if !strings.Contains(buf.String(), "No sources registered") {
		t.Fatalf("expected empty message, got %q", buf.String())
	}
}

func TestAPIClient(t *testing.T) {
	var registered sourcePayload
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/status", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(models.Status{Running: true, TotalSources: 1})
	})
	mux.HandleFunc("POST /api/v1/sources", func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&registered); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(models.Source{ID: registered.ID, Type: models.SourceType(registered.Type)})
	})
	mux.HandleFunc("POST /api/v1/sources/{id}/trigger", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]string{"error": "trigger throttled"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newAPIClient(srv.URL + "/")

	st, err := c.Status()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !st.Running || st.TotalSources != 1 {
		t.Fatalf("unexpected status %+v", st)
	}

	enabled := true
	src, err := c.RegisterSource(sourcePayload{ID: "orders", Type: "http", Enabled: &enabled, QueryParameters: map[string]any{"url": "http://x"}})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if src.ID != "orders" || registered.QueryParameters["url"] != "http://x" {
		t.Fatalf("unexpected registration round trip: %+v %+v", src, registered)
	}

	_, err = c.SourceAction("orders", "trigger")
	if err == nil || !strings.Contains(err.Error(), "trigger throttled") {
		t.Fatalf("expected API error message, got %v", err)
	}
}

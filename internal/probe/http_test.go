package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

func TestHTTPProberDetectsBodyChanges(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1, 2:
			_, _ = w.Write([]byte(`[1,2,3]`))
		default:
			_, _ = w.Write([]byte(`[1,2,3,4,5,6]`))
		}
	}))
	defer server.Close()

	p := NewHTTPProber(time.Second)
	src := testSource(models.SourceTypeHTTP)
	src.QueryParameters = map[string]any{"url": server.URL}

	first, err := p.Probe(context.Background(), src)
	if err != nil {
		t.Fatalf("first probe: %v", err)
	}
	if first.ChangesDetected != 0 || first.DataPoints != 3 {
		t.Fatalf("first probe establishes a baseline, got %+v", first)
	}

	second, _ := p.Probe(context.Background(), src)
	if second.ChangesDetected != 0 {
		t.Fatalf("identical body must not count as change, got %d", second.ChangesDetected)
	}

	third, _ := p.Probe(context.Background(), src)
	if third.ChangesDetected != 3 || third.DataPoints != 6 {
		t.Fatalf("expected 3 changes over 6 points, got %+v", third)
	}
}

func TestHTTPProberStatusHandling(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	p := NewHTTPProber(time.Second)
	src := testSource(models.SourceTypeHTTP)
	src.QueryParameters = map[string]any{"url": server.URL}
	if _, err := p.Probe(context.Background(), src); err == nil {
		t.Fatalf("expected 503 to fail")
	}

	src.QueryParameters["expected_status"] = 503
	res, err := p.Probe(context.Background(), src)
	if err != nil || !res.Success {
		t.Fatalf("expected explicit 503 to be accepted, got %v", err)
	}
}

func TestHTTPProberRequiresURL(t *testing.T) {
	p := NewHTTPProber(time.Second)
	if _, err := p.Probe(context.Background(), testSource(models.SourceTypeHTTP)); err == nil {
		t.Fatalf("expected missing url error")
	}
}

package probe

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

func testSource(t models.SourceType) models.Source {
	return models.Source{ID: "src-1", Type: t, Frequency: models.FrequencyNormal, Enabled: true}
}

func TestDispatchStampsSuccessfulResult(t *testing.T) {
	d := NewDispatcher(nil, 0)
	d.Register(models.SourceTypeHTTP, ProberFunc(func(ctx context.Context, src models.Source) (models.ProbeResult, error) {
		return models.ProbeResult{DataPoints: 4, ChangesDetected: 2, Success: true, ConfidenceScore: 0.9}, nil
	}))

	res := d.Dispatch(context.Background(), testSource(models.SourceTypeHTTP))
	if !res.Success || res.ChangesDetected != 2 || res.DataPoints != 4 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.ID == "" || res.SourceID != "src-1" || res.SourceType != models.SourceTypeHTTP {
		t.Fatalf("result not stamped: %+v", res)
	}
	if res.Timestamp.IsZero() || res.ProcessingTime < 0 {
		t.Fatalf("timing not stamped: %+v", res)
	}
	if res.ErrorMessage != nil {
		t.Fatalf("unexpected error message %q", res.Error())
	}
}

func TestDispatchConvertsErrors(t *testing.T) {
	d := NewDispatcher(nil, 0)
	d.Register(models.SourceTypeSQL, ProberFunc(func(ctx context.Context, src models.Source) (models.ProbeResult, error) {
		return models.ProbeResult{}, errors.New("connection refused")
	}))

	res := d.Dispatch(context.Background(), testSource(models.SourceTypeSQL))
	if res.Success {
		t.Fatalf("expected failure")
	}
	if !strings.Contains(res.Error(), "connection refused") {
		t.Fatalf("expected error message, got %q", res.Error())
	}
}

func TestDispatchRecoversPanics(t *testing.T) {
	d := NewDispatcher(nil, 0)
	d.Register(models.SourceTypeS3, ProberFunc(func(ctx context.Context, src models.Source) (models.ProbeResult, error) {
		panic("nil bucket")
	}))

	res := d.Dispatch(context.Background(), testSource(models.SourceTypeS3))
	if res.Success || !strings.Contains(res.Error(), "nil bucket") {
		t.Fatalf("expected panic to become failed result, got %+v", res)
	}
}

func TestDispatchMissingProber(t *testing.T) {
	d := NewDispatcher(nil, 0)
	res := d.Dispatch(context.Background(), testSource(models.SourceTypeConsul))
	if res.Success || !strings.Contains(res.Error(), ErrNoProber.Error()) {
		t.Fatalf("expected missing prober failure, got %+v", res)
	}
	if res.ID == "" || res.SourceID != "src-1" {
		t.Fatalf("failed result not stamped: %+v", res)
	}
}

func TestDispatchTimeout(t *testing.T) {
	d := NewDispatcher(nil, 20*time.Millisecond)
	release := make(chan struct{})
	defer close(release)
	d.Register(models.SourceTypeHTTP, ProberFunc(func(ctx context.Context, src models.Source) (models.ProbeResult, error) {
		<-release
		return models.ProbeResult{Success: true}, nil
	}))

	start := time.Now()
	res := d.Dispatch(context.Background(), testSource(models.SourceTypeHTTP))
	if time.Since(start) > time.Second {
		t.Fatalf("dispatch did not honour timeout")
	}
	if res.Success || !strings.Contains(res.Error(), "deadline exceeded") {
		t.Fatalf("expected timeout failure, got %+v", res)
	}
}

func TestDispatchUnsuccessfulResultGetsMessage(t *testing.T) {
	d := NewDispatcher(nil, 0)
	d.Register(models.SourceTypeHTTP, ProberFunc(func(ctx context.Context, src models.Source) (models.ProbeResult, error) {
		return models.ProbeResult{Success: false}, nil
	}))
	res := d.Dispatch(context.Background(), testSource(models.SourceTypeHTTP))
	if res.ErrorMessage == nil {
		t.Fatalf("failed result must carry an error message")
	}
}

func TestDispatcherTypes(t *testing.T) {
	d := NewDispatcher(nil, 0)
	noop := ProberFunc(func(context.Context, models.Source) (models.ProbeResult, error) {
		return models.ProbeResult{Success: true}, nil
	})
	d.Register(models.SourceTypeSQL, noop)
	d.Register(models.SourceTypeHTTP, noop)

	types := d.Types()
	if len(types) != 2 || types[0] != models.SourceTypeHTTP || types[1] != models.SourceTypeSQL {
		t.Fatalf("unexpected types %v", types)
	}
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/miradorstack/mirador-sentinel/internal/hub"
	"github.com/miradorstack/mirador-sentinel/internal/models"
	"github.com/miradorstack/mirador-sentinel/internal/patterns"
	"github.com/miradorstack/mirador-sentinel/internal/registry"
	"github.com/miradorstack/mirador-sentinel/internal/scheduler"
	"github.com/miradorstack/mirador-sentinel/internal/store"
)

type steadyProber struct{}

func (steadyProber) Dispatch(ctx context.Context, src models.Source) models.ProbeResult {
	return models.ProbeResult{ID: src.ID + "-r", SourceID: src.ID, SourceType: src.Type, Success: true, ChangesDetected: 4}
}

type rejectingCommitter struct {
	*store.Memory
	rejectID string
}

func (c rejectingCommitter) CommitProbe(ctx context.Context, commit models.Commit) error {
	if commit.Source.ID == c.rejectID {
		return errors.New("write rejected")
	}
	return c.Memory.CommitProbe(ctx, commit)
}

func TestPublishCommitOnlyStreamsPersistedSnapshots(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := hub.New(nil, nil)
	go events.Run(ctx)
	server := httptest.NewServer(events)
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	deadline := time.Now().Add(2 * time.Second)
	for events.Clients() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	st := store.NewMemory()
	reg := registry.New(st, nil)
	sched := scheduler.New(nil, scheduler.Deps{
		Sources:  reg,
		Store:    rejectingCommitter{Memory: st, rejectID: "lost"},
		Prober:   steadyProber{},
		Detector: patterns.NewDetector(nil, 10),
	}, scheduler.Options{})
	sched.AddObserver(publishCommit(events))

	for _, id := range []string{"kept", "lost"} {
		if _, err := reg.Register(ctx, models.Source{ID: id, Type: models.SourceTypeHTTP, Frequency: models.FrequencyNormal, Enabled: true}); err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
	}
	for i := 0; i < 3; i++ {
		for _, id := range []string{"kept", "lost"} {
			if _, err := reg.TriggerNow(ctx, id); err != nil {
				t.Fatalf("trigger %s: %v", id, err)
			}
		}
		if _, err := sched.Tick(ctx); err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
	}

	counts := map[string]int{}
	for {
		_ = conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var evt hub.Event
		if err := json.Unmarshal(data, &evt); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if evt.SourceID == "lost" {
			t.Fatalf("event published for a source whose commit failed: %+v", evt)
		}
		counts[evt.Type]++
	}

	if counts[hub.EventProbeResult] != 3 {
		t.Fatalf("expected 3 probe results, got %v", counts)
	}
	if counts[hub.EventPatternDetected] != 1 {
		t.Fatalf("expected exactly one committed snapshot to be streamed, got %v", counts)
	}
	history, _ := st.PatternHistory(ctx, "kept", 10)
	if len(history) != counts[hub.EventPatternDetected] {
		t.Fatalf("streamed snapshots must match persisted ones: %d persisted", len(history))
	}
	if lost, _ := st.PatternHistory(ctx, "lost", 10); len(lost) != 0 {
		t.Fatalf("rejected commit must not persist snapshots")
	}
}

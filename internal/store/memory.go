package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

// Memory is an in-process Store used for tests and ephemeral runs.
type Memory struct {
	mu       sync.RWMutex
	sources  map[string]models.Source
	results  []models.ProbeResult
	patterns []models.PatternSnapshot
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{sources: make(map[string]models.Source)}
}

func (m *Memory) UpsertSource(_ context.Context, src models.Source) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources[src.ID] = src.Clone()
	return nil
}

func (m *Memory) GetSource(_ context.Context, id string) (models.Source, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src, ok := m.sources[id]
	if !ok {
		return models.Source{}, ErrNotFound
	}
	return src.Clone(), nil
}

func (m *Memory) ListSources(_ context.Context) ([]models.Source, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Source, 0, len(m.sources))
	for _, src := range m.sources {
		out = append(out, src.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) DueSources(_ context.Context, now time.Time) ([]models.Source, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Source, 0)
	for _, src := range m.sources {
		if src.Due(now) {
			out = append(out, src.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextCheck.Before(*out[j].NextCheck) })
	return out, nil
}

func (m *Memory) CommitProbe(_ context.Context, commit models.Commit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.sources[commit.Source.ID]
	if !ok {
		return ErrNotFound
	}
	state := commit.Source.Clone().SourceState
	stored.LastCheck = state.LastCheck
	stored.NextCheck = state.NextCheck
	stored.FailureCount = state.FailureCount
	stored.SuccessRate = state.SuccessRate
	stored.AvgProcessingTime = state.AvgProcessingTime
	m.sources[commit.Source.ID] = stored
	m.results = append(m.results, commit.Result)
	if commit.Pattern != nil {
		m.patterns = append(m.patterns, *commit.Pattern)
	}
	return nil
}

func (m *Memory) RecentResults(_ context.Context, sourceID string, limit int) ([]models.ProbeResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	limit = normaliseLimit(limit)
	out := make([]models.ProbeResult, 0, limit)
	for i := len(m.results) - 1; i >= 0 && len(out) < limit; i-- {
		if m.results[i].SourceID == sourceID {
			out = append(out, m.results[i])
		}
	}
	return out, nil
}

func (m *Memory) PatternHistory(_ context.Context, sourceID string, limit int) ([]models.PatternSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	limit = normaliseLimit(limit)
	out := make([]models.PatternSnapshot, 0, limit)
	for i := len(m.patterns) - 1; i >= 0 && len(out) < limit; i-- {
		if m.patterns[i].SourceID == sourceID {
			out = append(out, m.patterns[i])
		}
	}
	return out, nil
}

func (m *Memory) Prune(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	keptResults := m.results[:0]
	for _, r := range m.results {
		if r.Timestamp.Before(before) {
			removed++
			continue
		}
		keptResults = append(keptResults, r)
	}
	m.results = keptResults

	keptPatterns := m.patterns[:0]
	for _, p := range m.patterns {
		if p.Timestamp.Before(before) {
			removed++
			continue
		}
		keptPatterns = append(keptPatterns, p)
	}
	m.patterns = keptPatterns
	return removed, nil
}

func (m *Memory) Close() error { return nil }

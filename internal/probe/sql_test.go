package probe

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

type fakeRow struct {
	value int64
	err   error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*int64)) = r.value
	return nil
}

type fakeQuerier struct {
	values []int64
	calls  int
}

func (q *fakeQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	v := q.values[q.calls]
	q.calls++
	return fakeRow{value: v}
}

func TestSQLProberReportsDelta(t *testing.T) {
	querier := &fakeQuerier{values: []int64{100, 104, 101}}
	connects := 0
	p := NewSQLProber()
	p.connect = func(ctx context.Context, dsn string) (rowQuerier, error) {
		connects++
		return querier, nil
	}

	src := testSource(models.SourceTypeSQL)
	src.QueryParameters = map[string]any{"dsn": "postgres://example", "query": "SELECT count(*) FROM orders"}

	var changes []int
	for i := 0; i < 3; i++ {
		res, err := p.Probe(context.Background(), src)
		if err != nil {
			t.Fatalf("probe %d: %v", i, err)
		}
		changes = append(changes, res.ChangesDetected)
	}
	if changes[0] != 0 || changes[1] != 4 || changes[2] != 3 {
		t.Fatalf("unexpected deltas %v", changes)
	}
	if connects != 1 {
		t.Fatalf("expected pool reuse, got %d connects", connects)
	}
}

func TestSQLProberErrors(t *testing.T) {
	p := NewSQLProber()
	p.connect = func(ctx context.Context, dsn string) (rowQuerier, error) {
		return nil, errors.New("no route to host")
	}
	src := testSource(models.SourceTypeSQL)
	if _, err := p.Probe(context.Background(), src); err == nil {
		t.Fatalf("expected missing parameters error")
	}
	src.QueryParameters = map[string]any{"dsn": "postgres://example", "query": "SELECT 1"}
	if _, err := p.Probe(context.Background(), src); err == nil {
		t.Fatalf("expected connect error")
	}
}

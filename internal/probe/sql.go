package probe

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

// rowQuerier is satisfied by *pgxpool.Pool.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// SQLProber runs a scalar query against a Postgres database and reports the absolute
// change in its value between probes. Pools are opened lazily per DSN.
//
// Recognised parameters: dsn (required), query (required, returns one numeric column).
type SQLProber struct {
	connect func(ctx context.Context, dsn string) (rowQuerier, error)

	mu     sync.Mutex
	pools  map[string]rowQuerier
	closer []func()
	last   map[string]int64
}

// NewSQLProber creates a prober backed by pgx connection pools.
func NewSQLProber() *SQLProber {
	p := &SQLProber{pools: make(map[string]rowQuerier), last: make(map[string]int64)}
	p.connect = func(ctx context.Context, dsn string) (rowQuerier, error) {
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return nil, err
		}
		p.closer = append(p.closer, pool.Close)
		return pool, nil
	}
	return p
}

func (p *SQLProber) Probe(ctx context.Context, src models.Source) (models.ProbeResult, error) {
	dsn := src.StringParam("dsn", "")
	query := src.StringParam("query", "")
	if dsn == "" || query == "" {
		return models.ProbeResult{}, fmt.Errorf("source %s: query_parameters.dsn and query are required", src.ID)
	}

	db, err := p.pool(ctx, dsn)
	if err != nil {
		return models.ProbeResult{}, fmt.Errorf("connect: %w", err)
	}

	var value int64
	if err := db.QueryRow(ctx, query).Scan(&value); err != nil {
		return models.ProbeResult{}, fmt.Errorf("query: %w", err)
	}

	p.mu.Lock()
	previous, seen := p.last[src.ID]
	p.last[src.ID] = value
	p.mu.Unlock()

	changes := 0
	if seen {
		changes = int(absInt64(value - previous))
	}
	return models.ProbeResult{
		DataPoints:      int(value),
		ChangesDetected: changes,
		Success:         true,
		ConfidenceScore: 1,
	}, nil
}

func (p *SQLProber) pool(ctx context.Context, dsn string) (rowQuerier, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if db, ok := p.pools[dsn]; ok {
		return db, nil
	}
	db, err := p.connect(ctx, dsn)
	if err != nil {
		return nil, err
	}
	p.pools[dsn] = db
	return db, nil
}

// Close releases every pool opened by the prober.
func (p *SQLProber) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, closeFn := range p.closer {
		closeFn()
	}
	p.closer = nil
	p.pools = make(map[string]rowQuerier)
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/miradorstack/mirador-sentinel/internal/models"
	"github.com/miradorstack/mirador-sentinel/internal/utils"
)

// DuckDB is the default local Store: a single embedded database file owned by this process.
type DuckDB struct {
	db   *sql.DB
	mu   sync.RWMutex
	path string
}

// NewDuckDB opens (or creates) sentinel.db under dataDir and applies the schema.
func NewDuckDB(ctx context.Context, dataDir string) (*DuckDB, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	path := filepath.Join(dataDir, "sentinel.db")

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, utils.NewAppError("store.NewDuckDB", "open "+path, err)
	}
	store := &DuckDB{db: db, path: path}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (d *DuckDB) initSchema(ctx context.Context) error {
	schemas := []string{
		`CREATE TABLE IF NOT EXISTS sources (
			source_id VARCHAR PRIMARY KEY,
			source_type VARCHAR NOT NULL,
			name VARCHAR NOT NULL DEFAULT '',
			frequency VARCHAR NOT NULL,
			last_check TIMESTAMP,
			next_check TIMESTAMP,
			failure_count INTEGER NOT NULL DEFAULT 0,
			success_rate DOUBLE NOT NULL DEFAULT 1,
			avg_processing_time DOUBLE NOT NULL DEFAULT 0,
			data_freshness_weight DOUBLE NOT NULL DEFAULT 1,
			enabled BOOLEAN NOT NULL DEFAULT TRUE,
			query_parameters VARCHAR NOT NULL DEFAULT '{}',
			alert_thresholds VARCHAR NOT NULL DEFAULT '{}'
		)`,
		`CREATE TABLE IF NOT EXISTS probe_results (
			result_id VARCHAR PRIMARY KEY,
			source_id VARCHAR NOT NULL,
			source_type VARCHAR NOT NULL,
			timestamp TIMESTAMP NOT NULL,
			data_points INTEGER NOT NULL DEFAULT 0,
			changes_detected INTEGER NOT NULL DEFAULT 0,
			alerts_generated INTEGER NOT NULL DEFAULT 0,
			processing_time DOUBLE NOT NULL DEFAULT 0,
			success BOOLEAN NOT NULL,
			error_message VARCHAR,
			confidence_score DOUBLE NOT NULL DEFAULT 0,
			next_check_recommended TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_probe_results_source_time ON probe_results(source_id, timestamp)`,
		`CREATE TABLE IF NOT EXISTS pattern_history (
			pattern_id VARCHAR PRIMARY KEY,
			source_id VARCHAR NOT NULL,
			timestamp TIMESTAMP NOT NULL,
			metric_type VARCHAR NOT NULL,
			value DOUBLE NOT NULL,
			trend VARCHAR NOT NULL,
			volatility VARCHAR NOT NULL,
			anomaly_detected BOOLEAN NOT NULL DEFAULT FALSE,
			confidence DOUBLE NOT NULL DEFAULT 0,
			recommendation VARCHAR NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pattern_history_source_time ON pattern_history(source_id, timestamp)`,
	}
	for _, schema := range schemas {
		if _, err := d.db.ExecContext(ctx, schema); err != nil {
			return utils.NewAppError("store.initSchema", "apply duckdb schema", err)
		}
	}
	return nil
}

// Path returns the database file location.
func (d *DuckDB) Path() string { return d.path }

func (d *DuckDB) UpsertSource(ctx context.Context, src models.Source) error {
	args, err := sourceArgs(src)
	if err != nil {
		return utils.NewAppError("store.UpsertSource", src.ID, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.db.ExecContext(ctx, upsertSourceSQL, args...); err != nil {
		return utils.NewAppError("store.UpsertSource", src.ID, err)
	}
	return nil
}

func (d *DuckDB) GetSource(ctx context.Context, id string) (models.Source, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	src, err := scanSource(d.db.QueryRowContext(ctx, getSourceSQL, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Source{}, ErrNotFound
	}
	if err != nil {
		return models.Source{}, utils.NewAppError("store.GetSource", id, err)
	}
	return src, nil
}

func (d *DuckDB) ListSources(ctx context.Context) ([]models.Source, error) {
	return d.querySources(ctx, "store.ListSources", listSourcesSQL)
}

func (d *DuckDB) DueSources(ctx context.Context, now time.Time) ([]models.Source, error) {
	return d.querySources(ctx, "store.DueSources", dueSourcesSQL, now.UTC())
}

func (d *DuckDB) querySources(ctx context.Context, op, query string, args ...any) ([]models.Source, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, utils.NewAppError(op, "query", err)
	}
	defer rows.Close()

	var out []models.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, utils.NewAppError(op, "scan", err)
		}
		out = append(out, src)
	}
	if err := rows.Err(); err != nil {
		return nil, utils.NewAppError(op, "iterate", err)
	}
	return out, nil
}

func (d *DuckDB) CommitProbe(ctx context.Context, commit models.Commit) error {
	const op = "store.CommitProbe"
	d.mu.Lock()
	defer d.mu.Unlock()

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return utils.NewAppError(op, "begin transaction", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, commitStateSQL, stateArgs(commit.Source)...)
	if err != nil {
		return utils.NewAppError(op, "update source", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return utils.NewAppError(op, commit.Source.ID, ErrNotFound)
	}
	if _, err := tx.ExecContext(ctx, insertResultSQL, resultArgs(commit.Result)...); err != nil {
		return utils.NewAppError(op, "insert probe result", err)
	}
	if commit.Pattern != nil {
		if _, err := tx.ExecContext(ctx, insertPatternSQL, patternArgs(*commit.Pattern)...); err != nil {
			return utils.NewAppError(op, "insert pattern", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return utils.NewAppError(op, "commit", err)
	}
	return nil
}

func (d *DuckDB) RecentResults(ctx context.Context, sourceID string, limit int) ([]models.ProbeResult, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rows, err := d.db.QueryContext(ctx, recentResultsSQL, sourceID, normaliseLimit(limit))
	if err != nil {
		return nil, utils.NewAppError("store.RecentResults", sourceID, err)
	}
	defer rows.Close()

	var out []models.ProbeResult
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, utils.NewAppError("store.RecentResults", "scan", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (d *DuckDB) PatternHistory(ctx context.Context, sourceID string, limit int) ([]models.PatternSnapshot, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rows, err := d.db.QueryContext(ctx, patternHistorySQL, sourceID, normaliseLimit(limit))
	if err != nil {
		return nil, utils.NewAppError("store.PatternHistory", sourceID, err)
	}
	defer rows.Close()

	var out []models.PatternSnapshot
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, utils.NewAppError("store.PatternHistory", "scan", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (d *DuckDB) Prune(ctx context.Context, before time.Time) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var total int64
	for _, query := range []string{pruneResultsSQL, prunePatternsSQL} {
		res, err := d.db.ExecContext(ctx, query, before.UTC())
		if err != nil {
			return total, utils.NewAppError("store.Prune", "delete", err)
		}
		if n, err := res.RowsAffected(); err == nil {
			total += n
		}
	}
	return total, nil
}

func (d *DuckDB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.db.Close()
}

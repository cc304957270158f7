package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/miradorstack/mirador-sentinel/internal/models"
	"github.com/miradorstack/mirador-sentinel/internal/utils"
)

// Postgres is a Store backed by a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects, pings and migrates the schema.
func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(connectCtx, databaseURL)
	if err != nil {
		return nil, utils.NewAppError("store.NewPostgres", "create pool", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, utils.NewAppError("store.NewPostgres", "ping", err)
	}

	db := &Postgres{pool: pool}
	if err := db.migrate(connectCtx); err != nil {
		pool.Close()
		return nil, err
	}
	return db, nil
}

func (db *Postgres) migrate(ctx context.Context) error {
	_, err := db.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS sources (
			source_id             TEXT PRIMARY KEY,
			source_type           TEXT NOT NULL,
			name                  TEXT NOT NULL DEFAULT '',
			frequency             TEXT NOT NULL,
			last_check            TIMESTAMPTZ,
			next_check            TIMESTAMPTZ,
			failure_count         INTEGER NOT NULL DEFAULT 0,
			success_rate          DOUBLE PRECISION NOT NULL DEFAULT 1,
			avg_processing_time   DOUBLE PRECISION NOT NULL DEFAULT 0,
			data_freshness_weight DOUBLE PRECISION NOT NULL DEFAULT 1,
			enabled               BOOLEAN NOT NULL DEFAULT TRUE,
			query_parameters      JSONB NOT NULL DEFAULT '{}',
			alert_thresholds      JSONB NOT NULL DEFAULT '{}'
		);
		CREATE INDEX IF NOT EXISTS idx_sources_next_check ON sources(next_check) WHERE enabled;

		CREATE TABLE IF NOT EXISTS probe_results (
			result_id              TEXT PRIMARY KEY,
			source_id              TEXT NOT NULL REFERENCES sources(source_id),
			source_type            TEXT NOT NULL,
			timestamp              TIMESTAMPTZ NOT NULL,
			data_points            INTEGER NOT NULL DEFAULT 0,
			changes_detected       INTEGER NOT NULL DEFAULT 0,
			alerts_generated       INTEGER NOT NULL DEFAULT 0,
			processing_time        DOUBLE PRECISION NOT NULL DEFAULT 0,
			success                BOOLEAN NOT NULL,
			error_message          TEXT,
			confidence_score       DOUBLE PRECISION NOT NULL DEFAULT 0,
			next_check_recommended TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_probe_results_source_time ON probe_results(source_id, timestamp DESC);

		CREATE TABLE IF NOT EXISTS pattern_history (
			pattern_id       TEXT PRIMARY KEY,
			source_id        TEXT NOT NULL REFERENCES sources(source_id),
			timestamp        TIMESTAMPTZ NOT NULL,
			metric_type      TEXT NOT NULL,
			value            DOUBLE PRECISION NOT NULL,
			trend            TEXT NOT NULL,
			volatility       TEXT NOT NULL,
			anomaly_detected BOOLEAN NOT NULL DEFAULT FALSE,
			confidence       DOUBLE PRECISION NOT NULL DEFAULT 0,
			recommendation   TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_pattern_history_source_time ON pattern_history(source_id, timestamp DESC);
	`)
	if err != nil {
		return utils.NewAppError("store.migrate", "apply postgres schema", err)
	}
	return nil
}

func (db *Postgres) UpsertSource(ctx context.Context, src models.Source) error {
	args, err := sourceArgs(src)
	if err != nil {
		return utils.NewAppError("store.UpsertSource", src.ID, err)
	}
	if _, err := db.pool.Exec(ctx, upsertSourceSQL, args...); err != nil {
		return utils.NewAppError("store.UpsertSource", src.ID, err)
	}
	return nil
}

func (db *Postgres) GetSource(ctx context.Context, id string) (models.Source, error) {
	src, err := scanSource(db.pool.QueryRow(ctx, getSourceSQL, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Source{}, ErrNotFound
	}
	if err != nil {
		return models.Source{}, utils.NewAppError("store.GetSource", id, err)
	}
	return src, nil
}

func (db *Postgres) ListSources(ctx context.Context) ([]models.Source, error) {
	return db.querySources(ctx, "store.ListSources", listSourcesSQL)
}

func (db *Postgres) DueSources(ctx context.Context, now time.Time) ([]models.Source, error) {
	return db.querySources(ctx, "store.DueSources", dueSourcesSQL, now.UTC())
}

func (db *Postgres) querySources(ctx context.Context, op, sql string, args ...any) ([]models.Source, error) {
	rows, err := db.pool.Query(ctx, sql, args...)
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

func (db *Postgres) CommitProbe(ctx context.Context, commit models.Commit) error {
	const op = "store.CommitProbe"
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return utils.NewAppError(op, "begin transaction", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, commitStateSQL, stateArgs(commit.Source)...)
	if err != nil {
		return utils.NewAppError(op, "update source", err)
	}
	if tag.RowsAffected() == 0 {
		return utils.NewAppError(op, commit.Source.ID, ErrNotFound)
	}
	if _, err := tx.Exec(ctx, insertResultSQL, resultArgs(commit.Result)...); err != nil {
		return utils.NewAppError(op, "insert probe result", err)
	}
	if commit.Pattern != nil {
		if _, err := tx.Exec(ctx, insertPatternSQL, patternArgs(*commit.Pattern)...); err != nil {
			return utils.NewAppError(op, "insert pattern", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return utils.NewAppError(op, "commit", err)
	}
	return nil
}

func (db *Postgres) RecentResults(ctx context.Context, sourceID string, limit int) ([]models.ProbeResult, error) {
	rows, err := db.pool.Query(ctx, recentResultsSQL, sourceID, normaliseLimit(limit))
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

func (db *Postgres) PatternHistory(ctx context.Context, sourceID string, limit int) ([]models.PatternSnapshot, error) {
	rows, err := db.pool.Query(ctx, patternHistorySQL, sourceID, normaliseLimit(limit))
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

func (db *Postgres) Prune(ctx context.Context, before time.Time) (int64, error) {
	results, err := db.pool.Exec(ctx, pruneResultsSQL, before.UTC())
	if err != nil {
		return 0, utils.NewAppError("store.Prune", "probe_results", err)
	}
	patterns, err := db.pool.Exec(ctx, prunePatternsSQL, before.UTC())
	if err != nil {
		return results.RowsAffected(), utils.NewAppError("store.Prune", "pattern_history", err)
	}
	return results.RowsAffected() + patterns.RowsAffected(), nil
}

func (db *Postgres) Close() error {
	db.pool.Close()
	return nil
}

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/diamond-cli/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock satisfies it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS training_runs (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	source       TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	params       JSONB NOT NULL,
	artifact_dir TEXT NOT NULL,
	metrics      JSONB,
	r2           DOUBLE PRECISION,
	rmse         DOUBLE PRECISION,
	error        TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_training_runs_status ON training_runs(status);
CREATE INDEX IF NOT EXISTS idx_training_runs_created_at ON training_runs(created_at DESC);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, run NewRun) (*model.TrainingRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	paramsJSON, err := json.Marshal(run.Params)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal params")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO training_runs (id, source, status, params, artifact_dir, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, run.Source, string(model.RunStatusRunning), paramsJSON, run.ArtifactDir, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.TrainingRun{
		ID:          id,
		Source:      run.Source,
		Status:      model.RunStatusRunning,
		Params:      run.Params,
		ArtifactDir: run.ArtifactDir,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, metrics *model.RunMetrics) error {
	if metrics == nil {
		return eris.New("postgres: complete run without metrics")
	}
	metricsJSON, err := json.Marshal(metrics)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal metrics")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE training_runs SET status = $1, metrics = $2, r2 = $3, rmse = $4, updated_at = $5 WHERE id = $6`,
		string(model.RunStatusComplete), metricsJSON, metrics.R2, metrics.RMSE, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: complete run")
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) FailRun(ctx context.Context, runID string, reason string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE training_runs SET status = $1, error = $2, updated_at = $3 WHERE id = $4`,
		string(model.RunStatusFailed), reason, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: fail run")
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.TrainingRun, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM training_runs WHERE id = $1`, runID)
	r, err := scanPgRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get run")
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.TrainingRun, error) {
	var where []string
	var args []any
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Source != "" {
		args = append(args, filter.Source)
		where = append(where, fmt.Sprintf("source = $%d", len(args)))
	}

	query := `SELECT ` + runColumns + ` FROM training_runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, filter.limit(), filter.Offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.TrainingRun
	for rows.Next() {
		r, err := scanPgRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: list runs")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs")
}

func (s *PostgresStore) Stats(ctx context.Context) (*RunStats, error) {
	var st RunStats
	var avgR2, avgRMSE *float64
	err := s.pool.QueryRow(ctx, statsQuery).Scan(
		&st.Total, &st.Running, &st.Complete, &st.Failed, &avgR2, &avgRMSE,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: run stats")
	}
	st.AvgR2 = avgR2
	st.AvgRMSE = avgRMSE

	var bestR2 float64
	err = s.pool.QueryRow(ctx, bestRunQuery).Scan(&st.BestRun, &bestR2)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return nil, eris.Wrap(err, "postgres: best run")
	default:
		st.BestR2 = &bestR2
	}
	return &st, nil
}

func scanPgRun(row scannable) (*model.TrainingRun, error) {
	var r model.TrainingRun
	var status string
	var paramsJSON, metricsJSON []byte

	err := row.Scan(&r.ID, &r.Source, &status, &paramsJSON, &r.ArtifactDir, &metricsJSON, &r.Error, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.Status = model.RunStatus(status)
	if err := decodeRunJSON(&r, paramsJSON, metricsJSON != nil, metricsJSON); err != nil {
		return nil, err
	}
	return &r, nil
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/diamond-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS training_runs (
	id           TEXT PRIMARY KEY,
	source       TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	params       TEXT NOT NULL,
	artifact_dir TEXT NOT NULL,
	metrics      TEXT,
	r2           REAL,
	rmse         REAL,
	error        TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_training_runs_status ON training_runs(status);
CREATE INDEX IF NOT EXISTS idx_training_runs_created_at ON training_runs(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run NewRun) (*model.TrainingRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	paramsJSON, err := json.Marshal(run.Params)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal params")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO training_runs (id, source, status, params, artifact_dir, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, run.Source, string(model.RunStatusRunning), string(paramsJSON), run.ArtifactDir, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
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

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, metrics *model.RunMetrics) error {
	if metrics == nil {
		return eris.New("sqlite: complete run without metrics")
	}
	metricsJSON, err := json.Marshal(metrics)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal metrics")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE training_runs SET status = ?, metrics = ?, r2 = ?, rmse = ?, updated_at = ? WHERE id = ?`,
		string(model.RunStatusComplete), string(metricsJSON), metrics.R2, metrics.RMSE, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: complete run")
	}
	return checkRowsAffected(res, runID)
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID string, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE training_runs SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(model.RunStatusFailed), reason, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: fail run")
	}
	return checkRowsAffected(res, runID)
}

const runColumns = `id, source, status, params, artifact_dir, metrics, error, created_at, updated_at`

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.TrainingRun, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM training_runs WHERE id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: get run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get run")
	}
	return r, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.TrainingRun, error) {
	var where []string
	var args []any
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Source != "" {
		where = append(where, "source = ?")
		args = append(args, filter.Source)
	}

	query := `SELECT ` + runColumns + ` FROM training_runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, filter.limit(), filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.TrainingRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: list runs")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs")
}

func (s *SQLiteStore) Stats(ctx context.Context) (*RunStats, error) {
	var st RunStats
	var avgR2, avgRMSE sql.NullFloat64
	err := s.db.QueryRowContext(ctx, statsQuery).Scan(
		&st.Total, &st.Running, &st.Complete, &st.Failed, &avgR2, &avgRMSE,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: run stats")
	}
	st.AvgR2 = nullFloat(avgR2)
	st.AvgRMSE = nullFloat(avgRMSE)

	var bestR2 float64
	err = s.db.QueryRowContext(ctx, bestRunQuery).Scan(&st.BestRun, &bestR2)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, eris.Wrap(err, "sqlite: best run")
	default:
		st.BestR2 = &bestR2
	}
	return &st, nil
}

const statsQuery = `SELECT
	COUNT(*),
	COALESCE(SUM(CASE WHEN status = 'running' THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN status = 'complete' THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
	AVG(r2),
	AVG(rmse)
FROM training_runs`

const bestRunQuery = `SELECT id, r2 FROM training_runs WHERE r2 IS NOT NULL ORDER BY r2 DESC, created_at DESC LIMIT 1`

// helpers

func checkRowsAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", id)
	}
	return nil
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.TrainingRun, error) {
	var r model.TrainingRun
	var paramsJSON string
	var metricsJSON sql.NullString

	err := row.Scan(&r.ID, &r.Source, &r.Status, &paramsJSON, &r.ArtifactDir, &metricsJSON, &r.Error, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := decodeRunJSON(&r, []byte(paramsJSON), metricsJSON.Valid, []byte(metricsJSON.String)); err != nil {
		return nil, err
	}
	return &r, nil
}

func decodeRunJSON(r *model.TrainingRun, params []byte, hasMetrics bool, metrics []byte) error {
	if err := json.Unmarshal(params, &r.Params); err != nil {
		return eris.Wrap(err, "unmarshal params")
	}
	if hasMetrics && len(metrics) > 0 {
		r.Metrics = &model.RunMetrics{}
		if err := json.Unmarshal(metrics, r.Metrics); err != nil {
			return eris.Wrap(err, "unmarshal metrics")
		}
	}
	return nil
}

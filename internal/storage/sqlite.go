package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "conveyor/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) UpsertRun(ctx context.Context, r RunRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if r.StartTime.IsZero() {
		r.StartTime = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pipeline_runs(id, pipeline_id, trigger_id, status, params_json, start_time, duration_ms, tasks_json)
		 VALUES(?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   status=excluded.status,
		   duration_ms=excluded.duration_ms,
		   tasks_json=excluded.tasks_json`,
		r.ID, r.PipelineID, r.TriggerID, r.Status, r.ParamsJSON,
		r.StartTime.UTC().Format(time.RFC3339Nano), r.DurationMS, r.TasksJSON,
	)
	return err
}

func (s *sqliteStore) ListRuns(ctx context.Context, f RunFilter) ([]RunRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	q := `SELECT id, pipeline_id, trigger_id, status, params_json, start_time, duration_ms, tasks_json
	      FROM pipeline_runs`
	var conds []string
	var args []any
	if f.PipelineID != "" {
		conds = append(conds, "pipeline_id = ?")
		args = append(args, f.PipelineID)
	}
	if f.TriggerID != "" {
		conds = append(conds, "trigger_id = ?")
		args = append(args, f.TriggerID)
	}
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY id DESC"
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) MaxRunID(ctx context.Context) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	var id sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(id) FROM pipeline_runs`).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id.Int64, nil
}

func (s *sqliteStore) MaxLogSeq(ctx context.Context, runID int64) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(seq) FROM run_logs WHERE run_id = ?`, runID).Scan(&seq)
	if err != nil {
		return 0, err
	}
	return seq.Int64, nil
}

func (s *sqliteStore) AppendLog(ctx context.Context, l LogRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if l.At.IsZero() {
		l.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_logs(run_id, seq, at, level, task, message, detail)
		 VALUES(?,?,?,?,?,?,?)`,
		l.RunID, l.Seq, l.At.UTC().Format(time.RFC3339Nano), l.Level, l.Task, l.Message, l.Detail,
	)
	return err
}

func (s *sqliteStore) ListLogs(ctx context.Context, runID int64) ([]LogRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, seq, at, level, task, message, detail
		 FROM run_logs WHERE run_id = ? ORDER BY seq ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LogRecord
	for rows.Next() {
		var l LogRecord
		var at string
		if err := rows.Scan(&l.RunID, &l.Seq, &at, &l.Level, &l.Task, &l.Message, &l.Detail); err != nil {
			return nil, err
		}
		l.At = parseTime(at)
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *sqliteStore) LoadScheduleState(ctx context.Context) (map[string]bool, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx, `SELECT pipeline_id, enabled FROM schedule_state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]bool{}
	for rows.Next() {
		var id string
		var en int
		if err := rows.Scan(&id, &en); err != nil {
			return nil, err
		}
		out[id] = en != 0
	}
	return out, rows.Err()
}

func (s *sqliteStore) SaveScheduleState(ctx context.Context, pipelineID string, enabled bool) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	en := 0
	if enabled {
		en = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO schedule_state(pipeline_id, enabled) VALUES(?,?)
		 ON CONFLICT(pipeline_id) DO UPDATE SET enabled=excluded.enabled`,
		pipelineID, en,
	)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (RunRecord, error) {
	var r RunRecord
	var start string
	err := row.Scan(&r.ID, &r.PipelineID, &r.TriggerID, &r.Status, &r.ParamsJSON, &start, &r.DurationMS, &r.TasksJSON)
	if err != nil {
		return RunRecord{}, err
	}
	r.StartTime = parseTime(start)
	return r, nil
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

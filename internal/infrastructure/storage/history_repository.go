// Package storage persists per-scene outcomes so repeated runs can skip scenes that
// were already published.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/domain"
	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/ports"
)

// Supported history drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const historyTable = "scene_history"

// HistoryRepository stores scene records in SQLite or Postgres.
type HistoryRepository struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

var _ ports.HistoryRepository = (*HistoryRepository)(nil)

// OpenHistory connects to dsn and migrates the schema.
func OpenHistory(driver, dsn string, log *slog.Logger) (*HistoryRepository, error) {
	if driver == "" {
		driver = DriverSQLite
	}
	sqlDriver := "sqlite"
	if driver == DriverPostgres {
		sqlDriver = "pgx"
	}
	db, err := sql.Open(sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s history: %w", driver, err)
	}
	if driver == DriverSQLite {
		// A single writer avoids SQLITE_BUSY between the pool's connections.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s history: %w", driver, err)
	}
	if err := migrateUp(db, driver, log); err != nil {
		_ = db.Close()
		return nil, err
	}
	return NewHistoryRepository(db, driver), nil
}

// NewHistoryRepository wires an already migrated sql.DB.
func NewHistoryRepository(db *sql.DB, driver string) *HistoryRepository {
	var format sq.PlaceholderFormat = sq.Question
	if driver == DriverPostgres {
		format = sq.Dollar
	}
	return &HistoryRepository{db: db, sb: sq.StatementBuilder.PlaceholderFormat(format)}
}

// Close releases the connection pool.
func (r *HistoryRepository) Close() error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

// Published returns the names among sceneNames with a successful, uploaded record.
func (r *HistoryRepository) Published(ctx context.Context, sceneNames []string) (map[string]bool, error) {
	if r.db == nil || len(sceneNames) == 0 {
		return map[string]bool{}, nil
	}

	query, args, err := r.sb.
		Select("scene_name").Distinct().
		From(historyTable).
		Where(sq.Eq{"scene_name": sceneNames, "succeeded": true}).
		Where(sq.NotEq{"bucket_key": ""}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build published query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query published: %w", err)
	}

	result := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan scene name: %w", err)
		}
		result[name] = true
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("rows iteration: %w", rowsErr)
	}

	if closeErr := rows.Close(); closeErr != nil {
		return nil, fmt.Errorf("close rows: %w", closeErr)
	}

	return result, nil
}

// SaveResult upserts the outcome of one scene in one run.
func (r *HistoryRepository) SaveResult(ctx context.Context, rec domain.SceneRecord) error {
	if r.db == nil {
		return nil
	}
	recordedAt := rec.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now()
	}

	query, args, err := r.sb.
		Insert(historyTable).
		Columns("run_id", "scene_name", "stage", "succeeded", "output_path", "bucket_key", "error", "recorded_at").
		Values(rec.RunID, rec.SceneName, string(rec.Stage), rec.Succeeded, rec.OutputPath, rec.BucketKey, rec.Error, recordedAt.UTC()).
		Suffix(`ON CONFLICT (run_id, scene_name) DO UPDATE
              SET stage = excluded.stage,
                  succeeded = excluded.succeeded,
                  output_path = excluded.output_path,
                  bucket_key = excluded.bucket_key,
                  error = excluded.error,
                  recorded_at = excluded.recorded_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert scene record: %w", err)
	}

	return nil
}

// Records lists every stored record of a scene, oldest first.
func (r *HistoryRepository) Records(ctx context.Context, sceneName string) ([]domain.SceneRecord, error) {
	query, args, err := r.sb.
		Select("run_id", "scene_name", "stage", "succeeded", "output_path", "bucket_key", "error").
		From(historyTable).
		Where(sq.Eq{"scene_name": sceneName}).
		OrderBy("recorded_at", "run_id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build records query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var out []domain.SceneRecord
	for rows.Next() {
		var (
			rec   domain.SceneRecord
			stage string
		)
		if err := rows.Scan(&rec.RunID, &rec.SceneName, &stage, &rec.Succeeded, &rec.OutputPath, &rec.BucketKey, &rec.Error); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec.Stage = domain.Stage(stage)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Package sqlite provides the embedded SQLite span store used for local
// development and tests. It shares its SQL with the PostgreSQL store through
// storage.SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	driver "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/Agenta-AI/agenta-sub004/internal/model"
	"github.com/Agenta-AI/agenta-sub004/internal/storage"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Store is a SQLite-backed span store.
type Store struct {
	db      *sql.DB
	logger  *slog.Logger
	dialect storage.SQLite
}

// Open opens (creating if needed) the database at path. An in-memory
// database is pinned to a single connection so every query sees it.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite: database path is required")
	}

	dsn := path
	if path != MemoryPath {
		dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open database: %w", err)
	}
	if path == MemoryPath {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(5)
		db.SetMaxIdleConns(2)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping database: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// RunMigrations executes unapplied SQL migration files from migrationsFS in
// name order, recording each in schema_migrations.
func (s *Store) RunMigrations(ctx context.Context, migrationsFS fs.FS) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at INTEGER NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("sqlite: create schema_migrations: %w", err)
	}

	applied := make(map[string]bool)
	rows, err := s.db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("sqlite: load applied migrations: %w", err)
	}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			_ = rows.Close()
			return fmt.Errorf("sqlite: load applied migrations: %w", err)
		}
		applied[v] = true
	}
	if err := rows.Close(); err != nil {
		return fmt.Errorf("sqlite: load applied migrations: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, ".")
	if err != nil {
		return fmt.Errorf("sqlite: read migrations dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") || applied[name] {
			continue
		}
		content, err := fs.ReadFile(migrationsFS, name)
		if err != nil {
			return fmt.Errorf("sqlite: read migration %s: %w", name, err)
		}
		s.logger.Info("running migration", "file", name)
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("sqlite: execute migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?) ON CONFLICT DO NOTHING`,
			name, time.Now().UnixMicro(),
		); err != nil {
			return fmt.Errorf("sqlite: record migration %s: %w", name, err)
		}
	}
	return nil
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Backend names the storage engine for health reporting.
func (s *Store) Backend() string {
	return s.dialect.String()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateSpans inserts spans in one transaction. If any of them already
// exists nothing is written and storage.ErrConflict is returned.
func (s *Store) CreateSpans(ctx context.Context, projectID, actor uuid.UUID, spans []model.Span) error {
	return s.write(ctx, projectID, actor, spans, false)
}

// UpsertSpans writes spans in one transaction, overwriting existing rows.
func (s *Store) UpsertSpans(ctx context.Context, projectID, actor uuid.UUID, spans []model.Span) error {
	return s.write(ctx, projectID, actor, spans, true)
}

func (s *Store) write(ctx context.Context, projectID, actor uuid.UUID, spans []model.Span, upsert bool) error {
	now := time.Now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin write tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, storage.InsertSpanSQL(s.dialect, upsert))
	if err != nil {
		return fmt.Errorf("sqlite: prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, span := range spans {
		r, err := storage.NewSpanRecord(projectID, actor, now, span)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, r.Args(s.dialect)...); err != nil {
			if isConstraint(err) {
				return fmt.Errorf("sqlite: create spans: %w", storage.ErrConflict)
			}
			return fmt.Errorf("sqlite: insert span: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit write: %w", err)
	}
	return nil
}

func isConstraint(err error) bool {
	var e *driver.Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Code() {
	case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT:
		return true
	}
	return false
}

// ReadTrace returns every span of a trace in start order.
func (s *Store) ReadTrace(ctx context.Context, projectID, treeID uuid.UUID) ([]model.Span, error) {
	q, args := storage.ReadTraceSQL(s.dialect, projectID, treeID)
	return s.querySpans(ctx, "read trace", q, args)
}

// ReadSpan returns one span or storage.ErrNotFound.
func (s *Store) ReadSpan(ctx context.Context, projectID, treeID, nodeID uuid.UUID) (model.Span, error) {
	q, args := storage.ReadSpanSQL(s.dialect, projectID, treeID, nodeID)
	span, err := scanSpan(s.db.QueryRowContext(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Span{}, fmt.Errorf("sqlite: span %s: %w", nodeID, storage.ErrNotFound)
	}
	if err != nil {
		return model.Span{}, fmt.Errorf("sqlite: read span: %w", err)
	}
	return span, nil
}

// DeleteTrace removes a trace and returns how many spans were deleted.
func (s *Store) DeleteTrace(ctx context.Context, projectID, treeID uuid.UUID) (int64, error) {
	q, args := storage.DeleteTraceSQL(s.dialect, projectID, treeID)
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("sqlite: delete trace: %w", err)
	}
	return res.RowsAffected()
}

// QuerySpans returns one page of matching spans, newest first.
func (s *Store) QuerySpans(ctx context.Context, projectID uuid.UUID, query model.Query) ([]model.Span, error) {
	q, args, err := storage.QuerySpansSQL(s.dialect, projectID, query)
	if err != nil {
		return nil, err
	}
	return s.querySpans(ctx, "query spans", q, args)
}

// CountSpans counts matching spans, or matching traces under tree focus.
func (s *Store) CountSpans(ctx context.Context, projectID uuid.UUID, query model.Query, focus model.Focus) (int64, error) {
	q, args, err := storage.CountSpansSQL(s.dialect, projectID, query, focus)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: count spans: %w", err)
	}
	return n, nil
}

// QueryTraces returns every span of one page of matching traces.
func (s *Store) QueryTraces(ctx context.Context, projectID uuid.UUID, query model.Query) ([]model.Span, error) {
	q, args, err := storage.QueryTraceIDsSQL(s.dialect, projectID, query)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query trace ids: %w", err)
	}
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("sqlite: scan trace id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Close(); err != nil {
		return nil, fmt.Errorf("sqlite: query trace ids: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	q, args = storage.ReadTracesSQL(s.dialect, projectID, ids)
	return s.querySpans(ctx, "read traces", q, args)
}

// AnalyticsBuckets aggregates root spans into time buckets.
func (s *Store) AnalyticsBuckets(ctx context.Context, projectID uuid.UUID, query model.Query) ([]model.Bucket, error) {
	q, args, err := storage.BucketsSQL(s.dialect, projectID, query)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query buckets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var buckets []model.Bucket
	for rows.Next() {
		var (
			ts  int64
			row storage.BucketRow
		)
		if err := rows.Scan(append([]any{&ts}, row.Dest()...)...); err != nil {
			return nil, fmt.Errorf("sqlite: scan bucket: %w", err)
		}
		buckets = append(buckets, row.Bucket(time.UnixMicro(ts), *query.Windowing.Interval))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate buckets: %w", err)
	}
	return buckets, nil
}

func (s *Store) querySpans(ctx context.Context, op, q string, args []any) ([]model.Span, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: %s: %w", op, err)
	}
	defer func() { _ = rows.Close() }()

	var spans []model.Span
	for rows.Next() {
		span, err := scanSpan(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: %s: %w", op, err)
		}
		spans = append(spans, span)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: %s: %w", op, err)
	}
	return spans, nil
}

type scanner interface {
	Scan(dest ...any) error
}

// scanSpan reads one row in storage select order. Times are stored as Unix
// microseconds.
func scanSpan(row scanner) (model.Span, error) {
	var (
		r                   storage.SpanRecord
		parent, updatedBy   uuid.NullUUID
		start, end, created int64
		updated             sql.NullInt64
	)
	err := row.Scan(
		&r.RootID, &r.TreeID, &r.TreeType, &r.NodeID, &r.NodeType, &r.NodeName,
		&parent, &start, &end, &r.StatusCode, &r.StatusMessage,
		&r.Exception, &r.Data, &r.Metrics, &r.Meta, &r.Tags, &r.Flags, &r.Refs, &r.Links, &r.OTel,
		&created, &updated, &r.CreatedBy, &updatedBy,
	)
	if err != nil {
		return model.Span{}, err
	}
	r.TimeStart = time.UnixMicro(start).UTC()
	r.TimeEnd = time.UnixMicro(end).UTC()
	r.CreatedAt = time.UnixMicro(created).UTC()
	if parent.Valid {
		r.ParentID = &parent.UUID
	}
	if updatedBy.Valid {
		r.UpdatedBy = &updatedBy.UUID
	}
	if updated.Valid {
		t := time.UnixMicro(updated.Int64).UTC()
		r.UpdatedAt = &t
	}
	return r.Span()
}

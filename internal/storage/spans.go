package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Agenta-AI/agenta-sub004/internal/model"
)

const (
	writeRetries   = 3
	writeBaseDelay = 50 * time.Millisecond
)

func encodeRecords(projectID, actor uuid.UUID, spans []model.Span) ([]SpanRecord, error) {
	now := time.Now().UTC()
	records := make([]SpanRecord, 0, len(spans))
	for _, s := range spans {
		r, err := NewSpanRecord(projectID, actor, now, s)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, nil
}

// CreateSpans inserts spans with COPY in one transaction. If any of them
// already exists nothing is written and ErrConflict is returned.
func (db *DB) CreateSpans(ctx context.Context, projectID, actor uuid.UUID, spans []model.Span) error {
	records, err := encodeRecords(projectID, actor, spans)
	if err != nil {
		return err
	}
	rows := make([][]any, len(records))
	for i, r := range records {
		rows[i] = r.Args(db.dialect)
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin create spans tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"spans"}, spanColumnNames, pgx.CopyFromRows(rows)); err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("storage: create spans: %w", ErrConflict)
		}
		return fmt.Errorf("storage: copy spans: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit create spans: %w", err)
	}
	return nil
}

// UpsertSpans writes spans in one transaction, overwriting existing rows.
// The last write wins.
func (db *DB) UpsertSpans(ctx context.Context, projectID, actor uuid.UUID, spans []model.Span) error {
	records, err := encodeRecords(projectID, actor, spans)
	if err != nil {
		return err
	}
	stmt := InsertSpanSQL(db.dialect, true)

	return db.retry(ctx, "upsert spans", writeRetries, writeBaseDelay, func() error {
		tx, err := db.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("storage: begin upsert spans tx: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		batch := &pgx.Batch{}
		for _, r := range records {
			batch.Queue(stmt, r.Args(db.dialect)...)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("storage: upsert spans: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("storage: commit upsert spans: %w", err)
		}
		return nil
	})
}

// ReadTrace returns every span of a trace in start order. An unknown trace
// yields an empty slice.
func (db *DB) ReadTrace(ctx context.Context, projectID, treeID uuid.UUID) ([]model.Span, error) {
	sql, args := ReadTraceSQL(db.dialect, projectID, treeID)
	return db.querySpans(ctx, "read trace", sql, args)
}

// ReadSpan returns one span or ErrNotFound.
func (db *DB) ReadSpan(ctx context.Context, projectID, treeID, nodeID uuid.UUID) (model.Span, error) {
	sql, args := ReadSpanSQL(db.dialect, projectID, treeID, nodeID)
	var r SpanRecord
	if err := db.pool.QueryRow(ctx, sql, args...).Scan(r.Dest()...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Span{}, fmt.Errorf("storage: span %s: %w", nodeID, ErrNotFound)
		}
		return model.Span{}, fmt.Errorf("storage: read span: %w", err)
	}
	r.ProjectID = projectID
	return r.Span()
}

// DeleteTrace removes a trace and returns how many spans were deleted.
func (db *DB) DeleteTrace(ctx context.Context, projectID, treeID uuid.UUID) (int64, error) {
	sql, args := DeleteTraceSQL(db.dialect, projectID, treeID)
	tag, err := db.pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("storage: delete trace: %w", err)
	}
	return tag.RowsAffected(), nil
}

// QuerySpans returns one page of matching spans, newest first.
func (db *DB) QuerySpans(ctx context.Context, projectID uuid.UUID, q model.Query) ([]model.Span, error) {
	sql, args, err := QuerySpansSQL(db.dialect, projectID, q)
	if err != nil {
		return nil, err
	}
	return db.querySpans(ctx, "query spans", sql, args)
}

// CountSpans counts matching spans, or matching traces under tree focus.
func (db *DB) CountSpans(ctx context.Context, projectID uuid.UUID, q model.Query, focus model.Focus) (int64, error) {
	sql, args, err := CountSpansSQL(db.dialect, projectID, q, focus)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := db.pool.QueryRow(ctx, sql, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("storage: count spans: %w", err)
	}
	return n, nil
}

// QueryTraces returns every span of one page of matching traces. Traces are
// paged by their earliest matching span, newest first.
func (db *DB) QueryTraces(ctx context.Context, projectID uuid.UUID, q model.Query) ([]model.Span, error) {
	sql, args, err := QueryTraceIDsSQL(db.dialect, projectID, q)
	if err != nil {
		return nil, err
	}
	rows, err := db.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: query trace ids: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("storage: scan trace ids: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	sql, args = ReadTracesSQL(db.dialect, projectID, ids)
	return db.querySpans(ctx, "read traces", sql, args)
}

// AnalyticsBuckets aggregates root spans into time buckets. Empty buckets
// are not returned.
func (db *DB) AnalyticsBuckets(ctx context.Context, projectID uuid.UUID, q model.Query) ([]model.Bucket, error) {
	sql, args, err := BucketsSQL(db.dialect, projectID, q)
	if err != nil {
		return nil, err
	}
	rows, err := db.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: query buckets: %w", err)
	}
	defer rows.Close()

	var buckets []model.Bucket
	for rows.Next() {
		var (
			ts  time.Time
			row BucketRow
		)
		if err := rows.Scan(append([]any{&ts}, row.Dest()...)...); err != nil {
			return nil, fmt.Errorf("storage: scan bucket: %w", err)
		}
		buckets = append(buckets, row.Bucket(ts, *q.Windowing.Interval))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate buckets: %w", err)
	}
	return buckets, nil
}

func (db *DB) querySpans(ctx context.Context, op, sql string, args []any) ([]model.Span, error) {
	rows, err := db.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: %s: %w", op, err)
	}
	defer rows.Close()

	var spans []model.Span
	for rows.Next() {
		var r SpanRecord
		if err := rows.Scan(r.Dest()...); err != nil {
			return nil, fmt.Errorf("storage: scan span: %w", err)
		}
		s, err := r.Span()
		if err != nil {
			return nil, err
		}
		spans = append(spans, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: %s: %w", op, err)
	}
	return spans, nil
}

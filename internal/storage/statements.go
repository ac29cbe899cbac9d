package storage

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Agenta-AI/agenta-sub004/internal/errs"
	"github.com/Agenta-AI/agenta-sub004/internal/model"
	"github.com/Agenta-AI/agenta-sub004/internal/tracing/query"
)

var selectColumns = strings.Join(spanColumnNames[1:], ", ")

// InsertSpanSQL is a single-row INSERT into spans. With upsert set, a row
// with the same (project_id, tree_id, node_id) is overwritten and its
// creation stamp becomes the update stamp.
func InsertSpanSQL(d Dialect, upsert bool) string {
	marks := make([]string, len(spanColumnNames))
	for i := range marks {
		marks[i] = d.Placeholder(i + 1)
	}
	var b strings.Builder
	b.WriteString("INSERT INTO spans (")
	b.WriteString(strings.Join(spanColumnNames, ", "))
	b.WriteString(") VALUES (")
	b.WriteString(strings.Join(marks, ", "))
	b.WriteString(")")
	if !upsert {
		return b.String()
	}

	b.WriteString(" ON CONFLICT (project_id, tree_id, node_id) DO UPDATE SET ")
	var sets []string
	for _, c := range spanColumnNames {
		switch c {
		case "project_id", "tree_id", "node_id", "created_at", "created_by", "updated_at", "updated_by":
			continue
		}
		sets = append(sets, c+" = excluded."+c)
	}
	sets = append(sets, "updated_at = excluded.created_at", "updated_by = excluded.created_by")
	b.WriteString(strings.Join(sets, ", "))
	return b.String()
}

// ReadTraceSQL selects every span of one trace in start order.
func ReadTraceSQL(d Dialect, projectID, treeID uuid.UUID) (string, []any) {
	w := NewWhere(d)
	w.Add("project_id = " + w.Arg(d.UUID(projectID)))
	w.Add("tree_id = " + w.Arg(d.UUID(treeID)))
	return "SELECT " + selectColumns + " FROM spans " + w.SQL() + " ORDER BY time_start, node_id", w.Args()
}

// ReadSpanSQL selects one span.
func ReadSpanSQL(d Dialect, projectID, treeID, nodeID uuid.UUID) (string, []any) {
	w := NewWhere(d)
	w.Add("project_id = " + w.Arg(d.UUID(projectID)))
	w.Add("tree_id = " + w.Arg(d.UUID(treeID)))
	w.Add("node_id = " + w.Arg(d.UUID(nodeID)))
	return "SELECT " + selectColumns + " FROM spans " + w.SQL(), w.Args()
}

// DeleteTraceSQL removes every span of one trace.
func DeleteTraceSQL(d Dialect, projectID, treeID uuid.UUID) (string, []any) {
	w := NewWhere(d)
	w.Add("project_id = " + w.Arg(d.UUID(projectID)))
	w.Add("tree_id = " + w.Arg(d.UUID(treeID)))
	return "DELETE FROM spans " + w.SQL(), w.Args()
}

// QuerySpansSQL selects one page of matching spans, newest first.
func QuerySpansSQL(d Dialect, projectID uuid.UUID, q model.Query) (string, []any, error) {
	w, err := SpanWhere(d, projectID, q)
	if err != nil {
		return "", nil, err
	}
	limit, offset := query.LimitOffset(q.Pagination)
	sql := "SELECT " + selectColumns + " FROM spans " + w.SQL() +
		" ORDER BY time_start DESC, node_id LIMIT " + w.Arg(limit) + " OFFSET " + w.Arg(offset)
	return sql, w.Args(), nil
}

// CountSpansSQL counts matching spans, or the distinct traces they belong
// to when focus is FocusTree. Pagination bounds are ignored.
func CountSpansSQL(d Dialect, projectID uuid.UUID, q model.Query, focus model.Focus) (string, []any, error) {
	q.Pagination = model.Pagination{}
	w, err := SpanWhere(d, projectID, q)
	if err != nil {
		return "", nil, err
	}
	expr := "COUNT(*)"
	if focus == model.FocusTree {
		expr = "COUNT(DISTINCT tree_id)"
	}
	return "SELECT " + expr + " FROM spans " + w.SQL(), w.Args(), nil
}

// QueryTraceIDsSQL selects one page of trace ids that have a matching span,
// ordered by the earliest matching start, newest first.
func QueryTraceIDsSQL(d Dialect, projectID uuid.UUID, q model.Query) (string, []any, error) {
	w, err := SpanWhere(d, projectID, q)
	if err != nil {
		return "", nil, err
	}
	limit, offset := query.LimitOffset(q.Pagination)
	sql := "SELECT tree_id FROM spans " + w.SQL() +
		" GROUP BY tree_id ORDER BY MIN(time_start) DESC, tree_id LIMIT " + w.Arg(limit) + " OFFSET " + w.Arg(offset)
	return sql, w.Args(), nil
}

// ReadTracesSQL selects every span of the given traces.
func ReadTracesSQL(d Dialect, projectID uuid.UUID, treeIDs []uuid.UUID) (string, []any) {
	w := NewWhere(d)
	w.Add("project_id = " + w.Arg(d.UUID(projectID)))
	ids := make([]any, len(treeIDs))
	for i, id := range treeIDs {
		ids[i] = d.UUID(id)
	}
	addIn(w, "tree_id", ids, false)
	return "SELECT " + selectColumns + " FROM spans " + w.SQL() + " ORDER BY time_start, node_id", w.Args()
}

// BucketsSQL aggregates root spans into windows of q.Windowing.Interval
// minutes anchored at q.Windowing.Oldest. Each row carries the bucket start,
// then count, duration (µs), cost and tokens for all traces and for failed
// traces.
func BucketsSQL(d Dialect, projectID uuid.UUID, q model.Query) (string, []any, error) {
	if q.Windowing.Oldest == nil || q.Windowing.Interval == nil {
		return "", nil, errs.Validation("windowing", "analytics needs oldest and interval")
	}
	w := NewWhere(d)
	bucket := d.Bucket(w, "time_start", *q.Windowing.Oldest, *q.Windowing.Interval)

	duration := d.DurationMicros("time_start", "time_end")
	cost := "COALESCE(" + d.JSONNumber("metrics", []string{"acc", "costs", "total"}) + ", 0)"
	tokens := "COALESCE(" + d.JSONNumber("metrics", []string{"acc", "tokens", "total"}) + ", 0)"
	failed := "status_code = '" + string(model.StatusError) + "'"
	onError := func(expr string) string {
		return "COALESCE(SUM(CASE WHEN " + failed + " THEN " + expr + " ELSE 0 END), 0)"
	}

	cols := []string{
		bucket + " AS bucket",
		"COUNT(*)",
		"COALESCE(SUM(" + duration + "), 0)",
		"COALESCE(SUM(" + cost + "), 0)",
		"COALESCE(SUM(" + tokens + "), 0)",
		onError("1"),
		onError(duration),
		onError(cost),
		onError(tokens),
	}

	if err := addSpanScope(w, projectID, q); err != nil {
		return "", nil, err
	}
	w.Add("parent_id IS NULL")

	sql := "SELECT " + strings.Join(cols, ", ") + " FROM spans " + w.SQL() + " GROUP BY bucket ORDER BY bucket"
	return sql, w.Args(), nil
}

// BucketRow holds the aggregate columns of one BucketsSQL row after the
// bucket timestamp.
type BucketRow struct {
	Count, ErrorCount                     int64
	Duration, Cost, Tokens                float64
	ErrorDuration, ErrorCost, ErrorTokens float64
}

// Dest returns scan destinations in BucketsSQL column order, after bucket.
func (r *BucketRow) Dest() []any {
	return []any{&r.Count, &r.Duration, &r.Cost, &r.Tokens, &r.ErrorCount, &r.ErrorDuration, &r.ErrorCost, &r.ErrorTokens}
}

// Bucket converts the row into a model.Bucket.
func (r BucketRow) Bucket(ts time.Time, interval int) model.Bucket {
	return model.Bucket{
		Timestamp: ts.UTC(),
		Window:    interval,
		Total:     model.BucketMetrics{Count: r.Count, Duration: r.Duration, Cost: r.Cost, Tokens: r.Tokens},
		Error:     model.BucketMetrics{Count: r.ErrorCount, Duration: r.ErrorDuration, Cost: r.ErrorCost, Tokens: r.ErrorTokens},
	}
}

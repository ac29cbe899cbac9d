package storage

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Agenta-AI/agenta-sub004/internal/errs"
	"github.com/Agenta-AI/agenta-sub004/internal/model"
)

var testProject = uuid.MustParse("0192e5a4-0000-7000-8000-000000000001")

func whereFor(t *testing.T, d Dialect, conds ...model.Condition) *Where {
	t.Helper()
	w, err := SpanWhere(d, testProject, model.Query{Filtering: model.Filtering{Conditions: conds}})
	require.NoError(t, err)
	return w
}

func TestSpanWhereColumns(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cond model.Condition
		sql  string
		args []any
	}{
		{
			name: "text equality defaults to is",
			cond: model.Condition{Key: "status.code", Value: "ERROR"},
			sql:  "status_code = $2",
			args: []any{"ERROR"},
		},
		{
			name: "type alias resolves to node_type",
			cond: model.Condition{Key: "type.node", Operator: model.OpIsNot, Value: "chat"},
			sql:  "node_type IS DISTINCT FROM $2",
			args: []any{"chat"},
		},
		{
			name: "startswith escapes wildcards",
			cond: model.Condition{Key: "node.name", Operator: model.OpStartsWith, Value: "50%_off"},
			sql:  `node_name LIKE $2 ESCAPE '\'`,
			args: []any{`50\%\_off%`},
		},
		{
			name: "uuid in expands placeholders",
			cond: model.Condition{Key: "tree.id", Operator: model.OpIn, Value: []any{
				"31d6cfe0-4b90-11ec-8001-42010a8000b0", "31d6cfe0-4b90-11ec-8001-42010a8000b1",
			}},
			sql: "tree_id IN ($2, $3)",
			args: []any{
				uuid.MustParse("31d6cfe0-4b90-11ec-8001-42010a8000b0"),
				uuid.MustParse("31d6cfe0-4b90-11ec-8001-42010a8000b1"),
			},
		},
		{
			name: "parent absent",
			cond: model.Condition{Key: "parent.id", Operator: model.OpNotExists},
			sql:  "parent_id IS NULL",
		},
		{
			name: "time between",
			cond: model.Condition{Key: "time.start", Operator: model.OpBetween, Value: []any{
				"2024-01-01T00:00:00Z", "2024-01-02T00:00:00Z",
			}},
			sql: "time_start BETWEEN $2 AND $3",
			args: []any{
				time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
				time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			w := whereFor(t, Postgres{}, tt.cond)
			assert.Equal(t, "WHERE project_id = $1 AND "+tt.sql, w.SQL())
			assert.Equal(t, append([]any{testProject}, tt.args...), w.Args())
		})
	}
}

func TestSpanWhereJSON(t *testing.T) {
	t.Parallel()

	cond := model.Condition{Key: "data.inputs.prompt", Operator: model.OpContains, Value: "weather"}

	pg := whereFor(t, Postgres{}, cond)
	assert.Contains(t, pg.SQL(), `(data #>> '{inputs,prompt}') LIKE $2 ESCAPE '\'`)

	lite := whereFor(t, SQLite{}, cond)
	assert.Contains(t, lite.SQL(), `json_extract(data, '$."inputs"."prompt"') LIKE ? ESCAPE '\'`)
	assert.Equal(t, []any{testProject.String(), "%weather%"}, lite.Args())
}

func TestSpanWhereJSONNumbers(t *testing.T) {
	t.Parallel()

	w := whereFor(t, Postgres{}, model.Condition{Key: "metrics.acc.costs.total", Operator: model.OpGt, Value: 0.5})
	assert.Contains(t, w.SQL(), "jsonb_typeof(metrics #> '{acc,costs,total}') = 'number'")
	assert.Contains(t, w.SQL(), "> $2")
	assert.Equal(t, 0.5, w.Args()[1])

	w = whereFor(t, SQLite{}, model.Condition{Key: "flags.is_evaluation", Value: true})
	assert.Equal(t, 1, w.Args()[1], "sqlite compares booleans as integers")

	w = whereFor(t, Postgres{}, model.Condition{Key: "flags.is_evaluation", Value: true})
	assert.Equal(t, "true", w.Args()[1])
}

func TestSpanWhereWindowAndCursor(t *testing.T) {
	t.Parallel()

	oldest := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	next := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	w, err := SpanWhere(Postgres{}, testProject, model.Query{
		Windowing:  model.Windowing{Oldest: &oldest},
		Pagination: model.Pagination{Next: &next},
	})
	require.NoError(t, err)
	assert.Equal(t, "WHERE project_id = $1 AND time_start >= $2 AND time_start < $3", w.SQL())
}

func TestSpanWhereRejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cond model.Condition
	}{
		{"unknown key", model.Condition{Key: "nope", Value: "x"}},
		{"bucket without path", model.Condition{Key: "data", Operator: model.OpExists}},
		{"bad path segment", model.Condition{Key: "data.a b", Operator: model.OpExists}},
		{"quote in path", model.Condition{Key: "meta.x'--", Operator: model.OpExists}},
		{"bad uuid", model.Condition{Key: "node.id", Value: "not-a-uuid"}},
		{"contains on uuid", model.Condition{Key: "node.id", Operator: model.OpContains, Value: "a"}},
		{"empty in list", model.Condition{Key: "node.name", Operator: model.OpIn, Value: []any{}}},
		{"btwn needs two", model.Condition{Key: "time.start", Operator: model.OpBetween, Value: []any{"2024-01-01T00:00:00Z"}}},
		{"bad timestamp", model.Condition{Key: "time.end", Operator: model.OpGt, Value: "yesterday"}},
		{"ordering on json text", model.Condition{Key: "meta.model", Operator: model.OpGt, Value: "gpt"}},
		{"unknown operator", model.Condition{Key: "meta.model", Operator: "matches", Value: "gpt"}},
		{"text needs string", model.Condition{Key: "node.name", Value: 3.0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := SpanWhere(Postgres{}, testProject, model.Query{
				Filtering: model.Filtering{Conditions: []model.Condition{tt.cond}},
			})
			var fe *errs.FilteringError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, tt.cond.Key, fe.Key)
			assert.True(t, errs.IsUserError(err))
		})
	}
}

func TestInsertSpanSQL(t *testing.T) {
	t.Parallel()

	strict := InsertSpanSQL(Postgres{}, false)
	assert.NotContains(t, strict, "ON CONFLICT")
	assert.Contains(t, strict, "$25)")

	upsert := InsertSpanSQL(SQLite{}, true)
	assert.Contains(t, upsert, "ON CONFLICT (project_id, tree_id, node_id) DO UPDATE SET")
	assert.Contains(t, upsert, "updated_at = excluded.created_at")
	assert.NotContains(t, upsert, "created_at = excluded.created_at")
	assert.Equal(t, len(spanColumnNames), strings.Count(upsert, "?"))
}

func TestBucketsSQLBindsInTextOrder(t *testing.T) {
	t.Parallel()

	oldest := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	interval := 60
	q := model.Query{Windowing: model.Windowing{Oldest: &oldest, Interval: &interval}}

	sql, args, err := BucketsSQL(SQLite{}, testProject, q)
	require.NoError(t, err)
	width := int64(60 * 60 * 1_000_000)
	assert.Equal(t, []any{oldest.UnixMicro(), oldest.UnixMicro(), width, width, testProject.String(), oldest.UnixMicro()}, args)
	assert.Contains(t, sql, "parent_id IS NULL")
	assert.Contains(t, sql, "GROUP BY bucket ORDER BY bucket")

	sql, args, err = BucketsSQL(Postgres{}, testProject, q)
	require.NoError(t, err)
	assert.Contains(t, sql, "date_bin(make_interval(mins => $1), time_start, $2)")
	assert.Equal(t, 60, args[0])

	_, _, err = BucketsSQL(Postgres{}, testProject, model.Query{})
	assert.True(t, errs.IsUserError(err))
}

func TestSpanRecordRoundTrip(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	parent := uuid.MustParse("80014201-0a80-00b0-0000-000000000001")
	span := model.Span{
		Root:   model.RootRef{ID: uuid.MustParse("31d6cfe0-4b90-11ec-8001-42010a8000b0")},
		Tree:   model.TreeRef{ID: uuid.MustParse("31d6cfe0-4b90-11ec-8001-42010a8000b0"), Type: "invocation"},
		Node:   model.NodeRef{ID: uuid.MustParse("80014201-0a80-00b0-0000-000000000002"), Type: model.NodeTypeChat, Name: "llm"},
		Parent: &model.ParentRef{ID: parent},
		Time:   model.SpanTime{Start: start, End: start.Add(1500 * time.Millisecond)},
		Status: model.Status{Code: model.StatusOK},
		Data:   map[string]any{"inputs": map[string]any{"q": "hi"}},
		Refs:   model.Refs{model.RefApplication: {ID: "app-1"}},
	}
	actor := uuid.MustParse("0192e5a4-0000-7000-8000-0000000000aa")

	r, err := NewSpanRecord(testProject, actor, start, span)
	require.NoError(t, err)
	assert.Nil(t, r.Metrics, "empty buckets are stored as NULL")

	got, err := r.Span()
	require.NoError(t, err)
	assert.Equal(t, span.Node, got.Node)
	assert.Equal(t, parent, got.Parent.ID)
	assert.InDelta(t, 1500.0, got.Time.Duration, 0.001)
	assert.Equal(t, "hi", got.Data["inputs"].(map[string]any)["q"])
	assert.Equal(t, "app-1", got.Refs[model.RefApplication].ID)
	assert.Equal(t, actor, got.Lifecycle.CreatedBy)
}

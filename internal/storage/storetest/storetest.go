// Package storetest holds the behavior every span store must share. The
// Postgres and SQLite store tests both run it.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Agenta-AI/agenta-sub004/internal/model"
	"github.com/Agenta-AI/agenta-sub004/internal/service/tracing"
	"github.com/Agenta-AI/agenta-sub004/internal/storage"
)

// Base is the start time of the first fixture span.
var Base = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

var actor = uuid.MustParse("0192e5a4-0000-7000-8000-0000000000aa")

// Span returns a fixture span starting offset after Base and lasting d.
func Span(tree, node uuid.UUID, parent *uuid.UUID, offset, d time.Duration) model.Span {
	s := model.Span{
		Root:   model.RootRef{ID: tree},
		Tree:   model.TreeRef{ID: tree, Type: "invocation"},
		Node:   model.NodeRef{ID: node, Type: model.NodeTypeTask, Name: "step"},
		Time:   model.SpanTime{Start: Base.Add(offset), End: Base.Add(offset + d)},
		Status: model.Status{Code: model.StatusOK},
	}
	if parent != nil {
		s.Parent = &model.ParentRef{ID: *parent}
	}
	return s
}

// Trace returns a root with one child. The child starts 10ms after the root.
func Trace(offset time.Duration) (root, child model.Span) {
	tree := uuid.New()
	rootID, childID := uuid.New(), uuid.New()
	root = Span(tree, rootID, nil, offset, time.Second)
	root.Node.Type = model.NodeTypeWorkflow
	root.Node.Name = "workflow"
	child = Span(tree, childID, &rootID, offset+10*time.Millisecond, 500*time.Millisecond)
	child.Node.Type = model.NodeTypeChat
	child.Node.Name = "llm"
	return root, child
}

// Run exercises store. Each subtest writes under its own project id.
func Run(t *testing.T, store tracing.Store) {
	ctx := context.Background()

	t.Run("create and read", func(t *testing.T) {
		project := uuid.New()
		root, child := Trace(0)
		child.Data = map[string]any{"inputs": map[string]any{"q": "hi"}}
		child.Metrics = map[string]any{"unit": map[string]any{"costs": map[string]any{"total": 0.25}}}
		child.Refs = model.Refs{model.RefApplication: {ID: "app-1", Slug: "app"}}
		child.OTel = &model.OTelExtra{Kind: "SPAN_KIND_CLIENT"}

		require.NoError(t, store.CreateSpans(ctx, project, actor, []model.Span{root, child}))

		spans, err := store.ReadTrace(ctx, project, root.Tree.ID)
		require.NoError(t, err)
		require.Len(t, spans, 2)
		assert.Equal(t, root.Node.ID, spans[0].Node.ID, "ordered by start")
		assert.Nil(t, spans[0].Parent)

		got, err := store.ReadSpan(ctx, project, child.Tree.ID, child.Node.ID)
		require.NoError(t, err)
		assert.Equal(t, child.Node, got.Node)
		assert.Equal(t, root.Node.ID, got.Parent.ID)
		assert.True(t, got.Time.Start.Equal(child.Time.Start))
		assert.InDelta(t, 500.0, got.Time.Duration, 0.001)
		assert.Equal(t, "hi", got.Data["inputs"].(map[string]any)["q"])
		assert.Equal(t, "app", got.Refs[model.RefApplication].Slug)
		assert.Equal(t, "SPAN_KIND_CLIENT", got.OTel.Kind)
		assert.Equal(t, actor, got.Lifecycle.CreatedBy)
		assert.Nil(t, got.Lifecycle.UpdatedAt)
	})

	t.Run("strict create conflicts atomically", func(t *testing.T) {
		project := uuid.New()
		root, child := Trace(0)
		require.NoError(t, store.CreateSpans(ctx, project, actor, []model.Span{root}))

		err := store.CreateSpans(ctx, project, actor, []model.Span{child, root})
		require.ErrorIs(t, err, storage.ErrConflict)

		spans, err := store.ReadTrace(ctx, project, root.Tree.ID)
		require.NoError(t, err)
		assert.Len(t, spans, 1, "the new child must not be written")
	})

	t.Run("upsert overwrites", func(t *testing.T) {
		project := uuid.New()
		root, _ := Trace(0)
		require.NoError(t, store.UpsertSpans(ctx, project, actor, []model.Span{root}))

		root.Node.Name = "renamed"
		editor := uuid.New()
		require.NoError(t, store.UpsertSpans(ctx, project, editor, []model.Span{root}))

		got, err := store.ReadSpan(ctx, project, root.Tree.ID, root.Node.ID)
		require.NoError(t, err)
		assert.Equal(t, "renamed", got.Node.Name)
		assert.Equal(t, actor, got.Lifecycle.CreatedBy)
		require.NotNil(t, got.Lifecycle.UpdatedBy)
		assert.Equal(t, editor, *got.Lifecycle.UpdatedBy)
		assert.NotNil(t, got.Lifecycle.UpdatedAt)
	})

	t.Run("delete and project isolation", func(t *testing.T) {
		project, other := uuid.New(), uuid.New()
		root, child := Trace(0)
		require.NoError(t, store.CreateSpans(ctx, project, actor, []model.Span{root, child}))

		spans, err := store.ReadTrace(ctx, other, root.Tree.ID)
		require.NoError(t, err)
		assert.Empty(t, spans)

		n, err := store.DeleteTrace(ctx, other, root.Tree.ID)
		require.NoError(t, err)
		assert.Zero(t, n)

		n, err = store.DeleteTrace(ctx, project, root.Tree.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		_, err = store.ReadSpan(ctx, project, root.Tree.ID, root.Node.ID)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("node focus query", func(t *testing.T) {
		project := uuid.New()
		var all []model.Span
		for i := range 3 {
			root, child := Trace(time.Duration(i) * time.Hour)
			all = append(all, root, child)
		}
		require.NoError(t, store.UpsertSpans(ctx, project, actor, all))

		chats := model.Query{
			Grouping:  model.Grouping{Focus: model.FocusNode},
			Filtering: model.Filtering{Conditions: []model.Condition{{Key: "node.type", Value: "chat"}}},
		}
		spans, err := store.QuerySpans(ctx, project, chats)
		require.NoError(t, err)
		require.Len(t, spans, 3)
		assert.True(t, spans[0].Time.Start.After(spans[1].Time.Start), "newest first")

		n, err := store.CountSpans(ctx, project, chats, model.FocusNode)
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)

		page, size := 2, 2
		chats.Pagination = model.Pagination{Page: &page, Size: &size}
		spans, err = store.QuerySpans(ctx, project, chats)
		require.NoError(t, err)
		assert.Len(t, spans, 1)

		next := Base.Add(2 * time.Hour)
		chats.Pagination = model.Pagination{Next: &next}
		spans, err = store.QuerySpans(ctx, project, chats)
		require.NoError(t, err)
		assert.Len(t, spans, 2, "next excludes spans starting at or after the cursor")

		roots := model.Query{
			Grouping:  model.Grouping{Focus: model.FocusNode},
			Filtering: model.Filtering{Conditions: []model.Condition{{Key: "parent.id", Operator: model.OpNotExists}}},
		}
		n, err = store.CountSpans(ctx, project, roots, model.FocusNode)
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)
	})

	t.Run("json filters", func(t *testing.T) {
		project := uuid.New()
		root, child := Trace(0)
		child.Data = map[string]any{"inputs": map[string]any{"city": "Paris"}}
		child.Metrics = map[string]any{"acc": map[string]any{"costs": map[string]any{"total": 0.75}}}
		child.Flags = map[string]any{"is_evaluation": true}
		require.NoError(t, store.CreateSpans(ctx, project, actor, []model.Span{root, child}))

		tests := []struct {
			name string
			cond model.Condition
			want int
		}{
			{"text is", model.Condition{Key: "data.inputs.city", Value: "Paris"}, 1},
			{"contains", model.Condition{Key: "data.inputs.city", Operator: model.OpContains, Value: "ari"}, 1},
			{"number gt", model.Condition{Key: "metrics.acc.costs.total", Operator: model.OpGt, Value: 0.5}, 1},
			{"number lt", model.Condition{Key: "metrics.acc.costs.total", Operator: model.OpLt, Value: 0.5}, 0},
			{"boolean", model.Condition{Key: "flags.is_evaluation", Value: true}, 1},
			{"exists", model.Condition{Key: "data.inputs", Operator: model.OpExists}, 1},
			{"not exists", model.Condition{Key: "data.inputs", Operator: model.OpNotExists}, 1},
			{"in", model.Condition{Key: "data.inputs.city", Operator: model.OpIn, Value: []any{"Rome", "Paris"}}, 1},
		}
		for _, tt := range tests {
			q := model.Query{
				Grouping:  model.Grouping{Focus: model.FocusNode},
				Filtering: model.Filtering{Conditions: []model.Condition{tt.cond}},
			}
			spans, err := store.QuerySpans(ctx, project, q)
			require.NoError(t, err, tt.name)
			assert.Len(t, spans, tt.want, tt.name)
		}
	})

	t.Run("tree focus returns whole traces", func(t *testing.T) {
		project := uuid.New()
		var all []model.Span
		for i := range 3 {
			root, child := Trace(time.Duration(i) * time.Hour)
			all = append(all, root, child)
		}
		require.NoError(t, store.UpsertSpans(ctx, project, actor, all))

		size := 2
		q := model.Query{
			Filtering:  model.Filtering{Conditions: []model.Condition{{Key: "node.name", Value: "llm"}}},
			Pagination: model.Pagination{Size: &size},
		}
		spans, err := store.QueryTraces(ctx, project, q)
		require.NoError(t, err)
		assert.Len(t, spans, 4, "two traces with both spans each")

		trees := map[uuid.UUID]bool{}
		for _, s := range spans {
			trees[s.Tree.ID] = true
		}
		assert.Len(t, trees, 2)
		assert.True(t, trees[all[4].Tree.ID], "newest trace is on the first page")

		n, err := store.CountSpans(ctx, project, q, model.FocusTree)
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)
	})

	t.Run("analytics buckets", func(t *testing.T) {
		project := uuid.New()
		ok, okChild := Trace(0)
		ok.Metrics = map[string]any{"acc": map[string]any{
			"costs":  map[string]any{"total": 0.5},
			"tokens": map[string]any{"total": 100.0},
		}}
		failed, _ := Trace(90 * time.Minute)
		failed.Status = model.Status{Code: model.StatusError, Message: "boom"}
		require.NoError(t, store.UpsertSpans(ctx, project, actor, []model.Span{ok, okChild, failed}))

		oldest := Base
		newest := Base.Add(3 * time.Hour)
		interval := 60
		buckets, err := store.AnalyticsBuckets(ctx, project, model.Query{
			Windowing: model.Windowing{Oldest: &oldest, Newest: &newest, Interval: &interval},
		})
		require.NoError(t, err)
		require.Len(t, buckets, 2)

		first, second := buckets[0], buckets[1]
		assert.True(t, first.Timestamp.Equal(Base))
		assert.Equal(t, int64(1), first.Total.Count, "only root spans are counted")
		assert.InDelta(t, 1_000_000.0, first.Total.Duration, 1)
		assert.InDelta(t, 0.5, first.Total.Cost, 1e-9)
		assert.InDelta(t, 100.0, first.Total.Tokens, 1e-9)
		assert.Zero(t, first.Error.Count)

		assert.True(t, second.Timestamp.Equal(Base.Add(time.Hour)))
		assert.Equal(t, int64(1), second.Error.Count)
		assert.InDelta(t, 1_000_000.0, second.Error.Duration, 1)
	})
}

package assembler

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Agenta-AI/agenta-sub004/internal/errs"
	"github.com/Agenta-AI/agenta-sub004/internal/model"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func span(tree, node uuid.UUID, parent *uuid.UUID, offset time.Duration) model.Span {
	s := model.Span{
		Tree: model.TreeRef{ID: tree},
		Node: model.NodeRef{ID: node, Type: model.NodeTypeTask, Name: node.String()[:8]},
		Time: model.SpanTime{Start: t0.Add(offset), End: t0.Add(offset + time.Second), Duration: 1000},
	}
	if parent != nil {
		s.Parent = &model.ParentRef{ID: *parent}
	}
	return s
}

func TestValidateRoots(t *testing.T) {
	t.Parallel()
	root := model.RawSpan{}
	child := model.RawSpan{Parent: &model.SpanContext{SpanID: "0x1"}}
	tests := []struct {
		name      string
		spans     []model.RawSpan
		wantRoots int
		wantErr   bool
	}{
		{"empty", nil, 0, true},
		{"no root", []model.RawSpan{child, child}, 0, true},
		{"two roots", []model.RawSpan{root, root, child}, 2, true},
		{"one root", []model.RawSpan{root, child, child}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateRoots(tt.spans)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			var se *errs.StructureError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, tt.wantRoots, se.Roots)
		})
	}
}

func TestAssembleBuildsNestedTree(t *testing.T) {
	t.Parallel()
	tree := uuid.New()
	root, child, grandchild := uuid.New(), uuid.New(), uuid.New()
	spans := []model.Span{
		span(tree, grandchild, &child, 2*time.Second),
		span(tree, root, nil, 0),
		span(tree, child, &root, time.Second),
	}
	require.NoError(t, ValidateSpans(spans))

	traces := Assemble(spans)
	require.Len(t, traces, 1)
	top := traces[tree]
	require.Len(t, top, 1)
	require.Contains(t, top, root)
	require.Contains(t, top[root].Nodes, child)
	assert.Contains(t, top[root].Nodes[child].Nodes, grandchild)
}

func TestAssembleAttachesOrphansUnderRoot(t *testing.T) {
	t.Parallel()
	tree := uuid.New()
	root, orphan, missing := uuid.New(), uuid.New(), uuid.New()
	traces := Assemble([]model.Span{
		span(tree, root, nil, 0),
		span(tree, orphan, &missing, time.Second),
	})
	assert.Contains(t, traces[tree][root].Nodes, orphan)
}

func TestAssembleBreaksParentCycles(t *testing.T) {
	t.Parallel()
	tree := uuid.New()
	root, a, b := uuid.New(), uuid.New(), uuid.New()
	traces := Assemble([]model.Span{
		span(tree, root, nil, 0),
		span(tree, a, &b, time.Second),
		span(tree, b, &a, 2*time.Second),
	})
	nodes := traces[tree][root].Nodes
	assert.Contains(t, nodes, a)
	assert.Contains(t, nodes, b)
}

func TestAssembleSeparatesTrees(t *testing.T) {
	t.Parallel()
	t1, t2 := uuid.New(), uuid.New()
	traces := Assemble([]model.Span{
		span(t1, uuid.New(), nil, 0),
		span(t2, uuid.New(), nil, 0),
	})
	assert.Len(t, traces, 2)
	assert.Len(t, Spans(traces), 2)
}

func TestSpansOrdersByStart(t *testing.T) {
	t.Parallel()
	tree := uuid.New()
	root, child := uuid.New(), uuid.New()
	out := Spans(Assemble([]model.Span{
		span(tree, child, &root, time.Second),
		span(tree, root, nil, 0),
	}))
	require.Len(t, out, 2)
	assert.Equal(t, root, out[0].Node.ID)
	assert.Equal(t, child, out[1].Node.ID)
}

func TestCumulateSumsChildren(t *testing.T) {
	t.Parallel()
	tree := uuid.New()
	root, c1, c2 := uuid.New(), uuid.New(), uuid.New()

	rootSpan := span(tree, root, nil, 0)
	rootSpan.Time.Duration = 3000
	s1 := span(tree, c1, &root, time.Second)
	s1.Metrics = map[string]any{"unit": map[string]any{
		"costs":  map[string]any{"total": 0.5},
		"tokens": map[string]any{"prompt": 10, "completion": 5, "total": 15},
	}}
	s2 := span(tree, c2, &root, 2*time.Second)
	s2.Metrics = map[string]any{"unit": map[string]any{
		"costs":  map[string]any{"total": 0.25},
		"tokens": map[string]any{"total": float64(5)},
	}}

	traces := Assemble([]model.Span{rootSpan, s1, s2})
	Cumulate(traces)

	acc := traces[tree][root].Metrics["acc"].(map[string]any)
	assert.Equal(t, map[string]any{"total": 0.75}, acc["costs"])
	assert.Equal(t, map[string]any{"prompt": 10.0, "completion": 5.0, "total": 20.0}, acc["tokens"])
	assert.Equal(t, map[string]any{"total": 3000.0}, acc["duration"])

	leaf := traces[tree][root].Nodes[c1].Metrics["acc"].(map[string]any)
	assert.Equal(t, map[string]any{"total": 0.5}, leaf["costs"])
}

func TestCumulateKeepsReportedAccumulations(t *testing.T) {
	t.Parallel()
	tree, root := uuid.New(), uuid.New()
	s := span(tree, root, nil, 0)
	s.Metrics = map[string]any{"acc": map[string]any{"costs": map[string]any{"total": 9.0}}}

	traces := Assemble([]model.Span{s})
	Cumulate(traces)
	acc := traces[tree][root].Metrics["acc"].(map[string]any)
	assert.Equal(t, map[string]any{"total": 9.0}, acc["costs"])
}

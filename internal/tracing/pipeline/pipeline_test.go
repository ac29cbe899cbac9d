package pipeline

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Agenta-AI/agenta-sub004/internal/model"
	"github.com/Agenta-AI/agenta-sub004/internal/tracing/adapters"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func validSpan() model.RawSpan {
	return model.RawSpan{
		Context:    model.SpanContext{TraceID: "0x31d6cfe04b9011ec800142010a8000b0", SpanID: "0x0123456789abcdef"},
		Name:       "root",
		Kind:       "SPAN_KIND_SERVER",
		StartTime:  t0,
		EndTime:    t0.Add(time.Second),
		StatusCode: "STATUS_CODE_OK",
		Attributes: map[string]any{
			"refs.variant.id": "legacy",
			"type.node":       "workflow",
		},
	}
}

func newTestPipeline(buf *bytes.Buffer) *Pipeline {
	logger := slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return New(adapters.DefaultRegistry(), logger)
}

func TestProcessRunsBothBuilders(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	res := newTestPipeline(&buf).Process(context.Background(), validSpan(), true)

	require.NotNil(t, res.Node)
	require.NotNil(t, res.Flat)
	assert.Equal(t, "legacy", res.Node.Refs[model.RefApplicationVariant].ID, "normalization runs before extraction")
	assert.Equal(t, "legacy", res.Flat.Attributes["refs.application_variant.id"])
	assert.Empty(t, buf.String())
}

func TestProcessSkipsDisabledFlatBuilder(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	res := newTestPipeline(&buf).Process(context.Background(), validSpan(), false)
	require.NotNil(t, res.Node)
	assert.Nil(t, res.Flat)
}

func TestProcessIsolatesBuilderFailure(t *testing.T) {
	t.Parallel()
	raw := validSpan()
	raw.Kind = "SPAN_KIND_BOGUS" // only the flat builder validates kinds

	var buf bytes.Buffer
	res := newTestPipeline(&buf).Process(context.Background(), raw, true)

	require.NotNil(t, res.Node, "node builder output survives a sibling failure")
	assert.Nil(t, res.Flat)
	assert.Contains(t, buf.String(), "builder failed")
	assert.Contains(t, buf.String(), "otel_flat_span_builder")
	assert.NotContains(t, buf.String(), "all builders failed")
}

func TestBuilderFailureLogsFeatureSnapshot(t *testing.T) {
	t.Parallel()
	raw := validSpan()
	raw.Kind = "SPAN_KIND_BOGUS"
	raw.Attributes["data.inputs.prompt"] = "hi"
	raw.Attributes["metrics.unit.tokens.total"] = 3
	raw.Attributes["refs.environment.slug"] = "prod"

	var buf bytes.Buffer
	newTestPipeline(&buf).Process(context.Background(), raw, true)

	out := buf.String()
	assert.Contains(t, out, "features.node_type=workflow")
	assert.Contains(t, out, "features.data=1")
	assert.Contains(t, out, "features.metrics=1")
	assert.Contains(t, out, "features.ref_kinds=[application_variant environment]")
	assert.Contains(t, out, "features.links=0")
	assert.NotContains(t, out, "features.tags=")
}

func TestProcessAllBuildersFail(t *testing.T) {
	t.Parallel()
	raw := validSpan()
	raw.Context.TraceID = "0xnothex"

	var buf bytes.Buffer
	res := newTestPipeline(&buf).Process(context.Background(), raw, true)

	assert.True(t, res.Empty())
	assert.Contains(t, buf.String(), "all builders failed")
}

func TestProcessAllReportsDroppedSpans(t *testing.T) {
	t.Parallel()
	good := validSpan()
	bad := validSpan()
	bad.Context.SpanID = "0x1"

	var buf bytes.Buffer
	spans, dropped := newTestPipeline(&buf).ProcessAll(context.Background(), []model.RawSpan{good, bad})
	assert.Len(t, spans, 1)
	require.Len(t, dropped, 1)
	assert.Contains(t, dropped[0].Error(), "0x1")
}

func TestProcessAllWithFlatBuilder(t *testing.T) {
	t.Parallel()
	raw := validSpan()
	raw.Kind = "SPAN_KIND_BOGUS"

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	spans, dropped := New(nil, logger, WithFlatBuilder()).ProcessAll(context.Background(), []model.RawSpan{raw})

	assert.Len(t, spans, 1, "a flat failure does not drop the span")
	assert.Empty(t, dropped)
	assert.Contains(t, buf.String(), "otel_flat_span_builder")
}

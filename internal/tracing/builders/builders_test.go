package builders

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Agenta-AI/agenta-sub004/internal/model"
	"github.com/Agenta-AI/agenta-sub004/internal/tracing/adapters"
	"github.com/Agenta-AI/agenta-sub004/internal/tracing/attributes"
)

const (
	traceHex  = "0x31d6cfe04b9011ec800142010a8000b0"
	spanHex   = "0x0123456789abcdef"
	parentHex = "0xfedcba9876543210"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func rawSpan() model.RawSpan {
	return model.RawSpan{
		Context:       model.SpanContext{TraceID: traceHex, SpanID: spanHex},
		Parent:        &model.SpanContext{TraceID: traceHex, SpanID: parentHex},
		Name:          "generate",
		Kind:          "SPAN_KIND_CLIENT",
		StartTime:     t0,
		EndTime:       t0.Add(1500 * time.Millisecond),
		StatusCode:    "STATUS_CODE_ERROR",
		StatusMessage: "rate limited",
		Attributes: map[string]any{
			"data.inputs.prompt":         "hello",
			"metrics.unit.costs.total":   0.25,
			"metrics.acc.costs.total":    0.75,
			"metrics.unit.tokens.total":  10,
			"metrics.acc.duration.total": 1500,
			"refs.application.slug":      "chatbot",
			"type.span":                  "chat",
			"type.trace":                 "invocation",
			"service.name":               "api",
		},
		Events: []model.RawEvent{
			{Name: "exception", Timestamp: t0, Attributes: map[string]any{"exception.type": "RateLimit"}},
			{Name: "retry", Timestamp: t0.Add(time.Second)},
		},
	}
}

func features(raw model.RawSpan) adapters.FeatureSet {
	return adapters.DefaultRegistry().Extract(adapters.Input{
		Attributes: attributes.Normalize(raw.Attributes),
		Events:     raw.Events,
		Links:      raw.Links,
	})
}

func TestNodeBuilderBuildsCanonicalSpan(t *testing.T) {
	t.Parallel()
	raw := rawSpan()
	span, err := NodeBuilder{}.Build(raw, features(raw))
	require.NoError(t, err)

	assert.Equal(t, "31d6cfe0-4b90-11ec-8001-42010a8000b0", span.Tree.ID.String())
	assert.Equal(t, span.Tree.ID, span.Root.ID, "root defaults to tree id")
	assert.Equal(t, "invocation", span.Tree.Type)
	assert.Equal(t, "80014201-0a80-00b0-0123-456789abcdef", span.Node.ID.String())
	assert.Equal(t, model.NodeTypeChat, span.Node.Type)
	assert.Equal(t, "generate", span.Node.Name)
	require.NotNil(t, span.Parent)
	assert.Equal(t, "80014201-0a80-00b0-fedc-ba9876543210", span.Parent.ID.String())
	assert.Equal(t, 1500.0, span.Time.Duration)
	assert.Equal(t, model.StatusError, span.Status.Code)
	assert.Equal(t, "rate limited", span.Status.Message)
	require.NotNil(t, span.Exception)
	assert.Equal(t, "RateLimit", span.Exception.Type)
	assert.Equal(t, "chatbot", span.Refs[model.RefApplication].Slug)

	require.NotNil(t, span.OTel)
	assert.Equal(t, "SPAN_KIND_CLIENT", span.OTel.Kind)
	assert.Equal(t, map[string]any{"service.name": "api"}, span.OTel.Attributes)
	require.Len(t, span.OTel.Events, 1, "exception event is lifted out")
	assert.Equal(t, "retry", span.OTel.Events[0].Name)
}

func TestNodeBuilderRootFromScenario(t *testing.T) {
	t.Parallel()
	scenario := uuid.New()
	raw := rawSpan()
	raw.Attributes["refs.scenario.id"] = scenario.String()
	span, err := NodeBuilder{}.Build(raw, features(raw))
	require.NoError(t, err)
	assert.Equal(t, scenario, span.Root.ID)

	raw.Attributes["refs.scenario.id"] = "not-a-uuid"
	span, err = NodeBuilder{}.Build(raw, features(raw))
	require.NoError(t, err)
	assert.Equal(t, span.Tree.ID, span.Root.ID)
}

func TestNodeBuilderParentWithoutTraceID(t *testing.T) {
	t.Parallel()
	raw := rawSpan()
	raw.Parent = &model.SpanContext{SpanID: parentHex}
	span, err := NodeBuilder{}.Build(raw, features(raw))
	require.NoError(t, err)
	assert.Equal(t, "80014201-0a80-00b0-fedc-ba9876543210", span.Parent.ID.String())
}

func TestNodeBuilderErrors(t *testing.T) {
	t.Parallel()
	bad := rawSpan()
	bad.Context.SpanID = "0x12"
	_, err := NodeBuilder{}.Build(bad, features(bad))
	assert.Error(t, err)

	backwards := rawSpan()
	backwards.EndTime = backwards.StartTime.Add(-time.Second)
	_, err = NodeBuilder{}.Build(backwards, features(backwards))
	assert.Error(t, err)
}

func TestCanonicalStatus(t *testing.T) {
	t.Parallel()
	assert.Equal(t, model.StatusOK, CanonicalStatus("STATUS_CODE_OK"))
	assert.Equal(t, model.StatusError, CanonicalStatus("ERROR"))
	assert.Equal(t, model.StatusUnset, CanonicalStatus(""))
	assert.Equal(t, model.StatusUnset, CanonicalStatus("STATUS_CODE_WHATEVER"))
}

func TestFlatBuilderRenamesMetrics(t *testing.T) {
	t.Parallel()
	raw := rawSpan()
	flat, err := OTelFlatSpanBuilder{}.Build(raw, features(raw))
	require.NoError(t, err)

	assert.Equal(t, "31d6cfe0-4b90-11ec-8001-42010a8000b0", flat.TraceID.String())
	assert.Equal(t, "00000000-0000-0000-0123-456789abcdef", flat.SpanID.String())
	require.NotNil(t, flat.ParentID)
	assert.Equal(t, "00000000-0000-0000-fedc-ba9876543210", flat.ParentID.String())
	assert.Equal(t, model.SpanKindClient, flat.SpanKind)
	assert.Equal(t, model.WireStatusError, flat.StatusCode)

	attrs := flat.Attributes
	assert.Equal(t, 0.25, attrs["metrics.costs.incremental.total"])
	assert.Equal(t, 0.75, attrs["metrics.costs.cumulative.total"])
	assert.Equal(t, 10, attrs["metrics.tokens.incremental.total"])
	assert.NotContains(t, attrs, "metrics.acc.duration.total")
	assert.NotContains(t, attrs, "metrics.unit.costs.total")
	assert.Equal(t, "hello", attrs["data.inputs.prompt"])
	assert.Equal(t, "chatbot", attrs["refs.application.slug"])
	assert.Equal(t, "chat", attrs["type.span"])
	assert.Equal(t, "invocation", attrs["type.trace"])
	assert.Equal(t, "api", attrs["service.name"])
	assert.Len(t, flat.Events, 2)
}

func TestFlatBuilderRejectsInvalidKind(t *testing.T) {
	t.Parallel()
	raw := rawSpan()
	raw.Kind = "SPAN_KIND_SIDEWAYS"
	_, err := OTelFlatSpanBuilder{}.Build(raw, features(raw))
	assert.Error(t, err)

	raw = rawSpan()
	raw.StatusCode = "STATUS_CODE_MAYBE"
	_, err = OTelFlatSpanBuilder{}.Build(raw, features(raw))
	assert.Error(t, err)
}

func TestWireKindAcceptsShortForms(t *testing.T) {
	t.Parallel()
	k, err := WireKind("server")
	require.NoError(t, err)
	assert.Equal(t, model.SpanKindServer, k)
	k, err = WireKind("")
	require.NoError(t, err)
	assert.Equal(t, model.SpanKindUnspecified, k)
}

func TestFromSpanMatchesBuild(t *testing.T) {
	t.Parallel()
	raw := rawSpan()
	fs := features(raw)
	span, err := NodeBuilder{}.Build(raw, fs)
	require.NoError(t, err)
	direct, err := OTelFlatSpanBuilder{}.Build(raw, fs)
	require.NoError(t, err)
	fromStored, err := OTelFlatSpanBuilder{}.FromSpan(span)
	require.NoError(t, err)

	assert.Equal(t, direct.TraceID, fromStored.TraceID)
	assert.Equal(t, direct.SpanID, fromStored.SpanID)
	assert.Equal(t, direct.ParentID, fromStored.ParentID)
	assert.Equal(t, direct.SpanKind, fromStored.SpanKind)
	assert.Equal(t, direct.StatusCode, fromStored.StatusCode)
	assert.Equal(t, direct.Attributes, fromStored.Attributes)
	assert.Len(t, fromStored.Events, 2)
}

func TestEarlierExceptionEventsSurviveRoundTrip(t *testing.T) {
	t.Parallel()
	raw := rawSpan()
	raw.Events = []model.RawEvent{
		{Name: "exception", Timestamp: t0, Attributes: map[string]any{"exception.type": "Timeout", "exception.message": "first"}},
		{Name: "retry", Timestamp: t0.Add(100 * time.Millisecond)},
		{Name: "exception", Timestamp: t0.Add(time.Second), Attributes: map[string]any{"exception.type": "RateLimit", "exception.message": "second"}},
	}

	span, err := NodeBuilder{}.Build(raw, features(raw))
	require.NoError(t, err)
	require.NotNil(t, span.Exception)
	assert.Equal(t, "second", span.Exception.Message, "the last exception event is promoted")
	require.Len(t, span.OTel.Events, 2)
	assert.Equal(t, "first", span.OTel.Events[0].Attributes["exception.message"])

	flat, err := OTelFlatSpanBuilder{}.FromSpan(span)
	require.NoError(t, err)
	require.Len(t, flat.Events, 3)
	var messages []any
	for _, ev := range flat.Events {
		if ev.Name == "exception" {
			messages = append(messages, ev.Attributes["exception.message"])
		}
	}
	assert.ElementsMatch(t, []any{"first", "second"}, messages)
}

func TestRawFromSpanRebuildsSameSpan(t *testing.T) {
	t.Parallel()
	raw := rawSpan()
	raw.Links = []model.RawLink{{
		Context:    model.SpanContext{TraceID: traceHex, SpanID: parentHex},
		Attributes: map[string]any{"type": "follows"},
	}}
	span, err := NodeBuilder{}.Build(raw, features(raw))
	require.NoError(t, err)

	back, err := RawFromSpan(span)
	require.NoError(t, err)
	assert.Equal(t, traceHex, back.Context.TraceID)
	assert.Equal(t, spanHex, back.Context.SpanID)
	require.NotNil(t, back.Parent)
	assert.Equal(t, parentHex, back.Parent.SpanID)

	again, err := NodeBuilder{}.Build(back, features(back))
	require.NoError(t, err)
	assert.Equal(t, span.Node, again.Node)
	assert.Equal(t, span.Tree, again.Tree)
	assert.Equal(t, span.Parent, again.Parent)
	assert.Equal(t, span.Status, again.Status)
	assert.Equal(t, span.Data, again.Data)
	assert.Equal(t, span.Refs, again.Refs)
	assert.Equal(t, span.Links, again.Links)
	assert.Equal(t, span.Exception.Type, again.Exception.Type)
	assert.Equal(t, span.OTel.Kind, again.OTel.Kind)
	assert.Equal(t, span.OTel.Attributes, again.OTel.Attributes)
	assert.InDelta(t, 0.25, again.Metrics["unit"].(map[string]any)["costs"].(map[string]any)["total"], 1e-9)
}

// Package pipeline runs normalization, feature extraction and the enabled
// builders for one raw span, isolating builder failures from each other.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Agenta-AI/agenta-sub004/internal/errs"
	"github.com/Agenta-AI/agenta-sub004/internal/model"
	"github.com/Agenta-AI/agenta-sub004/internal/telemetry"
	"github.com/Agenta-AI/agenta-sub004/internal/tracing/adapters"
	"github.com/Agenta-AI/agenta-sub004/internal/tracing/attributes"
	"github.com/Agenta-AI/agenta-sub004/internal/tracing/builders"
)

// Results holds the outputs of the builders that succeeded. A nil field means
// the builder was disabled or failed.
type Results struct {
	Node *model.Span
	Flat *model.FlatSpan
}

// Empty reports whether no builder produced output.
func (r Results) Empty() bool {
	return r.Node == nil && r.Flat == nil
}

// Pipeline is safe for concurrent use; it holds no mutable state.
type Pipeline struct {
	registry *adapters.Registry
	node     builders.NodeBuilder
	flat     builders.OTelFlatSpanBuilder
	logger   *slog.Logger
	failures metric.Int64Counter
	runFlat  bool
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithFlatBuilder makes ProcessAll run the flat builder next to the node
// builder, so flat-shape failures surface in logs and metrics at ingest.
func WithFlatBuilder() Option {
	return func(p *Pipeline) { p.runFlat = true }
}

// New creates a pipeline bound to registry. A nil registry means
// adapters.DefaultRegistry().
func New(registry *adapters.Registry, logger *slog.Logger, opts ...Option) *Pipeline {
	if registry == nil {
		registry = adapters.DefaultRegistry()
	}
	p := &Pipeline{registry: registry, logger: logger}
	for _, opt := range opts {
		opt(p)
	}
	counter, err := telemetry.Meter("tracing/pipeline").Int64Counter("tracing.pipeline.builder_failures",
		metric.WithDescription("Spans a builder could not convert"))
	if err != nil {
		logger.Warn("pipeline: failures counter unavailable", "error", err)
	} else {
		p.failures = counter
	}
	return p
}

// Process normalizes raw once, extracts features once, and runs the node
// builder plus, when runFlat is set, the flat builder. It never fails: a
// failing builder is logged and its slot left empty.
func (p *Pipeline) Process(ctx context.Context, raw model.RawSpan, runFlat bool) Results {
	fs := p.registry.Extract(adapters.Input{
		Attributes: attributes.Normalize(raw.Attributes),
		Events:     raw.Events,
		Links:      raw.Links,
	})

	var res Results
	enabled := 1

	if span, err := p.node.Build(raw, fs); err != nil {
		p.builderFailed(ctx, builders.NodeBuilderName, raw, fs, err)
	} else {
		res.Node = &span
	}

	if runFlat {
		enabled++
		if flat, err := p.flat.Build(raw, fs); err != nil {
			p.builderFailed(ctx, builders.FlatBuilderName, raw, fs, err)
		} else {
			res.Flat = &flat
		}
	}

	if res.Empty() {
		p.logger.WarnContext(ctx, "pipeline: all builders failed, span dropped",
			"trace_id", raw.Context.TraceID,
			"span_id", raw.Context.SpanID,
			"builders", enabled)
	}
	return res
}

// ProcessAll runs Process on every span and returns the canonical spans that
// built, plus one BuilderError per dropped span.
func (p *Pipeline) ProcessAll(ctx context.Context, raws []model.RawSpan) ([]model.Span, []error) {
	spans := make([]model.Span, 0, len(raws))
	var dropped []error
	for _, raw := range raws {
		res := p.Process(ctx, raw, p.runFlat)
		if res.Node == nil {
			dropped = append(dropped, &errs.BuilderError{
				Builder: builders.NodeBuilderName,
				TraceID: raw.Context.TraceID,
				SpanID:  raw.Context.SpanID,
				Cause:   errors.New("span could not be built"),
			})
			continue
		}
		spans = append(spans, *res.Node)
	}
	return spans, dropped
}

func (p *Pipeline) builderFailed(ctx context.Context, builder string, raw model.RawSpan, fs adapters.FeatureSet, err error) {
	berr := &errs.BuilderError{
		Builder: builder,
		TraceID: raw.Context.TraceID,
		SpanID:  raw.Context.SpanID,
		Cause:   err,
	}
	p.logger.ErrorContext(ctx, "pipeline: builder failed",
		"builder", builder,
		"trace_id", raw.Context.TraceID,
		"span_id", raw.Context.SpanID,
		"span_name", raw.Name,
		featureSnapshot(fs),
		"error", berr)
	if p.failures != nil {
		p.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("builder", builder)))
	}
}

// featureSnapshot summarizes what extraction produced: the size of each
// populated bucket, the reference kinds and the link count.
func featureSnapshot(fs adapters.FeatureSet) slog.Attr {
	attrs := []any{
		"node_type", fs.NodeType,
		"tree_type", fs.TreeType,
		"has_exception", fs.Exception != nil,
		"links", len(fs.Links),
	}
	for _, b := range []struct {
		name string
		m    map[string]any
	}{
		{"data", fs.Data},
		{"metrics", fs.Metrics},
		{"meta", fs.Meta},
		{"tags", fs.Tags},
		{"flags", fs.Flags},
		{"unknown", fs.Unknown},
	} {
		if len(b.m) > 0 {
			attrs = append(attrs, b.name, len(b.m))
		}
	}
	if len(fs.Refs) > 0 {
		kinds := make([]string, 0, len(fs.Refs))
		for k := range fs.Refs {
			kinds = append(kinds, string(k))
		}
		sort.Strings(kinds)
		attrs = append(attrs, "ref_kinds", kinds)
	}
	return slog.Group("features", attrs...)
}

// Package tracing provides the business logic for span ingestion, trace
// retrieval, span queries and legacy analytics.
//
// The HTTP API and the OTLP receiver both delegate here. Every operation is
// scoped by a project id and, for writes, an actor id supplied by the caller;
// the service never inspects them beyond passing them to the store.
package tracing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/Agenta-AI/agenta-sub004/internal/errs"
	"github.com/Agenta-AI/agenta-sub004/internal/model"
	"github.com/Agenta-AI/agenta-sub004/internal/storage"
	"github.com/Agenta-AI/agenta-sub004/internal/telemetry"
	"github.com/Agenta-AI/agenta-sub004/internal/tracing/assembler"
	"github.com/Agenta-AI/agenta-sub004/internal/tracing/builders"
	"github.com/Agenta-AI/agenta-sub004/internal/tracing/ids"
	"github.com/Agenta-AI/agenta-sub004/internal/tracing/pipeline"
	"github.com/Agenta-AI/agenta-sub004/internal/tracing/query"
)

// Store persists canonical spans keyed by (project, tree id, node id).
// Writes of one call are atomic.
type Store interface {
	CreateSpans(ctx context.Context, projectID, actor uuid.UUID, spans []model.Span) error
	UpsertSpans(ctx context.Context, projectID, actor uuid.UUID, spans []model.Span) error
	ReadTrace(ctx context.Context, projectID, treeID uuid.UUID) ([]model.Span, error)
	ReadSpan(ctx context.Context, projectID, treeID, nodeID uuid.UUID) (model.Span, error)
	DeleteTrace(ctx context.Context, projectID, treeID uuid.UUID) (int64, error)
	QuerySpans(ctx context.Context, projectID uuid.UUID, q model.Query) ([]model.Span, error)
	QueryTraces(ctx context.Context, projectID uuid.UUID, q model.Query) ([]model.Span, error)
	CountSpans(ctx context.Context, projectID uuid.UUID, q model.Query, focus model.Focus) (int64, error)
	AnalyticsBuckets(ctx context.Context, projectID uuid.UUID, q model.Query) ([]model.Bucket, error)
	Ping(ctx context.Context) error
	Backend() string
}

// Service encapsulates tracing business logic shared by HTTP and OTLP handlers.
type Service struct {
	store    Store
	pipeline *pipeline.Pipeline
	flat     builders.OTelFlatSpanBuilder
	logger   *slog.Logger
	now      func() time.Time

	spansWritten  metric.Int64Counter
	queryDuration metric.Float64Histogram
}

// New creates a tracing Service.
func New(store Store, p *pipeline.Pipeline, logger *slog.Logger) *Service {
	meter := telemetry.Meter("tracing/service")
	written, _ := meter.Int64Counter("tracing.spans.written",
		metric.WithDescription("Spans persisted by ingestion and trace writes"),
	)
	queryDur, _ := meter.Float64Histogram("tracing.query.duration",
		metric.WithDescription("Time to execute span queries (ms)"),
		metric.WithUnit("ms"),
	)
	return &Service{
		store:         store,
		pipeline:      p,
		logger:        logger,
		now:           time.Now,
		spansWritten:  written,
		queryDuration: queryDur,
	}
}

// Ping checks the store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Backend names the storage engine in use.
func (s *Service) Backend() string {
	return s.store.Backend()
}

// AddTrace builds one complete trace and creates it. Every span of the
// trace must be new; otherwise storage.ErrConflict is returned and nothing
// is written.
func (s *Service) AddTrace(ctx context.Context, projectID, actor uuid.UUID, raws []model.RawSpan) (model.SpansResponse, error) {
	spans, err := s.buildTrace(ctx, raws)
	if err != nil {
		return model.SpansResponse{}, err
	}
	if err := s.store.CreateSpans(ctx, projectID, actor, spans); err != nil {
		return model.SpansResponse{}, fmt.Errorf("tracing: add trace: %w", err)
	}
	s.recordWrite(ctx, "add_trace", len(spans))
	return refsOf(spans), nil
}

// EditTrace builds one complete trace and upserts it. The last write wins.
func (s *Service) EditTrace(ctx context.Context, projectID, actor uuid.UUID, raws []model.RawSpan) (model.SpansResponse, error) {
	spans, err := s.buildTrace(ctx, raws)
	if err != nil {
		return model.SpansResponse{}, err
	}
	if err := s.store.UpsertSpans(ctx, projectID, actor, spans); err != nil {
		return model.SpansResponse{}, fmt.Errorf("tracing: edit trace: %w", err)
	}
	s.recordWrite(ctx, "edit_trace", len(spans))
	return refsOf(spans), nil
}

// IngestSpans builds and upserts an arbitrary batch of spans, possibly from
// many traces and without their roots. Spans no builder could convert are
// dropped and logged by the pipeline.
func (s *Service) IngestSpans(ctx context.Context, projectID, actor uuid.UUID, raws []model.RawSpan) (model.SpansResponse, error) {
	spans, dropped := s.pipeline.ProcessAll(ctx, raws)
	if len(dropped) > 0 {
		s.logger.WarnContext(ctx, "tracing: spans dropped during ingestion",
			"project_id", projectID, "dropped", len(dropped), "received", len(raws))
	}
	if len(spans) == 0 {
		return model.SpansResponse{}, nil
	}
	if err := s.store.UpsertSpans(ctx, projectID, actor, spans); err != nil {
		return model.SpansResponse{}, fmt.Errorf("tracing: ingest spans: %w", err)
	}
	s.recordWrite(ctx, "ingest", len(spans))
	return refsOf(spans), nil
}

// buildTrace checks that raws form one rooted trace, converts them, and
// fills the cumulative metrics.
func (s *Service) buildTrace(ctx context.Context, raws []model.RawSpan) ([]model.Span, error) {
	if err := assembler.ValidateRoots(raws); err != nil {
		return nil, err
	}
	spans, dropped := s.pipeline.ProcessAll(ctx, raws)
	if len(dropped) > 0 {
		return nil, dropped[0]
	}
	if err := assembler.ValidateSpans(spans); err != nil {
		return nil, err
	}
	traces := assembler.Assemble(spans)
	assembler.Cumulate(traces)
	return assembler.Spans(traces), nil
}

// FetchTrace returns the reconstructed trace. An unknown trace yields an
// empty response.
func (s *Service) FetchTrace(ctx context.Context, projectID uuid.UUID, traceID string) (model.TraceResponse, error) {
	treeID, err := ParseTraceID(traceID)
	if err != nil {
		return model.TraceResponse{}, err
	}
	spans, err := s.store.ReadTrace(ctx, projectID, treeID)
	if err != nil {
		return model.TraceResponse{}, fmt.Errorf("tracing: fetch trace: %w", err)
	}
	if len(spans) == 0 {
		return model.TraceResponse{}, nil
	}
	return model.TraceResponse{Count: len(spans), Traces: assembler.Assemble(spans)}, nil
}

// FetchSpan returns one span, or nil when it does not exist. spanID is
// either a node uuid or the 16-digit wire span id.
func (s *Service) FetchSpan(ctx context.Context, projectID uuid.UUID, traceID, spanID string) (*model.Span, error) {
	treeID, err := ParseTraceID(traceID)
	if err != nil {
		return nil, err
	}
	nodeID, err := ParseSpanID(treeID, spanID)
	if err != nil {
		return nil, err
	}
	span, err := s.store.ReadSpan(ctx, projectID, treeID, nodeID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("tracing: fetch span: %w", err)
	}
	return &span, nil
}

// RemoveTrace deletes every span of a trace and returns how many went.
func (s *Service) RemoveTrace(ctx context.Context, projectID uuid.UUID, traceID string) (model.DeleteResponse, error) {
	treeID, err := ParseTraceID(traceID)
	if err != nil {
		return model.DeleteResponse{}, err
	}
	n, err := s.store.DeleteTrace(ctx, projectID, treeID)
	if err != nil {
		return model.DeleteResponse{}, fmt.Errorf("tracing: remove trace: %w", err)
	}
	s.logger.InfoContext(ctx, "tracing: trace removed", "project_id", projectID, "tree_id", treeID, "spans", n)
	return model.DeleteResponse{Count: n}, nil
}

// QuerySpans runs q and shapes the page by focus and format. The total
// count and the page are fetched concurrently.
func (s *Service) QuerySpans(ctx context.Context, projectID uuid.UUID, q model.Query) (model.QueryResult, error) {
	if err := query.Validate(q); err != nil {
		return model.QueryResult{}, err
	}
	focus := q.Grouping.EffectiveFocus()
	start := s.now()

	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("tracing.query.focus", string(focus)),
		attribute.Int("tracing.query.conditions", len(q.Filtering.Conditions)),
	)

	var (
		count int64
		spans []model.Span
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := s.store.CountSpans(gctx, projectID, q, focus)
		count = n
		return err
	})
	g.Go(func() error {
		var err error
		if focus == model.FocusNode {
			spans, err = s.store.QuerySpans(gctx, projectID, q)
		} else {
			spans, err = s.store.QueryTraces(gctx, projectID, q)
		}
		return err
	})
	if err := g.Wait(); err != nil {
		if errs.IsUserError(err) {
			return model.QueryResult{}, err
		}
		return model.QueryResult{}, fmt.Errorf("tracing: query spans: %w", err)
	}

	if s.queryDuration != nil {
		s.queryDuration.Record(ctx, float64(s.now().Sub(start).Milliseconds()),
			metric.WithAttributes(attribute.String("focus", string(focus))))
	}

	res := model.QueryResult{Count: count}
	res.Oldest, res.Newest = startBounds(spans)

	if q.Formatting.Format == model.FormatOpenTelemetry {
		if focus == model.FocusTree {
			sortByStart(spans)
		}
		res.FlatSpans = s.flatten(ctx, spans)
		return res, nil
	}
	if focus == model.FocusNode {
		res.Spans = spans
		return res, nil
	}
	res.Traces = assembler.Assemble(spans)
	return res, nil
}

// Analytics aggregates root spans over a "<N>_hours" or "<N>_days" range
// into the legacy summary shape.
func (s *Service) Analytics(ctx context.Context, projectID uuid.UUID, req model.AnalyticsRequest) (model.AnalyticsSummary, error) {
	w, err := query.ParseTimeRange(req.TimeRange, s.now())
	if err != nil {
		return model.AnalyticsSummary{}, err
	}
	q := model.Query{Windowing: w, Filtering: req.Filtering}
	buckets, err := s.store.AnalyticsBuckets(ctx, projectID, q)
	if err != nil {
		if errs.IsUserError(err) {
			return model.AnalyticsSummary{}, err
		}
		return model.AnalyticsSummary{}, fmt.Errorf("tracing: analytics: %w", err)
	}
	return query.Summarize(query.FillBuckets(buckets, w)), nil
}

func (s *Service) flatten(ctx context.Context, spans []model.Span) []model.FlatSpan {
	out := make([]model.FlatSpan, 0, len(spans))
	for _, span := range spans {
		flat, err := s.flat.FromSpan(span)
		if err != nil {
			s.logger.WarnContext(ctx, "tracing: span not representable as otel",
				"tree_id", span.Tree.ID, "node_id", span.Node.ID, "error", err)
			continue
		}
		out = append(out, flat)
	}
	return out
}

func (s *Service) recordWrite(ctx context.Context, op string, n int) {
	if s.spansWritten != nil {
		s.spansWritten.Add(ctx, int64(n), metric.WithAttributes(attribute.String("op", op)))
	}
}

// RawSpansOf turns traces in the shape FetchTrace returns back into wire
// spans, so a submitted tree takes the same validation and pipeline as a
// flat span list. Nesting is authoritative: a node's tree id, node id and
// parent default to its map keys and enclosing node when left empty.
func RawSpansOf(traces model.Traces) ([]model.RawSpan, error) {
	var spans []model.Span
	var walk func(treeID uuid.UUID, key uuid.UUID, n *model.SpanNode, parent *model.ParentRef)
	walk = func(treeID, key uuid.UUID, n *model.SpanNode, parent *model.ParentRef) {
		if n == nil {
			return
		}
		span := n.Span
		if span.Tree.ID == uuid.Nil {
			span.Tree.ID = treeID
		}
		if span.Node.ID == uuid.Nil {
			span.Node.ID = key
		}
		if span.Parent == nil && parent != nil {
			span.Parent = parent
		}
		spans = append(spans, span)
		for childKey, child := range n.Nodes {
			walk(treeID, childKey, child, &model.ParentRef{ID: span.Node.ID})
		}
	}
	for treeID, tree := range traces {
		for key, n := range tree {
			walk(treeID, key, n, nil)
		}
	}
	sort.SliceStable(spans, func(i, j int) bool { return spans[i].Time.Start.Before(spans[j].Time.Start) })

	raws := make([]model.RawSpan, 0, len(spans))
	for _, span := range spans {
		raw, err := builders.RawFromSpan(span)
		if err != nil {
			return nil, errs.Validation("traces", "node %s: %v", span.Node.ID, err)
		}
		raws = append(raws, raw)
	}
	return raws, nil
}

// ParseTraceID accepts a tree uuid or a 32-digit wire trace id.
func ParseTraceID(s string) (uuid.UUID, error) {
	if id, err := uuid.Parse(s); err == nil {
		return id, nil
	}
	return ids.TreeID(s)
}

// ParseSpanID accepts a node uuid or a 16-digit wire span id of the trace
// treeID.
func ParseSpanID(treeID uuid.UUID, s string) (uuid.UUID, error) {
	if id, err := uuid.Parse(s); err == nil {
		return id, nil
	}
	return ids.NodeID(ids.TraceHex(treeID), s)
}

func refsOf(spans []model.Span) model.SpansResponse {
	refs := make([]model.Ref, len(spans))
	for i, s := range spans {
		refs[i] = model.Ref{TreeID: s.Tree.ID.String(), NodeID: s.Node.ID.String()}
	}
	return model.SpansResponse{Count: len(spans), Spans: refs}
}

func startBounds(spans []model.Span) (oldest, newest *time.Time) {
	for i := range spans {
		t := spans[i].Time.Start
		if oldest == nil || t.Before(*oldest) {
			oldest = &t
		}
		if newest == nil || t.After(*newest) {
			newest = &t
		}
	}
	return oldest, newest
}

func sortByStart(spans []model.Span) {
	sort.SliceStable(spans, func(i, j int) bool {
		return spans[i].Time.Start.Before(spans[j].Time.Start)
	})
}

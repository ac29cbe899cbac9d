package builders

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/Agenta-AI/agenta-sub004/internal/model"
	"github.com/Agenta-AI/agenta-sub004/internal/tracing/adapters"
	"github.com/Agenta-AI/agenta-sub004/internal/tracing/attributes"
	"github.com/Agenta-AI/agenta-sub004/internal/tracing/ids"
)

// FlatBuilderName identifies the flat OpenTelemetry builder.
const FlatBuilderName = "otel_flat_span_builder"

// metricRenames maps canonical metric prefixes to their wire names.
var metricRenames = []struct{ from, to string }{
	{"acc.costs", "costs.cumulative"},
	{"unit.costs", "costs.incremental"},
	{"acc.tokens", "tokens.cumulative"},
	{"unit.tokens", "tokens.incremental"},
}

// droppedMetrics never leave the service.
var droppedMetrics = map[string]bool{
	"acc.duration.total": true,
}

// OTelFlatSpanBuilder builds the flat, OpenTelemetry-shaped span.
type OTelFlatSpanBuilder struct{}

// Name returns FlatBuilderName.
func (OTelFlatSpanBuilder) Name() string { return FlatBuilderName }

// Build converts an incoming raw span.
func (OTelFlatSpanBuilder) Build(raw model.RawSpan, fs adapters.FeatureSet) (model.FlatSpan, error) {
	traceID, err := ids.FlatTraceID(raw.Context.TraceID)
	if err != nil {
		return model.FlatSpan{}, err
	}
	spanID, err := ids.FlatSpanID(raw.Context.SpanID)
	if err != nil {
		return model.FlatSpan{}, err
	}
	var parentID *uuid.UUID
	if raw.Parent != nil {
		pid, err := ids.FlatSpanID(raw.Parent.SpanID)
		if err != nil {
			return model.FlatSpan{}, fmt.Errorf("parent: %w", err)
		}
		parentID = &pid
	}
	kind, err := WireKind(raw.Kind)
	if err != nil {
		return model.FlatSpan{}, err
	}
	status, err := WireStatus(raw.StatusCode)
	if err != nil {
		return model.FlatSpan{}, err
	}

	events := make([]model.FlatEvent, 0, len(raw.Events))
	for _, ev := range raw.Events {
		events = append(events, model.FlatEvent(ev))
	}
	links := make([]model.FlatLink, 0, len(raw.Links))
	for _, l := range raw.Links {
		fl, err := flatLink(l)
		if err != nil {
			return model.FlatSpan{}, err
		}
		links = append(links, fl)
	}

	return model.FlatSpan{
		TraceID:       traceID,
		SpanID:        spanID,
		ParentID:      parentID,
		SpanKind:      kind,
		SpanName:      raw.Name,
		StartTime:     raw.StartTime,
		EndTime:       raw.EndTime,
		StatusCode:    status,
		StatusMessage: raw.StatusMessage,
		Attributes: flattenBuckets(buckets{
			data: fs.Data, metrics: fs.Metrics, meta: fs.Meta, tags: fs.Tags, flags: fs.Flags,
			refs: fs.Refs, treeType: fs.TreeType, nodeType: fs.NodeType, unknown: fs.Unknown,
		}),
		Events: nilIfEmpty(events),
		Links:  nilIfEmpty(links),
	}, nil
}

// FromSpan converts a stored canonical span back to wire shape.
func (OTelFlatSpanBuilder) FromSpan(s model.Span) (model.FlatSpan, error) {
	var parentID *uuid.UUID
	if s.Parent != nil {
		pid := ids.FlatSpanIDFromNodeID(s.Parent.ID)
		parentID = &pid
	}
	var rawKind string
	var unknown map[string]any
	if s.OTel != nil {
		rawKind = s.OTel.Kind
		unknown = s.OTel.Attributes
	}
	kind, err := WireKind(rawKind)
	if err != nil {
		return model.FlatSpan{}, err
	}
	status, err := WireStatus(string(s.Status.Code))
	if err != nil {
		return model.FlatSpan{}, err
	}

	var events []model.FlatEvent
	if s.OTel != nil {
		for _, ev := range s.OTel.Events {
			events = append(events, model.FlatEvent(ev))
		}
	}
	if s.Exception != nil {
		events = append(events, exceptionEvent(*s.Exception))
	}

	var links []model.FlatLink
	if s.OTel != nil && len(s.OTel.Links) > 0 {
		for _, l := range s.OTel.Links {
			fl, err := flatLink(l)
			if err != nil {
				return model.FlatSpan{}, err
			}
			links = append(links, fl)
		}
	} else {
		for _, l := range s.Links {
			links = append(links, model.FlatLink{
				TraceID:    l.TreeID,
				SpanID:     ids.FlatSpanIDFromNodeID(l.ID),
				Attributes: map[string]any{"type": l.Type},
			})
		}
	}

	return model.FlatSpan{
		TraceID:       s.Tree.ID,
		SpanID:        ids.FlatSpanIDFromNodeID(s.Node.ID),
		ParentID:      parentID,
		SpanKind:      kind,
		SpanName:      s.Node.Name,
		StartTime:     s.Time.Start,
		EndTime:       s.Time.End,
		StatusCode:    status,
		StatusMessage: s.Status.Message,
		Attributes: flattenBuckets(buckets{
			data: s.Data, metrics: s.Metrics, meta: s.Meta, tags: s.Tags, flags: s.Flags,
			refs: s.Refs, treeType: s.Tree.Type, nodeType: s.Node.Type, unknown: unknown,
		}),
		Events: events,
		Links:  links,
	}, nil
}

// WireKind normalizes a span kind to its SPAN_KIND_* form. Empty means
// unspecified; anything outside the closed set is an error.
func WireKind(kind string) (model.SpanKind, error) {
	if kind == "" {
		return model.SpanKindUnspecified, nil
	}
	k := strings.ToUpper(kind)
	if !strings.HasPrefix(k, "SPAN_KIND_") {
		k = "SPAN_KIND_" + k
	}
	if sk := model.SpanKind(k); sk.Valid() {
		return sk, nil
	}
	return "", fmt.Errorf("invalid span kind %q", kind)
}

// WireStatus normalizes a status code to its STATUS_CODE_* form. Empty means
// unset; anything outside the closed set is an error.
func WireStatus(code string) (model.WireStatusCode, error) {
	if code == "" {
		return model.WireStatusUnset, nil
	}
	c := strings.ToUpper(code)
	if !strings.HasPrefix(c, "STATUS_CODE_") {
		c = "STATUS_CODE_" + c
	}
	if sc := model.WireStatusCode(c); sc.Valid() {
		return sc, nil
	}
	return "", fmt.Errorf("invalid status code %q", code)
}

type buckets struct {
	data, metrics, meta, tags, flags map[string]any
	refs                             model.Refs
	treeType                         string
	nodeType                         model.NodeType
	unknown                          map[string]any
}

func flattenBuckets(b buckets) map[string]any {
	out := make(map[string]any)
	for k, v := range b.unknown {
		out[k] = v
	}
	attributes.FlattenInto(out, string(attributes.NamespaceData), b.data)
	attributes.FlattenInto(out, string(attributes.NamespaceMeta), b.meta)
	attributes.FlattenInto(out, string(attributes.NamespaceTags), b.tags)
	attributes.FlattenInto(out, string(attributes.NamespaceFlags), b.flags)

	metrics := make(map[string]any)
	attributes.FlattenInto(metrics, "", b.metrics)
	for k, v := range metrics {
		if droppedMetrics[k] {
			continue
		}
		out["metrics."+renameMetric(k)] = v
	}

	for kind, ref := range b.refs {
		prefix := "refs." + string(kind)
		if ref.ID != "" {
			out[prefix+".id"] = ref.ID
		}
		if ref.Slug != "" {
			out[prefix+".slug"] = ref.Slug
		}
		if ref.Version != "" {
			out[prefix+".version"] = ref.Version
		}
		attributes.FlattenInto(out, prefix, ref.Attributes)
	}

	if b.treeType != "" {
		out["type.trace"] = b.treeType
	}
	if b.nodeType != "" {
		out["type.span"] = string(b.nodeType)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func renameMetric(key string) string {
	for _, r := range metricRenames {
		if key == r.from || strings.HasPrefix(key, r.from+".") {
			return r.to + strings.TrimPrefix(key, r.from)
		}
	}
	return key
}

func flatLink(l model.RawLink) (model.FlatLink, error) {
	traceID, err := ids.FlatTraceID(l.Context.TraceID)
	if err != nil {
		return model.FlatLink{}, fmt.Errorf("link: %w", err)
	}
	spanID, err := ids.FlatSpanID(l.Context.SpanID)
	if err != nil {
		return model.FlatLink{}, fmt.Errorf("link: %w", err)
	}
	return model.FlatLink{TraceID: traceID, SpanID: spanID, Attributes: l.Attributes}, nil
}

func exceptionEvent(exc model.Exception) model.FlatEvent {
	attrs := make(map[string]any, len(exc.Attributes)+3)
	for k, v := range exc.Attributes {
		attrs[k] = v
	}
	attrs["exception.type"] = exc.Type
	if exc.Message != "" {
		attrs["exception.message"] = exc.Message
	}
	if exc.Stacktrace != "" {
		attrs["exception.stacktrace"] = exc.Stacktrace
	}
	return model.FlatEvent{Name: adapters.ExceptionEventName, Timestamp: exc.Timestamp, Attributes: attrs}
}

func nilIfEmpty[T any](s []T) []T {
	if len(s) == 0 {
		return nil
	}
	return s
}

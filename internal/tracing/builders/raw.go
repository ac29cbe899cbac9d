package builders

import (
	"github.com/Agenta-AI/agenta-sub004/internal/model"
	"github.com/Agenta-AI/agenta-sub004/internal/tracing/ids"
)

// RawFromSpan turns a canonical span back into the wire span NodeBuilder
// would build it from. Trees submitted in the shape FetchTrace returns go
// through it so they take the same normalization and builder path as
// wire spans.
func RawFromSpan(s model.Span) (model.RawSpan, error) {
	traceHex := ids.TraceHex(s.Tree.ID)

	var parent *model.SpanContext
	if s.Parent != nil {
		parent = &model.SpanContext{TraceID: traceHex, SpanID: ids.SpanHex(s.Parent.ID)}
	}

	var kind string
	var unknown map[string]any
	var events []model.RawEvent
	var links []model.RawLink
	if s.OTel != nil {
		kind = s.OTel.Kind
		unknown = s.OTel.Attributes
		for _, ev := range s.OTel.Events {
			events = append(events, model.RawEvent(ev))
		}
		links = append(links, s.OTel.Links...)
	}
	if s.Exception != nil {
		events = append(events, model.RawEvent(exceptionEvent(*s.Exception)))
	}
	if len(links) == 0 {
		for _, l := range s.Links {
			links = append(links, model.RawLink{
				Context:    model.SpanContext{TraceID: ids.TraceHex(l.TreeID), SpanID: ids.SpanHex(l.ID)},
				Attributes: map[string]any{"type": l.Type},
			})
		}
	}

	status, err := WireStatus(string(s.Status.Code))
	if err != nil {
		return model.RawSpan{}, err
	}

	return model.RawSpan{
		Context:       model.SpanContext{TraceID: traceHex, SpanID: ids.SpanHex(s.Node.ID)},
		Parent:        parent,
		Name:          s.Node.Name,
		Kind:          kind,
		StartTime:     s.Time.Start,
		EndTime:       s.Time.End,
		StatusCode:    string(status),
		StatusMessage: s.Status.Message,
		Attributes: flattenBuckets(buckets{
			data: s.Data, metrics: s.Metrics, meta: s.Meta, tags: s.Tags, flags: s.Flags,
			refs: s.Refs, treeType: s.Tree.Type, nodeType: s.Node.Type, unknown: unknown,
		}),
		Events: events,
		Links:  links,
	}, nil
}

// Package builders turns a raw span plus its extracted features into output
// representations: the canonical node span and the flat OpenTelemetry span.
package builders

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Agenta-AI/agenta-sub004/internal/model"
	"github.com/Agenta-AI/agenta-sub004/internal/tracing/adapters"
	"github.com/Agenta-AI/agenta-sub004/internal/tracing/ids"
)

// NodeBuilderName identifies the canonical span builder in logs and results.
const NodeBuilderName = "node_builder"

// NodeBuilder builds the canonical span.
type NodeBuilder struct{}

// Name returns NodeBuilderName.
func (NodeBuilder) Name() string { return NodeBuilderName }

// Build assembles the canonical span for raw.
func (NodeBuilder) Build(raw model.RawSpan, fs adapters.FeatureSet) (model.Span, error) {
	treeID, err := ids.TreeID(raw.Context.TraceID)
	if err != nil {
		return model.Span{}, err
	}
	nodeID, err := ids.NodeID(raw.Context.TraceID, raw.Context.SpanID)
	if err != nil {
		return model.Span{}, err
	}

	var parent *model.ParentRef
	if raw.Parent != nil {
		parentTrace := raw.Parent.TraceID
		if parentTrace == "" {
			parentTrace = raw.Context.TraceID
		}
		pid, err := ids.ParentID(parentTrace, raw.Parent.SpanID)
		if err != nil {
			return model.Span{}, fmt.Errorf("parent: %w", err)
		}
		parent = &model.ParentRef{ID: pid}
	}

	if raw.EndTime.Before(raw.StartTime) {
		return model.Span{}, fmt.Errorf("end_time %s is before start_time %s",
			raw.EndTime.Format(time.RFC3339Nano), raw.StartTime.Format(time.RFC3339Nano))
	}

	span := model.Span{
		Root:   model.RootRef{ID: rootID(fs.Refs, treeID)},
		Tree:   model.TreeRef{ID: treeID, Type: fs.TreeType},
		Node:   model.NodeRef{ID: nodeID, Type: fs.NodeType, Name: raw.Name},
		Parent: parent,
		Time: model.SpanTime{
			Start:    raw.StartTime,
			End:      raw.EndTime,
			Duration: float64(raw.EndTime.Sub(raw.StartTime).Microseconds()) / 1000,
		},
		Status: model.Status{
			Code:    CanonicalStatus(raw.StatusCode),
			Message: raw.StatusMessage,
		},
		Exception: fs.Exception,
		Data:      fs.Data,
		Metrics:   fs.Metrics,
		Meta:      fs.Meta,
		Tags:      fs.Tags,
		Flags:     fs.Flags,
		Refs:      fs.Refs,
		Links:     fs.Links,
		OTel:      otelExtra(raw, fs),
	}
	if span.Node.Type == "" {
		span.Node.Type = model.NodeTypeTask
	}
	return span, nil
}

// rootID is the scenario reference when one is present and valid, otherwise
// the tree id.
func rootID(refs model.Refs, treeID uuid.UUID) uuid.UUID {
	if ref, ok := refs[model.RefScenario]; ok && ref.ID != "" {
		if id, err := uuid.Parse(ref.ID); err == nil {
			return id
		}
	}
	return treeID
}

// CanonicalStatus strips the STATUS_CODE_ prefix. Unknown codes become UNSET.
func CanonicalStatus(code string) model.StatusCode {
	c := strings.TrimPrefix(strings.ToUpper(code), "STATUS_CODE_")
	switch model.StatusCode(c) {
	case model.StatusOK:
		return model.StatusOK
	case model.StatusError:
		return model.StatusError
	default:
		return model.StatusUnset
	}
}

func otelExtra(raw model.RawSpan, fs adapters.FeatureSet) *model.OTelExtra {
	extra := &model.OTelExtra{
		Kind:       raw.Kind,
		Attributes: fs.Unknown,
	}
	promoted := promotedException(raw.Events)
	for i, ev := range raw.Events {
		if i == promoted {
			continue
		}
		extra.Events = append(extra.Events, model.Event(ev))
	}
	if len(raw.Links) > 0 {
		extra.Links = append([]model.RawLink(nil), raw.Links...)
	}
	if extra.Kind == "" && len(extra.Attributes) == 0 && len(extra.Events) == 0 && len(extra.Links) == 0 {
		return nil
	}
	return extra
}

// promotedException is the index of the event ExceptionExtractor lifts into
// Span.Exception (the last "exception" event), or -1. Earlier exception
// events stay in the otel bag.
func promotedException(events []model.RawEvent) int {
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Name == adapters.ExceptionEventName {
			return i
		}
	}
	return -1
}

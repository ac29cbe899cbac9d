package adapters

import (
	"fmt"

	"github.com/Agenta-AI/agenta-sub004/internal/model"
	"github.com/Agenta-AI/agenta-sub004/internal/tracing/attributes"
	"github.com/Agenta-AI/agenta-sub004/internal/tracing/ids"
)

// Input is what every extractor sees: the normalized attributes plus the
// span's events and links.
type Input struct {
	Attributes map[string]any
	Events     []model.RawEvent
	Links      []model.RawLink
}

// Extractor turns normalized input into one kind of Features. Extractors are
// pure and independent of each other.
type Extractor interface {
	Name() string
	Extract(in Input) Features
}

// DataExtractor reads data.*.
type DataExtractor struct{}

func (DataExtractor) Name() string { return "data" }

func (DataExtractor) Extract(in Input) Features {
	return DataFeatures{Data: attributes.Unflatten(attributes.NamespaceData, in.Attributes)}
}

// MetricExtractor reads metrics.*.
type MetricExtractor struct{}

func (MetricExtractor) Name() string { return "metrics" }

func (MetricExtractor) Extract(in Input) Features {
	return MetricFeatures{Metrics: canonicalMetrics(attributes.Unflatten(attributes.NamespaceMetrics, in.Attributes))}
}

// canonicalMetrics moves wire-named metrics (costs.incremental,
// tokens.cumulative, ...) to their canonical unit/acc homes so that spans
// emitted by the flat builder can be ingested again.
func canonicalMetrics(m map[string]any) map[string]any {
	for _, metric := range []string{"costs", "tokens"} {
		group, ok := m[metric].(map[string]any)
		if !ok {
			continue
		}
		for wire, canonical := range map[string]string{"incremental": "unit", "cumulative": "acc"} {
			values, ok := group[wire].(map[string]any)
			if !ok {
				continue
			}
			dst, ok := m[canonical].(map[string]any)
			if !ok {
				dst = make(map[string]any)
				m[canonical] = dst
			}
			if _, exists := dst[metric]; !exists {
				dst[metric] = values
			}
			delete(group, wire)
		}
		if len(group) == 0 {
			delete(m, metric)
		}
	}
	return m
}

// MetaExtractor reads meta.*.
type MetaExtractor struct{}

func (MetaExtractor) Name() string { return "meta" }

func (MetaExtractor) Extract(in Input) Features {
	return MetaFeatures{Meta: attributes.Unflatten(attributes.NamespaceMeta, in.Attributes)}
}

// TagExtractor reads tags.*.
type TagExtractor struct{}

func (TagExtractor) Name() string { return "tags" }

func (TagExtractor) Extract(in Input) Features {
	return TagFeatures{Tags: attributes.Unflatten(attributes.NamespaceTags, in.Attributes)}
}

// FlagExtractor reads flags.*.
type FlagExtractor struct{}

func (FlagExtractor) Name() string { return "flags" }

func (FlagExtractor) Extract(in Input) Features {
	return FlagFeatures{Flags: attributes.Unflatten(attributes.NamespaceFlags, in.Attributes)}
}

// RefExtractor reads refs.<kind>.<field> into typed references.
type RefExtractor struct{}

func (RefExtractor) Name() string { return "refs" }

func (RefExtractor) Extract(in Input) Features {
	nested := attributes.Unflatten(attributes.NamespaceRefs, in.Attributes)
	if len(nested) == 0 {
		return RefFeatures{}
	}
	refs := make(model.Refs, len(nested))
	for kind, v := range nested {
		fields, ok := v.(map[string]any)
		if !ok {
			refs[model.RefKind(kind)] = model.Reference{ID: stringify(v)}
			continue
		}
		var ref model.Reference
		for k, fv := range fields {
			switch k {
			case "id":
				ref.ID = stringify(fv)
			case "slug":
				ref.Slug = stringify(fv)
			case "version":
				ref.Version = stringify(fv)
			default:
				if ref.Attributes == nil {
					ref.Attributes = make(map[string]any)
				}
				ref.Attributes[k] = fv
			}
		}
		refs[model.RefKind(kind)] = ref
	}
	return RefFeatures{Refs: refs}
}

// TypeExtractor reads type.tree / type.node, accepting the wire aliases
// type.trace / type.span.
type TypeExtractor struct{}

func (TypeExtractor) Name() string { return "type" }

func (TypeExtractor) Extract(in Input) Features {
	tree := firstString(in.Attributes, "type.tree", "type.trace")
	node := firstString(in.Attributes, "type.node", "type.span")
	return TypeFeatures{Tree: tree, Node: model.ParseNodeType(node)}
}

// ExceptionEventName is the reserved event name carrying an exception.
const ExceptionEventName = "exception"

// ExceptionExtractor reads the last reserved "exception" event, falling back
// to exception.* span attributes.
type ExceptionExtractor struct{}

func (ExceptionExtractor) Name() string { return "exception" }

func (ExceptionExtractor) Extract(in Input) Features {
	for i := len(in.Events) - 1; i >= 0; i-- {
		ev := in.Events[i]
		if ev.Name != ExceptionEventName {
			continue
		}
		exc := exceptionFrom(ev.Attributes)
		exc.Timestamp = ev.Timestamp
		return ExceptionFeatures{Exception: exc}
	}
	group := make(map[string]any)
	for k, v := range in.Attributes {
		if ns, _ := attributes.Split(k); ns == attributes.NamespaceException {
			group[k] = v
		}
	}
	if len(group) == 0 {
		return ExceptionFeatures{}
	}
	return ExceptionFeatures{Exception: exceptionFrom(group)}
}

func exceptionFrom(attrs map[string]any) *model.Exception {
	exc := &model.Exception{}
	for k, v := range attrs {
		switch k {
		case "exception.type":
			exc.Type = stringify(v)
		case "exception.message":
			exc.Message = stringify(v)
		case "exception.stacktrace":
			exc.Stacktrace = stringify(v)
		default:
			if exc.Attributes == nil {
				exc.Attributes = make(map[string]any)
			}
			exc.Attributes[k] = v
		}
	}
	return exc
}

// LinkExtractor converts wire links to canonical links. Links whose
// identifiers do not parse are dropped.
type LinkExtractor struct{}

func (LinkExtractor) Name() string { return "links" }

func (LinkExtractor) Extract(in Input) Features {
	if len(in.Links) == 0 {
		return LinkFeatures{}
	}
	links := make([]model.Link, 0, len(in.Links))
	for _, l := range in.Links {
		treeID, err := ids.TreeID(l.Context.TraceID)
		if err != nil {
			continue
		}
		nodeID, err := ids.NodeID(l.Context.TraceID, l.Context.SpanID)
		if err != nil {
			continue
		}
		typ := firstString(l.Attributes, "type", "link.type")
		if typ == "" {
			typ = "link"
		}
		links = append(links, model.Link{Type: typ, ID: nodeID, TreeID: treeID})
	}
	return LinkFeatures{Links: links}
}

// UnknownExtractor keeps every attribute whose namespace is not structured.
type UnknownExtractor struct{}

func (UnknownExtractor) Name() string { return "unknown" }

func (UnknownExtractor) Extract(in Input) Features {
	var out map[string]any
	for k, v := range in.Attributes {
		if ns, _ := attributes.Split(k); attributes.IsKnown(ns) {
			continue
		}
		if out == nil {
			out = make(map[string]any)
		}
		out[k] = v
	}
	return UnknownFeatures{Attributes: out}
}

func firstString(attrs map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := attrs[k]; ok && v != nil {
			return stringify(v)
		}
	}
	return ""
}

func stringify(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case float64:
		if s == float64(int64(s)) {
			return fmt.Sprintf("%d", int64(s))
		}
	}
	return fmt.Sprint(v)
}

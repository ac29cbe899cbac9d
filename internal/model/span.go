package model

import (
	"time"

	"github.com/google/uuid"
)

// NodeType classifies what a span did. The set is closed; anything else
// normalizes to NodeTypeTask.
type NodeType string

const (
	NodeTypeAgent      NodeType = "agent"
	NodeTypeWorkflow   NodeType = "workflow"
	NodeTypeChain      NodeType = "chain"
	NodeTypeTask       NodeType = "task"
	NodeTypeTool       NodeType = "tool"
	NodeTypeEmbedding  NodeType = "embedding"
	NodeTypeQuery      NodeType = "query"
	NodeTypeCompletion NodeType = "completion"
	NodeTypeChat       NodeType = "chat"
	NodeTypeRerank     NodeType = "rerank"
)

// ParseNodeType returns the NodeType named by s, or NodeTypeTask when s is
// not a known type.
func ParseNodeType(s string) NodeType {
	switch t := NodeType(s); t {
	case NodeTypeAgent, NodeTypeWorkflow, NodeTypeChain, NodeTypeTask, NodeTypeTool,
		NodeTypeEmbedding, NodeTypeQuery, NodeTypeCompletion, NodeTypeChat, NodeTypeRerank:
		return t
	default:
		return NodeTypeTask
	}
}

// StatusCode is the canonical span outcome.
type StatusCode string

const (
	StatusUnset StatusCode = "UNSET"
	StatusOK    StatusCode = "OK"
	StatusError StatusCode = "ERROR"
)

// RefKind names the entity a span reference points at.
type RefKind string

const (
	RefApplication         RefKind = "application"
	RefApplicationVariant  RefKind = "application_variant"
	RefApplicationRevision RefKind = "application_revision"
	RefEnvironment         RefKind = "environment"
	RefEnvironmentRevision RefKind = "environment_revision"
	RefEvaluator           RefKind = "evaluator"
	RefEvaluatorVariant    RefKind = "evaluator_variant"
	RefEvaluatorRevision   RefKind = "evaluator_revision"
	RefTestset             RefKind = "testset"
	RefTestcase            RefKind = "testcase"
	RefScenario            RefKind = "scenario"
	RefQuery               RefKind = "query"
	RefWorkflow            RefKind = "workflow"
)

// Reference points a span at another entity. Keys under refs.<kind>.* other
// than id, slug and version land in Attributes.
type Reference struct {
	ID         string         `json:"id,omitempty"`
	Slug       string         `json:"slug,omitempty"`
	Version    string         `json:"version,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Refs maps reference kinds to references. Unknown kinds are kept.
type Refs map[RefKind]Reference

// RootRef groups spans of one scenario (or, absent one, of one trace).
type RootRef struct {
	ID uuid.UUID `json:"id"`
}

// TreeRef identifies the trace a span belongs to.
type TreeRef struct {
	ID   uuid.UUID `json:"id"`
	Type string    `json:"type,omitempty"`
}

// NodeRef identifies a span inside its trace.
type NodeRef struct {
	ID   uuid.UUID `json:"id"`
	Type NodeType  `json:"type"`
	Name string    `json:"name"`
}

// ParentRef points at the enclosing span.
type ParentRef struct {
	ID uuid.UUID `json:"id"`
}

// SpanTime carries the span's wall-clock bounds. Duration is in milliseconds.
type SpanTime struct {
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Duration float64   `json:"duration"`
}

// Status is the span outcome.
type Status struct {
	Code    StatusCode `json:"code"`
	Message string     `json:"message,omitempty"`
}

// Exception describes the error recorded on a span.
type Exception struct {
	Timestamp  time.Time      `json:"timestamp"`
	Type       string         `json:"type"`
	Message    string         `json:"message,omitempty"`
	Stacktrace string         `json:"stacktrace,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Link relates a span to a span of another (or the same) trace.
type Link struct {
	Type   string    `json:"type"`
	ID     uuid.UUID `json:"id"`
	TreeID uuid.UUID `json:"tree_id"`
}

// Event is a timestamped occurrence inside a span.
type Event struct {
	Name       string         `json:"name"`
	Timestamp  time.Time      `json:"timestamp"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// OTelExtra keeps the wire details that have no canonical home so that a
// span can be emitted again without loss.
type OTelExtra struct {
	Kind       string         `json:"kind,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
	Events     []Event        `json:"events,omitempty"`
	Links      []RawLink      `json:"links,omitempty"`
}

// Lifecycle records who wrote a span and when.
type Lifecycle struct {
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
	CreatedBy uuid.UUID  `json:"created_by"`
	UpdatedBy *uuid.UUID `json:"updated_by,omitempty"`
}

// Span is the canonical, structured form of one execution span.
type Span struct {
	Root      RootRef        `json:"root"`
	Tree      TreeRef        `json:"tree"`
	Node      NodeRef        `json:"node"`
	Parent    *ParentRef     `json:"parent,omitempty"`
	Time      SpanTime       `json:"time"`
	Status    Status         `json:"status"`
	Exception *Exception     `json:"exception,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Metrics   map[string]any `json:"metrics,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
	Tags      map[string]any `json:"tags,omitempty"`
	Flags     map[string]any `json:"flags,omitempty"`
	Refs      Refs           `json:"refs,omitempty"`
	Links     []Link         `json:"links,omitempty"`
	OTel      *OTelExtra     `json:"otel,omitempty"`
	Lifecycle *Lifecycle     `json:"lifecycle,omitempty"`
}

// IsRoot reports whether the span has no parent.
func (s Span) IsRoot() bool {
	return s.Parent == nil
}

// SpanNode is a span with its children resolved, keyed by node id.
type SpanNode struct {
	Span
	Nodes map[uuid.UUID]*SpanNode `json:"nodes,omitempty"`
}

// Tree is one reconstructed trace keyed by node id. It holds the root node
// at the top level.
type Tree map[uuid.UUID]*SpanNode

// Traces maps tree ids to reconstructed trees.
type Traces map[uuid.UUID]Tree

// Count returns the number of spans across all trees.
func (t Traces) Count() int {
	var count func(n *SpanNode) int
	count = func(n *SpanNode) int {
		if n == nil {
			return 0
		}
		c := 1
		for _, child := range n.Nodes {
			c += count(child)
		}
		return c
	}
	total := 0
	for _, tree := range t {
		for _, n := range tree {
			total += count(n)
		}
	}
	return total
}

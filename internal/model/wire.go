package model

import (
	"time"

	"github.com/google/uuid"
)

// SpanContext carries wire identifiers: "0x" followed by 32 (trace) or
// 16 (span) hex digits.
type SpanContext struct {
	TraceID string `json:"trace_id"`
	SpanID  string `json:"span_id"`
}

// RawEvent is an event as it arrives on the wire.
type RawEvent struct {
	Name       string         `json:"name"`
	Timestamp  time.Time      `json:"timestamp"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// RawLink is a link as it arrives on the wire.
type RawLink struct {
	Context    SpanContext    `json:"context"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// RawSpan is the wire-level unit of ingestion. Attribute keys are namespaced
// with dots ("data.inputs.prompt", "refs.application.id"); values are scalars
// or JSON-encoded strings.
type RawSpan struct {
	Context       SpanContext    `json:"context"`
	Parent        *SpanContext   `json:"parent,omitempty"`
	Name          string         `json:"name"`
	Kind          string         `json:"kind,omitempty"`
	StartTime     time.Time      `json:"start_time"`
	EndTime       time.Time      `json:"end_time"`
	StatusCode    string         `json:"status_code,omitempty"`
	StatusMessage string         `json:"status_message,omitempty"`
	Attributes    map[string]any `json:"attributes,omitempty"`
	Events        []RawEvent     `json:"events,omitempty"`
	Links         []RawLink      `json:"links,omitempty"`
}

// SpanKind is the closed set of wire span kinds.
type SpanKind string

const (
	SpanKindUnspecified SpanKind = "SPAN_KIND_UNSPECIFIED"
	SpanKindInternal    SpanKind = "SPAN_KIND_INTERNAL"
	SpanKindServer      SpanKind = "SPAN_KIND_SERVER"
	SpanKindClient      SpanKind = "SPAN_KIND_CLIENT"
	SpanKindProducer    SpanKind = "SPAN_KIND_PRODUCER"
	SpanKindConsumer    SpanKind = "SPAN_KIND_CONSUMER"
)

// Valid reports whether k is one of the known span kinds.
func (k SpanKind) Valid() bool {
	switch k {
	case SpanKindUnspecified, SpanKindInternal, SpanKindServer, SpanKindClient, SpanKindProducer, SpanKindConsumer:
		return true
	}
	return false
}

// WireStatusCode is the closed set of wire status codes.
type WireStatusCode string

const (
	WireStatusUnset WireStatusCode = "STATUS_CODE_UNSET"
	WireStatusOK    WireStatusCode = "STATUS_CODE_OK"
	WireStatusError WireStatusCode = "STATUS_CODE_ERROR"
)

// Valid reports whether c is one of the known status codes.
func (c WireStatusCode) Valid() bool {
	switch c {
	case WireStatusUnset, WireStatusOK, WireStatusError:
		return true
	}
	return false
}

// FlatEvent is an event in wire shape.
type FlatEvent struct {
	Name       string         `json:"name"`
	Timestamp  time.Time      `json:"timestamp"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// FlatLink is a link in wire shape, with uuid identifiers.
type FlatLink struct {
	TraceID    uuid.UUID      `json:"trace_id"`
	SpanID     uuid.UUID      `json:"span_id"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// FlatSpan is the OpenTelemetry-shaped output of a span: uuid identifiers,
// closed enums, and all structured buckets flattened back into namespaced
// attributes.
type FlatSpan struct {
	TraceID       uuid.UUID      `json:"trace_id"`
	SpanID        uuid.UUID      `json:"span_id"`
	ParentID      *uuid.UUID     `json:"parent_id,omitempty"`
	SpanKind      SpanKind       `json:"span_kind"`
	SpanName      string         `json:"span_name"`
	StartTime     time.Time      `json:"start_time"`
	EndTime       time.Time      `json:"end_time"`
	StatusCode    WireStatusCode `json:"status_code"`
	StatusMessage string         `json:"status_message,omitempty"`
	Attributes    map[string]any `json:"attributes,omitempty"`
	Events        []FlatEvent    `json:"events,omitempty"`
	Links         []FlatLink     `json:"links,omitempty"`
}

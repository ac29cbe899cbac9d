package model

import (
	"fmt"
	"time"
)

// MaxSpansPerRequest caps the number of spans accepted in one write request.
const MaxSpansPerRequest = 10_000

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput     = "INVALID_INPUT"
	ErrCodeInvalidStructure = "INVALID_STRUCTURE"
	ErrCodeInvalidFilter    = "INVALID_FILTER"
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeConflict         = "CONFLICT"
	ErrCodeInternalError    = "INTERNAL_ERROR"
	ErrCodeRateLimited      = "RATE_LIMITED"
)

// SpansRequest is the request body for POST/PUT /v1/traces and POST /v1/spans.
// A trace is sent either as flat wire spans or as the nested traces shape
// GET /v1/traces/{trace_id} returns, never both. An empty request is left to
// the service: trace writes reject it as a structure error, ingestion
// accepts it with a zero count.
type SpansRequest struct {
	Spans  []RawSpan `json:"spans,omitempty"`
	Traces Traces    `json:"traces,omitempty"`
}

// Validate checks request-level limits before any span is processed.
func (r SpansRequest) Validate() error {
	if len(r.Spans) > 0 && len(r.Traces) > 0 {
		return fmt.Errorf("set either spans or traces, not both")
	}
	if n := len(r.Spans) + r.Traces.Count(); n > MaxSpansPerRequest {
		return fmt.Errorf("request holds %d spans, maximum is %d", n, MaxSpansPerRequest)
	}
	return nil
}

// SpansResponse reports the spans written by a request.
type SpansResponse struct {
	Count int   `json:"count"`
	Spans []Ref `json:"spans,omitempty"`
}

// Ref identifies one written span.
type Ref struct {
	TreeID string `json:"tree_id"`
	NodeID string `json:"node_id"`
}

// TraceResponse is the response for GET /v1/traces/{trace_id}.
type TraceResponse struct {
	Count  int    `json:"count"`
	Traces Traces `json:"traces,omitempty"`
}

// DeleteResponse is the response for DELETE /v1/traces/{trace_id}.
type DeleteResponse struct {
	Count int64 `json:"count"`
}

// AnalyticsRequest is the request body for POST /v1/analytics.
type AnalyticsRequest struct {
	TimeRange string    `json:"time_range"`
	Filtering Filtering `json:"filtering"`
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Storage  string `json:"storage"`
	Database string `json:"database"`
	Uptime   int64  `json:"uptime_seconds"`
}

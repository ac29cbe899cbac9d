package model

import (
	"time"
)

// Focus selects whether query results are individual spans or whole trees.
type Focus string

const (
	FocusNode Focus = "node"
	FocusTree Focus = "tree"
)

// Format selects the output representation of query results.
type Format string

const (
	FormatAgenta        Format = "agenta"
	FormatOpenTelemetry Format = "opentelemetry"
)

// Grouping controls result shape. The zero value means tree focus.
type Grouping struct {
	Focus Focus `json:"focus,omitempty"`
}

// EffectiveFocus returns the focus, defaulting to FocusTree.
func (g Grouping) EffectiveFocus() Focus {
	if g.Focus == "" {
		return FocusTree
	}
	return g.Focus
}

// Windowing bounds results by span start time. Interval, in minutes, asks for
// bucketed aggregation instead of a span listing.
type Windowing struct {
	Oldest   *time.Time `json:"oldest,omitempty"`
	Newest   *time.Time `json:"newest,omitempty"`
	Interval *int       `json:"interval,omitempty"`
}

// Operator is a filter comparison.
type Operator string

const (
	OpIs         Operator = "is"
	OpIsNot      Operator = "is_not"
	OpEq         Operator = "eq"
	OpNeq        Operator = "neq"
	OpGt         Operator = "gt"
	OpLt         Operator = "lt"
	OpGte        Operator = "gte"
	OpLte        Operator = "lte"
	OpBetween    Operator = "btwn"
	OpIn         Operator = "in"
	OpNotIn      Operator = "not_in"
	OpContains   Operator = "contains"
	OpStartsWith Operator = "startswith"
	OpEndsWith   Operator = "endswith"
	OpLike       Operator = "like"
	OpExists     Operator = "exists"
	OpNotExists  Operator = "not_exists"
)

// Condition is one filter predicate. Value is decoded JSON: string, float64,
// bool, []any, or nil.
type Condition struct {
	Key      string   `json:"key"`
	Operator Operator `json:"operator,omitempty"`
	Value    any      `json:"value,omitempty"`
}

// Filtering is a conjunction of conditions.
type Filtering struct {
	Conditions []Condition `json:"conditions,omitempty"`
}

// Pagination is either page-based ({page, size}) or cursor-based
// ({next, stop}). Next and Stop are start-time bounds.
type Pagination struct {
	Page *int       `json:"page,omitempty"`
	Size *int       `json:"size,omitempty"`
	Next *time.Time `json:"next,omitempty"`
	Stop *time.Time `json:"stop,omitempty"`
}

// Formatting selects the output representation.
type Formatting struct {
	Format Format `json:"format,omitempty"`
}

// Query is the full span query.
type Query struct {
	Grouping   Grouping   `json:"grouping"`
	Windowing  Windowing  `json:"windowing"`
	Filtering  Filtering  `json:"filtering"`
	Pagination Pagination `json:"pagination"`
	Formatting Formatting `json:"formatting"`
}

// QueryResult is the output of a span query. Exactly one of Spans, Traces,
// FlatSpans is populated, depending on focus and format.
type QueryResult struct {
	Count     int64      `json:"count"`
	Oldest    *time.Time `json:"oldest,omitempty"`
	Newest    *time.Time `json:"newest,omitempty"`
	Spans     []Span     `json:"spans,omitempty"`
	Traces    Traces     `json:"traces,omitempty"`
	FlatSpans []FlatSpan `json:"otel_spans,omitempty"`
}

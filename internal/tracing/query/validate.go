// Package query validates span queries and shapes bucketed analytics.
package query

import (
	"github.com/Agenta-AI/agenta-sub004/internal/errs"
	"github.com/Agenta-AI/agenta-sub004/internal/model"
)

const (
	// DefaultLimit applies when a query does not set a page size.
	DefaultLimit = 100
	// MaxLimit caps any requested page size.
	MaxLimit = 1000
)

// Validate checks the parts of q that do not depend on storage: focus,
// format, windowing bounds and the pagination combination rules. Filter
// conditions are checked when they are compiled.
func Validate(q model.Query) error {
	switch q.Grouping.Focus {
	case "", model.FocusNode, model.FocusTree:
	default:
		return errs.Validation("grouping.focus", "unknown focus %q", q.Grouping.Focus)
	}
	switch q.Formatting.Format {
	case "", model.FormatAgenta, model.FormatOpenTelemetry:
	default:
		return errs.Validation("formatting.format", "unknown format %q", q.Formatting.Format)
	}

	w := q.Windowing
	if w.Oldest != nil && w.Newest != nil && w.Oldest.After(*w.Newest) {
		return errs.Validation("windowing", "oldest is after newest")
	}
	if w.Interval != nil && *w.Interval <= 0 {
		return errs.Validation("windowing.interval", "must be positive")
	}

	return ValidatePagination(q.Pagination)
}

// ValidatePagination enforces: page requires size; page cannot be combined
// with next; size cannot be combined with stop; page and size are positive.
func ValidatePagination(p model.Pagination) error {
	if p.Page != nil && p.Size == nil {
		return errs.Validation("pagination.page", "page requires size")
	}
	if p.Page != nil && p.Next != nil {
		return errs.Validation("pagination", "page cannot be combined with next")
	}
	if p.Size != nil && p.Stop != nil {
		return errs.Validation("pagination", "size cannot be combined with stop")
	}
	if p.Page != nil && *p.Page < 1 {
		return errs.Validation("pagination.page", "must be at least 1")
	}
	if p.Size != nil && (*p.Size < 1 || *p.Size > MaxLimit) {
		return errs.Validation("pagination.size", "must be between 1 and %d", MaxLimit)
	}
	if p.Next != nil && p.Stop != nil && p.Stop.After(*p.Next) {
		return errs.Validation("pagination", "stop is after next")
	}
	return nil
}

// LimitOffset resolves pagination to a row limit and offset.
func LimitOffset(p model.Pagination) (limit, offset int) {
	limit = DefaultLimit
	if p.Size != nil {
		limit = *p.Size
	}
	if p.Page != nil {
		offset = (*p.Page - 1) * limit
	}
	return limit, offset
}

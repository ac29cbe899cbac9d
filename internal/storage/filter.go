package storage

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Agenta-AI/agenta-sub004/internal/errs"
	"github.com/Agenta-AI/agenta-sub004/internal/model"
)

type columnKind int

const (
	kindUUID columnKind = iota
	kindText
	kindTime
)

type column struct {
	name string
	kind columnKind
}

// spanColumns maps filter keys onto first-class columns of the spans table.
var spanColumns = map[string]column{
	"root.id":        {"root_id", kindUUID},
	"tree.id":        {"tree_id", kindUUID},
	"tree.type":      {"tree_type", kindText},
	"type.tree":      {"tree_type", kindText},
	"node.id":        {"node_id", kindUUID},
	"node.type":      {"node_type", kindText},
	"type.node":      {"node_type", kindText},
	"node.name":      {"node_name", kindText},
	"parent.id":      {"parent_id", kindUUID},
	"status.code":    {"status_code", kindText},
	"status.message": {"status_message", kindText},
	"time.start":     {"time_start", kindTime},
	"time.end":       {"time_end", kindTime},
}

// jsonColumns are the structured buckets that accept a dotted path suffix.
var jsonColumns = map[string]string{
	"data":      "data",
	"metrics":   "metrics",
	"meta":      "meta",
	"tags":      "tags",
	"flags":     "flags",
	"refs":      "refs",
	"exception": "exception",
}

var pathSegment = regexp.MustCompile(`^[A-Za-z0-9_\-]+$`)

func validPathSegment(s string) bool {
	return pathSegment.MatchString(s)
}

// SpanWhere compiles the project scope, time window, cursor and filter
// conditions of q into a predicate list. Filter problems come back as
// *errs.FilteringError.
func SpanWhere(d Dialect, projectID uuid.UUID, q model.Query) (*Where, error) {
	w := NewWhere(d)
	if err := addSpanScope(w, projectID, q); err != nil {
		return nil, err
	}
	return w, nil
}

// addSpanScope appends the predicates of SpanWhere to an existing list so
// callers can bind SELECT-list arguments first.
func addSpanScope(w *Where, projectID uuid.UUID, q model.Query) error {
	w.Add("project_id = " + w.Arg(w.d.UUID(projectID)))

	if q.Windowing.Oldest != nil {
		w.Add("time_start >= " + w.Arg(w.d.Time(*q.Windowing.Oldest)))
	}
	if q.Windowing.Newest != nil {
		w.Add("time_start <= " + w.Arg(w.d.Time(*q.Windowing.Newest)))
	}
	if q.Pagination.Next != nil {
		w.Add("time_start < " + w.Arg(w.d.Time(*q.Pagination.Next)))
	}
	if q.Pagination.Stop != nil {
		w.Add("time_start >= " + w.Arg(w.d.Time(*q.Pagination.Stop)))
	}

	for _, c := range q.Filtering.Conditions {
		if err := addCondition(w, c); err != nil {
			return err
		}
	}
	return nil
}

func filterErr(c model.Condition, format string, args ...any) error {
	return &errs.FilteringError{Key: c.Key, Operator: string(c.Operator), Message: fmt.Sprintf(format, args...)}
}

func addCondition(w *Where, c model.Condition) error {
	if c.Operator == "" {
		c.Operator = model.OpIs
	}
	if col, ok := spanColumns[c.Key]; ok {
		switch col.kind {
		case kindUUID:
			return addUUIDCondition(w, col.name, c)
		case kindTime:
			return addTimeCondition(w, col.name, c)
		default:
			return addTextCondition(w, col.name, c)
		}
	}

	ns, rest, _ := strings.Cut(c.Key, ".")
	name, ok := jsonColumns[ns]
	if !ok {
		return filterErr(c, "unknown key")
	}
	if rest == "" {
		return filterErr(c, "key needs a path below %q", ns)
	}
	path := strings.Split(rest, ".")
	for _, seg := range path {
		if !validPathSegment(seg) {
			return filterErr(c, "invalid path segment %q", seg)
		}
	}
	return addJSONCondition(w, name, path, c)
}

func existence(w *Where, expr string, c model.Condition) bool {
	switch c.Operator {
	case model.OpExists:
		w.Add(expr + " IS NOT NULL")
		return true
	case model.OpNotExists:
		w.Add(expr + " IS NULL")
		return true
	}
	return false
}

func addUUIDCondition(w *Where, col string, c model.Condition) error {
	if existence(w, col, c) {
		return nil
	}
	switch c.Operator {
	case model.OpIs, model.OpEq, model.OpIsNot, model.OpNeq:
		id, err := uuidValue(c.Value)
		if err != nil {
			return filterErr(c, "%v", err)
		}
		if c.Operator == model.OpIs || c.Operator == model.OpEq {
			w.Add(col + " = " + w.Arg(w.d.UUID(id)))
		} else {
			w.Add(col + " IS DISTINCT FROM " + w.Arg(w.d.UUID(id)))
		}
		return nil
	case model.OpIn, model.OpNotIn:
		list, err := listValue(c, 1)
		if err != nil {
			return err
		}
		ids := make([]any, len(list))
		for i, v := range list {
			id, err := uuidValue(v)
			if err != nil {
				return filterErr(c, "%v", err)
			}
			ids[i] = w.d.UUID(id)
		}
		addIn(w, col, ids, c.Operator == model.OpNotIn)
		return nil
	}
	return filterErr(c, "operator not supported for identifiers")
}

func addTextCondition(w *Where, col string, c model.Condition) error {
	if existence(w, col, c) {
		return nil
	}
	switch c.Operator {
	case model.OpIn, model.OpNotIn:
		list, err := listValue(c, 1)
		if err != nil {
			return err
		}
		vals := make([]any, len(list))
		for i, v := range list {
			s, ok := v.(string)
			if !ok {
				return filterErr(c, "list values must be strings")
			}
			vals[i] = s
		}
		addIn(w, col, vals, c.Operator == model.OpNotIn)
		return nil
	}

	s, ok := c.Value.(string)
	if !ok {
		return filterErr(c, "value must be a string")
	}
	switch c.Operator {
	case model.OpIs, model.OpEq:
		w.Add(col + " = " + w.Arg(s))
	case model.OpIsNot, model.OpNeq:
		w.Add(col + " IS DISTINCT FROM " + w.Arg(s))
	case model.OpContains, model.OpStartsWith, model.OpEndsWith, model.OpLike:
		w.Add(col + " LIKE " + w.Arg(likePattern(c.Operator, s)) + ` ESCAPE '\'`)
	default:
		return filterErr(c, "operator not supported for text")
	}
	return nil
}

func addTimeCondition(w *Where, col string, c model.Condition) error {
	if existence(w, col, c) {
		return nil
	}
	if c.Operator == model.OpBetween {
		list, err := listValue(c, 2)
		if err != nil {
			return err
		}
		if len(list) != 2 {
			return filterErr(c, "btwn needs exactly two values")
		}
		lo, err := timeValue(list[0])
		if err != nil {
			return filterErr(c, "%v", err)
		}
		hi, err := timeValue(list[1])
		if err != nil {
			return filterErr(c, "%v", err)
		}
		w.Add(col + " BETWEEN " + w.Arg(w.d.Time(lo)) + " AND " + w.Arg(w.d.Time(hi)))
		return nil
	}

	op, ok := comparison(c.Operator)
	if !ok {
		return filterErr(c, "operator not supported for timestamps")
	}
	t, err := timeValue(c.Value)
	if err != nil {
		return filterErr(c, "%v", err)
	}
	w.Add(col + " " + op + " " + w.Arg(w.d.Time(t)))
	return nil
}

func addJSONCondition(w *Where, col string, path []string, c model.Condition) error {
	switch c.Operator {
	case model.OpExists:
		w.Add(w.d.JSONExists(col, path))
		return nil
	case model.OpNotExists:
		w.Add("NOT (" + w.d.JSONExists(col, path) + ")")
		return nil
	}

	text := w.d.JSONText(col, path)
	switch c.Operator {
	case model.OpIs:
		if !isScalar(c.Value) {
			return filterErr(c, "value must be a string, number or boolean")
		}
		w.Add(text + " = " + w.Arg(w.d.Scalar(c.Value)))
		return nil
	case model.OpIsNot:
		if !isScalar(c.Value) {
			return filterErr(c, "value must be a string, number or boolean")
		}
		w.Add(text + " IS DISTINCT FROM " + w.Arg(w.d.Scalar(c.Value)))
		return nil
	case model.OpIn, model.OpNotIn:
		list, err := listValue(c, 1)
		if err != nil {
			return err
		}
		vals := make([]any, len(list))
		for i, v := range list {
			if !isScalar(v) {
				return filterErr(c, "list values must be scalars")
			}
			vals[i] = w.d.Scalar(v)
		}
		addIn(w, text, vals, c.Operator == model.OpNotIn)
		return nil
	case model.OpContains, model.OpStartsWith, model.OpEndsWith, model.OpLike:
		s, ok := c.Value.(string)
		if !ok {
			return filterErr(c, "value must be a string")
		}
		w.Add(text + " LIKE " + w.Arg(likePattern(c.Operator, s)) + ` ESCAPE '\'`)
		return nil
	case model.OpBetween:
		list, err := listValue(c, 2)
		if err != nil {
			return err
		}
		if len(list) != 2 {
			return filterErr(c, "btwn needs exactly two values")
		}
		lo, lok := list[0].(float64)
		hi, hok := list[1].(float64)
		if !lok || !hok {
			return filterErr(c, "btwn values must be numbers")
		}
		num := w.d.JSONNumber(col, path)
		w.Add(num + " BETWEEN " + w.Arg(lo) + " AND " + w.Arg(hi))
		return nil
	}

	op, ok := comparison(c.Operator)
	if !ok {
		return filterErr(c, "unknown operator")
	}
	switch v := c.Value.(type) {
	case float64:
		w.Add(w.d.JSONNumber(col, path) + " " + op + " " + w.Arg(v))
	case string:
		if c.Operator != model.OpEq && c.Operator != model.OpNeq {
			return filterErr(c, "ordering comparisons need a number")
		}
		w.Add(text + " " + op + " " + w.Arg(v))
	case bool:
		if c.Operator != model.OpEq && c.Operator != model.OpNeq {
			return filterErr(c, "ordering comparisons need a number")
		}
		w.Add(text + " " + op + " " + w.Arg(w.d.Scalar(v)))
	default:
		return filterErr(c, "value must be a string, number or boolean")
	}
	return nil
}

func comparison(op model.Operator) (string, bool) {
	switch op {
	case model.OpIs, model.OpEq:
		return "=", true
	case model.OpIsNot, model.OpNeq:
		return "<>", true
	case model.OpGt:
		return ">", true
	case model.OpLt:
		return "<", true
	case model.OpGte:
		return ">=", true
	case model.OpLte:
		return "<=", true
	}
	return "", false
}

func addIn(w *Where, expr string, vals []any, negate bool) {
	marks := make([]string, len(vals))
	for i, v := range vals {
		marks[i] = w.Arg(v)
	}
	list := "(" + strings.Join(marks, ", ") + ")"
	if negate {
		w.Add("(" + expr + " IS NULL OR " + expr + " NOT IN " + list + ")")
		return
	}
	w.Add(expr + " IN " + list)
}

func listValue(c model.Condition, atLeast int) ([]any, error) {
	list, ok := c.Value.([]any)
	if !ok {
		return nil, filterErr(c, "value must be a list")
	}
	if len(list) < atLeast {
		return nil, filterErr(c, "list must have at least %d value(s)", atLeast)
	}
	return list, nil
}

func isScalar(v any) bool {
	switch v.(type) {
	case string, float64, bool:
		return true
	}
	return false
}

func uuidValue(v any) (uuid.UUID, error) {
	s, ok := v.(string)
	if !ok {
		return uuid.Nil, fmt.Errorf("value must be a uuid string")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid uuid %q", s)
	}
	return id, nil
}

func timeValue(v any) (time.Time, error) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("value must be an RFC 3339 timestamp")
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
	}
	return t, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// likePattern builds the LIKE operand. The like operator passes the
// caller's pattern through untouched.
func likePattern(op model.Operator, s string) string {
	switch op {
	case model.OpContains:
		return "%" + likeEscaper.Replace(s) + "%"
	case model.OpStartsWith:
		return likeEscaper.Replace(s) + "%"
	case model.OpEndsWith:
		return "%" + likeEscaper.Replace(s)
	default:
		return s
	}
}

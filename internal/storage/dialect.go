package storage

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Dialect renders the few SQL fragments that differ between the Postgres and
// SQLite span stores. JSON paths handed to a Dialect have already been
// checked by validPathSegment.
type Dialect interface {
	// Placeholder returns the bind marker for the n-th argument (1-based).
	Placeholder(n int) string
	// JSONText extracts the value at path as text (SQL NULL when absent).
	JSONText(column string, path []string) string
	// JSONNumber extracts the value at path as a number, or NULL when it is
	// absent or not numeric.
	JSONNumber(column string, path []string) string
	// JSONExists is a boolean expression true when path is present.
	JSONExists(column string, path []string) string
	// Bucket floors column to a multiple of minutes counted from origin.
	Bucket(w *Where, column string, origin time.Time, minutes int) string
	// DurationMicros is the span duration in microseconds.
	DurationMicros(start, end string) string

	Time(t time.Time) any
	UUID(id uuid.UUID) any
	// Scalar converts a decoded JSON scalar into an argument comparable
	// with JSONText.
	Scalar(v any) any
}

// Postgres is the Dialect for pgx against PostgreSQL.
type Postgres struct{}

func (Postgres) Placeholder(n int) string { return "$" + strconv.Itoa(n) }

func pgPath(path []string) string {
	return "'{" + strings.Join(path, ",") + "}'"
}

func (Postgres) JSONText(column string, path []string) string {
	return "(" + column + " #>> " + pgPath(path) + ")"
}

func (Postgres) JSONNumber(column string, path []string) string {
	p := pgPath(path)
	return fmt.Sprintf("(CASE WHEN jsonb_typeof(%s #> %s) = 'number' THEN (%s #>> %s)::double precision END)", column, p, column, p)
}

func (Postgres) JSONExists(column string, path []string) string {
	return "(" + column + " #> " + pgPath(path) + ") IS NOT NULL"
}

func (d Postgres) Bucket(w *Where, column string, origin time.Time, minutes int) string {
	return fmt.Sprintf("date_bin(make_interval(mins => %s), %s, %s)",
		w.Arg(minutes), column, w.Arg(d.Time(origin)))
}

func (Postgres) DurationMicros(start, end string) string {
	return fmt.Sprintf("(EXTRACT(EPOCH FROM (%s - %s)) * 1000000)", end, start)
}

func (Postgres) Time(t time.Time) any  { return t.UTC() }
func (Postgres) UUID(id uuid.UUID) any { return id }
func (Postgres) Scalar(v any) any      { return scalarText(v) }
func (Postgres) String() string        { return "postgres" }

// SQLite is the Dialect for modernc.org/sqlite. Times are stored as Unix
// microseconds and uuids as canonical strings.
type SQLite struct{}

func (SQLite) Placeholder(int) string { return "?" }

func sqlitePath(path []string) string {
	var b strings.Builder
	b.WriteString("'$")
	for _, p := range path {
		b.WriteString(`."`)
		b.WriteString(p)
		b.WriteString(`"`)
	}
	b.WriteString("'")
	return b.String()
}

func (SQLite) JSONText(column string, path []string) string {
	return "json_extract(" + column + ", " + sqlitePath(path) + ")"
}

func (SQLite) JSONNumber(column string, path []string) string {
	p := sqlitePath(path)
	return fmt.Sprintf("(CASE WHEN json_type(%s, %s) IN ('integer', 'real') THEN json_extract(%s, %s) END)", column, p, column, p)
}

func (SQLite) JSONExists(column string, path []string) string {
	return "json_type(" + column + ", " + sqlitePath(path) + ") IS NOT NULL"
}

func (d SQLite) Bucket(w *Where, column string, origin time.Time, minutes int) string {
	width := int64(minutes) * int64(time.Minute/time.Microsecond)
	// Positional "?" markers bind in textual order.
	var b strings.Builder
	b.WriteString("(" + w.Arg(d.Time(origin)) + " + ((" + column + " - ")
	b.WriteString(w.Arg(d.Time(origin)) + ") / " + w.Arg(width) + ") * ")
	b.WriteString(w.Arg(width) + ")")
	return b.String()
}

func (SQLite) DurationMicros(start, end string) string {
	return "(" + end + " - " + start + ")"
}

func (SQLite) Time(t time.Time) any  { return t.UnixMicro() }
func (SQLite) UUID(id uuid.UUID) any { return id.String() }

// Scalar maps booleans to 0/1 because json_extract returns JSON true/false
// as integers.
func (SQLite) Scalar(v any) any {
	switch x := v.(type) {
	case bool:
		if x {
			return 1
		}
		return 0
	case string, float64, int, int64:
		return x
	default:
		return scalarText(v)
	}
}

func (SQLite) String() string { return "sqlite" }

// scalarText renders a JSON scalar the way Postgres #>> prints it.
func scalarText(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	default:
		return fmt.Sprint(x)
	}
}

// Where accumulates AND-ed predicates and their bind arguments for one
// statement.
type Where struct {
	d       Dialect
	clauses []string
	args    []any
}

// NewWhere starts an empty predicate list for d.
func NewWhere(d Dialect) *Where {
	return &Where{d: d}
}

// Arg binds v and returns its placeholder.
func (w *Where) Arg(v any) string {
	w.args = append(w.args, v)
	return w.d.Placeholder(len(w.args))
}

// Args returns the bound arguments in placeholder order.
func (w *Where) Args() []any { return w.args }

// Add appends a predicate.
func (w *Where) Add(clause string) {
	w.clauses = append(w.clauses, clause)
}

// SQL renders the WHERE clause, or "" when no predicate was added.
func (w *Where) SQL() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(w.clauses, " AND ")
}

// Package ids derives the uuid identifiers used by the canonical and flat span
// representations from OpenTelemetry hex identifiers, and back.
//
// Two derivations exist and must not be mixed:
//
//   - tree/node derivation (canonical spans): the node id embeds the low half
//     of the trace id so node ids are unique across traces.
//   - flat derivation (OpenTelemetry output): the span id is left-padded with
//     zeros.
package ids

import (
	"strings"

	"github.com/google/uuid"

	"github.com/Agenta-AI/agenta-sub004/internal/errs"
)

const (
	traceHexLen = 32
	spanHexLen  = 16
	zeroHalf    = "0000000000000000"
)

// NormalizeTraceHex strips an optional "0x" prefix, lowercases, and checks
// that exactly 32 hex digits remain.
func NormalizeTraceHex(s string) (string, error) {
	return normalize("trace_id", s, traceHexLen)
}

// NormalizeSpanHex strips an optional "0x" prefix, lowercases, and checks
// that exactly 16 hex digits remain.
func NormalizeSpanHex(s string) (string, error) {
	return normalize("span_id", s, spanHexLen)
}

func normalize(field, s string, want int) (string, error) {
	h := strings.ToLower(s)
	h = strings.TrimPrefix(h, "0x")
	if len(h) != want {
		return "", errs.Validation(field, "expected %d hex digits, got %d", want, len(h))
	}
	for i := 0; i < len(h); i++ {
		c := h[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return "", errs.Validation(field, "invalid hex digit %q", c)
		}
	}
	return h, nil
}

// TreeID returns the uuid whose hex digits are the 32 trace hex digits verbatim.
func TreeID(traceHex string) (uuid.UUID, error) {
	h, err := NormalizeTraceHex(traceHex)
	if err != nil {
		return uuid.Nil, err
	}
	return fromHex(h)
}

// NodeID returns the uuid formed by the last 16 trace hex digits followed by
// the 16 span hex digits.
func NodeID(traceHex, spanHex string) (uuid.UUID, error) {
	th, err := NormalizeTraceHex(traceHex)
	if err != nil {
		return uuid.Nil, err
	}
	sh, err := NormalizeSpanHex(spanHex)
	if err != nil {
		return uuid.Nil, err
	}
	return fromHex(th[spanHexLen:] + sh)
}

// ParentID derives the parent's node id from the parent's own trace and span
// identifiers. ParentID(parent) equals NodeID of the parent span.
func ParentID(parentTraceHex, parentSpanHex string) (uuid.UUID, error) {
	return NodeID(parentTraceHex, parentSpanHex)
}

// FlatTraceID returns the flat trace uuid, identical to TreeID.
func FlatTraceID(traceHex string) (uuid.UUID, error) {
	return TreeID(traceHex)
}

// FlatSpanID returns the flat span uuid: sixteen zeros followed by the span hex.
func FlatSpanID(spanHex string) (uuid.UUID, error) {
	sh, err := NormalizeSpanHex(spanHex)
	if err != nil {
		return uuid.Nil, err
	}
	return fromHex(zeroHalf + sh)
}

// TraceHex returns the "0x"-prefixed trace hex of a tree id.
func TraceHex(treeID uuid.UUID) string {
	return "0x" + hexOf(treeID)
}

// SpanHex returns the "0x"-prefixed span hex embedded in a node id or a flat
// span id. Both derivations place the span hex in the low 16 digits.
func SpanHex(id uuid.UUID) string {
	return "0x" + hexOf(id)[spanHexLen:]
}

// FlatSpanIDFromNodeID converts a canonical node id to its flat span id.
func FlatSpanIDFromNodeID(nodeID uuid.UUID) uuid.UUID {
	id, _ := fromHex(zeroHalf + hexOf(nodeID)[spanHexLen:])
	return id
}

// NodeIDFromFlat converts a flat trace/span id pair to the canonical node id.
func NodeIDFromFlat(traceID, spanID uuid.UUID) uuid.UUID {
	id, _ := fromHex(hexOf(traceID)[spanHexLen:] + hexOf(spanID)[spanHexLen:])
	return id
}

func hexOf(id uuid.UUID) string {
	return strings.ReplaceAll(id.String(), "-", "")
}

func fromHex(h string) (uuid.UUID, error) {
	id, err := uuid.Parse(h)
	if err != nil {
		return uuid.Nil, errs.Validation("id", "%v", err)
	}
	return id, nil
}

package ids

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Agenta-AI/agenta-sub004/internal/errs"
)

const (
	traceHex = "0x31d6cfe04b9011ec800142010a8000b0"
	spanHex  = "0x0123456789abcdef"
)

func TestTreeIDIsVerbatim(t *testing.T) {
	t.Parallel()
	id, err := TreeID(traceHex)
	require.NoError(t, err)
	assert.Equal(t, "31d6cfe0-4b90-11ec-8001-42010a8000b0", id.String())
}

func TestNodeIDCombinesLowTraceHalfAndSpan(t *testing.T) {
	t.Parallel()
	id, err := NodeID(traceHex, spanHex)
	require.NoError(t, err)
	assert.Equal(t, "80014201-0a80-00b0-0123-456789abcdef", id.String())
}

func TestParentIDMatchesParentNodeID(t *testing.T) {
	t.Parallel()
	parentSpan := "0xfedcba9876543210"
	nodeOfParent, err := NodeID(traceHex, parentSpan)
	require.NoError(t, err)
	parentOfChild, err := ParentID(traceHex, parentSpan)
	require.NoError(t, err)
	assert.Equal(t, nodeOfParent, parentOfChild)
}

func TestFlatDerivation(t *testing.T) {
	t.Parallel()
	traceID, err := FlatTraceID(traceHex)
	require.NoError(t, err)
	assert.Equal(t, "31d6cfe0-4b90-11ec-8001-42010a8000b0", traceID.String())

	spanID, err := FlatSpanID(spanHex)
	require.NoError(t, err)
	assert.Equal(t, "00000000-0000-0000-0123-456789abcdef", spanID.String())
}

func TestDerivationsAreDistinct(t *testing.T) {
	t.Parallel()
	node, err := NodeID(traceHex, spanHex)
	require.NoError(t, err)
	flat, err := FlatSpanID(spanHex)
	require.NoError(t, err)
	assert.NotEqual(t, node, flat)
	assert.Equal(t, flat, FlatSpanIDFromNodeID(node))

	tree, err := TreeID(traceHex)
	require.NoError(t, err)
	assert.Equal(t, node, NodeIDFromFlat(tree, flat))
}

func TestAcceptsUnprefixedAndUppercase(t *testing.T) {
	t.Parallel()
	a, err := NodeID("31D6CFE04B9011EC800142010A8000B0", "0123456789ABCDEF")
	require.NoError(t, err)
	b, err := NodeID(traceHex, spanHex)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestHexRoundTrip(t *testing.T) {
	t.Parallel()
	tree, err := TreeID(traceHex)
	require.NoError(t, err)
	node, err := NodeID(traceHex, spanHex)
	require.NoError(t, err)
	assert.Equal(t, traceHex, TraceHex(tree))
	assert.Equal(t, spanHex, SpanHex(node))
}

func TestInvalidHexRejected(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		trace string
		span  string
	}{
		{"short trace", "0x31d6", spanHex},
		{"long trace", traceHex + "00", spanHex},
		{"short span", traceHex, "0x0123"},
		{"non hex trace", "0xzzd6cfe04b9011ec800142010a8000b0", spanHex},
		{"non hex span", traceHex, "0x0123456789abcdeg"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			id, err := NodeID(tt.trace, tt.span)
			require.Error(t, err)
			assert.Equal(t, uuid.Nil, id)
			var ve *errs.ValidationError
			assert.True(t, errors.As(err, &ve))
		})
	}
}

// Package otlp decodes OTLP/HTTP trace export requests into wire spans.
package otlp

import (
	"fmt"
	"mime"

	"go.opentelemetry.io/collector/pdata/pcommon"
	"go.opentelemetry.io/collector/pdata/ptrace"
	"go.opentelemetry.io/collector/pdata/ptrace/ptraceotlp"

	"github.com/Agenta-AI/agenta-sub004/internal/errs"
	"github.com/Agenta-AI/agenta-sub004/internal/model"
)

// Supported request encodings.
const (
	ContentTypeJSON     = "application/json"
	ContentTypeProtobuf = "application/x-protobuf"
)

// Encoding resolves a Content-Type header to one of the supported encodings.
// An empty header is treated as protobuf, the OTLP/HTTP default.
func Encoding(contentType string) (string, error) {
	if contentType == "" {
		return ContentTypeProtobuf, nil
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", errs.Validation("content-type", "malformed content type %q", contentType)
	}
	switch mt {
	case ContentTypeJSON, ContentTypeProtobuf:
		return mt, nil
	}
	return "", errs.Validation("content-type", "unsupported content type %q", mt)
}

// Decode parses an export request body in the given encoding and converts
// every span it carries.
func Decode(encoding string, body []byte) ([]model.RawSpan, error) {
	req := ptraceotlp.NewExportRequest()
	var err error
	switch encoding {
	case ContentTypeJSON:
		err = req.UnmarshalJSON(body)
	case ContentTypeProtobuf:
		err = req.UnmarshalProto(body)
	default:
		return nil, errs.Validation("content-type", "unsupported content type %q", encoding)
	}
	if err != nil {
		return nil, errs.Validation("body", "decode otlp request: %v", err)
	}
	return Convert(req.Traces()), nil
}

// EncodeResponse marshals an empty export response in the request's encoding.
func EncodeResponse(encoding string) ([]byte, error) {
	resp := ptraceotlp.NewExportResponse()
	if encoding == ContentTypeJSON {
		b, err := resp.MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("otlp: marshal response: %w", err)
		}
		return b, nil
	}
	b, err := resp.MarshalProto()
	if err != nil {
		return nil, fmt.Errorf("otlp: marshal response: %w", err)
	}
	return b, nil
}

// Convert flattens the resource and scope hierarchy of td into wire spans.
// Resource and scope attributes are not carried over.
func Convert(td ptrace.Traces) []model.RawSpan {
	out := make([]model.RawSpan, 0, td.SpanCount())
	rss := td.ResourceSpans()
	for i := 0; i < rss.Len(); i++ {
		sss := rss.At(i).ScopeSpans()
		for j := 0; j < sss.Len(); j++ {
			spans := sss.At(j).Spans()
			for k := 0; k < spans.Len(); k++ {
				out = append(out, convertSpan(spans.At(k)))
			}
		}
	}
	return out
}

func convertSpan(s ptrace.Span) model.RawSpan {
	traceID := traceHex(s.TraceID())
	raw := model.RawSpan{
		Context:       model.SpanContext{TraceID: traceID, SpanID: spanHex(s.SpanID())},
		Name:          s.Name(),
		Kind:          string(spanKind(s.Kind())),
		StartTime:     s.StartTimestamp().AsTime(),
		EndTime:       s.EndTimestamp().AsTime(),
		StatusCode:    string(statusCode(s.Status().Code())),
		StatusMessage: s.Status().Message(),
		Attributes:    attributes(s.Attributes()),
	}
	if parent := s.ParentSpanID(); !parent.IsEmpty() {
		raw.Parent = &model.SpanContext{TraceID: traceID, SpanID: spanHex(parent)}
	}

	events := s.Events()
	for i := 0; i < events.Len(); i++ {
		ev := events.At(i)
		raw.Events = append(raw.Events, model.RawEvent{
			Name:       ev.Name(),
			Timestamp:  ev.Timestamp().AsTime(),
			Attributes: attributes(ev.Attributes()),
		})
	}

	links := s.Links()
	for i := 0; i < links.Len(); i++ {
		l := links.At(i)
		raw.Links = append(raw.Links, model.RawLink{
			Context:    model.SpanContext{TraceID: traceHex(l.TraceID()), SpanID: spanHex(l.SpanID())},
			Attributes: attributes(l.Attributes()),
		})
	}
	return raw
}

func attributes(m pcommon.Map) map[string]any {
	if m.Len() == 0 {
		return nil
	}
	return m.AsRaw()
}

// An empty id renders as "0x", which the span builders reject.
func traceHex(id pcommon.TraceID) string { return "0x" + id.String() }

func spanHex(id pcommon.SpanID) string { return "0x" + id.String() }

func spanKind(k ptrace.SpanKind) model.SpanKind {
	switch k {
	case ptrace.SpanKindInternal:
		return model.SpanKindInternal
	case ptrace.SpanKindServer:
		return model.SpanKindServer
	case ptrace.SpanKindClient:
		return model.SpanKindClient
	case ptrace.SpanKindProducer:
		return model.SpanKindProducer
	case ptrace.SpanKindConsumer:
		return model.SpanKindConsumer
	default:
		return model.SpanKindUnspecified
	}
}

func statusCode(c ptrace.StatusCode) model.WireStatusCode {
	switch c {
	case ptrace.StatusCodeOk:
		return model.WireStatusOK
	case ptrace.StatusCodeError:
		return model.WireStatusError
	default:
		return model.WireStatusUnset
	}
}

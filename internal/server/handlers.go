package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/Agenta-AI/agenta-sub004/internal/ctxutil"
	"github.com/Agenta-AI/agenta-sub004/internal/errs"
	"github.com/Agenta-AI/agenta-sub004/internal/model"
	"github.com/Agenta-AI/agenta-sub004/internal/otlp"
	"github.com/Agenta-AI/agenta-sub004/internal/service/tracing"
	"github.com/Agenta-AI/agenta-sub004/internal/storage"
)

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	svc                 *tracing.Service
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
}

// NewHandlers creates a new Handlers.
func NewHandlers(svc *tracing.Service, logger *slog.Logger, version string, maxRequestBodyBytes int64) *Handlers {
	return &Handlers{
		svc:                 svc,
		logger:              logger,
		startedAt:           time.Now(),
		version:             version,
		maxRequestBodyBytes: maxRequestBodyBytes,
	}
}

// spanWrite is the signature shared by the service's span write operations.
type spanWrite func(ctx context.Context, projectID, actor uuid.UUID, raws []model.RawSpan) (model.SpansResponse, error)

// HandleAddTrace handles POST /v1/traces.
func (h *Handlers) HandleAddTrace(w http.ResponseWriter, r *http.Request) {
	h.handleWrite(w, r, http.StatusCreated, h.svc.AddTrace)
}

// HandleEditTrace handles PUT /v1/traces.
func (h *Handlers) HandleEditTrace(w http.ResponseWriter, r *http.Request) {
	h.handleWrite(w, r, http.StatusOK, h.svc.EditTrace)
}

// HandleIngestSpans handles POST /v1/spans.
func (h *Handlers) HandleIngestSpans(w http.ResponseWriter, r *http.Request) {
	h.handleWrite(w, r, http.StatusAccepted, h.svc.IngestSpans)
}

func (h *Handlers) handleWrite(w http.ResponseWriter, r *http.Request, status int, write spanWrite) {
	var req model.SpansRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	raws := req.Spans
	if len(req.Traces) > 0 {
		var err error
		if raws, err = tracing.RawSpansOf(req.Traces); err != nil {
			h.writeServiceError(w, r, err)
			return
		}
	}

	ctx := r.Context()
	resp, err := write(ctx, ctxutil.ProjectIDFromContext(ctx), ctxutil.UserIDFromContext(ctx), raws)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, status, resp)
}

// HandleFetchTrace handles GET /v1/traces/{trace_id}.
func (h *Handlers) HandleFetchTrace(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp, err := h.svc.FetchTrace(ctx, ctxutil.ProjectIDFromContext(ctx), r.PathValue("trace_id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// HandleRemoveTrace handles DELETE /v1/traces/{trace_id}.
func (h *Handlers) HandleRemoveTrace(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp, err := h.svc.RemoveTrace(ctx, ctxutil.ProjectIDFromContext(ctx), r.PathValue("trace_id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// HandleFetchSpan handles GET /v1/traces/{trace_id}/spans/{span_id}.
func (h *Handlers) HandleFetchSpan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	span, err := h.svc.FetchSpan(ctx, ctxutil.ProjectIDFromContext(ctx), r.PathValue("trace_id"), r.PathValue("span_id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if span == nil {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "span not found")
		return
	}
	writeJSON(w, r, http.StatusOK, span)
}

// HandleQuerySpans handles POST /v1/spans/query. An empty body runs the
// default query: tree focus, newest first, first page.
func (h *Handlers) HandleQuerySpans(w http.ResponseWriter, r *http.Request) {
	var q model.Query
	if err := decodeJSON(w, r, &q, h.maxRequestBodyBytes); err != nil && !errors.Is(err, io.EOF) {
		handleDecodeError(w, r, err)
		return
	}

	ctx := r.Context()
	result, err := h.svc.QuerySpans(ctx, ctxutil.ProjectIDFromContext(ctx), q)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

// HandleAnalytics handles POST /v1/analytics.
func (h *Handlers) HandleAnalytics(w http.ResponseWriter, r *http.Request) {
	var req model.AnalyticsRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil && !errors.Is(err, io.EOF) {
		handleDecodeError(w, r, err)
		return
	}

	ctx := r.Context()
	summary, err := h.svc.Analytics(ctx, ctxutil.ProjectIDFromContext(ctx), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, summary)
}

// HandleOTLPTraces handles POST /otlp/v1/traces. The response body is an
// empty export response in the request's encoding.
func (h *Handlers) HandleOTLPTraces(w http.ResponseWriter, r *http.Request) {
	encoding, err := otlp.Encoding(r.Header.Get("Content-Type"))
	if err != nil {
		writeError(w, r, http.StatusUnsupportedMediaType, model.ErrCodeInvalidInput, err.Error())
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxRequestBodyBytes))
	if err != nil {
		handleDecodeError(w, r, err)
		return
	}
	raws, err := otlp.Decode(encoding, body)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	ctx := r.Context()
	if len(raws) > 0 {
		if _, err := h.svc.IngestSpans(ctx, ctxutil.ProjectIDFromContext(ctx), ctxutil.UserIDFromContext(ctx), raws); err != nil {
			h.writeServiceError(w, r, err)
			return
		}
	}

	resp, err := otlp.EncodeResponse(encoding)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", encoding)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(resp)
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	dbStatus := "connected"
	status := "healthy"
	httpStatus := http.StatusOK

	if err := h.svc.Ping(r.Context()); err != nil {
		h.logger.WarnContext(r.Context(), "health: storage ping failed", "error", err)
		dbStatus = "disconnected"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, r, httpStatus, model.HealthResponse{
		Status:   status,
		Version:  h.version,
		Storage:  h.svc.Backend(),
		Database: dbStatus,
		Uptime:   int64(time.Since(h.startedAt).Seconds()),
	})
}

// writeServiceError maps service errors to responses: caller mistakes to
// 4xx with details, everything else to a logged 500.
func (h *Handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		fe *errs.FilteringError
		se *errs.StructureError
		ve *errs.ValidationError
		be *errs.BuilderError
	)
	switch {
	case errors.As(err, &fe):
		writeErrorDetail(w, r, http.StatusBadRequest, model.ErrorDetail{
			Code:    model.ErrCodeInvalidFilter,
			Message: fe.Error(),
			Details: map[string]string{"key": fe.Key, "operator": fe.Operator},
		})
	case errors.As(err, &se):
		writeErrorDetail(w, r, http.StatusBadRequest, model.ErrorDetail{
			Code:    model.ErrCodeInvalidStructure,
			Message: se.Error(),
			Details: map[string]int{"roots": se.Roots},
		})
	case errors.As(err, &ve):
		writeErrorDetail(w, r, http.StatusBadRequest, model.ErrorDetail{
			Code:    model.ErrCodeInvalidInput,
			Message: ve.Error(),
			Details: map[string]string{"field": ve.Field},
		})
	case errors.As(err, &be):
		writeErrorDetail(w, r, http.StatusBadRequest, model.ErrorDetail{
			Code:    model.ErrCodeInvalidInput,
			Message: be.Error(),
			Details: map[string]string{"trace_id": be.TraceID, "span_id": be.SpanID},
		})
	case errors.Is(err, storage.ErrConflict):
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, "one or more spans already exist")
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "not found")
	default:
		h.logger.ErrorContext(r.Context(), "server: request failed",
			"error", err,
			"path", r.URL.Path,
			"request_id", RequestIDFromContext(r.Context()))
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "internal error")
	}
}

package server_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/collector/pdata/pcommon"
	"go.opentelemetry.io/collector/pdata/ptrace"
	"go.opentelemetry.io/collector/pdata/ptrace/ptraceotlp"

	"github.com/Agenta-AI/agenta-sub004/internal/auth"
	"github.com/Agenta-AI/agenta-sub004/internal/model"
	"github.com/Agenta-AI/agenta-sub004/internal/otlp"
	"github.com/Agenta-AI/agenta-sub004/internal/server"
	"github.com/Agenta-AI/agenta-sub004/internal/service/tracing"
	"github.com/Agenta-AI/agenta-sub004/internal/testutil"
	"github.com/Agenta-AI/agenta-sub004/internal/tracing/pipeline"
)

const (
	traceHex = "0x31d6cfe04b9011ec800142010a8000b0"
	rootHex  = "0x0000000000000001"
	childHex = "0x0000000000000002"
)

var start = time.Now().UTC().Add(-time.Hour).Truncate(time.Second)

type testEnv struct {
	srv   *httptest.Server
	jwt   *auth.JWTManager
	token string
}

func newEnv(t *testing.T) testEnv {
	t.Helper()
	logger := testutil.TestLogger()
	svc := tracing.New(testutil.NewSQLiteStore(t), pipeline.New(nil, logger), logger)

	jwtMgr, err := auth.NewJWTManager("", "", time.Hour, logger)
	require.NoError(t, err)
	token, _, err := jwtMgr.IssueToken(uuid.New(), uuid.New())
	require.NoError(t, err)

	srv := server.New(server.ServerConfig{
		Service:             svc,
		JWTMgr:              jwtMgr,
		Logger:              logger,
		Version:             "test",
		MaxRequestBodyBytes: 1 << 20,
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, "# metrics\n")
		}),
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return testEnv{srv: ts, jwt: jwtMgr, token: token}
}

func (e testEnv) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rdr)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var out map[string]any
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp, out
}

func rawTrace() []model.RawSpan {
	return []model.RawSpan{
		{
			Context:    model.SpanContext{TraceID: traceHex, SpanID: rootHex},
			Name:       "workflow",
			StartTime:  start,
			EndTime:    start.Add(time.Second),
			StatusCode: "STATUS_CODE_OK",
			Attributes: map[string]any{"type.span": "workflow", "metrics.unit.costs.total": 0.2},
		},
		{
			Context:    model.SpanContext{TraceID: traceHex, SpanID: childHex},
			Parent:     &model.SpanContext{TraceID: traceHex, SpanID: rootHex},
			Name:       "llm",
			StartTime:  start.Add(100 * time.Millisecond),
			EndTime:    start.Add(600 * time.Millisecond),
			StatusCode: "STATUS_CODE_OK",
			Attributes: map[string]any{"type.span": "chat", "data.inputs.prompt": "hello"},
		},
	}
}

func data(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	d, ok := body["data"].(map[string]any)
	require.True(t, ok, "response has a data object: %v", body)
	return d
}

func errorCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func TestTraceLifecycle(t *testing.T) {
	env := newEnv(t)

	resp, body := env.do(t, http.MethodPost, "/v1/traces", model.SpansRequest{Spans: rawTrace()})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	assert.EqualValues(t, 2, data(t, body)["count"])
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	resp, body = env.do(t, http.MethodPost, "/v1/traces", model.SpansRequest{Spans: rawTrace()})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, model.ErrCodeConflict, errorCode(body))

	resp, body = env.do(t, http.MethodPut, "/v1/traces", model.SpansRequest{Spans: rawTrace()})
	assert.Equal(t, http.StatusOK, resp.StatusCode, body)

	resp, body = env.do(t, http.MethodGet, "/v1/traces/"+traceHex, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, data(t, body)["count"])
	assert.Len(t, data(t, body)["traces"], 1)

	resp, body = env.do(t, http.MethodGet, "/v1/traces/"+traceHex+"/spans/"+childHex, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	node := data(t, body)["node"].(map[string]any)
	assert.Equal(t, "llm", node["name"])

	resp, body = env.do(t, http.MethodDelete, "/v1/traces/"+traceHex, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, data(t, body)["count"])

	resp, _ = env.do(t, http.MethodGet, "/v1/traces/"+traceHex+"/spans/"+childHex, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = env.do(t, http.MethodGet, "/v1/traces/"+traceHex, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 0, data(t, body)["count"])
}

func TestWriteTraceAsTree(t *testing.T) {
	env := newEnv(t)

	resp, body := env.do(t, http.MethodPost, "/v1/traces", model.SpansRequest{Spans: rawTrace()})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	resp, body = env.do(t, http.MethodGet, "/v1/traces/"+traceHex, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	tree := data(t, body)["traces"]

	resp, body = env.do(t, http.MethodDelete, "/v1/traces/"+traceHex, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)

	resp, body = env.do(t, http.MethodPost, "/v1/traces", map[string]any{"traces": tree})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	assert.EqualValues(t, 2, data(t, body)["count"])

	resp, body = env.do(t, http.MethodGet, "/v1/traces/"+traceHex+"/spans/"+childHex, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, "llm", data(t, body)["node"].(map[string]any)["name"])
}

func TestIngestEmptyBatch(t *testing.T) {
	env := newEnv(t)

	resp, body := env.do(t, http.MethodPost, "/v1/spans", model.SpansRequest{})
	require.Equal(t, http.StatusAccepted, resp.StatusCode, body)
	assert.EqualValues(t, 0, data(t, body)["count"])
}

func TestWriteErrors(t *testing.T) {
	env := newEnv(t)

	orphan := rawTrace()[1:]
	twoRoots := rawTrace()
	twoRoots[1].Parent = nil

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"empty spans", http.MethodPost, "/v1/traces", model.SpansRequest{}, http.StatusBadRequest, model.ErrCodeInvalidStructure},
		{"spans and traces", http.MethodPost, "/v1/traces", map[string]any{
			"spans":  rawTrace(),
			"traces": map[string]any{"31d6cfe0-4b90-11ec-8001-42010a8000b0": map[string]any{}},
		}, http.StatusBadRequest, model.ErrCodeInvalidInput},
		{"no root", http.MethodPost, "/v1/traces", model.SpansRequest{Spans: orphan}, http.StatusBadRequest, model.ErrCodeInvalidStructure},
		{"two roots", http.MethodPut, "/v1/traces", model.SpansRequest{Spans: twoRoots}, http.StatusBadRequest, model.ErrCodeInvalidStructure},
		{"unknown field", http.MethodPost, "/v1/spans", map[string]any{"spanz": []any{}}, http.StatusBadRequest, model.ErrCodeInvalidInput},
		{"bad trace id", http.MethodGet, "/v1/traces/0x12", nil, http.StatusBadRequest, model.ErrCodeInvalidInput},
		{"bad filter", http.MethodPost, "/v1/spans/query", model.Query{
			Filtering: model.Filtering{Conditions: []model.Condition{{Key: "nope", Value: "x"}}},
		}, http.StatusBadRequest, model.ErrCodeInvalidFilter},
		{"bad time range", http.MethodPost, "/v1/analytics", model.AnalyticsRequest{TimeRange: "fortnight"}, http.StatusBadRequest, model.ErrCodeInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode, body)
			assert.Equal(t, tt.code, errorCode(body))
		})
	}
}

func TestIngestAndQuery(t *testing.T) {
	env := newEnv(t)

	resp, body := env.do(t, http.MethodPost, "/v1/spans", model.SpansRequest{Spans: rawTrace()[1:]})
	require.Equal(t, http.StatusAccepted, resp.StatusCode, body)
	assert.EqualValues(t, 1, data(t, body)["count"], "partial traces are accepted")

	resp, body = env.do(t, http.MethodPost, "/v1/spans/query", model.Query{
		Grouping:  model.Grouping{Focus: model.FocusNode},
		Filtering: model.Filtering{Conditions: []model.Condition{{Key: "data.inputs.prompt", Operator: model.OpContains, Value: "ell"}}},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.EqualValues(t, 1, data(t, body)["count"])
	assert.Len(t, data(t, body)["spans"], 1)

	req, err := http.NewRequest(http.MethodPost, env.srv.URL+"/v1/spans/query", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+env.token)
	raw, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = raw.Body.Close()
	assert.Equal(t, http.StatusOK, raw.StatusCode, "empty body runs the default query")

	resp, body = env.do(t, http.MethodPost, "/v1/analytics", model.AnalyticsRequest{TimeRange: "24_hours"})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Len(t, data(t, body)["data"], 25)
}

func TestOTLPReceiver(t *testing.T) {
	env := newEnv(t)

	td := ptrace.NewTraces()
	span := td.ResourceSpans().AppendEmpty().ScopeSpans().AppendEmpty().Spans().AppendEmpty()
	span.SetTraceID(pcommon.TraceID([16]byte{0x31, 0xd6, 0xcf, 0xe0, 0x4b, 0x90, 0x11, 0xec, 0x80, 0x01, 0x42, 0x01, 0x0a, 0x80, 0x00, 0xb0}))
	span.SetSpanID(pcommon.SpanID([8]byte{0, 0, 0, 0, 0, 0, 0, 1}))
	span.SetName("otlp-root")
	span.SetStartTimestamp(pcommon.NewTimestampFromTime(start))
	span.SetEndTimestamp(pcommon.NewTimestampFromTime(start.Add(time.Second)))
	span.Attributes().PutStr("type.span", "workflow")

	payload, err := ptraceotlp.NewExportRequestFromTraces(td).MarshalProto()
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, env.srv.URL+"/otlp/v1/traces", bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", otlp.ContentTypeProtobuf)
	req.Header.Set("Authorization", "Bearer "+env.token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, otlp.ContentTypeProtobuf, resp.Header.Get("Content-Type"))

	got, body := env.do(t, http.MethodGet, "/v1/traces/"+traceHex+"/spans/"+rootHex, nil)
	require.Equal(t, http.StatusOK, got.StatusCode, body)
	assert.Equal(t, "otlp-root", data(t, body)["node"].(map[string]any)["name"])

	req, err = http.NewRequest(http.MethodPost, env.srv.URL+"/otlp/v1/traces", bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Authorization", "Bearer "+env.token)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
}

func TestAuthRequired(t *testing.T) {
	env := newEnv(t)

	for _, header := range []string{"", "Token abc", "Bearer not-a-jwt"} {
		req, err := http.NewRequest(http.MethodGet, env.srv.URL+"/v1/traces/"+traceHex, nil)
		require.NoError(t, err)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, header)
	}
}

func TestProjectIsolation(t *testing.T) {
	env := newEnv(t)
	resp, _ := env.do(t, http.MethodPost, "/v1/traces", model.SpansRequest{Spans: rawTrace()})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	other := env
	var err error
	other.token, _, err = env.jwt.IssueToken(uuid.New(), uuid.New())
	require.NoError(t, err)

	resp, body := other.do(t, http.MethodGet, "/v1/traces/"+traceHex, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 0, data(t, body)["count"])

	resp, body = other.do(t, http.MethodDelete, "/v1/traces/"+traceHex, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 0, data(t, body)["count"])

	_, body = env.do(t, http.MethodGet, "/v1/traces/"+traceHex, nil)
	assert.EqualValues(t, 2, data(t, body)["count"])
}

func TestHealthAndMetricsArePublic(t *testing.T) {
	env := newEnv(t)

	resp, err := http.Get(env.srv.URL + "/health")
	require.NoError(t, err)
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	d := data(t, body)
	assert.Equal(t, "healthy", d["status"])
	assert.Equal(t, "sqlite", d["storage"])
	assert.Equal(t, "test", d["version"])

	resp, err = http.Get(env.srv.URL + "/metrics")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Agenta-AI/agenta-sub004/internal/auth"
	"github.com/Agenta-AI/agenta-sub004/internal/ctxutil"
	"github.com/Agenta-AI/agenta-sub004/internal/ratelimit"
	"github.com/Agenta-AI/agenta-sub004/internal/testutil"
)

func withProject(r *http.Request, project uuid.UUID) *http.Request {
	claims := &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: uuid.New().String()},
		ProjectID:        project,
	}
	return r.WithContext(ctxutil.WithClaims(r.Context(), claims))
}

func TestRateLimitMiddleware(t *testing.T) {
	// rate=1 token/sec and burst=2 allow the first 2 rapid requests, then
	// reject until tokens refill.
	limiter := ratelimit.NewMemoryLimiter(1, 2)
	defer func() { _ = limiter.Close() }()

	inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := rateLimitMiddleware(limiter, testutil.TestLogger(), inner)
	project := uuid.New()

	for i := range 3 {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, withProject(httptest.NewRequest(http.MethodGet, "/v1/traces/x", nil), project))

		if i < 2 {
			assert.Equal(t, http.StatusOK, rec.Code, "request %d is within burst", i+1)
			continue
		}
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.NotEmpty(t, rec.Header().Get("Retry-After"))
		assert.Contains(t, rec.Body.String(), "RATE_LIMITED")
	}

	// Another project has its own bucket.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, withProject(httptest.NewRequest(http.MethodGet, "/v1/traces/x", nil), uuid.New()))
	assert.Equal(t, http.StatusOK, rec.Code)

	// Unauthenticated paths are not limited.
	for range 3 {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := requestIDMiddleware(recoveryMiddleware(testutil.TestLogger(), http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/traces/x", nil)
	req.Header.Set("X-Request-ID", "req-123")
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
	assert.Contains(t, rec.Body.String(), `"request_id":"req-123"`)
}

func TestAuthMiddlewareRecordsProject(t *testing.T) {
	mgr, err := auth.NewJWTManager("", "", time.Hour, testutil.TestLogger())
	require.NoError(t, err)
	project, user := uuid.New(), uuid.New()
	token, _, err := mgr.IssueToken(project, user)
	require.NoError(t, err)

	var seenProject, seenUser uuid.UUID
	handler := authMiddleware(mgr, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenProject = ctxutil.ProjectIDFromContext(r.Context())
		seenUser = ctxutil.UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	sw := &statusWriter{ResponseWriter: httptest.NewRecorder(), statusCode: http.StatusOK}
	req := httptest.NewRequest(http.MethodGet, "/v1/traces/x", nil)
	req.Header.Set("Authorization", "bearer "+token)
	handler.ServeHTTP(sw, req)

	assert.Equal(t, http.StatusNoContent, sw.statusCode)
	assert.Equal(t, project, seenProject)
	assert.Equal(t, user, seenUser)
	assert.Equal(t, project, sw.projectID)
}

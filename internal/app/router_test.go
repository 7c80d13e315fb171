package app

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-treasury/internal/observability"
	"github.com/odyssey-erp/odyssey-treasury/internal/shared"
	"github.com/odyssey-erp/odyssey-treasury/jobs"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRouterServesHealthAndMetrics(t *testing.T) {
	router := NewRouter(RouterParams{
		Logger:  testLogger(),
		Config:  &Config{AppEnv: "development"},
		Metrics: observability.NewMetrics(),
	})

	res := httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, res.Code)
	assert.JSONEq(t, `{"status":"ok"}`, res.Body.String())
	assert.Equal(t, "DENY", res.Header().Get("X-Frame-Options"))

	res = httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, res.Code)
	assert.Contains(t, res.Body.String(), "odyssey_http_requests_total")
}

func TestActorMiddleware(t *testing.T) {
	var got int64
	h := ActorMiddleware(testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = shared.ActorFromContext(r.Context())
	}))

	for header, want := range map[string]int64{"42": 42, "": 0, "abc": 0, "-3": 0} {
		got = -1
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set(ActorHeader, header)
		}
		h.ServeHTTP(httptest.NewRecorder(), req)
		assert.Equal(t, want, got, header)
	}
}

func TestMutationLimitKeysByActor(t *testing.T) {
	r := chi.NewRouter()
	r.Use(ActorMiddleware(nil))
	r.With(MutationLimit(1)).Post("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	post := func(actor string) int {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.Header.Set(ActorHeader, actor)
		res := httptest.NewRecorder()
		r.ServeHTTP(res, req)
		return res.Code
	}
	assert.Equal(t, http.StatusNoContent, post("1"))
	assert.Equal(t, http.StatusTooManyRequests, post("1"))
	assert.Equal(t, http.StatusNoContent, post("2"))
}

func TestRouterMountsJobsHealth(t *testing.T) {
	router := NewRouter(RouterParams{
		Logger:     testLogger(),
		Config:     &Config{AppEnv: "development"},
		JobHandler: jobs.NewHandler(nil, testLogger()),
	})

	res := httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusOK, res.Code)
	assert.Contains(t, res.Body.String(), `"queue":"default"`)
}

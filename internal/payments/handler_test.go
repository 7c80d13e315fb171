package payments

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-treasury/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-treasury/internal/shared"
	"github.com/odyssey-erp/odyssey-treasury/internal/treasury/workflow"
)

func newTestRouter(t *testing.T) (http.Handler, *memoryRepo) {
	t.Helper()
	svc, repo := newTestService(t)
	h := NewHandler(nil, svc)
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if id, err := strconv.ParseInt(req.Header.Get("X-Actor-ID"), 10, 64); err == nil {
				req = req.WithContext(shared.ContextWithActor(req.Context(), id))
			}
			next.ServeHTTP(w, req)
		})
	})
	r.Route("/api/payments", func(r chi.Router) { h.MountRoutes(r) })
	return r, repo
}

func do(t *testing.T, router http.Handler, method, path string, actor int64, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if actor > 0 {
		req.Header.Set("X-Actor-ID", strconv.FormatInt(actor, 10))
	}
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)
	return res
}

const createBody = `{
	"direction": "OUT",
	"party_type": "SUPPLIER",
	"party_id": 7,
	"payment_method": "TT",
	"bank_account_id": 10,
	"transaction_date": "2026-03-15",
	"allocations": [{"kind": "BILL", "id": 1, "amount": "60.00"}]
}`

func TestHandlerLifecycle(t *testing.T) {
	router, repo := newTestRouter(t)

	res := do(t, router, http.MethodPost, "/api/payments/", clerk, createBody)
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())
	var created Payment
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &created))
	assert.Equal(t, "PAY-OUT-000001", created.Number)
	assert.Equal(t, workflow.StatusDraft, created.Status)
	base := "/api/payments/" + strconv.FormatInt(created.ID, 10)

	res = do(t, router, http.MethodPost, base+"/approve", manager, "")
	assert.Equal(t, http.StatusBadRequest, res.Code)

	res = do(t, router, http.MethodPost, base+"/submit", clerk, "")
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())

	res = do(t, router, http.MethodPost, base+"/approve", manager, "")
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	assert.Contains(t, res.Body.String(), `"status":"APPROVED"`)

	res = do(t, router, http.MethodPost, base+"/edit-request", clerk, `{"reason":"wrong amount"}`)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	assert.Contains(t, res.Body.String(), `"edit_request_status":"PENDING"`)

	res = do(t, router, http.MethodPost, base+"/edit-request/approve", manager, "")
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())

	res = do(t, router, http.MethodGet, base, 0, "")
	require.Equal(t, http.StatusOK, res.Code)
	assert.Contains(t, res.Body.String(), `"status":"DRAFT"`)
	assert.Len(t, repo.Journals, 1)
}

func TestHandlerRejectsMissingActor(t *testing.T) {
	router, _ := newTestRouter(t)

	res := do(t, router, http.MethodPost, "/api/payments/", 0, createBody)
	assert.Equal(t, http.StatusUnauthorized, res.Code)
}

func TestHandlerReportsFieldErrors(t *testing.T) {
	router, _ := newTestRouter(t)

	res := do(t, router, http.MethodPost, "/api/payments/", clerk, `{"direction":"SIDEWAYS","allocations":[]}`)
	require.Equal(t, http.StatusBadRequest, res.Code)
	var problem httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &problem))
	assert.Contains(t, problem.Errors, "Direction")
	assert.Contains(t, problem.Errors, "Allocations")

	res = do(t, router, http.MethodPost, "/api/payments/", clerk, `{"unknown":1}`)
	require.Equal(t, http.StatusBadRequest, res.Code)
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &problem))
	assert.Contains(t, problem.Errors, "body")
}

func TestHandlerMapsDomainErrors(t *testing.T) {
	router, _ := newTestRouter(t)

	res := do(t, router, http.MethodGet, "/api/payments/42", 0, "")
	assert.Equal(t, http.StatusNotFound, res.Code)
	assert.Equal(t, "application/problem+json", res.Header().Get("Content-Type"))

	res = do(t, router, http.MethodGet, "/api/payments/abc", 0, "")
	assert.Equal(t, http.StatusBadRequest, res.Code)

	over := strings.Replace(createBody, `"60.00"`, `"100.01"`, 1)
	res = do(t, router, http.MethodPost, "/api/payments/", clerk, over)
	assert.Equal(t, http.StatusBadRequest, res.Code)
	assert.Contains(t, res.Body.String(), "exceeds outstanding")
}

func TestHandlerDelete(t *testing.T) {
	router, repo := newTestRouter(t)

	res := do(t, router, http.MethodPost, "/api/payments/", clerk, createBody)
	require.Equal(t, http.StatusCreated, res.Code)

	res = do(t, router, http.MethodDelete, "/api/payments/1", clerk, "")
	assert.Equal(t, http.StatusNoContent, res.Code)
	assert.Equal(t, "100.00", repo.Balance(bill1))
}

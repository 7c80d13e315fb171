package transfers

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

	"github.com/odyssey-erp/odyssey-treasury/internal/shared"
)

func serve(t *testing.T, method, path string, actor int64, body string) (*httptest.ResponseRecorder, *memoryRepo, http.Handler) {
	t.Helper()
	svc, repo := newTestService(t)
	router := chi.NewRouter()
	router.Route("/api/transfers", func(r chi.Router) { NewHandler(nil, svc).MountRoutes(r) })
	return send(router, method, path, actor, body), repo, router
}

func send(router http.Handler, method, path string, actor int64, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	}
	if actor > 0 {
		req = req.WithContext(shared.ContextWithActor(req.Context(), actor))
	}
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)
	return res
}

func TestHandlerCreateAndApprove(t *testing.T) {
	body := `{"from_account_id":20,"to_account_id":10,"transfer_date":"2026-03-15","amount_from_currency":"100.00"}`
	res, repo, router := serve(t, http.MethodPost, "/api/transfers/", clerk, body)
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())

	var created Transfer
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &created))
	assert.Equal(t, "367.25", created.AmountTo.StringFixed(2))
	base := "/api/transfers/" + strconv.FormatInt(created.ID, 10)

	res = send(router, http.MethodPost, base+"/submit", clerk, "")
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	res = send(router, http.MethodPost, base+"/approve", manager, "")
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	assert.Len(t, repo.Journals, 1)

	res = send(router, http.MethodPost, base+"/reject", manager, `{"reason":"late"}`)
	assert.Equal(t, http.StatusBadRequest, res.Code)
}

func TestHandlerRejectsSameAccount(t *testing.T) {
	body := `{"from_account_id":10,"to_account_id":10,"transfer_date":"2026-03-15","amount_from_currency":"5"}`
	res, _, _ := serve(t, http.MethodPost, "/api/transfers/", clerk, body)
	require.Equal(t, http.StatusBadRequest, res.Code)
	assert.Contains(t, res.Body.String(), "ToAccountID")
}

func TestHandlerRequiresActor(t *testing.T) {
	res, _, _ := serve(t, http.MethodDelete, "/api/transfers/1", 0, "")
	assert.Equal(t, http.StatusUnauthorized, res.Code)

	res, _, _ = serve(t, http.MethodGet, "/api/transfers/1", 0, "")
	assert.Equal(t, http.StatusNotFound, res.Code)
}

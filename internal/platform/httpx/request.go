package httpx

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-treasury/internal/shared"
)

// Bind decodes the JSON body into dst and validates it. On failure it writes a
// validation problem and returns false.
func Bind(w http.ResponseWriter, r *http.Request, v *validator.Validate, dst any) bool {
	if err := DecodeJSON(r, dst); err != nil {
		ValidationProblem(w, FieldErrors(err))
		return false
	}
	if err := v.Struct(dst); err != nil {
		ValidationProblem(w, FieldErrors(err))
		return false
	}
	return true
}

// Actor returns the authenticated actor or writes a 401 problem.
func Actor(w http.ResponseWriter, r *http.Request) (int64, bool) {
	actor := shared.ActorFromContext(r.Context())
	if actor <= 0 {
		Problem(w, http.StatusUnauthorized, "Unauthorized", "actor is required")
		return 0, false
	}
	return actor, true
}

// PathID parses the {id} URL parameter or writes a 400 problem.
func PathID(w http.ResponseWriter, r *http.Request, resource string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		Problem(w, http.StatusBadRequest, "Validation Failed", "invalid "+resource+" id")
		return 0, false
	}
	return id, true
}

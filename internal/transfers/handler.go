package transfers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-treasury/internal/platform/httpx"
)

// Handler exposes fund transfer endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers transfer routes. Mutating routes are wrapped with the
// given middlewares.
func (h *Handler) MountRoutes(r chi.Router, mutating ...func(http.Handler) http.Handler) {
	r.Get("/{id}", h.get)
	r.Group(func(r chi.Router) {
		r.Use(mutating...)
		r.Post("/", h.create)
		r.Put("/{id}", h.update)
		r.Delete("/{id}", h.delete)
		r.Post("/{id}/submit", h.action(func(s *Service, r *http.Request, actor, id int64, _ string) (Transfer, error) {
			return s.Submit(r.Context(), actor, id)
		}))
		r.Post("/{id}/approve", h.action(func(s *Service, r *http.Request, actor, id int64, _ string) (Transfer, error) {
			return s.Approve(r.Context(), actor, id)
		}))
		r.Post("/{id}/reject", h.action(func(s *Service, r *http.Request, actor, id int64, reason string) (Transfer, error) {
			return s.Reject(r.Context(), actor, id, reason)
		}))
		r.Post("/{id}/edit-request", h.action(func(s *Service, r *http.Request, actor, id int64, reason string) (Transfer, error) {
			return s.RequestEdit(r.Context(), actor, id, reason)
		}))
		r.Post("/{id}/edit-request/approve", h.action(func(s *Service, r *http.Request, actor, id int64, _ string) (Transfer, error) {
			return s.ApproveEditRequest(r.Context(), actor, id)
		}))
		r.Post("/{id}/edit-request/reject", h.action(func(s *Service, r *http.Request, actor, id int64, reason string) (Transfer, error) {
			return s.RejectEditRequest(r.Context(), actor, id, reason)
		}))
	})
}

type reasonRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.PathID(w, r, "transfer")
	if !ok {
		return
	}
	t, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, t)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.Actor(w, r)
	if !ok {
		return
	}
	var input Input
	if !httpx.Bind(w, r, h.validator, &input) {
		return
	}
	t, err := h.service.Create(r.Context(), actor, input)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, t)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.Actor(w, r)
	if !ok {
		return
	}
	id, ok := httpx.PathID(w, r, "transfer")
	if !ok {
		return
	}
	var input Input
	if !httpx.Bind(w, r, h.validator, &input) {
		return
	}
	t, err := h.service.Update(r.Context(), actor, id, input)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, t)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.Actor(w, r)
	if !ok {
		return
	}
	id, ok := httpx.PathID(w, r, "transfer")
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), actor, id); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type actionFunc func(s *Service, r *http.Request, actor, id int64, reason string) (Transfer, error)

func (h *Handler) action(fn actionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := httpx.Actor(w, r)
		if !ok {
			return
		}
		id, ok := httpx.PathID(w, r, "transfer")
		if !ok {
			return
		}
		var body reasonRequest
		if r.ContentLength != 0 && !httpx.Bind(w, r, h.validator, &body) {
			return
		}
		t, err := fn(h.service, r, actor, id, body.Reason)
		if err != nil {
			httpx.RespondError(w, h.logger, err)
			return
		}
		httpx.JSON(w, http.StatusOK, t)
	}
}

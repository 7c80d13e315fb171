package payments

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-treasury/internal/platform/httpx"
)

// Handler exposes payment endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers payment routes. Mutating routes are wrapped with the
// given middlewares.
func (h *Handler) MountRoutes(r chi.Router, mutating ...func(http.Handler) http.Handler) {
	r.Get("/{id}", h.get)
	r.Group(func(r chi.Router) {
		r.Use(mutating...)
		r.Post("/", h.create)
		r.Put("/{id}", h.update)
		r.Delete("/{id}", h.delete)
		r.Post("/{id}/submit", h.submit)
		r.Post("/{id}/approve", h.approve)
		r.Post("/{id}/reject", h.reject)
		r.Post("/{id}/edit-request", h.requestEdit)
		r.Post("/{id}/edit-request/approve", h.approveEditRequest)
		r.Post("/{id}/edit-request/reject", h.rejectEditRequest)
	})
}

type reasonRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	p, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var input Input
	if !h.bind(w, r, &input) {
		return
	}
	p, err := h.service.Create(r.Context(), actor, input)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, p)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var input Input
	if !h.bind(w, r, &input) {
		return
	}
	p, err := h.service.Update(r.Context(), actor, id, input)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), actor, id); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, func(actor, id int64, _ string) (Payment, error) {
		return h.service.Submit(r.Context(), actor, id)
	})
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, func(actor, id int64, _ string) (Payment, error) {
		return h.service.Approve(r.Context(), actor, id)
	})
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, func(actor, id int64, reason string) (Payment, error) {
		return h.service.Reject(r.Context(), actor, id, reason)
	})
}

func (h *Handler) requestEdit(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, func(actor, id int64, reason string) (Payment, error) {
		return h.service.RequestEdit(r.Context(), actor, id, reason)
	})
}

func (h *Handler) approveEditRequest(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, func(actor, id int64, _ string) (Payment, error) {
		return h.service.ApproveEditRequest(r.Context(), actor, id)
	})
}

func (h *Handler) rejectEditRequest(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, func(actor, id int64, reason string) (Payment, error) {
		return h.service.RejectEditRequest(r.Context(), actor, id, reason)
	})
}

// act runs a workflow action; the optional body carries a reason.
func (h *Handler) act(w http.ResponseWriter, r *http.Request, fn func(actor, id int64, reason string) (Payment, error)) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var body reasonRequest
	if r.ContentLength != 0 && !h.bind(w, r, &body) {
		return
	}
	p, err := fn(actor, id, body.Reason)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) bind(w http.ResponseWriter, r *http.Request, dst any) bool {
	return httpx.Bind(w, r, h.validator, dst)
}

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (int64, bool) {
	return httpx.Actor(w, r)
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	return httpx.PathID(w, r, "payment")
}

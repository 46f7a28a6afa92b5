// internal/feedback/handler.go
package feedback

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"readhub/internal/apperrors"
	"readhub/internal/membership"
	"readhub/internal/observability"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Routes mounts the public contact form and the admin triage endpoints.
func (h *Handler) Routes(authn func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()

	r.Post("/contact", h.handleSubmit)

	r.Group(func(r chi.Router) {
		r.Use(authn)
		r.Use(membership.RequireRole(membership.RoleAdmin))
		r.With(FlushPending(h.service)).Get("/feedback", h.handleList)
		r.Get("/feedback/stats", h.handleStats)
		r.Post("/feedback/flush", h.handleFlush)
		r.Get("/feedback/{id}", h.handleGet)
		r.Put("/feedback/{id}/status", h.handleUpdateStatus)
		r.Post("/feedback/{id}/respond", h.handleRespond)
		r.Delete("/feedback/{id}", h.handleDelete)
	})
	return r
}

// FlushPending delivers queued contact submissions before a dashboard GET is
// served. A failed flush is logged and the request proceeds.
func FlushPending(service Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet {
				if _, err := service.Flush(r.Context()); err != nil {
					observability.LoggerFromContext(r.Context()).Warn().Err(err).Msg("feedback flush on dashboard load failed")
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var form ContactForm
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		apperrors.WriteError(w, apperrors.NewValidationError("invalid request body"))
		return
	}

	res, err := h.service.Submit(r.Context(), form)
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	status := http.StatusCreated
	if res.Queued {
		status = http.StatusAccepted
	}
	apperrors.WriteJSON(w, status, res)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	items, err := h.service.List(r.Context(), Filter{
		Status:   q.Get("status"),
		Type:     q.Get("type"),
		Priority: q.Get("priority"),
		Search:   q.Get("search"),
	})
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, items)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleFlush(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.Flush(r.Context())
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := feedbackID(w, r)
	if !ok {
		return
	}
	f, err := h.service.Get(r.Context(), id)
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, f)
}

func (h *Handler) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := feedbackID(w, r)
	if !ok {
		return
	}
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperrors.WriteError(w, apperrors.NewValidationError("invalid request body"))
		return
	}

	f, err := h.service.UpdateStatus(r.Context(), id, req.Status, actor(r))
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, f)
}

func (h *Handler) handleRespond(w http.ResponseWriter, r *http.Request) {
	id, ok := feedbackID(w, r)
	if !ok {
		return
	}
	var in ResponseInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		apperrors.WriteError(w, apperrors.NewValidationError("invalid request body"))
		return
	}

	f, err := h.service.Respond(r.Context(), id, in, actor(r))
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, f)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := feedbackID(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		apperrors.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func feedbackID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		apperrors.WriteError(w, apperrors.NewValidationError("invalid feedback ID"))
		return uuid.Nil, false
	}
	return id, true
}

func actor(r *http.Request) string {
	if sess, ok := membership.SessionFromContext(r.Context()); ok {
		return sess.UserID.String()
	}
	return ""
}

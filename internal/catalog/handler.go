// internal/catalog/handler.go
package catalog

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"readhub/internal/apperrors"
	"readhub/internal/membership"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Routes mounts the catalog endpoints. authn must put a session on the
// request context.
func (h *Handler) Routes(authn func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(authn)

	r.Get("/books", h.handleListBooks)
	r.Get("/books/{id}", h.handleGetBook)
	r.Get("/search", h.handleSearch)

	r.Group(func(r chi.Router) {
		r.Use(membership.RequireRole(membership.RoleAdmin))
		r.Post("/books", h.handleAddBook)
		r.Post("/books/seed", h.handleSeed)
		r.Put("/books/{id}", h.handleUpdateBook)
		r.Delete("/books/{id}", h.handleDeleteBook)
		r.Get("/books/{id}/history", h.handleHistory)
	})
	return r
}

func (h *Handler) handleListBooks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	books, err := h.service.ListBooks(r.Context(), ListFilter{
		Search:       q.Get("search"),
		Availability: q.Get("availability"),
		Category:     q.Get("category"),
	})
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	if books == nil {
		books = []*Book{}
	}
	apperrors.WriteJSON(w, http.StatusOK, books)
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	books, err := h.service.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	if books == nil {
		books = []*Book{}
	}
	apperrors.WriteJSON(w, http.StatusOK, books)
}

func (h *Handler) handleAddBook(w http.ResponseWriter, r *http.Request) {
	var req BookInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperrors.WriteError(w, apperrors.NewValidationError("invalid request body"))
		return
	}

	book, err := h.service.AddBook(r.Context(), req, actor(r))
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusCreated, book)
}

func (h *Handler) handleGetBook(w http.ResponseWriter, r *http.Request) {
	id, ok := bookID(w, r)
	if !ok {
		return
	}
	book, err := h.service.GetBook(r.Context(), id)
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, book)
}

func (h *Handler) handleUpdateBook(w http.ResponseWriter, r *http.Request) {
	id, ok := bookID(w, r)
	if !ok {
		return
	}
	var req BookInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperrors.WriteError(w, apperrors.NewValidationError("invalid request body"))
		return
	}

	book, err := h.service.UpdateBook(r.Context(), id, req, actor(r))
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, book)
}

func (h *Handler) handleDeleteBook(w http.ResponseWriter, r *http.Request) {
	id, ok := bookID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteBook(r.Context(), id, actor(r)); err != nil {
		apperrors.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := bookID(w, r)
	if !ok {
		return
	}
	events, err := h.service.History(r.Context(), id)
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, events)
}

func (h *Handler) handleSeed(w http.ResponseWriter, r *http.Request) {
	added, err := h.service.SeedSampleBooks(r.Context(), actor(r))
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, map[string]int{"added": added})
}

func bookID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		apperrors.WriteError(w, apperrors.NewValidationError("invalid book ID"))
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

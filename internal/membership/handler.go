// internal/membership/handler.go
package membership

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"readhub/internal/apperrors"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Routes mounts the auth and user administration endpoints. authn guards
// everything except registration and sign-in.
func (h *Handler) Routes(authn func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()

	r.Post("/auth/register", h.handleRegister)
	r.Post("/auth/signin", h.handleSignIn)

	r.Group(func(r chi.Router) {
		r.Use(authn)
		r.Post("/auth/signout", h.handleSignOut)
		r.Get("/auth/me", h.handleMe)

		r.Group(func(r chi.Router) {
			r.Use(RequireRole(RoleAdmin))
			r.Get("/users", h.handleListUsers)
			r.Post("/users", h.handleAddUser)
			r.Get("/users/{id}", h.handleGetUser)
			r.Put("/users/{id}", h.handleUpdateUser)
			r.Post("/users/{id}/approve", h.handleApproveUser)
			r.Delete("/users/{id}", h.handleDeleteUser)
		})
	})
	return r
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperrors.WriteError(w, apperrors.NewValidationError("invalid request body"))
		return
	}

	user, err := h.service.Register(r.Context(), req)
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusCreated, user)
}

func (h *Handler) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req SignInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperrors.WriteError(w, apperrors.NewValidationError("invalid request body"))
		return
	}

	res, err := h.service.SignIn(r.Context(), req)
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) handleSignOut(w http.ResponseWriter, r *http.Request) {
	sess, _ := SessionFromContext(r.Context())
	redirect, err := h.service.SignOut(r.Context(), sess.Token)
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, map[string]string{"redirect": redirect})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	sess, _ := SessionFromContext(r.Context())
	apperrors.WriteJSON(w, http.StatusOK, sess)
}

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	users, err := h.service.ListUsers(r.Context(), UserFilter{
		Role:   q.Get("role"),
		Status: q.Get("status"),
	})
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}

	if search := strings.ToLower(strings.TrimSpace(q.Get("search"))); search != "" {
		filtered := users[:0]
		for _, u := range users {
			if strings.Contains(strings.ToLower(u.FullName), search) || strings.Contains(u.Email, search) {
				filtered = append(filtered, u)
			}
		}
		users = filtered
	}
	if users == nil {
		users = []*UserWithMember{}
	}
	apperrors.WriteJSON(w, http.StatusOK, users)
}

func (h *Handler) handleAddUser(w http.ResponseWriter, r *http.Request) {
	var req AddUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperrors.WriteError(w, apperrors.NewValidationError("invalid request body"))
		return
	}

	user, err := h.service.AddUser(r.Context(), req, actor(r))
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusCreated, user)
}

func (h *Handler) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}
	user, err := h.service.GetUser(r.Context(), id)
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, user)
}

func (h *Handler) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}
	var req UpdateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperrors.WriteError(w, apperrors.NewValidationError("invalid request body"))
		return
	}

	user, err := h.service.UpdateUser(r.Context(), id, req, actor(r))
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, user)
}

func (h *Handler) handleApproveUser(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}
	user, err := h.service.ApproveUser(r.Context(), id, actor(r))
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, user)
}

func (h *Handler) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteUser(r.Context(), id, actor(r)); err != nil {
		apperrors.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func userID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		apperrors.WriteError(w, apperrors.NewValidationError("invalid user ID"))
		return uuid.Nil, false
	}
	return id, true
}

func actor(r *http.Request) string {
	if sess, ok := SessionFromContext(r.Context()); ok {
		return sess.UserID.String()
	}
	return ""
}

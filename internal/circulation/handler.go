// internal/circulation/handler.go
package circulation

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"readhub/internal/apperrors"
	"readhub/internal/membership"
	"readhub/internal/observability"
)

const heartbeatInterval = 30 * time.Second

// Stream is the live view of the borrowed_books collection.
type Stream interface {
	Snapshot() ([]*EnrichedRecord, bool)
	Subscribe() (<-chan []*EnrichedRecord, func())
}

type Handler struct {
	service   Service
	stream    Stream
	heartbeat time.Duration
}

// NewHandler creates a circulation handler. stream may be nil, in which case
// the live endpoint answers 503.
func NewHandler(service Service, stream Stream) *Handler {
	return &Handler{service: service, stream: stream, heartbeat: heartbeatInterval}
}

// Routes mounts the loan endpoints. Every route requires a session; the
// collection-wide views also require the admin role.
func (h *Handler) Routes(authn func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(authn)

	r.Post("/borrow/{bookID}", h.handleBorrow)
	r.Post("/return/{recordID}", h.handleReturn)
	r.Get("/me/active", h.handleMyActive)
	r.Get("/me/history", h.handleMyHistory)
	r.Get("/me/stats", h.handleMyStats)

	r.Group(func(r chi.Router) {
		r.Use(membership.RequireRole(membership.RoleAdmin))
		r.Get("/borrowed", h.handleListAll)
		r.Get("/borrowed/stream", h.handleStream)
		r.Post("/borrowed/{recordID}/extend", h.handleExtend)
		r.Get("/borrowers/{borrowerID}", h.handleBorrower)
	})
	return r
}

func (h *Handler) handleBorrow(w http.ResponseWriter, r *http.Request) {
	bookID, ok := pathID(w, r, "bookID", "invalid book ID")
	if !ok {
		return
	}
	sess, _ := membership.SessionFromContext(r.Context())

	rec, err := h.service.Borrow(r.Context(), bookID, sess)
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusCreated, rec)
}

func (h *Handler) handleReturn(w http.ResponseWriter, r *http.Request) {
	recordID, ok := pathID(w, r, "recordID", "invalid record ID")
	if !ok {
		return
	}
	sess, _ := membership.SessionFromContext(r.Context())

	rec, err := h.service.Return(r.Context(), recordID, sess)
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, rec)
}

func (h *Handler) handleExtend(w http.ResponseWriter, r *http.Request) {
	recordID, ok := pathID(w, r, "recordID", "invalid record ID")
	if !ok {
		return
	}
	sess, _ := membership.SessionFromContext(r.Context())

	rec, err := h.service.Extend(r.Context(), recordID, sess.UserID.String())
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, rec)
}

func (h *Handler) handleMyActive(w http.ResponseWriter, r *http.Request) {
	sess, _ := membership.SessionFromContext(r.Context())
	records, err := h.service.ActiveForBorrower(r.Context(), sess.UserID)
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, records)
}

func (h *Handler) handleMyHistory(w http.ResponseWriter, r *http.Request) {
	sess, _ := membership.SessionFromContext(r.Context())
	records, err := h.service.HistoryForBorrower(r.Context(), sess.UserID, filterFrom(r))
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, records)
}

func (h *Handler) handleMyStats(w http.ResponseWriter, r *http.Request) {
	sess, _ := membership.SessionFromContext(r.Context())
	stats, err := h.service.StatsForBorrower(r.Context(), sess.UserID)
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleListAll(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.ListAll(r.Context(), filterFrom(r))
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, records)
}

func (h *Handler) handleBorrower(w http.ResponseWriter, r *http.Request) {
	borrowerID, ok := pathID(w, r, "borrowerID", "invalid user ID")
	if !ok {
		return
	}
	summary, err := h.service.BorrowerDetails(r.Context(), borrowerID)
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, summary)
}

// handleStream pushes the whole enriched collection as a server-sent event
// every time it changes.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	if h.stream == nil {
		http.Error(w, "live updates are not enabled", http.StatusServiceUnavailable)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	updates, unsubscribe := h.stream.Subscribe()
	defer unsubscribe()

	logger := observability.LoggerFromContext(r.Context())
	if snapshot, loaded := h.stream.Snapshot(); loaded {
		if err := writeSnapshot(w, snapshot); err != nil {
			logger.Debug().Err(err).Msg("stream client went away")
			return
		}
	}
	flusher.Flush()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case snapshot := <-updates:
			if err := writeSnapshot(w, snapshot); err != nil {
				logger.Debug().Err(err).Msg("stream client went away")
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSnapshot(w http.ResponseWriter, snapshot []*EnrichedRecord) error {
	if snapshot == nil {
		snapshot = []*EnrichedRecord{}
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: borrowed\ndata: %s\n\n", data)
	return err
}

func filterFrom(r *http.Request) Filter {
	q := r.URL.Query()
	return Filter{
		Search:    q.Get("search"),
		StudentID: q.Get("studentId"),
		Status:    q.Get("status"),
	}
}

func pathID(w http.ResponseWriter, r *http.Request, param, msg string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		apperrors.WriteError(w, apperrors.NewValidationError(msg))
		return uuid.Nil, false
	}
	return id, true
}

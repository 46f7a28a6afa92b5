// internal/reports/handler.go
package reports

import (
	"bytes"
	"net/http"

	"github.com/go-chi/chi/v5"

	"readhub/internal/apperrors"
	"readhub/internal/membership"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Routes returns the report endpoints, relative to where they are mounted.
// All of them are admin only.
func (h *Handler) Routes(authn func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(authn)
	r.Use(membership.RequireRole(membership.RoleAdmin))

	r.Get("/", h.handleReport)
	r.Get("/inventory", h.handleInventory)
	r.Get("/export", h.handleExport)
	return r
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	rep, err := h.service.Report(r.Context(), r.URL.Query().Get("range"))
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, rep)
}

func (h *Handler) handleInventory(w http.ResponseWriter, r *http.Request) {
	inv, err := h.service.Inventory(r.Context(), r.URL.Query().Get("range"))
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, inv)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sections, err := ParseSections(q.Get("sections"))
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	format := q.Get("format")
	if format == "" {
		format = FormatCSV
	}

	// buffered so a failure can still be reported as a JSON error
	var buf bytes.Buffer
	if err := h.service.Export(r.Context(), &buf, q.Get("range"), format, sections); err != nil {
		apperrors.WriteError(w, err)
		return
	}

	contentType, filename := "text/csv", "library-report.csv"
	if format == FormatJSON {
		contentType, filename = "application/json", "library-report.json"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

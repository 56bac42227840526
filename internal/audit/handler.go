package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/wolfman30/practice-booking/internal/tenancy"
	"github.com/wolfman30/practice-booking/pkg/logging"
)

type lister interface {
	List(ctx context.Context, filter Filter) ([]Entry, error)
}

// Handler serves the admin audit endpoint.
type Handler struct {
	trail  lister
	logger *logging.Logger
}

// NewHandler creates a new audit handler.
func NewHandler(trail lister, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{trail: trail, logger: logger}
}

// AppointmentHistoryResponse is the body of GET /admin/appointments/{id}/audit.
type AppointmentHistoryResponse struct {
	AppointmentID string  `json:"appointment_id"`
	Entries       []Entry `json:"entries"`
}

// AppointmentHistory handles GET /admin/appointments/{id}/audit.
func (h *Handler) AppointmentHistory(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenancy.OrgIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusBadRequest, "validation_error", "missing org context")
		return
	}
	appointmentID := chi.URLParam(r, "id")
	if appointmentID == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "appointment id required")
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			writeError(w, http.StatusBadRequest, "validation_error", "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	entries, err := h.trail.List(r.Context(), Filter{
		TenantID:      tenantID,
		AppointmentID: appointmentID,
		Action:        Action(r.URL.Query().Get("action")),
		Limit:         limit,
	})
	if err != nil {
		h.logger.Error("failed to list audit entries", "error", err, "appointment_id", appointmentID, "tenant_id", tenantID)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
		return
	}
	if entries == nil {
		entries = []Entry{}
	}
	writeJSON(w, http.StatusOK, AppointmentHistoryResponse{AppointmentID: appointmentID, Entries: entries})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}

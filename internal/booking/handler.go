package booking

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/practice-booking/internal/tenancy"
	"github.com/wolfman30/practice-booking/pkg/logging"
)

// Handler exposes the booking workflows over HTTP.
type Handler struct {
	svc    *Service
	logger *logging.Logger
}

func NewHandler(svc *Service, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

// Routes mounts the appointment endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/appointments", h.Book)
	r.Get("/appointments/{appointmentID}", h.Get)
	r.Post("/appointments/{appointmentID}/cancel", h.Cancel)
	r.Post("/appointments/{appointmentID}/reschedule", h.Reschedule)
}

// Book handles POST /appointments.
func (h *Handler) Book(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenancy.OrgIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusBadRequest, string(KindValidation), "missing org context")
		return
	}
	var req BookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, string(KindValidation), "invalid payload")
		return
	}
	req.TenantID = tenantID

	res, err := h.svc.Book(r.Context(), req)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// Get handles GET /appointments/{appointmentID}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenancy.OrgIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusBadRequest, string(KindValidation), "missing org context")
		return
	}
	a, err := h.svc.Get(r.Context(), tenantID, chi.URLParam(r, "appointmentID"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// Cancel handles POST /appointments/{appointmentID}/cancel.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenancy.OrgIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusBadRequest, string(KindValidation), "missing org context")
		return
	}
	res, err := h.svc.Cancel(r.Context(), tenantID, chi.URLParam(r, "appointmentID"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Reschedule handles POST /appointments/{appointmentID}/reschedule.
func (h *Handler) Reschedule(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenancy.OrgIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusBadRequest, string(KindValidation), "missing org context")
		return
	}
	var req RescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, string(KindValidation), "invalid payload")
		return
	}
	req.TenantID = tenantID
	req.AppointmentID = chi.URLParam(r, "appointmentID")

	res, err := h.svc.Reschedule(r.Context(), req)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	var e *Error
	if !errors.As(err, &e) {
		h.logger.Error("unclassified booking error", "error", err)
		writeError(w, http.StatusInternalServerError, string(KindPersistence), "internal error")
		return
	}
	status := HTTPStatus(e.Kind)
	if status >= http.StatusInternalServerError {
		h.logger.Error("booking request failed", "error", err, "kind", e.Kind)
	}
	writeJSON(w, status, errorBody{Error: string(e.Kind), Message: e.Message, Reason: string(e.Reason)})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: code, Message: message})
}

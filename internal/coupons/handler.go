package coupons

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/wolfman30/practice-booking/internal/pricing"
	"github.com/wolfman30/practice-booking/internal/tenancy"
	"github.com/wolfman30/practice-booking/pkg/logging"
)

// Handler serves the read-only coupon check endpoint.
type Handler struct {
	validator *Validator
	throttle  *Throttle
	logger    *logging.Logger
}

func NewHandler(validator *Validator, throttle *Throttle, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{validator: validator, throttle: throttle, logger: logger}
}

// Validate handles POST /coupons/validate. Valid coupons answer 200 with the
// computed amounts; rejections answer 400 with the reason code.
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenancy.OrgIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusBadRequest, "validation_error", "missing org context")
		return
	}

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "invalid payload")
		return
	}
	req.TenantID = tenantID
	req.UserRef = strings.TrimSpace(req.UserRef)
	req.ProfessionalID = strings.TrimSpace(req.ProfessionalID)
	if req.UserRef == "" || req.ProfessionalID == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "user_id and professional_id are required")
		return
	}
	if req.Amount < 0 {
		writeError(w, http.StatusBadRequest, "validation_error", "amount must not be negative")
		return
	}

	if res := h.throttle.Allow(r.Context(), tenantID, req.UserRef); !res.Allowed {
		writeError(w, http.StatusTooManyRequests, "rate_limited", "too many coupon checks, try again later")
		return
	}

	decision, err := h.validator.Validate(r.Context(), req)
	if err != nil {
		if errors.Is(err, pricing.ErrNegativeAmount) {
			writeError(w, http.StatusBadRequest, "validation_error", "amount must not be negative")
			return
		}
		h.logger.Error("coupon validation failed", "error", err, "tenant_id", tenantID)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
		return
	}
	if !decision.Valid {
		writeJSON(w, http.StatusBadRequest, decision)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}

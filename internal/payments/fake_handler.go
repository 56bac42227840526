package payments

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/practice-booking/pkg/logging"
)

// FakeHandler completes fake payment pages. Mount it only when the fake
// provider is configured.
type FakeHandler struct {
	gateway   *FakeGateway
	confirmer Confirmer
	logger    *logging.Logger
}

func NewFakeHandler(gateway *FakeGateway, confirmer Confirmer, logger *logging.Logger) *FakeHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &FakeHandler{gateway: gateway, confirmer: confirmer, logger: logger}
}

func (h *FakeHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/{intentID}", h.HandleCheckout)
	r.Post("/{intentID}/complete", h.HandleComplete)
	return r
}

func (h *FakeHandler) HandleCheckout(w http.ResponseWriter, r *http.Request) {
	intentID := strings.TrimSpace(chi.URLParam(r, "intentID"))
	if intentID == "" {
		http.Error(w, "missing id", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<!doctype html>
<html>
  <head><meta charset="utf-8" /><title>Test Checkout</title></head>
  <body>
    <h1>Test Checkout</h1>
    <p>No real payment is processed.</p>
    <form method="POST" action="/payments/fake/%s/complete">
      <button type="submit">Pay</button>
    </form>
  </body>
</html>`, intentID)
}

// HandleComplete handles POST /payments/fake/{intentID}/complete.
func (h *FakeHandler) HandleComplete(w http.ResponseWriter, r *http.Request) {
	intentID := strings.TrimSpace(chi.URLParam(r, "intentID"))
	if intentID == "" {
		http.Error(w, "missing id", http.StatusBadRequest)
		return
	}
	confirmation, err := h.gateway.Complete(r.Context(), intentID)
	switch {
	case errors.Is(err, ErrFakeIntentNotFound):
		http.Error(w, "payment not found", http.StatusNotFound)
		return
	case errors.Is(err, ErrFakeIntentExpired):
		http.Error(w, "payment page expired", http.StatusGone)
		return
	case err != nil:
		h.logger.Error("fake payment completion failed", "error", err, "intent_id", intentID)
		http.Error(w, "failed to complete payment", http.StatusInternalServerError)
		return
	}

	if h.confirmer != nil {
		if err := h.confirmer.ConfirmPayment(r.Context(), confirmation); err != nil {
			h.logger.Error("fake payment confirmation failed", "error", err, "intent_id", intentID, "appointment_id", confirmation.AppointmentID)
			http.Error(w, "failed to confirm payment", http.StatusInternalServerError)
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"paid","appointment_id":%q}`, confirmation.AppointmentID)
}

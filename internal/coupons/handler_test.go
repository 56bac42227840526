package coupons

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/practice-booking/internal/pricing"
	"github.com/wolfman30/practice-booking/internal/tenancy"
)

func doValidate(t *testing.T, h *Handler, orgID string, payload map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/coupons/validate", bytes.NewReader(body))
	if orgID != "" {
		req = req.WithContext(tenancy.WithOrgID(req.Context(), orgID))
	}
	rr := httptest.NewRecorder()
	h.Validate(rr, req)
	return rr
}

func TestHandlerValidate(t *testing.T) {
	v, _ := newTestValidator(Coupon{
		ID: "c-1", TenantID: "clinic-a", Code: "SAVE10", Scope: ScopeProfessionals,
		ProfessionalIDs: []string{"pro-1"}, Discount: pricing.Percent(10), Active: true,
	})
	h := NewHandler(v, nil, nil)

	rr := doValidate(t, h, "clinic-a", map[string]any{"code": "SAVE10", "professional_id": "pro-1", "amount": 15000, "user_id": "user-1"})
	require.Equal(t, http.StatusOK, rr.Code)
	var ok Decision
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &ok))
	assert.True(t, ok.Valid)
	assert.Equal(t, pricing.Money(13500), ok.FinalAmount)

	rr = doValidate(t, h, "clinic-a", map[string]any{"code": "SAVE10", "professional_id": "pro-9", "amount": 15000, "user_id": "user-1"})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	var rejectedBody map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rejectedBody))
	assert.Equal(t, false, rejectedBody["valid"])
	assert.Equal(t, "out_of_scope", rejectedBody["reason"])
}

func TestHandlerValidateInputErrors(t *testing.T) {
	v, _ := newTestValidator()
	h := NewHandler(v, nil, nil)

	rr := doValidate(t, h, "", map[string]any{"code": "X", "professional_id": "pro-1", "user_id": "u"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doValidate(t, h, "clinic-a", map[string]any{"code": "X", "amount": 100})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "validation_error")

	rr = doValidate(t, h, "clinic-a", map[string]any{"code": "X", "professional_id": "pro-1", "amount": -1, "user_id": "u"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandlerValidateThrottled(t *testing.T) {
	_, client := setupTestRedis(t)
	v, _ := newTestValidator()
	h := NewHandler(v, NewThrottle(client, 1, time.Hour, nil), nil)
	payload := map[string]any{"code": "X", "professional_id": "pro-1", "amount": 100, "user_id": "u"}

	assert.Equal(t, http.StatusBadRequest, doValidate(t, h, "clinic-a", payload).Code)
	assert.Equal(t, http.StatusTooManyRequests, doValidate(t, h, "clinic-a", payload).Code)
}

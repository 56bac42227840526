package audit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/practice-booking/internal/tenancy"
)

type stubLister struct {
	filter  Filter
	entries []Entry
	err     error
}

func (s *stubLister) List(ctx context.Context, filter Filter) ([]Entry, error) {
	s.filter = filter
	return s.entries, s.err
}

func serveHistory(h *Handler, tenantID, target string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Get("/admin/appointments/{id}/audit", h.AppointmentHistory)
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if tenantID != "" {
		req = req.WithContext(tenancy.WithOrgID(req.Context(), tenantID))
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHandler_AppointmentHistory(t *testing.T) {
	stub := &stubLister{entries: []Entry{{ID: "a-1", AppointmentID: "appt-1", Action: ActionBooked}}}
	rec := serveHistory(NewHandler(stub, nil), "clinic-a", "/admin/appointments/appt-1/audit?limit=10&action=appointment.booked")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, Filter{TenantID: "clinic-a", AppointmentID: "appt-1", Action: ActionBooked, Limit: 10}, stub.filter)

	var body AppointmentHistoryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "appt-1", body.AppointmentID)
	assert.Len(t, body.Entries, 1)
}

func TestHandler_AppointmentHistoryErrors(t *testing.T) {
	rec := serveHistory(NewHandler(&stubLister{}, nil), "", "/admin/appointments/appt-1/audit")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serveHistory(NewHandler(&stubLister{}, nil), "clinic-a", "/admin/appointments/appt-1/audit?limit=0")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serveHistory(NewHandler(&stubLister{err: errors.New("db down")}, nil), "clinic-a", "/admin/appointments/appt-1/audit")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal_error")
}

func TestHandler_AppointmentHistoryEmpty(t *testing.T) {
	rec := serveHistory(NewHandler(&stubLister{}, nil), "clinic-a", "/admin/appointments/appt-1/audit")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"entries":[]`)
}

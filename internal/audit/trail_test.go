package audit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrail_Record(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	trail := NewTrail(db)
	fixed := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	trail.now = func() time.Time { return fixed }

	mock.ExpectExec("INSERT INTO appointment_audit").
		WithArgs(sqlmock.AnyArg(), "clinic-a", "appt-1", ActionCancelled, nil, "confirmed", "cancelled",
			sqlmock.AnyArg(), int64(3), []byte(`{"refund_status":"processed"}`), fixed).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = trail.Record(context.Background(), Entry{
		TenantID:      "clinic-a",
		AppointmentID: "appt-1",
		Action:        ActionCancelled,
		FromStatus:    "confirmed",
		ToStatus:      "cancelled",
		ChangedFields: []string{"status", "payment_status"},
		Version:       3,
		Details:       json.RawMessage(`{"refund_status":"processed"}`),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTrail_RecordDefaultsDetails(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO appointment_audit").
		WithArgs(sqlmock.AnyArg(), "clinic-a", "appt-1", ActionBooked, nil, nil, "pending",
			sqlmock.AnyArg(), int64(1), []byte(`{}`), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = NewTrail(db).Record(context.Background(), Entry{TenantID: "clinic-a", AppointmentID: "appt-1", Action: ActionBooked, ToStatus: "pending", Version: 1})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTrail_RecordError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO appointment_audit").WillReturnError(errors.New("connection reset"))
	err = NewTrail(db).Record(context.Background(), Entry{TenantID: "clinic-a", AppointmentID: "appt-1", Action: ActionBooked})
	assert.ErrorContains(t, err, "audit: failed to record entry")
}

func TestTrail_List(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	created := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{
		"id", "tenant_id", "appointment_id", "action", "actor",
		"from_status", "to_status", "changed_fields", "version", "details", "created_at",
	}).
		AddRow("a-2", "clinic-a", "appt-1", "appointment.cancelled", nil, "confirmed", "cancelled", "{status,payment_status}", int64(3), []byte(`{}`), created.Add(time.Hour)).
		AddRow("a-1", "clinic-a", "appt-1", "appointment.booked", "patient-9", nil, "pending", "{}", int64(1), []byte(`{}`), created)

	mock.ExpectQuery("SELECT (.+) FROM appointment_audit WHERE tenant_id = \\$1 AND appointment_id = \\$2 ORDER BY created_at DESC LIMIT 50").
		WithArgs("clinic-a", "appt-1").
		WillReturnRows(rows)

	entries, err := NewTrail(db).List(context.Background(), Filter{TenantID: "clinic-a", AppointmentID: "appt-1", Limit: 50})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ActionCancelled, entries[0].Action)
	assert.Equal(t, []string{"status", "payment_status"}, entries[0].ChangedFields)
	assert.Equal(t, "", entries[0].Actor)
	assert.Equal(t, "patient-9", entries[1].Actor)
	assert.Equal(t, "", entries[1].FromStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTrail_ListRequiresTenant(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	_, err = NewTrail(db).List(context.Background(), Filter{AppointmentID: "appt-1"})
	assert.Error(t, err)
}

package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutboxStoreFlow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := NewOutboxStore(mock).WithMaxAttempts(5).WithRetryDelay(10 * time.Second)

	mock.ExpectExec("INSERT INTO outbox").
		WithArgs(pgxmock.AnyArg(), "clinic-a", TypeAppointmentCancelled, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	eventID, err := store.Publish(context.Background(), "clinic-a", "appointment:appt-1", AppointmentCancelledV1{AppointmentID: "appt-1", TenantID: "clinic-a"})
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if eventID == uuid.Nil {
		t.Fatal("expected generated event id")
	}

	now := time.Now().UTC()
	id := uuid.New()
	rows := pgxmock.NewRows([]string{"id", "tenant_id", "type", "payload", "attempts", "created_at"}).
		AddRow(id, "clinic-a", TypeAppointmentCancelled, []byte(`{"event_type":"appointment.cancelled.v1"}`), 2, now)
	mock.ExpectQuery("SELECT id").WithArgs(int32(10), 5).WillReturnRows(rows)

	entries, err := store.FetchPending(context.Background(), 10)
	if err != nil {
		t.Fatalf("fetch pending failed: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != id || entries[0].Attempts != 2 {
		t.Fatalf("unexpected entries: %#v", entries)
	}

	mock.ExpectExec("UPDATE outbox").WithArgs(id, "sqs down", float64(10)).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	if err := store.MarkFailed(context.Background(), id, errors.New("sqs down")); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	mock.ExpectExec("UPDATE outbox").WithArgs(id).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	ok, err := store.MarkDelivered(context.Background(), id)
	if err != nil {
		t.Fatalf("mark delivered failed: %v", err)
	}
	if !ok {
		t.Fatal("expected mark delivered to report success")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDelivererRetriesFailedEntries(t *testing.T) {
	outbox := NewMemoryOutbox().WithMaxAttempts(2)
	ctx := context.Background()
	_, err := outbox.Publish(ctx, "clinic-a", "appointment:appt-1", RefundRetryV1{AppointmentID: "appt-1", AmountMinor: 500})
	require.NoError(t, err)

	calls := 0
	handler := DeliveryHandlerFunc(func(ctx context.Context, entry OutboxEntry) error {
		calls++
		return errors.New("gateway unavailable")
	})
	d := NewDeliverer(outbox, handler, nil)

	assert.Equal(t, 0, d.Drain(ctx))
	assert.Equal(t, 0, d.Drain(ctx))
	// parked after max attempts
	assert.Equal(t, 0, d.Drain(ctx))
	assert.Equal(t, 2, calls)

	entries := outbox.Entries(TypeRefundRetry)
	require.Len(t, entries, 1)
	assert.Equal(t, 2, entries[0].Attempts)
}

func TestDelivererMarksDelivered(t *testing.T) {
	outbox := NewMemoryOutbox()
	ctx := context.Background()
	_, err := outbox.Publish(ctx, "clinic-a", "appointment:appt-1", AppointmentConfirmedV1{AppointmentID: "appt-1", AmountMinor: 9000})
	require.NoError(t, err)

	var got AppointmentConfirmedV1
	handler := DeliveryHandlerFunc(func(ctx context.Context, entry OutboxEntry) error {
		return DecodePayload(entry, &got)
	})
	d := NewDeliverer(outbox, handler, nil).WithBatchSize(5)

	assert.Equal(t, 1, d.Drain(ctx))
	assert.Equal(t, "appt-1", got.AppointmentID)
	assert.Equal(t, int64(9000), got.AmountMinor)
	assert.Equal(t, 0, d.Drain(ctx))
}

func TestDecodePayloadRejectsWrongType(t *testing.T) {
	env, err := NewEnvelope("agg", AppointmentCancelledV1{AppointmentID: "appt-1"})
	require.NoError(t, err)
	data, err := json.Marshal(env)
	require.NoError(t, err)

	var dst RefundRetryV1
	err = DecodePayload(OutboxEntry{ID: env.EventID, Type: env.EventType, Payload: data}, &dst)
	assert.Error(t, err)
}

package events

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

type badEvent struct{}

func (badEvent) EventType() string { return "" }

func TestNewEnvelope(t *testing.T) {
	fixedNow := time.Unix(0, 123456000).UTC()
	prevNow := nowFunc
	nowFunc = func() time.Time { return fixedNow }
	defer func() { nowFunc = prevNow }()

	id := uuid.MustParse("9a20d7d1-bf6a-4d33-bd55-5d25a816f1a8")
	env, err := NewEnvelope("appointment:appt-1", AppointmentBookedV1{
		AppointmentID:  "appt-1",
		TenantID:       "clinic-a",
		ProfessionalID: "pro-1",
		ScheduledDate:  "2026-05-10",
		ScheduledTime:  "10:00",
		Status:         "pending",
		AmountMinor:    15000,
		OccurredAt:     fixedNow,
	}, WithEventID(id), WithCorrelationID(" req-1 "))
	if err != nil {
		t.Fatalf("NewEnvelope failed: %v", err)
	}
	if env.EventID != id {
		t.Fatalf("expected event id override, got %s", env.EventID)
	}
	if env.TimestampMicros != fixedNow.UnixMicro() {
		t.Fatalf("unexpected timestamp: %d", env.TimestampMicros)
	}
	if env.EventType != TypeAppointmentBooked {
		t.Fatalf("unexpected type: %s", env.EventType)
	}
	if env.Aggregate != "appointment:appt-1" || env.CorrelationID != "req-1" {
		t.Fatalf("unexpected aggregate/correlation: %s/%s", env.Aggregate, env.CorrelationID)
	}
	if len(env.Payload) == 0 {
		t.Fatal("expected payload bytes")
	}
}

func TestEnvelopeValidation(t *testing.T) {
	if _, err := NewEnvelope("", AppointmentCancelledV1{}); err == nil {
		t.Fatal("expected aggregate error")
	}
	if _, err := NewEnvelope("agg", nil); err == nil {
		t.Fatal("expected nil event error")
	}
	if _, err := NewEnvelope("agg", badEvent{}); err == nil {
		t.Fatal("expected event type error")
	}
}

func TestWithTimestampOption(t *testing.T) {
	target := time.Unix(50, 123000).UTC()
	env, err := NewEnvelope("agg", AppointmentConfirmedV1{AppointmentID: "x"}, WithTimestamp(target))
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	if env.TimestampMicros != target.UnixMicro() {
		t.Fatalf("expected timestamp override, got %d", env.TimestampMicros)
	}
}

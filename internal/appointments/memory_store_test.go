package appointments

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/practice-booking/internal/pricing"
)

var storeNow = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func newAppointment(id string) Appointment {
	return Appointment{
		ID:             id,
		TenantID:       "clinic-a",
		PatientRef:     "patient-1",
		ProfessionalID: "pro-1",
		ScheduledDate:  "2026-05-10",
		ScheduledTime:  "10:00",
		Amount:         10000,
	}
}

func newStore() *InMemoryStore {
	return NewInMemoryStore().WithClock(func() time.Time { return storeNow })
}

func TestCreateAndGet(t *testing.T) {
	s := newStore()
	ctx := context.Background()

	created, err := s.Create(ctx, newAppointment("appt-1"))
	require.NoError(t, err)
	assert.Equal(t, StatusPending, created.Status)
	assert.Equal(t, PaymentUnpaid, created.PaymentStatus)
	assert.Equal(t, int64(1), created.Version)

	got, err := s.Get(ctx, "clinic-a", "appt-1")
	require.NoError(t, err)
	assert.Equal(t, created, got)

	_, err = s.Get(ctx, "clinic-b", "appt-1")
	assert.ErrorIs(t, err, ErrNotFound)

	bad := newAppointment("appt-neg")
	bad.Amount = -1
	_, err = s.Create(ctx, bad)
	assert.ErrorIs(t, err, pricing.ErrNegativeAmount)
}

func TestCreateRejectsTakenSlot(t *testing.T) {
	s := newStore()
	ctx := context.Background()
	_, err := s.Create(ctx, newAppointment("appt-1"))
	require.NoError(t, err)

	_, err = s.Create(ctx, newAppointment("appt-2"))
	assert.ErrorIs(t, err, ErrSlotUnavailable)

	cur, _ := s.Get(ctx, "clinic-a", "appt-1")
	_, err = s.MarkCancelled(ctx, "clinic-a", "appt-1", cur.Version)
	require.NoError(t, err)
	_, err = s.Create(ctx, newAppointment("appt-3"))
	assert.NoError(t, err, "cancelled appointments free their slot")
}

func TestMutationsAreCompareAndSet(t *testing.T) {
	s := newStore()
	ctx := context.Background()
	created, err := s.Create(ctx, newAppointment("appt-1"))
	require.NoError(t, err)

	confirmed, err := s.MarkConfirmed(ctx, "clinic-a", "appt-1", created.Version, PaymentPaid)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, confirmed.Status)
	assert.Equal(t, int64(2), confirmed.Version)

	_, err = s.MarkCancelled(ctx, "clinic-a", "appt-1", created.Version)
	assert.ErrorIs(t, err, ErrVersionConflict)

	got, _ := s.Get(ctx, "clinic-a", "appt-1")
	assert.Equal(t, StatusConfirmed, got.Status, "stale write must not apply")
}

func TestInvalidTransitions(t *testing.T) {
	s := newStore()
	ctx := context.Background()
	created, _ := s.Create(ctx, newAppointment("appt-1"))
	cancelled, err := s.MarkCancelled(ctx, "clinic-a", "appt-1", created.Version)
	require.NoError(t, err)

	_, err = s.MarkConfirmed(ctx, "clinic-a", "appt-1", cancelled.Version, PaymentPaid)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = s.MarkCancelled(ctx, "clinic-a", "appt-1", cancelled.Version)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = s.UpdateForReschedule(ctx, RescheduleUpdate{
		TenantID: "clinic-a", ID: "appt-1", Version: cancelled.Version,
		ProfessionalID: "pro-2", Date: "2026-05-11", Time: "11:00", Amount: 100, Status: StatusConfirmed,
	})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestRescheduleInPlace(t *testing.T) {
	s := newStore()
	ctx := context.Background()
	created, _ := s.Create(ctx, newAppointment("appt-1"))
	confirmed, _ := s.MarkConfirmed(ctx, "clinic-a", "appt-1", created.Version, PaymentPaid)

	moved, err := s.UpdateForReschedule(ctx, RescheduleUpdate{
		TenantID: "clinic-a", ID: "appt-1", Version: confirmed.Version,
		ProfessionalID: "pro-2", Date: "2026-05-11", Time: "11:00", Amount: 8000, Status: StatusConfirmed,
	})
	require.NoError(t, err)
	assert.Equal(t, "appt-1", moved.ID)
	assert.Equal(t, "pro-2", moved.ProfessionalID)
	assert.Equal(t, pricing.Money(8000), moved.Amount)
	assert.Nil(t, moved.Hold)

	_, err = s.Create(ctx, newAppointment("appt-2"))
	assert.NoError(t, err, "old slot is released by an in-place reschedule")
}

func TestRescheduleHoldBlocksBothSlotsAndReverts(t *testing.T) {
	s := newStore()
	ctx := context.Background()
	created, _ := s.Create(ctx, newAppointment("appt-1"))
	confirmed, _ := s.MarkConfirmed(ctx, "clinic-a", "appt-1", created.Version, PaymentPaid)

	held, err := s.UpdateForReschedule(ctx, RescheduleUpdate{
		TenantID: "clinic-a", ID: "appt-1", Version: confirmed.Version,
		ProfessionalID: "pro-2", Date: "2026-05-11", Time: "11:00", Amount: 15000,
		Status: StatusPendingReschedulePayment, HoldExpiresAt: storeNow.Add(30 * time.Minute),
		PendingReference: "cs_topup", PriceDifference: 5000,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPendingReschedulePayment, held.Status)
	assert.Equal(t, PaymentPending, held.PaymentStatus)
	require.NotNil(t, held.Hold)
	assert.Equal(t, "pro-1", held.Hold.ProfessionalID)
	assert.Equal(t, []string{"cs_topup"}, held.TopUpReferences)
	assert.True(t, held.HasCollectedPayment())

	oldSlot := Slot{TenantID: "clinic-a", ProfessionalID: "pro-1", Date: "2026-05-10", Time: "10:00"}
	newSlot := Slot{TenantID: "clinic-a", ProfessionalID: "pro-2", Date: "2026-05-11", Time: "11:00"}
	for _, slot := range []Slot{oldSlot, newSlot} {
		taken, err := s.SlotTaken(ctx, slot, "")
		require.NoError(t, err)
		assert.True(t, taken, "slot %v must stay reserved during the hold", slot)
	}

	_, err = s.UpdateForReschedule(ctx, RescheduleUpdate{
		TenantID: "clinic-a", ID: "appt-1", Version: held.Version,
		ProfessionalID: "pro-3", Date: "2026-05-12", Time: "12:00", Amount: 15000, Status: StatusConfirmed,
	})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	none, err := s.ReleaseExpiredHolds(ctx, storeNow.Add(10*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, none)

	released, err := s.ReleaseExpiredHolds(ctx, storeNow.Add(31*time.Minute))
	require.NoError(t, err)
	require.Len(t, released, 1)
	reverted := released[0]
	assert.Equal(t, StatusConfirmed, reverted.Status)
	assert.Equal(t, PaymentPaid, reverted.PaymentStatus)
	assert.Equal(t, "pro-1", reverted.ProfessionalID)
	assert.Equal(t, pricing.Money(10000), reverted.Amount)
	assert.Nil(t, reverted.Hold)
	assert.Empty(t, reverted.TopUpReferences, "unpaid top-up reference is forgotten")
	assert.False(t, reverted.HasReference("cs_topup"))

	taken, _ := s.SlotTaken(ctx, newSlot, "")
	assert.False(t, taken)
}

func TestHoldConfirmedByPayment(t *testing.T) {
	s := newStore()
	ctx := context.Background()
	created, _ := s.Create(ctx, newAppointment("appt-1"))
	confirmed, _ := s.MarkConfirmed(ctx, "clinic-a", "appt-1", created.Version, PaymentPaid)
	held, err := s.UpdateForReschedule(ctx, RescheduleUpdate{
		TenantID: "clinic-a", ID: "appt-1", Version: confirmed.Version,
		ProfessionalID: "pro-2", Date: "2026-05-11", Time: "11:00", Amount: 15000,
		Status: StatusPendingReschedulePayment, HoldExpiresAt: storeNow.Add(time.Hour), PendingReference: "cs_topup",
	})
	require.NoError(t, err)

	paid, err := s.MarkConfirmed(ctx, "clinic-a", "appt-1", held.Version, PaymentPaid)
	require.NoError(t, err)
	assert.Nil(t, paid.Hold)

	taken, _ := s.SlotTaken(ctx, Slot{TenantID: "clinic-a", ProfessionalID: "pro-1", Date: "2026-05-10", Time: "10:00"}, "")
	assert.False(t, taken, "previous slot is freed once the top-up is paid")
}

func TestCancelDuringHoldRestoresPaymentStatus(t *testing.T) {
	s := newStore()
	ctx := context.Background()
	created, _ := s.Create(ctx, newAppointment("appt-1"))
	confirmed, _ := s.MarkConfirmed(ctx, "clinic-a", "appt-1", created.Version, PaymentPaid)
	held, err := s.UpdateForReschedule(ctx, RescheduleUpdate{
		TenantID: "clinic-a", ID: "appt-1", Version: confirmed.Version,
		ProfessionalID: "pro-2", Date: "2026-05-11", Time: "11:00", Amount: 15000,
		Status: StatusPendingReschedulePayment, HoldExpiresAt: storeNow.Add(time.Hour), PendingReference: "cs_topup",
	})
	require.NoError(t, err)

	cancelled, err := s.MarkCancelled(ctx, "clinic-a", "appt-1", held.Version)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	assert.Equal(t, PaymentPaid, cancelled.PaymentStatus)
	assert.Nil(t, cancelled.Hold)
	assert.False(t, cancelled.HasReference("cs_topup"))

	for _, slot := range []Slot{
		{TenantID: "clinic-a", ProfessionalID: "pro-1", Date: "2026-05-10", Time: "10:00"},
		{TenantID: "clinic-a", ProfessionalID: "pro-2", Date: "2026-05-11", Time: "11:00"},
	} {
		taken, _ := s.SlotTaken(ctx, slot, "")
		assert.False(t, taken)
	}
}

func TestRescheduleRejectsTakenSlot(t *testing.T) {
	s := newStore()
	ctx := context.Background()
	first, _ := s.Create(ctx, newAppointment("appt-1"))
	other := newAppointment("appt-2")
	other.ScheduledTime = "14:00"
	_, err := s.Create(ctx, other)
	require.NoError(t, err)

	_, err = s.UpdateForReschedule(ctx, RescheduleUpdate{
		TenantID: "clinic-a", ID: "appt-1", Version: first.Version,
		ProfessionalID: "pro-1", Date: "2026-05-10", Time: "14:00", Amount: 10000, Status: StatusPending,
	})
	assert.ErrorIs(t, err, ErrSlotUnavailable)

	got, _ := s.Get(ctx, "clinic-a", "appt-1")
	assert.Equal(t, "10:00", got.ScheduledTime)
	assert.Equal(t, first.Version, got.Version)
}

func TestConcurrentCancelAndConfirmHaveOneWinner(t *testing.T) {
	s := newStore()
	ctx := context.Background()
	created, _ := s.Create(ctx, newAppointment("appt-1"))

	var wg sync.WaitGroup
	results := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, results[0] = s.MarkCancelled(ctx, "clinic-a", "appt-1", created.Version)
	}()
	go func() {
		defer wg.Done()
		_, results[1] = s.MarkConfirmed(ctx, "clinic-a", "appt-1", created.Version, PaymentPaid)
	}()
	wg.Wait()

	wins, conflicts := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrVersionConflict):
			conflicts++
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, conflicts)

	final, _ := s.Get(ctx, "clinic-a", "appt-1")
	assert.Equal(t, int64(2), final.Version)
	if results[0] == nil {
		assert.Equal(t, StatusCancelled, final.Status)
		assert.Equal(t, PaymentUnpaid, final.PaymentStatus)
	} else {
		assert.Equal(t, StatusConfirmed, final.Status)
		assert.Equal(t, PaymentPaid, final.PaymentStatus)
	}
}

func TestPaymentReferencesNewestFirst(t *testing.T) {
	a := Appointment{GatewayReference: "cs_book", TopUpReferences: []string{"cs_up1", "cs_up2"}}
	assert.Equal(t, []string{"cs_up2", "cs_up1", "cs_book"}, a.PaymentReferences())
}

func TestParseSlot(t *testing.T) {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	require.NoError(t, err)
	at, err := ParseSlot("2026-05-10", "10:00", loc)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 5, 10, 13, 0, 0, 0, time.UTC), at.UTC())

	_, err = ParseSlot("10/05/2026", "10:00", loc)
	assert.Error(t, err)
}

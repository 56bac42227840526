package appointments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wolfman30/practice-booking/internal/pricing"
)

// DB abstracts the pgx pool for testing.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore persists appointments with pgx. Mutations lock the row,
// check the caller's version and write the whole row back in one statement.
// Slot checks take a transaction-scoped advisory lock on the slot key.
type PostgresStore struct {
	db  DB
	now func() time.Time
}

func NewPostgresStore(db DB) *PostgresStore {
	if db == nil {
		panic("appointments: pgx pool required")
	}
	return &PostgresStore{db: db, now: time.Now}
}

const selectColumns = `
	id, tenant_id, patient_ref, professional_id, scheduled_date, scheduled_time,
	status, payment_status, amount_minor, COALESCE(coupon_id, ''), COALESCE(gateway_reference, ''),
	top_up_references, hold_expires_at, COALESCE(previous_professional_id, ''), COALESCE(previous_date, ''),
	COALESCE(previous_time, ''), COALESCE(previous_amount_minor, 0), COALESCE(previous_status, ''),
	COALESCE(previous_payment_status, ''), COALESCE(pending_reference, ''), COALESCE(price_difference_minor, 0),
	version, created_at, updated_at`

const slotTakenQuery = `
	SELECT EXISTS (
		SELECT 1 FROM appointments
		WHERE tenant_id = $1 AND id <> $5 AND (
			(professional_id = $2 AND scheduled_date = $3 AND scheduled_time = $4
				AND status IN ('pending', 'confirmed', 'pending_reschedule_payment'))
			OR (status = 'pending_reschedule_payment'
				AND previous_professional_id = $2 AND previous_date = $3 AND previous_time = $4)
		)
	)`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var (
		a                                   Appointment
		status, paymentStatus               string
		amount, prevAmount, diff            int64
		holdExpires                         *time.Time
		prevPro, prevDate, prevTime         string
		prevStatus, prevPayment, pendingRef string
	)
	if err := row.Scan(
		&a.ID, &a.TenantID, &a.PatientRef, &a.ProfessionalID, &a.ScheduledDate, &a.ScheduledTime,
		&status, &paymentStatus, &amount, &a.CouponID, &a.GatewayReference,
		&a.TopUpReferences, &holdExpires, &prevPro, &prevDate,
		&prevTime, &prevAmount, &prevStatus,
		&prevPayment, &pendingRef, &diff,
		&a.Version, &a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	a.Status = Status(status)
	a.PaymentStatus = PaymentStatus(paymentStatus)
	a.Amount = pricing.Money(amount)
	if holdExpires != nil {
		a.Hold = &Hold{
			ExpiresAt:        holdExpires.UTC(),
			ProfessionalID:   prevPro,
			Date:             prevDate,
			Time:             prevTime,
			Amount:           pricing.Money(prevAmount),
			Status:           Status(prevStatus),
			PaymentStatus:    PaymentStatus(prevPayment),
			PendingReference: pendingRef,
			PriceDifference:  pricing.Money(diff),
		}
	}
	return &a, nil
}

func (s *PostgresStore) Create(ctx context.Context, a Appointment) (created *Appointment, err error) {
	if a.Amount < 0 {
		return nil, pricing.ErrNegativeAmount
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	now := s.now().UTC()
	a.Status = StatusPending
	if a.PaymentStatus == "" {
		a.PaymentStatus = PaymentUnpaid
	}
	if a.TopUpReferences == nil {
		a.TopUpReferences = []string{}
	}
	a.Hold = nil
	a.Version = 1
	a.CreatedAt = now
	a.UpdatedAt = now

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("appointments: begin create: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = lockSlot(ctx, tx, a.Slot()); err != nil {
		return nil, err
	}
	var taken bool
	if taken, err = slotTaken(ctx, tx, a.Slot(), a.ID); err != nil {
		return nil, err
	}
	if taken {
		err = ErrSlotUnavailable
		return nil, err
	}

	if _, err = tx.Exec(ctx, `
		INSERT INTO appointments (
			id, tenant_id, patient_ref, professional_id, scheduled_date, scheduled_time,
			status, payment_status, amount_minor, coupon_id, gateway_reference, top_up_references,
			version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''), NULLIF($11, ''), $12, $13, $14, $15)`,
		a.ID, a.TenantID, a.PatientRef, a.ProfessionalID, a.ScheduledDate, a.ScheduledTime,
		string(a.Status), string(a.PaymentStatus), int64(a.Amount), a.CouponID, a.GatewayReference, a.TopUpReferences,
		a.Version, a.CreatedAt, a.UpdatedAt,
	); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			err = ErrSlotUnavailable
			return nil, err
		}
		return nil, fmt.Errorf("appointments: insert: %w", err)
	}
	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("appointments: commit create: %w", err)
	}
	return &a, nil
}

// Get always reads the row from the database.
func (s *PostgresStore) Get(ctx context.Context, tenantID, id string) (*Appointment, error) {
	a, err := scanAppointment(s.db.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM appointments WHERE tenant_id = $1 AND id = $2`, tenantID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("appointments: get: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) MarkConfirmed(ctx context.Context, tenantID, id string, version int64, ps PaymentStatus) (*Appointment, error) {
	return s.mutate(ctx, tenantID, id, nil, func(a *Appointment, now time.Time) error {
		return applyConfirm(a, version, ps, now)
	})
}

func (s *PostgresStore) MarkCancelled(ctx context.Context, tenantID, id string, version int64) (*Appointment, error) {
	return s.mutate(ctx, tenantID, id, nil, func(a *Appointment, now time.Time) error {
		return applyCancel(a, version, now)
	})
}

func (s *PostgresStore) UpdateForReschedule(ctx context.Context, u RescheduleUpdate) (*Appointment, error) {
	slot := u.slot()
	return s.mutate(ctx, u.TenantID, u.ID, &slot, func(a *Appointment, now time.Time) error {
		return applyReschedule(a, u, now)
	})
}

func (s *PostgresStore) SetPaymentStatus(ctx context.Context, tenantID, id string, version int64, ps PaymentStatus) (*Appointment, error) {
	return s.mutate(ctx, tenantID, id, nil, func(a *Appointment, now time.Time) error {
		return applyPaymentStatus(a, version, ps, now)
	})
}

func (s *PostgresStore) AttachGatewayReference(ctx context.Context, tenantID, id string, version int64, ref string) (*Appointment, error) {
	return s.mutate(ctx, tenantID, id, nil, func(a *Appointment, now time.Time) error {
		return applyGatewayReference(a, version, ref, now)
	})
}

// ReleaseExpiredHolds reverts every hold that expired at or before now.
// Rows changed concurrently since the scan are skipped.
func (s *PostgresStore) ReleaseExpiredHolds(ctx context.Context, now time.Time) ([]Appointment, error) {
	rows, err := s.db.Query(ctx, `
		SELECT tenant_id, id FROM appointments
		WHERE status = 'pending_reschedule_payment' AND hold_expires_at <= $1
		ORDER BY hold_expires_at
		LIMIT 100`, now)
	if err != nil {
		return nil, fmt.Errorf("appointments: scan holds: %w", err)
	}
	type key struct{ tenantID, id string }
	var keys []key
	for rows.Next() {
		var k key
		if err := rows.Scan(&k.tenantID, &k.id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("appointments: scan hold row: %w", err)
		}
		keys = append(keys, k)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("appointments: scan holds: %w", err)
	}

	var released []Appointment
	for _, k := range keys {
		a, err := s.mutate(ctx, k.tenantID, k.id, nil, func(a *Appointment, _ time.Time) error {
			if !applyRelease(a, now) {
				return errHoldNotExpired
			}
			return nil
		})
		if errors.Is(err, errHoldNotExpired) || errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return released, err
		}
		released = append(released, *a)
	}
	return released, nil
}

var errHoldNotExpired = errors.New("appointments: hold not expired")

func (s *PostgresStore) SlotTaken(ctx context.Context, slot Slot, excludeID string) (bool, error) {
	return slotTaken(ctx, s.db, slot, excludeID)
}

func (s *PostgresStore) mutate(ctx context.Context, tenantID, id string, target *Slot, fn func(a *Appointment, now time.Time) error) (updated *Appointment, err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("appointments: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if target != nil {
		if err = lockSlot(ctx, tx, *target); err != nil {
			return nil, err
		}
	}

	a, err := scanAppointment(tx.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM appointments WHERE tenant_id = $1 AND id = $2 FOR UPDATE`, tenantID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		err = ErrNotFound
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("appointments: lock row: %w", err)
	}
	if err = fn(a, s.now()); err != nil {
		return nil, err
	}
	if target != nil {
		var taken bool
		if taken, err = slotTaken(ctx, tx, *target, id); err != nil {
			return nil, err
		}
		if taken {
			err = ErrSlotUnavailable
			return nil, err
		}
	}
	if err = writeRow(ctx, tx, a); err != nil {
		return nil, err
	}
	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("appointments: commit: %w", err)
	}
	return a, nil
}

func writeRow(ctx context.Context, tx pgx.Tx, a *Appointment) error {
	var (
		holdExpires                         *time.Time
		prevPro, prevDate, prevTime         string
		prevStatus, prevPayment, pendingRef string
		prevAmount, diff                    *int64
	)
	if h := a.Hold; h != nil {
		exp := h.ExpiresAt
		amount, d := int64(h.Amount), int64(h.PriceDifference)
		holdExpires = &exp
		prevPro, prevDate, prevTime = h.ProfessionalID, h.Date, h.Time
		prevStatus, prevPayment, pendingRef = string(h.Status), string(h.PaymentStatus), h.PendingReference
		prevAmount, diff = &amount, &d
	}
	refs := a.TopUpReferences
	if refs == nil {
		refs = []string{}
	}
	if _, err := tx.Exec(ctx, `
		UPDATE appointments SET
			professional_id = $3, scheduled_date = $4, scheduled_time = $5,
			status = $6, payment_status = $7, amount_minor = $8,
			gateway_reference = NULLIF($9, ''), top_up_references = $10,
			hold_expires_at = $11, previous_professional_id = NULLIF($12, ''), previous_date = NULLIF($13, ''),
			previous_time = NULLIF($14, ''), previous_amount_minor = $15, previous_status = NULLIF($16, ''),
			previous_payment_status = NULLIF($17, ''), pending_reference = NULLIF($18, ''), price_difference_minor = $19,
			version = $20, updated_at = $21
		WHERE tenant_id = $1 AND id = $2`,
		a.TenantID, a.ID,
		a.ProfessionalID, a.ScheduledDate, a.ScheduledTime,
		string(a.Status), string(a.PaymentStatus), int64(a.Amount),
		a.GatewayReference, refs,
		holdExpires, prevPro, prevDate,
		prevTime, prevAmount, prevStatus,
		prevPayment, pendingRef, diff,
		a.Version, a.UpdatedAt,
	); err != nil {
		return fmt.Errorf("appointments: update: %w", err)
	}
	return nil
}

func lockSlot(ctx context.Context, tx pgx.Tx, slot Slot) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, slot.Key()); err != nil {
		return fmt.Errorf("appointments: lock slot: %w", err)
	}
	return nil
}

func slotTaken(ctx context.Context, q queryRower, slot Slot, excludeID string) (bool, error) {
	var taken bool
	if err := q.QueryRow(ctx, slotTakenQuery,
		slot.TenantID, slot.ProfessionalID, slot.Date, slot.Time, excludeID,
	).Scan(&taken); err != nil {
		return false, fmt.Errorf("appointments: slot check: %w", err)
	}
	return taken, nil
}

// Package audit keeps an append-only history of appointment state changes.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Action identifies what happened to an appointment.
type Action string

const (
	ActionBooked               Action = "appointment.booked"
	ActionConfirmed            Action = "appointment.confirmed"
	ActionCancelled            Action = "appointment.cancelled"
	ActionRescheduled          Action = "appointment.rescheduled"
	ActionRescheduleHeld       Action = "appointment.reschedule_held"
	ActionHoldReleased         Action = "appointment.hold_released"
	ActionRefundRequested      Action = "refund.requested"
	ActionRefundFailed         Action = "refund.failed"
	ActionStalePaymentRefunded Action = "refund.stale_payment"
)

// Entry is an immutable audit record.
type Entry struct {
	ID            string          `json:"id"`
	TenantID      string          `json:"tenant_id"`
	AppointmentID string          `json:"appointment_id"`
	Action        Action          `json:"action"`
	Actor         string          `json:"actor,omitempty"`
	FromStatus    string          `json:"from_status,omitempty"`
	ToStatus      string          `json:"to_status,omitempty"`
	ChangedFields []string        `json:"changed_fields,omitempty"`
	Version       int64           `json:"version"`
	Details       json.RawMessage `json:"details,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Recorder is implemented by Trail and by test doubles.
type Recorder interface {
	Record(ctx context.Context, entry Entry) error
}

// Trail stores entries in appointment_audit.
type Trail struct {
	db  *sql.DB
	now func() time.Time
}

// NewTrail creates a new audit trail.
func NewTrail(db *sql.DB) *Trail {
	return &Trail{db: db, now: time.Now}
}

// Record appends an entry. ID and CreatedAt are filled when empty.
func (t *Trail) Record(ctx context.Context, entry Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = t.now().UTC()
	}
	details := entry.Details
	if len(details) == 0 {
		details = json.RawMessage(`{}`)
	}

	query := `
		INSERT INTO appointment_audit (
			id, tenant_id, appointment_id, action, actor,
			from_status, to_status, changed_fields, version, details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := t.db.ExecContext(ctx, query,
		entry.ID,
		entry.TenantID,
		entry.AppointmentID,
		entry.Action,
		nullString(entry.Actor),
		nullString(entry.FromStatus),
		nullString(entry.ToStatus),
		pq.Array(entry.ChangedFields),
		entry.Version,
		[]byte(details),
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("audit: failed to record entry: %w", err)
	}
	return nil
}

// Filter narrows List results. TenantID is required.
type Filter struct {
	TenantID      string
	AppointmentID string
	Action        Action
	Since         time.Time
	Limit         int
	Offset        int
}

// List returns entries newest first.
func (t *Trail) List(ctx context.Context, filter Filter) ([]Entry, error) {
	if filter.TenantID == "" {
		return nil, fmt.Errorf("audit: tenant id required")
	}
	query := `
		SELECT id, tenant_id, appointment_id, action, actor,
			   from_status, to_status, changed_fields, version, details, created_at
		FROM appointment_audit
		WHERE tenant_id = $1
	`
	args := []interface{}{filter.TenantID}
	argIdx := 2

	if filter.AppointmentID != "" {
		query += fmt.Sprintf(" AND appointment_id = $%d", argIdx)
		args = append(args, filter.AppointmentID)
		argIdx++
	}
	if filter.Action != "" {
		query += fmt.Sprintf(" AND action = $%d", argIdx)
		args = append(args, filter.Action)
		argIdx++
	}
	if !filter.Since.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, filter.Since)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var actor, from, to sql.NullString
		var details []byte
		err := rows.Scan(
			&e.ID, &e.TenantID, &e.AppointmentID, &e.Action, &actor,
			&from, &to, pq.Array(&e.ChangedFields), &e.Version, &details, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("audit: failed to scan entry: %w", err)
		}
		e.Actor = actor.String
		e.FromStatus = from.String
		e.ToStatus = to.String
		if len(details) > 0 {
			e.Details = append(json.RawMessage(nil), details...)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: iterate entries: %w", err)
	}
	return entries, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

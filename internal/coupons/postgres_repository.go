package coupons

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
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository stores coupons and the usage ledger in PostgreSQL.
type PostgresRepository struct {
	db DB
}

// NewPostgresRepository creates a coupon repository backed by pgx.
func NewPostgresRepository(db DB) *PostgresRepository {
	if db == nil {
		panic("coupons: pgx pool required")
	}
	return &PostgresRepository{db: db}
}

// FindByCode looks a coupon up by its case-insensitive code within a tenant.
func (r *PostgresRepository) FindByCode(ctx context.Context, tenantID, code string) (*Coupon, error) {
	query := `
		SELECT id, tenant_id, code, scope, COALESCE(professional_ids, '{}'), COALESCE(institution_id, ''),
		       discount_type, discount_value, min_purchase_minor, usage_cap,
		       valid_from, valid_until, active
		FROM coupons
		WHERE tenant_id = $1 AND upper(code) = $2
	`
	var c Coupon
	var scope, kind string
	var minPurchase int64
	if err := r.db.QueryRow(ctx, query, tenantID, NormalizeCode(code)).Scan(
		&c.ID,
		&c.TenantID,
		&c.Code,
		&scope,
		&c.ProfessionalIDs,
		&c.InstitutionID,
		&kind,
		&c.Discount.Value,
		&minPurchase,
		&c.UsageCap,
		&c.ValidFrom,
		&c.ValidUntil,
		&c.Active,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCouponNotFound
		}
		return nil, fmt.Errorf("coupons: select by code: %w", err)
	}
	c.Scope = Scope(scope)
	c.Discount.Kind = pricing.DiscountKind(kind)
	c.MinPurchase = pricing.Money(minPurchase)
	return &c, nil
}

// CountUsage counts ledger rows for a coupon and user.
func (r *PostgresRepository) CountUsage(ctx context.Context, couponID, userRef string) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx,
		`SELECT count(*) FROM coupon_usages WHERE coupon_id = $1 AND user_ref = $2`,
		couponID, userRef,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("coupons: count usage: %w", err)
	}
	return n, nil
}

// RecordUsage serializes commits per coupon/user with a transaction-scoped
// advisory lock, so two concurrent commits at the cap cannot both insert.
func (r *PostgresRepository) RecordUsage(ctx context.Context, usage Usage, usageCap int) (err error) {
	if usage.ID == uuid.Nil {
		usage.ID = uuid.New()
	}
	if usage.UsedAt.IsZero() {
		usage.UsedAt = time.Now().UTC()
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("coupons: begin usage tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, usage.CouponID+":"+usage.UserRef); err != nil {
		return fmt.Errorf("coupons: lock usage: %w", err)
	}
	if usageCap > 0 {
		var n int
		if err = tx.QueryRow(ctx,
			`SELECT count(*) FROM coupon_usages WHERE coupon_id = $1 AND user_ref = $2`,
			usage.CouponID, usage.UserRef,
		).Scan(&n); err != nil {
			return fmt.Errorf("coupons: count usage: %w", err)
		}
		if n >= usageCap {
			err = ErrUsageCapReached
			return err
		}
	}

	var appointmentID *string
	if usage.AppointmentID != "" {
		appointmentID = &usage.AppointmentID
	}
	if _, err = tx.Exec(ctx, `
		INSERT INTO coupon_usages (id, coupon_id, tenant_id, user_ref, appointment_id, original_minor, discount_minor, final_minor, used_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		usage.ID, usage.CouponID, usage.TenantID, usage.UserRef, appointmentID,
		int64(usage.OriginalAmount), int64(usage.DiscountAmount), int64(usage.FinalAmount), usage.UsedAt,
	); err != nil {
		return fmt.Errorf("coupons: insert usage: %w", err)
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("coupons: commit usage: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ReleaseUsage(ctx context.Context, couponID, appointmentID string) error {
	if _, err := r.db.Exec(ctx,
		`DELETE FROM coupon_usages WHERE coupon_id = $1 AND appointment_id = $2`,
		couponID, appointmentID,
	); err != nil {
		return fmt.Errorf("coupons: release usage: %w", err)
	}
	return nil
}

package professionals

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/wolfman30/practice-booking/internal/pricing"
)

// rowQuerier is the subset of pgxpool.Pool the directory needs.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresDirectory reads professionals from the professionals table.
type PostgresDirectory struct {
	db rowQuerier
}

// NewPostgresDirectory creates a directory backed by pgx.
func NewPostgresDirectory(db rowQuerier) *PostgresDirectory {
	if db == nil {
		panic("professionals: pgx pool required")
	}
	return &PostgresDirectory{db: db}
}

// Get fetches an active professional scoped to the tenant.
func (d *PostgresDirectory) Get(ctx context.Context, tenantID, id string) (*Professional, error) {
	query := `
		SELECT id, tenant_id, name, COALESCE(email, ''), COALESCE(institution_id, ''), price_minor, active
		FROM professionals
		WHERE tenant_id = $1 AND id = $2 AND active
	`
	var p Professional
	var price int64
	if err := d.db.QueryRow(ctx, query, tenantID, id).Scan(
		&p.ID,
		&p.TenantID,
		&p.Name,
		&p.Email,
		&p.InstitutionID,
		&price,
		&p.Active,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("professionals: select: %w", err)
	}
	p.Price = pricing.Money(price)
	return &p, nil
}

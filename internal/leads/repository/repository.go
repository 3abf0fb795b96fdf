// Package repository provides data access for leads. The lead row is the
// single serialization point for the sale: every status transition is a
// conditional update so concurrent writers cannot corrupt it.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"leadmarket/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Lead statuses.
const (
	StatusAvailable = "available"
	StatusOffered   = "offered"
	StatusSold      = "sold"
	StatusExpired   = "expired"
)

// Lead represents a sellable project opportunity.
type Lead struct {
	ID                  uuid.UUID
	ProjectID           uuid.UUID
	OriginatorID        uuid.UUID
	ProjectType         string
	LocationKey         string
	EstimatedValueCents int64
	PriceCents          int64
	Status              string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

const leadNotFoundMsg = "lead not found"

// Repository provides access to the leads table.
type Repository struct {
	pool *pgxpool.Pool
}

// New creates a new leads repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new lead in the available state. The price is computed
// once by the caller and never changes afterwards.
func (r *Repository) Create(ctx context.Context, lead Lead) (Lead, error) {
	query := `
		INSERT INTO leads (
			project_id, originator_id, project_type, location_key,
			estimated_value_cents, price_cents, status
		) VALUES ($1, $2, $3, $4, $5, $6, 'available')
		RETURNING id, status, created_at, updated_at`

	err := r.pool.QueryRow(ctx, query,
		lead.ProjectID, lead.OriginatorID, lead.ProjectType, lead.LocationKey,
		lead.EstimatedValueCents, lead.PriceCents,
	).Scan(&lead.ID, &lead.Status, &lead.CreatedAt, &lead.UpdatedAt)
	if err != nil {
		return Lead{}, fmt.Errorf("create lead: %w", err)
	}

	return lead, nil
}

// GetByID retrieves a lead.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (Lead, error) {
	query := `
		SELECT id, project_id, originator_id, project_type, location_key,
		       estimated_value_cents, price_cents, status, created_at, updated_at
		FROM leads
		WHERE id = $1`

	var l Lead
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&l.ID, &l.ProjectID, &l.OriginatorID, &l.ProjectType, &l.LocationKey,
		&l.EstimatedValueCents, &l.PriceCents, &l.Status, &l.CreatedAt, &l.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Lead{}, apperr.NotFound(leadNotFoundMsg)
	}
	if err != nil {
		return Lead{}, fmt.Errorf("get lead by id: %w", err)
	}

	return l, nil
}

// ListByOriginator returns all leads created for one originator.
func (r *Repository) ListByOriginator(ctx context.Context, originatorID uuid.UUID) ([]Lead, error) {
	query := `
		SELECT id, project_id, originator_id, project_type, location_key,
		       estimated_value_cents, price_cents, status, created_at, updated_at
		FROM leads
		WHERE originator_id = $1
		ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, originatorID)
	if err != nil {
		return nil, fmt.Errorf("list leads by originator: %w", err)
	}
	defer rows.Close()

	var leads []Lead
	for rows.Next() {
		var l Lead
		if err := rows.Scan(
			&l.ID, &l.ProjectID, &l.OriginatorID, &l.ProjectType, &l.LocationKey,
			&l.EstimatedValueCents, &l.PriceCents, &l.Status, &l.CreatedAt, &l.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan lead: %w", err)
		}
		leads = append(leads, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate leads: %w", err)
	}

	return leads, nil
}

// MarkOffered transitions available -> offered when the cascade starts.
// Idempotent for a lead already in offered.
func (r *Repository) MarkOffered(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE leads
		SET status = 'offered', updated_at = now()
		WHERE id = $1 AND status IN ('available', 'offered')`

	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("mark lead offered: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict("lead is no longer available for offers")
	}

	return nil
}

// ClaimForSale atomically transitions available|offered -> sold. This is the
// sole concurrency-control point preventing double-sale: the loser of a
// racing claim gets a conflict, never a second sold row.
func (r *Repository) ClaimForSale(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE leads
		SET status = 'sold', updated_at = now()
		WHERE id = $1 AND status IN ('available', 'offered')`

	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("claim lead for sale: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict("lead already sold")
	}

	return nil
}

// ReleaseClaim rolls back sold -> offered after a payment failure so the
// cascade can continue with the next candidate.
func (r *Repository) ReleaseClaim(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE leads
		SET status = 'offered', updated_at = now()
		WHERE id = $1 AND status = 'sold'`

	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("release lead claim: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict("lead is not in a claimed state")
	}

	return nil
}

// MarkExpired transitions available|offered -> expired when the candidate
// pool is exhausted without a sale.
func (r *Repository) MarkExpired(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE leads
		SET status = 'expired', updated_at = now()
		WHERE id = $1 AND status IN ('available', 'offered')`

	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("mark lead expired: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict("lead is not in an expirable state")
	}

	return nil
}

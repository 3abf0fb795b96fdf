// Package repository provides data access for the settlement ledger.
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

// Purchase attempt statuses.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// PurchaseAttempt is one ledger entry for a provider trying to buy a lead.
// AmountCents is frozen at claim time and never recomputed.
type PurchaseAttempt struct {
	ID            uuid.UUID
	LeadID        uuid.UUID
	OfferID       uuid.UUID
	ProviderID    uuid.UUID
	AmountCents   int64
	IntentRef     string
	Status        string
	FailureReason *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Repository provides access to the purchase_attempts ledger and access
// grants.
type Repository struct {
	pool *pgxpool.Pool
}

// New creates a new settlement repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a pending purchase attempt with the frozen amount.
func (r *Repository) Create(ctx context.Context, attempt PurchaseAttempt) (PurchaseAttempt, error) {
	query := `
		INSERT INTO purchase_attempts (lead_id, offer_id, provider_id, amount_cents, status)
		VALUES ($1, $2, $3, $4, 'pending')
		RETURNING id, status, created_at, updated_at`

	err := r.pool.QueryRow(ctx, query,
		attempt.LeadID, attempt.OfferID, attempt.ProviderID, attempt.AmountCents,
	).Scan(&attempt.ID, &attempt.Status, &attempt.CreatedAt, &attempt.UpdatedAt)
	if err != nil {
		return PurchaseAttempt{}, fmt.Errorf("create purchase attempt: %w", err)
	}

	return attempt, nil
}

// SetIntentRef records the gateway reference once the reservation exists.
func (r *Repository) SetIntentRef(ctx context.Context, id uuid.UUID, intentRef string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE purchase_attempts
		SET intent_ref = $2, updated_at = now()
		WHERE id = $1`,
		id, intentRef,
	)
	if err != nil {
		return fmt.Errorf("set intent ref: %w", err)
	}
	return nil
}

// GetByID retrieves a purchase attempt.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (PurchaseAttempt, error) {
	return r.getOne(ctx, `WHERE id = $1`, id)
}

// GetByIntentRef resolves the settlement callback to its attempt.
func (r *Repository) GetByIntentRef(ctx context.Context, intentRef string) (PurchaseAttempt, error) {
	return r.getOne(ctx, `WHERE intent_ref = $1`, intentRef)
}

func (r *Repository) getOne(ctx context.Context, where string, arg interface{}) (PurchaseAttempt, error) {
	query := `
		SELECT id, lead_id, offer_id, provider_id, amount_cents,
		       COALESCE(intent_ref, ''), status, failure_reason, created_at, updated_at
		FROM purchase_attempts ` + where

	var a PurchaseAttempt
	err := r.pool.QueryRow(ctx, query, arg).Scan(
		&a.ID, &a.LeadID, &a.OfferID, &a.ProviderID, &a.AmountCents,
		&a.IntentRef, &a.Status, &a.FailureReason, &a.CreatedAt, &a.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return PurchaseAttempt{}, apperr.NotFound("purchase attempt not found")
	}
	if err != nil {
		return PurchaseAttempt{}, fmt.Errorf("get purchase attempt: %w", err)
	}

	return a, nil
}

// Complete transitions pending -> completed. Returns false when the attempt
// is already terminal, which makes the settlement callback idempotent.
func (r *Repository) Complete(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE purchase_attempts
		SET status = 'completed', updated_at = now()
		WHERE id = $1 AND status = 'pending'`,
		id,
	)
	if err != nil {
		return false, fmt.Errorf("complete purchase attempt: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Fail transitions pending -> failed with a reason.
func (r *Repository) Fail(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE purchase_attempts
		SET status = 'failed', failure_reason = $2, updated_at = now()
		WHERE id = $1 AND status = 'pending'`,
		id, reason,
	)
	if err != nil {
		return false, fmt.Errorf("fail purchase attempt: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// GrantAccess records the provider's access to the full lead details.
// Returns false when the grant already existed.
func (r *Repository) GrantAccess(ctx context.Context, leadID, providerID uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO lead_access_grants (lead_id, provider_id)
		VALUES ($1, $2)
		ON CONFLICT (lead_id, provider_id) DO NOTHING`,
		leadID, providerID,
	)
	if err != nil {
		return false, fmt.Errorf("grant lead access: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListByProvider returns a provider's purchase history, newest first.
func (r *Repository) ListByProvider(ctx context.Context, providerID uuid.UUID) ([]PurchaseAttempt, error) {
	query := `
		SELECT id, lead_id, offer_id, provider_id, amount_cents,
		       COALESCE(intent_ref, ''), status, failure_reason, created_at, updated_at
		FROM purchase_attempts
		WHERE provider_id = $1
		ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, providerID)
	if err != nil {
		return nil, fmt.Errorf("list purchase attempts: %w", err)
	}
	defer rows.Close()

	var attempts []PurchaseAttempt
	for rows.Next() {
		var a PurchaseAttempt
		if err := rows.Scan(
			&a.ID, &a.LeadID, &a.OfferID, &a.ProviderID, &a.AmountCents,
			&a.IntentRef, &a.Status, &a.FailureReason, &a.CreatedAt, &a.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan purchase attempt: %w", err)
		}
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate purchase attempts: %w", err)
	}

	return attempts, nil
}

// Package repository provides data access for offers. Terminal transitions
// are conditional updates guarded on the pending status so an accept racing
// the expiry sweep can never both win.
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"leadmarket/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Offer statuses. All transitions out of pending are terminal.
const (
	StatusPending    = "pending"
	StatusAccepted   = "accepted"
	StatusDeclined   = "declined"
	StatusExpired    = "expired"
	StatusSuperseded = "superseded"
)

// Offer is a single provider's exclusive, time-boxed option on a lead.
type Offer struct {
	ID          uuid.UUID
	LeadID      uuid.UUID
	ProviderID  uuid.UUID
	PriceCents  int64
	Status      string
	OfferedAt   time.Time
	ExpiresAt   time.Time
	RespondedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

const offerNotFoundMsg = "offer not found"

// Repository provides access to the offers table.
type Repository struct {
	pool *pgxpool.Pool
}

// New creates a new offers repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new pending offer. The partial unique index on live
// offers rejects a second pending/accepted offer for the same lead.
func (r *Repository) Create(ctx context.Context, offer Offer) (Offer, error) {
	query := `
		INSERT INTO offers (lead_id, provider_id, price_cents, status, offered_at, expires_at)
		VALUES ($1, $2, $3, 'pending', $4, $5)
		RETURNING id, status, created_at, updated_at`

	err := r.pool.QueryRow(ctx, query,
		offer.LeadID, offer.ProviderID, offer.PriceCents, offer.OfferedAt, offer.ExpiresAt,
	).Scan(&offer.ID, &offer.Status, &offer.CreatedAt, &offer.UpdatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "idx_offers_one_live_per_lead") {
			return Offer{}, apperr.Conflict("lead already has a live offer")
		}
		return Offer{}, fmt.Errorf("create offer: %w", err)
	}

	return offer, nil
}

// GetByID retrieves an offer.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (Offer, error) {
	query := `
		SELECT id, lead_id, provider_id, price_cents, status, offered_at, expires_at,
		       responded_at, created_at, updated_at
		FROM offers
		WHERE id = $1`

	var o Offer
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&o.ID, &o.LeadID, &o.ProviderID, &o.PriceCents, &o.Status, &o.OfferedAt, &o.ExpiresAt,
		&o.RespondedAt, &o.CreatedAt, &o.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Offer{}, apperr.NotFound(offerNotFoundMsg)
	}
	if err != nil {
		return Offer{}, fmt.Errorf("get offer by id: %w", err)
	}

	return o, nil
}

// ListByProvider returns all offers made to one provider.
func (r *Repository) ListByProvider(ctx context.Context, providerID uuid.UUID) ([]Offer, error) {
	query := `
		SELECT id, lead_id, provider_id, price_cents, status, offered_at, expires_at,
		       responded_at, created_at, updated_at
		FROM offers
		WHERE provider_id = $1
		ORDER BY offered_at DESC`

	rows, err := r.pool.Query(ctx, query, providerID)
	if err != nil {
		return nil, fmt.Errorf("list offers by provider: %w", err)
	}
	defer rows.Close()

	var offers []Offer
	for rows.Next() {
		var o Offer
		if err := rows.Scan(
			&o.ID, &o.LeadID, &o.ProviderID, &o.PriceCents, &o.Status, &o.OfferedAt, &o.ExpiresAt,
			&o.RespondedAt, &o.CreatedAt, &o.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan offer: %w", err)
		}
		offers = append(offers, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate offers: %w", err)
	}

	return offers, nil
}

// Accept atomically transitions pending -> accepted, but only while the
// offer is still inside its window. Returns false when the guard did not
// match (already terminal, or past expiry).
func (r *Repository) Accept(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE offers
		SET status = 'accepted', responded_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'pending' AND expires_at > now()`

	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("accept offer: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// Decline atomically transitions pending -> declined inside the window.
func (r *Repository) Decline(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE offers
		SET status = 'declined', responded_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'pending' AND expires_at > now()`

	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("decline offer: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// Expire transitions pending -> expired. Returns false when the offer is
// already terminal, making the operation idempotent for sweeps and lazy
// checks alike.
func (r *Repository) Expire(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE offers
		SET status = 'expired', updated_at = now()
		WHERE id = $1 AND status = 'pending'`

	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("expire offer: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// SupersedeAccepted withdraws an accepted offer whose settlement failed.
// The offer must leave the live set before the cascade advances, otherwise
// the next candidate's offer collides with the one-live-offer index.
func (r *Repository) SupersedeAccepted(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE offers
		SET status = 'superseded', updated_at = now()
		WHERE id = $1 AND status = 'accepted'`

	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("supersede accepted offer: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// SupersedePending withdraws any pending offer for a lead, returning the
// offers that were actually transitioned for event publishing.
func (r *Repository) SupersedePending(ctx context.Context, leadID uuid.UUID) ([]Offer, error) {
	query := `
		UPDATE offers
		SET status = 'superseded', updated_at = now()
		WHERE lead_id = $1 AND status = 'pending'
		RETURNING id, lead_id, provider_id, price_cents, status, offered_at, expires_at,
		          responded_at, created_at, updated_at`

	return r.collectUpdated(ctx, query, leadID)
}

// ExpireDue marks every pending offer past its expiry as expired.
// Returns the expired offers for event publishing.
func (r *Repository) ExpireDue(ctx context.Context) ([]Offer, error) {
	query := `
		UPDATE offers
		SET status = 'expired', updated_at = now()
		WHERE status = 'pending' AND expires_at < now()
		RETURNING id, lead_id, provider_id, price_cents, status, offered_at, expires_at,
		          responded_at, created_at, updated_at`

	return r.collectUpdated(ctx, query)
}

func (r *Repository) collectUpdated(ctx context.Context, query string, args ...interface{}) ([]Offer, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("update offers: %w", err)
	}
	defer rows.Close()

	var offers []Offer
	for rows.Next() {
		var o Offer
		if err := rows.Scan(
			&o.ID, &o.LeadID, &o.ProviderID, &o.PriceCents, &o.Status, &o.OfferedAt, &o.ExpiresAt,
			&o.RespondedAt, &o.CreatedAt, &o.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan updated offer: %w", err)
		}
		offers = append(offers, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate updated offers: %w", err)
	}

	return offers, nil
}

package allocation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SnapshotEntry is one position in a lead's frozen candidate ranking.
type SnapshotEntry struct {
	LeadID     uuid.UUID
	Position   int
	ProviderID uuid.UUID
	Offered    bool
}

// Repository persists the per-lead ranking snapshot. The ranking is written
// once at initiate time and only the offered flags change afterwards, so a
// cascade picks up where it left off after a restart.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new allocation snapshot repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// SaveSnapshot stores the ranked candidate list for a lead in one
// transaction. A second snapshot for the same lead is rejected by the
// primary key; the existing ranking stays authoritative.
func (r *Repository) SaveSnapshot(ctx context.Context, leadID uuid.UUID, providerIDs []uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for i, providerID := range providerIDs {
		_, err := tx.Exec(ctx, `
			INSERT INTO lead_candidates (lead_id, position, provider_id)
			VALUES ($1, $2, $3)
			ON CONFLICT (lead_id, position) DO NOTHING`,
			leadID, i, providerID,
		)
		if err != nil {
			return fmt.Errorf("insert snapshot entry: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

// NextUnoffered returns the lowest-position candidate that has not yet been
// offered the lead. The second return is false when the snapshot is
// exhausted.
func (r *Repository) NextUnoffered(ctx context.Context, leadID uuid.UUID) (SnapshotEntry, bool, error) {
	query := `
		SELECT lead_id, position, provider_id, offered
		FROM lead_candidates
		WHERE lead_id = $1 AND NOT offered
		ORDER BY position ASC
		LIMIT 1`

	var e SnapshotEntry
	err := r.pool.QueryRow(ctx, query, leadID).Scan(&e.LeadID, &e.Position, &e.ProviderID, &e.Offered)
	if errors.Is(err, pgx.ErrNoRows) {
		return SnapshotEntry{}, false, nil
	}
	if err != nil {
		return SnapshotEntry{}, false, fmt.Errorf("next unoffered candidate: %w", err)
	}

	return e, true, nil
}

// MarkOffered flags a snapshot position as consumed. A consumed position is
// never offered again, including after a payment failure.
func (r *Repository) MarkOffered(ctx context.Context, leadID uuid.UUID, position int) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE lead_candidates
		SET offered = true
		WHERE lead_id = $1 AND position = $2`,
		leadID, position,
	)
	if err != nil {
		return fmt.Errorf("mark candidate offered: %w", err)
	}
	return nil
}

// CountOffered returns how many snapshot positions have been consumed.
func (r *Repository) CountOffered(ctx context.Context, leadID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*) FROM lead_candidates WHERE lead_id = $1 AND offered`,
		leadID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count offered candidates: %w", err)
	}
	return n, nil
}

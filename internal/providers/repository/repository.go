// Package repository provides data access for the provider directory.
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
	"golang.org/x/sync/errgroup"
)

// Provider is a service provider registered in the directory.
type Provider struct {
	ID                    uuid.UUID
	BusinessName          string
	ContactEmail          string
	ContactPhone          string
	RatingBps             int   // rating in basis points, 480 = 4.80 stars
	CompletedJobs         int
	LastActiveAt          time.Time
	OffersEnabled         bool
	PurchasesEnabled      bool
	SubscriptionExpiresAt *time.Time
	Specializations       []string
	ServiceAreas          []string
	CreatedAt             time.Time
}

// Candidate is the directory's view of a provider eligible for ranking.
type Candidate struct {
	ProviderID    uuid.UUID
	RatingBps     int
	CompletedJobs int
	LastActiveAt  time.Time
}

const providerNotFoundMsg = "provider not found"

// Repository provides access to the providers tables.
type Repository struct {
	pool *pgxpool.Pool
}

// New creates a new providers repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a provider with its specializations and service areas in one
// transaction. Duplicate contact emails fail fast with a conflict.
func (r *Repository) Create(ctx context.Context, p Provider) (Provider, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Provider{}, fmt.Errorf("begin create provider: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `
		INSERT INTO providers (
			business_name, contact_email, contact_phone, rating_bps, completed_jobs,
			last_active_at, offers_enabled, purchases_enabled, subscription_expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at`

	err = tx.QueryRow(ctx, query,
		p.BusinessName, p.ContactEmail, p.ContactPhone, p.RatingBps, p.CompletedJobs,
		p.LastActiveAt, p.OffersEnabled, p.PurchasesEnabled, p.SubscriptionExpiresAt,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "providers_contact_email_key") {
			return Provider{}, apperr.Conflict("a provider with this contact email already exists")
		}
		return Provider{}, fmt.Errorf("create provider: %w", err)
	}

	for _, spec := range p.Specializations {
		if _, err := tx.Exec(ctx,
			`INSERT INTO provider_specializations (provider_id, project_type) VALUES ($1, $2)
			 ON CONFLICT DO NOTHING`,
			p.ID, spec,
		); err != nil {
			return Provider{}, fmt.Errorf("insert specialization: %w", err)
		}
	}

	for _, area := range p.ServiceAreas {
		if _, err := tx.Exec(ctx,
			`INSERT INTO provider_service_areas (provider_id, location_key) VALUES ($1, $2)
			 ON CONFLICT DO NOTHING`,
			p.ID, area,
		); err != nil {
			return Provider{}, fmt.Errorf("insert service area: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Provider{}, fmt.Errorf("commit create provider: %w", err)
	}

	return p, nil
}

// GetByID retrieves a provider with its specializations and service areas.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (Provider, error) {
	query := `
		SELECT id, business_name, contact_email, contact_phone, rating_bps, completed_jobs,
		       last_active_at, offers_enabled, purchases_enabled, subscription_expires_at, created_at
		FROM providers
		WHERE id = $1`

	var p Provider
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&p.ID, &p.BusinessName, &p.ContactEmail, &p.ContactPhone, &p.RatingBps, &p.CompletedJobs,
		&p.LastActiveAt, &p.OffersEnabled, &p.PurchasesEnabled, &p.SubscriptionExpiresAt, &p.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Provider{}, apperr.NotFound(providerNotFoundMsg)
	}
	if err != nil {
		return Provider{}, fmt.Errorf("get provider by id: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		p.Specializations, err = r.listStrings(gctx,
			`SELECT project_type FROM provider_specializations WHERE provider_id = $1 ORDER BY project_type`, id)
		return err
	})
	g.Go(func() error {
		var err error
		p.ServiceAreas, err = r.listStrings(gctx,
			`SELECT location_key FROM provider_service_areas WHERE provider_id = $1 ORDER BY location_key`, id)
		return err
	})
	if err := g.Wait(); err != nil {
		return Provider{}, err
	}

	return p, nil
}

// List returns all providers ordered by registration time.
func (r *Repository) List(ctx context.Context) ([]Provider, error) {
	query := `
		SELECT id, business_name, contact_email, contact_phone, rating_bps, completed_jobs,
		       last_active_at, offers_enabled, purchases_enabled, subscription_expires_at, created_at
		FROM providers
		ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	defer rows.Close()

	var providers []Provider
	for rows.Next() {
		var p Provider
		if err := rows.Scan(
			&p.ID, &p.BusinessName, &p.ContactEmail, &p.ContactPhone, &p.RatingBps, &p.CompletedJobs,
			&p.LastActiveAt, &p.OffersEnabled, &p.PurchasesEnabled, &p.SubscriptionExpiresAt, &p.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan provider: %w", err)
		}
		providers = append(providers, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate providers: %w", err)
	}

	return providers, nil
}

// ListCandidates returns providers whose service areas cover the location and
// whose specializations include the project type. Eligibility filtering beyond
// the directory match (rating, capability) happens in the ranker.
func (r *Repository) ListCandidates(ctx context.Context, locationKey, projectType string) ([]Candidate, error) {
	query := `
		SELECT p.id, p.rating_bps, p.completed_jobs, p.last_active_at
		FROM providers p
		JOIN provider_service_areas sa ON sa.provider_id = p.id AND sa.location_key = $1
		JOIN provider_specializations sp ON sp.provider_id = p.id AND sp.project_type = $2
		WHERE p.offers_enabled = true
		ORDER BY p.created_at ASC`

	rows, err := r.pool.Query(ctx, query, locationKey, projectType)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	defer rows.Close()

	var candidates []Candidate
	for rows.Next() {
		var c Candidate
		if err := rows.Scan(&c.ProviderID, &c.RatingBps, &c.CompletedJobs, &c.LastActiveAt); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidates: %w", err)
	}

	return candidates, nil
}

// GetCapabilities returns the capability flags for a provider. A missing
// provider reads as no capabilities rather than an error, since the gate is
// consulted as a filter, never a guard.
func (r *Repository) GetCapabilities(ctx context.Context, id uuid.UUID) (offersEnabled, purchasesEnabled bool, subscriptionExpiresAt *time.Time, err error) {
	query := `
		SELECT offers_enabled, purchases_enabled, subscription_expires_at
		FROM providers
		WHERE id = $1`

	err = r.pool.QueryRow(ctx, query, id).Scan(&offersEnabled, &purchasesEnabled, &subscriptionExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, false, nil, nil
	}
	if err != nil {
		return false, false, nil, fmt.Errorf("get provider capabilities: %w", err)
	}

	return offersEnabled, purchasesEnabled, subscriptionExpiresAt, nil
}

// TouchActivity records provider activity for ranking recency.
func (r *Repository) TouchActivity(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE providers SET last_active_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("touch provider activity: %w", err)
	}
	return nil
}

func (r *Repository) listStrings(ctx context.Context, query string, id uuid.UUID) ([]string, error) {
	rows, err := r.pool.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("list provider strings: %w", err)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan provider string: %w", err)
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate provider strings: %w", err)
	}

	return values, nil
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jensholdgaard/auction-house/internal/clock"
	"github.com/jensholdgaard/auction-house/internal/store"
)

// OfferRepo implements store.OfferRepository with sqlx.
type OfferRepo struct {
	db    *sqlx.DB
	clock clock.Clock
}

// NewOfferRepo returns a new OfferRepo.
func NewOfferRepo(db *sqlx.DB, clk clock.Clock) *OfferRepo {
	return &OfferRepo{db: db, clock: clk}
}

func (r *OfferRepo) Create(ctx context.Context, o *store.Offer) error {
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	now := r.clock.Now().UTC()
	o.CreatedAt = now
	o.UpdatedAt = now

	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO offers (id, auction_id, buyer_id, amount, status,
			expires_at, created_at, updated_at)
		VALUES (:id, :auction_id, :buyer_id, :amount, :status,
			:expires_at, :created_at, :updated_at)`, o)
	if err != nil {
		return fmt.Errorf("inserting offer: %w", err)
	}
	return nil
}

func (r *OfferRepo) GetByID(ctx context.Context, id string) (*store.Offer, error) {
	var o store.Offer
	err := r.db.GetContext(ctx, &o, `SELECT * FROM offers WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting offer: %w", err)
	}
	return &o, nil
}

func (r *OfferRepo) SetStatus(ctx context.Context, id string, status store.OfferStatus) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE offers SET status = $1, updated_at = $2 WHERE id = $3`,
		status, r.clock.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("updating offer status: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *OfferRepo) ActiveForBuyer(ctx context.Context, auctionID, buyerID string) (*store.Offer, error) {
	var o store.Offer
	err := r.db.GetContext(ctx, &o, `
		SELECT * FROM offers
		WHERE auction_id = $1 AND buyer_id = $2 AND status IN ($3, $4)
		ORDER BY created_at DESC LIMIT 1`,
		auctionID, buyerID, store.OfferPending, store.OfferCountered)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting active offer: %w", err)
	}
	return &o, nil
}

func (r *OfferRepo) ListByAuction(ctx context.Context, auctionID string) ([]store.Offer, error) {
	var offers []store.Offer
	err := r.db.SelectContext(ctx, &offers, `
		SELECT * FROM offers WHERE auction_id = $1 ORDER BY created_at ASC, id ASC`, auctionID)
	if err != nil {
		return nil, fmt.Errorf("listing offers: %w", err)
	}
	return offers, nil
}

func (r *OfferRepo) ExpireBelow(ctx context.Context, auctionID string, floor int64) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE offers SET status = $1, updated_at = $2
		WHERE auction_id = $3 AND status IN ($4, $5) AND amount < $6`,
		store.OfferExpired, r.clock.Now().UTC(), auctionID,
		store.OfferPending, store.OfferCountered, floor)
	if err != nil {
		return 0, fmt.Errorf("expiring outpriced offers: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading rows affected: %w", err)
	}
	return n, nil
}

func (r *OfferRepo) ExpireActive(ctx context.Context, auctionID string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE offers SET status = $1, updated_at = $2
		WHERE auction_id = $3 AND status IN ($4, $5)`,
		store.OfferExpired, r.clock.Now().UTC(), auctionID,
		store.OfferPending, store.OfferCountered)
	if err != nil {
		return 0, fmt.Errorf("expiring offers: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading rows affected: %w", err)
	}
	return n, nil
}

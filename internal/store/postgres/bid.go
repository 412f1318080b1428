package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jensholdgaard/auction-house/internal/clock"
	"github.com/jensholdgaard/auction-house/internal/store"
)

// BidRepo implements store.BidRepository with sqlx.
type BidRepo struct {
	db    *sqlx.DB
	clock clock.Clock
}

// NewBidRepo returns a new BidRepo.
func NewBidRepo(db *sqlx.DB, clk clock.Clock) *BidRepo {
	return &BidRepo{db: db, clock: clk}
}

func (r *BidRepo) Create(ctx context.Context, b *store.Bid) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	b.CreatedAt = r.clock.Now().UTC()

	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO bids (id, auction_id, bidder_id, amount, status,
			ip_address, user_agent, shipping, created_at)
		VALUES (:id, :auction_id, :bidder_id, :amount, :status,
			:ip_address, :user_agent, :shipping, :created_at)`, b)
	if err != nil {
		return fmt.Errorf("inserting bid: %w", err)
	}
	return nil
}

func (r *BidRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM bids WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting bid: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *BidRepo) ListByAuction(ctx context.Context, auctionID string) ([]store.Bid, error) {
	var bids []store.Bid
	err := r.db.SelectContext(ctx, &bids, `
		SELECT * FROM bids WHERE auction_id = $1 ORDER BY created_at ASC, id ASC`, auctionID)
	if err != nil {
		return nil, fmt.Errorf("listing bids: %w", err)
	}
	return bids, nil
}

func (r *BidRepo) MarkOutbid(ctx context.Context, auctionID, exceptID string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE bids SET status = $1
		WHERE auction_id = $2 AND id <> $3 AND status = $4`,
		store.BidOutbid, auctionID, exceptID, store.BidAccepted)
	if err != nil {
		return 0, fmt.Errorf("marking bids outbid: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading rows affected: %w", err)
	}
	return n, nil
}

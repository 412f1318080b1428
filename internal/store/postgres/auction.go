package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jensholdgaard/auction-house/internal/clock"
	"github.com/jensholdgaard/auction-house/internal/store"
)

// AuctionRepo implements store.AuctionRepository with sqlx.
type AuctionRepo struct {
	db    *sqlx.DB
	clock clock.Clock
}

// NewAuctionRepo returns a new AuctionRepo.
func NewAuctionRepo(db *sqlx.DB, clk clock.Clock) *AuctionRepo {
	return &AuctionRepo{db: db, clock: clk}
}

func (r *AuctionRepo) Create(ctx context.Context, a *store.Auction) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	now := r.clock.Now().UTC()
	a.Version = 1
	a.CreatedAt = now
	a.UpdatedAt = now

	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO auctions (id, title, description, currency, starting_price,
			reserve_price, buy_now_price, min_increment, extend_seconds,
			start_time, end_time, current_bid, high_bidder, status, created_by,
			version, created_at, updated_at)
		VALUES (:id, :title, :description, :currency, :starting_price,
			:reserve_price, :buy_now_price, :min_increment, :extend_seconds,
			:start_time, :end_time, :current_bid, :high_bidder, :status, :created_by,
			:version, :created_at, :updated_at)`, a)
	if err != nil {
		return fmt.Errorf("inserting auction: %w", err)
	}
	return nil
}

func (r *AuctionRepo) GetByID(ctx context.Context, id string) (*store.Auction, error) {
	var a store.Auction
	err := r.db.GetContext(ctx, &a, `SELECT * FROM auctions WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting auction: %w", err)
	}
	return &a, nil
}

// Update swaps the row under its version. The WHERE clause on version is
// what serializes concurrent writers per auction.
func (r *AuctionRepo) Update(ctx context.Context, a *store.Auction) error {
	now := r.clock.Now().UTC()
	result, err := r.db.ExecContext(ctx, `
		UPDATE auctions SET
			title = $1, description = $2, currency = $3, starting_price = $4,
			reserve_price = $5, buy_now_price = $6, min_increment = $7,
			extend_seconds = $8, start_time = $9, end_time = $10,
			current_bid = $11, high_bidder = $12, status = $13,
			version = version + 1, updated_at = $14
		WHERE id = $15 AND version = $16`,
		a.Title, a.Description, a.Currency, a.StartingPrice,
		a.ReservePrice, a.BuyNowPrice, a.MinIncrement,
		a.ExtendSeconds, a.StartTime, a.EndTime,
		a.CurrentBid, a.HighBidder, a.Status,
		now, a.ID, a.Version,
	)
	if err != nil {
		return fmt.Errorf("updating auction: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected: %w", err)
	}
	if n == 0 {
		var exists bool
		if err := r.db.GetContext(ctx, &exists,
			`SELECT EXISTS (SELECT 1 FROM auctions WHERE id = $1)`, a.ID); err != nil {
			return fmt.Errorf("checking auction existence: %w", err)
		}
		if !exists {
			return store.ErrNotFound
		}
		return store.ErrConflict
	}
	a.Version++
	a.UpdatedAt = now
	return nil
}

// Delete removes the auction; bids and offers cascade via foreign keys.
func (r *AuctionRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM auctions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting auction: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *AuctionRepo) DueForActivation(ctx context.Context, now time.Time) ([]store.Auction, error) {
	var auctions []store.Auction
	err := r.db.SelectContext(ctx, &auctions, `
		SELECT * FROM auctions
		WHERE status = $1 AND start_time <= $2
		ORDER BY start_time ASC`, store.AuctionScheduled, now)
	if err != nil {
		return nil, fmt.Errorf("listing auctions due for activation: %w", err)
	}
	return auctions, nil
}

func (r *AuctionRepo) DueForClose(ctx context.Context, now time.Time) ([]store.Auction, error) {
	var auctions []store.Auction
	err := r.db.SelectContext(ctx, &auctions, `
		SELECT * FROM auctions
		WHERE status = $1 AND end_time <= $2
		ORDER BY end_time ASC`, store.AuctionActive, now)
	if err != nil {
		return nil, fmt.Errorf("listing auctions due for close: %w", err)
	}
	return auctions, nil
}

func (r *AuctionRepo) TerminalBefore(ctx context.Context, cutoff time.Time) ([]store.Auction, error) {
	var auctions []store.Auction
	err := r.db.SelectContext(ctx, &auctions, `
		SELECT * FROM auctions
		WHERE status IN ($1, $2, $3) AND updated_at < $4
		ORDER BY updated_at ASC`,
		store.AuctionSold, store.AuctionSoldBuyNow, store.AuctionEndedNoSale, cutoff)
	if err != nil {
		return nil, fmt.Errorf("listing stale terminal auctions: %w", err)
	}
	return auctions, nil
}

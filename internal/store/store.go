package store

import (
	"context"
	"errors"
	"time"
)

// Errors returned by repository implementations.
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict indicates a versioned update lost a concurrent race and
	// must be retried from a fresh read.
	ErrConflict = errors.New("version conflict")
)

// AuctionStatus is the lifecycle state of an auction.
type AuctionStatus string

const (
	AuctionScheduled   AuctionStatus = "SCHEDULED"
	AuctionActive      AuctionStatus = "ACTIVE"
	AuctionSold        AuctionStatus = "SOLD"
	AuctionSoldBuyNow  AuctionStatus = "SOLD_BUY_NOW"
	AuctionEndedNoSale AuctionStatus = "ENDED_NO_SALE"
)

// Terminal reports whether the status permits no further transitions.
func (s AuctionStatus) Terminal() bool {
	switch s {
	case AuctionSold, AuctionSoldBuyNow, AuctionEndedNoSale:
		return true
	}
	return false
}

// BidStatus is the state of a bid.
type BidStatus string

const (
	BidAccepted BidStatus = "ACCEPTED"
	BidOutbid   BidStatus = "OUTBID"
)

// OfferStatus is the state of an offer.
type OfferStatus string

const (
	OfferPending   OfferStatus = "PENDING"
	OfferCountered OfferStatus = "COUNTERED"
	OfferAccepted  OfferStatus = "ACCEPTED"
	OfferDeclined  OfferStatus = "DECLINED"
	OfferExpired   OfferStatus = "EXPIRED"
)

// Active reports whether the offer can still be acted on.
func (s OfferStatus) Active() bool {
	return s == OfferPending || s == OfferCountered
}

// Auction is the persisted auction record. All monetary amounts are in
// minor units (cents) of Currency. Version backs the compare-and-swap
// update discipline: every committed write increments it.
type Auction struct {
	ID            string        `db:"id"`
	Title         string        `db:"title"`
	Description   string        `db:"description"`
	Currency      string        `db:"currency"`
	StartingPrice int64         `db:"starting_price"`
	ReservePrice  *int64        `db:"reserve_price"`
	BuyNowPrice   *int64        `db:"buy_now_price"`
	MinIncrement  int64         `db:"min_increment"`
	ExtendSeconds int64         `db:"extend_seconds"`
	StartTime     time.Time     `db:"start_time"`
	EndTime       time.Time     `db:"end_time"`
	CurrentBid    *int64        `db:"current_bid"`
	HighBidder    *string       `db:"high_bidder"`
	Status        AuctionStatus `db:"status"`
	CreatedBy     string        `db:"created_by"`
	Version       int64         `db:"version"`
	CreatedAt     time.Time     `db:"created_at"`
	UpdatedAt     time.Time     `db:"updated_at"`
}

// Bid is a persisted bid record. IPAddress and UserAgent are informational
// origin metadata, never used in decisions.
type Bid struct {
	ID        string    `db:"id"`
	AuctionID string    `db:"auction_id"`
	BidderID  string    `db:"bidder_id"`
	Amount    int64     `db:"amount"`
	Status    BidStatus `db:"status"`
	IPAddress string    `db:"ip_address"`
	UserAgent string    `db:"user_agent"`
	Shipping  string    `db:"shipping"`
	CreatedAt time.Time `db:"created_at"`
}

// Offer is a persisted offer record.
type Offer struct {
	ID        string      `db:"id"`
	AuctionID string      `db:"auction_id"`
	BuyerID   string      `db:"buyer_id"`
	Amount    int64       `db:"amount"`
	Status    OfferStatus `db:"status"`
	ExpiresAt time.Time   `db:"expires_at"`
	CreatedAt time.Time   `db:"created_at"`
	UpdatedAt time.Time   `db:"updated_at"`
}

// AuctionRepository defines auction persistence operations.
type AuctionRepository interface {
	Create(ctx context.Context, a *Auction) error
	GetByID(ctx context.Context, id string) (*Auction, error)
	// Update persists a only if a.Version still matches the stored row,
	// then increments a.Version. Returns ErrConflict if a concurrent
	// writer got there first.
	Update(ctx context.Context, a *Auction) error
	// Delete removes the auction and cascades to its bids and offers.
	Delete(ctx context.Context, id string) error
	// DueForActivation returns SCHEDULED auctions whose start time has
	// passed.
	DueForActivation(ctx context.Context, now time.Time) ([]Auction, error)
	// DueForClose returns ACTIVE auctions whose end time has passed.
	DueForClose(ctx context.Context, now time.Time) ([]Auction, error)
	// TerminalBefore returns terminal auctions last updated before cutoff,
	// for archival advisories.
	TerminalBefore(ctx context.Context, cutoff time.Time) ([]Auction, error)
}

// BidRepository defines bid persistence operations.
type BidRepository interface {
	Create(ctx context.Context, b *Bid) error
	// Delete removes one bid; used to roll back a bid whose auction
	// update lost a version race.
	Delete(ctx context.Context, id string) error
	ListByAuction(ctx context.Context, auctionID string) ([]Bid, error)
	// MarkOutbid flips every ACCEPTED bid on the auction except exceptID
	// to OUTBID, returning the number of rows changed.
	MarkOutbid(ctx context.Context, auctionID, exceptID string) (int64, error)
}

// OfferRepository defines offer persistence operations.
type OfferRepository interface {
	Create(ctx context.Context, o *Offer) error
	GetByID(ctx context.Context, id string) (*Offer, error)
	SetStatus(ctx context.Context, id string, status OfferStatus) error
	// ActiveForBuyer returns the buyer's PENDING or COUNTERED offer on the
	// auction, or ErrNotFound if there is none.
	ActiveForBuyer(ctx context.Context, auctionID, buyerID string) (*Offer, error)
	ListByAuction(ctx context.Context, auctionID string) ([]Offer, error)
	// ExpireBelow moves PENDING/COUNTERED offers on the auction with an
	// amount strictly below floor to EXPIRED.
	ExpireBelow(ctx context.Context, auctionID string, floor int64) (int64, error)
	// ExpireActive moves every PENDING/COUNTERED offer on the auction to
	// EXPIRED.
	ExpireActive(ctx context.Context, auctionID string) (int64, error)
}

// Package auction implements the auction engine: bid acceptance,
// anti-sniping extension, buy-now, the offer lifecycle and reserve-price
// resolution, plus the scheduler that drives auctions through their
// lifecycle states.
package auction

import (
	"time"

	"github.com/jensholdgaard/auction-house/internal/store"
)

const (
	// snipeWindow is the trailing window in which an accepted bid pushes
	// the end time back by the auction's extend_seconds.
	snipeWindow = 60 * time.Second
	// offerTTL is the fixed lifetime of a new offer.
	offerTTL = 24 * time.Hour
	// casAttempts bounds retries when a versioned auction update loses a
	// concurrent race.
	casAttempts = 3
)

// Params carries the caller-supplied auction fields for create and update.
// Monetary amounts are minor units of Currency; optional prices are nil
// when unset.
type Params struct {
	Title         string
	Description   string
	Currency      string
	StartingPrice int64
	ReservePrice  *int64
	BuyNowPrice   *int64
	MinIncrement  int64
	ExtendSeconds int64
	StartTime     time.Time
	EndTime       time.Time
}

// validate checks the static invariants shared by create and update.
// now is the engine's current time.
func (p Params) validate(now time.Time) error {
	if p.Title == "" {
		return E(KindInvalidInput, "title is required")
	}
	if p.Currency == "" {
		return E(KindInvalidInput, "currency is required")
	}
	if p.StartingPrice <= 0 {
		return E(KindInvalidInput, "starting price must be positive")
	}
	if p.MinIncrement <= 0 {
		return E(KindInvalidInput, "minimum increment must be positive")
	}
	if p.ExtendSeconds < 0 {
		return E(KindInvalidInput, "extend seconds must not be negative")
	}
	if p.ReservePrice != nil && *p.ReservePrice <= p.StartingPrice {
		return E(KindInvalidInput, "reserve price must exceed starting price")
	}
	if p.BuyNowPrice != nil && *p.BuyNowPrice <= p.StartingPrice {
		return E(KindInvalidInput, "buy-now price must exceed starting price")
	}
	if p.ReservePrice != nil && p.BuyNowPrice != nil && *p.ReservePrice > *p.BuyNowPrice {
		return E(KindInvalidInput, "reserve price must not exceed buy-now price")
	}
	if !p.EndTime.After(p.StartTime) {
		return E(KindInvalidInput, "end time must be after start time")
	}
	if !p.StartTime.After(now) {
		return E(KindInvalidInput, "start time must be in the future")
	}
	return nil
}

// BidOrigin is informational metadata recorded with a bid.
type BidOrigin struct {
	IPAddress string
	UserAgent string
	Shipping  string
}

// Snapshot is the externally visible view of an auction. It never carries
// the reserve price itself, only whether it has been met.
type Snapshot struct {
	ID              string              `json:"id"`
	Title           string              `json:"title"`
	Status          store.AuctionStatus `json:"status"`
	CurrentBid      *int64              `json:"currentBid"`
	HighBidder      *string             `json:"highBidder"`
	StartTime       time.Time           `json:"startTime"`
	EndTime         time.Time           `json:"endTime"`
	TimeRemaining   int64               `json:"timeRemaining"`
	Online          int                 `json:"online"`
	BuyNowPrice     *int64              `json:"buyNowPrice"`
	ReservePriceMet bool                `json:"reservePriceMet"`
}

// snapshotOf builds the caller-facing view of a at time now. Online is
// always zero here; presence tracking belongs to the notifier side.
func snapshotOf(a *store.Auction, now time.Time) *Snapshot {
	remaining := int64(a.EndTime.Sub(now).Seconds())
	if remaining < 0 {
		remaining = 0
	}
	return &Snapshot{
		ID:              a.ID,
		Title:           a.Title,
		Status:          a.Status,
		CurrentBid:      a.CurrentBid,
		HighBidder:      a.HighBidder,
		StartTime:       a.StartTime,
		EndTime:         a.EndTime,
		TimeRemaining:   remaining,
		BuyNowPrice:     a.BuyNowPrice,
		ReservePriceMet: reserveMet(a),
	}
}

// effectiveBid is the amount the auction would settle at right now.
func effectiveBid(a *store.Auction) int64 {
	if a.CurrentBid != nil {
		return *a.CurrentBid
	}
	return a.StartingPrice
}

// reserveMet reports whether the reserve price, if any, is covered.
func reserveMet(a *store.Auction) bool {
	return a.ReservePrice == nil || effectiveBid(a) >= *a.ReservePrice
}

// bidFloor is the minimum acceptable next bid.
func bidFloor(a *store.Auction) int64 {
	base := a.StartingPrice
	if a.CurrentBid != nil && *a.CurrentBid > base {
		base = *a.CurrentBid
	}
	return base + a.MinIncrement
}

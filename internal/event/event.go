// Package event is the append-only journal of committed auction
// transitions. Journal writes are best-effort from the engine's point of
// view: a failed append is logged and never rolls back the transition.
package event

import (
	"encoding/json"
	"time"
)

// Type identifies an event kind.
type Type string

const (
	AuctionCreated     Type = "auction.created"
	AuctionUpdated     Type = "auction.updated"
	AuctionDeleted     Type = "auction.deleted"
	AuctionActivated   Type = "auction.activated"
	AuctionSold        Type = "auction.sold"
	AuctionBoughtNow   Type = "auction.bought_now"
	AuctionEndedNoSale Type = "auction.ended_no_sale"

	BidPlaced Type = "bid.placed"

	OfferCreated  Type = "offer.created"
	OfferAccepted Type = "offer.accepted"
	OfferDeclined Type = "offer.declined"
	OfferExpired  Type = "offer.expired"
)

// Event represents a single domain event. AggregateID is always the
// auction id, so an auction's full history loads with one query.
type Event struct {
	ID          string          `json:"id" db:"id"`
	AggregateID string          `json:"aggregate_id" db:"aggregate_id"`
	Type        Type            `json:"type" db:"type"`
	Data        json.RawMessage `json:"data" db:"data"`
	Version     int64           `json:"version" db:"version"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// AuctionCreatedData is the payload for AuctionCreated events.
type AuctionCreatedData struct {
	Title         string    `json:"title"`
	CreatedBy     string    `json:"created_by"`
	StartingPrice int64     `json:"starting_price"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
}

// BidPlacedData is the payload for BidPlaced events.
type BidPlacedData struct {
	BidID    string `json:"bid_id"`
	BidderID string `json:"bidder_id"`
	Amount   int64  `json:"amount"`
	// Extended is true when the bid pushed the end time back.
	Extended bool `json:"extended,omitempty"`
}

// ClosedData is the payload for AuctionSold, AuctionBoughtNow and
// AuctionEndedNoSale events.
type ClosedData struct {
	WinnerID string `json:"winner_id,omitempty"`
	Amount   int64  `json:"amount,omitempty"`
}

// OfferData is the payload for offer events.
type OfferData struct {
	OfferID string `json:"offer_id"`
	BuyerID string `json:"buyer_id"`
	Amount  int64  `json:"amount"`
}

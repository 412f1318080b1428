// Package notify carries committed auction transitions out to subscribers.
// Deliveries are fire-and-forget: implementations log failures and never
// return them to the engine.
package notify

import (
	"context"
	"log/slog"
)

// Notifier receives auction change events. Implementations must not block
// on slow consumers beyond their own internal timeouts.
type Notifier interface {
	BidUpdated(ctx context.Context, auctionID string)
	AuctionEnded(ctx context.Context, auctionID string)
	OfferUpdated(ctx context.Context, auctionID string)
}

// Nop is a Notifier that does nothing. It stands in wherever no outbound
// channel is configured, so the engine never needs a nil check.
type Nop struct{}

func (Nop) BidUpdated(context.Context, string)   {}
func (Nop) AuctionEnded(context.Context, string) {}
func (Nop) OfferUpdated(context.Context, string) {}

// Log is a Notifier that writes each event to the logger.
type Log struct {
	Logger *slog.Logger
}

func (l Log) BidUpdated(ctx context.Context, auctionID string) {
	l.Logger.InfoContext(ctx, "bid updated", slog.String("auction_id", auctionID))
}

func (l Log) AuctionEnded(ctx context.Context, auctionID string) {
	l.Logger.InfoContext(ctx, "auction ended", slog.String("auction_id", auctionID))
}

func (l Log) OfferUpdated(ctx context.Context, auctionID string) {
	l.Logger.InfoContext(ctx, "offer updated", slog.String("auction_id", auctionID))
}

// Multi fans an event out to several notifiers in order.
type Multi []Notifier

func (m Multi) BidUpdated(ctx context.Context, auctionID string) {
	for _, n := range m {
		n.BidUpdated(ctx, auctionID)
	}
}

func (m Multi) AuctionEnded(ctx context.Context, auctionID string) {
	for _, n := range m {
		n.AuctionEnded(ctx, auctionID)
	}
}

func (m Multi) OfferUpdated(ctx context.Context, auctionID string) {
	for _, n := range m {
		n.OfferUpdated(ctx, auctionID)
	}
}

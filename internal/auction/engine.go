package auction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/auction-house/internal/clock"
	"github.com/jensholdgaard/auction-house/internal/event"
	"github.com/jensholdgaard/auction-house/internal/notify"
	"github.com/jensholdgaard/auction-house/internal/store"
)

// Engine enforces the auction invariants and computes the side effects of
// every state-changing request. Serialization across concurrent writers is
// by versioned compare-and-swap on the auction row: a conflicted operation
// is retried from scratch, never resumed mid-way.
type Engine struct {
	auctions store.AuctionRepository
	bids     store.BidRepository
	offers   store.OfferRepository
	events   event.Store
	notifier notify.Notifier
	logger   *slog.Logger
	tracer   trace.Tracer
	clock    clock.Clock

	closeOnAcceptedOffer bool
	admins               map[string]struct{}
}

// Options tune engine policies.
type Options struct {
	// CloseOnAcceptedOffer makes AcceptOffer also close the auction as a
	// sale at the offer amount.
	CloseOnAcceptedOffer bool
	// AdminIDs pass the owner checks on any auction.
	AdminIDs []string
}

// NewEngine creates an Engine over the given repositories.
func NewEngine(repos *store.Repositories, notifier notify.Notifier, logger *slog.Logger, tp trace.TracerProvider, clk clock.Clock, opts Options) *Engine {
	admins := make(map[string]struct{}, len(opts.AdminIDs))
	for _, id := range opts.AdminIDs {
		admins[id] = struct{}{}
	}
	return &Engine{
		auctions:             repos.Auctions,
		bids:                 repos.Bids,
		offers:               repos.Offers,
		events:               repos.Events,
		notifier:             notifier,
		logger:               logger,
		tracer:               tp.Tracer("github.com/jensholdgaard/auction-house/internal/auction"),
		clock:                clk,
		closeOnAcceptedOffer: opts.CloseOnAcceptedOffer,
		admins:               admins,
	}
}

// canAct reports whether actorID may act as owner of a.
func (e *Engine) canAct(a *store.Auction, actorID string) bool {
	if actorID == a.CreatedBy {
		return true
	}
	_, ok := e.admins[actorID]
	return ok
}

// CreateAuction validates p and persists a new SCHEDULED auction owned by
// ownerID.
func (e *Engine) CreateAuction(ctx context.Context, ownerID string, p Params) (*store.Auction, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.CreateAuction",
		trace.WithAttributes(attribute.String("owner_id", ownerID)),
	)
	defer span.End()

	if ownerID == "" {
		return nil, E(KindInvalidInput, "owner is required")
	}
	now := e.clock.Now()
	if err := p.validate(now); err != nil {
		return nil, err
	}

	a := &store.Auction{
		ID:            uuid.New().String(),
		Title:         p.Title,
		Description:   p.Description,
		Currency:      p.Currency,
		StartingPrice: p.StartingPrice,
		ReservePrice:  p.ReservePrice,
		BuyNowPrice:   p.BuyNowPrice,
		MinIncrement:  p.MinIncrement,
		ExtendSeconds: p.ExtendSeconds,
		StartTime:     p.StartTime,
		EndTime:       p.EndTime,
		Status:        store.AuctionScheduled,
		CreatedBy:     ownerID,
	}
	if err := e.auctions.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("creating auction: %w", err)
	}

	e.journal(ctx, a.ID, event.AuctionCreated, event.AuctionCreatedData{
		Title:         a.Title,
		CreatedBy:     a.CreatedBy,
		StartingPrice: a.StartingPrice,
		StartTime:     a.StartTime,
		EndTime:       a.EndTime,
	})

	e.logger.InfoContext(ctx, "auction created",
		slog.String("auction_id", a.ID),
		slog.String("owner", ownerID),
	)
	return a, nil
}

// UpdateAuction replaces the editable fields of a SCHEDULED auction.
func (e *Engine) UpdateAuction(ctx context.Context, auctionID, actorID string, p Params) (*store.Auction, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.UpdateAuction",
		trace.WithAttributes(attribute.String("auction_id", auctionID)),
	)
	defer span.End()

	for attempt := 0; attempt < casAttempts; attempt++ {
		a, err := e.loadAuction(ctx, auctionID)
		if err != nil {
			return nil, err
		}
		if !e.canAct(a, actorID) {
			return nil, E(KindForbidden, "only the owner may edit the auction")
		}
		if a.Status != store.AuctionScheduled {
			return nil, E(KindInvalidAuctionState, "auction is %s and can no longer be edited", a.Status)
		}
		if err := p.validate(e.clock.Now()); err != nil {
			return nil, err
		}

		a.Title = p.Title
		a.Description = p.Description
		a.Currency = p.Currency
		a.StartingPrice = p.StartingPrice
		a.ReservePrice = p.ReservePrice
		a.BuyNowPrice = p.BuyNowPrice
		a.MinIncrement = p.MinIncrement
		a.ExtendSeconds = p.ExtendSeconds
		a.StartTime = p.StartTime
		a.EndTime = p.EndTime

		err = e.auctions.Update(ctx, a)
		if errors.Is(err, store.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("updating auction: %w", err)
		}

		e.journal(ctx, a.ID, event.AuctionUpdated, event.AuctionCreatedData{
			Title:         a.Title,
			CreatedBy:     a.CreatedBy,
			StartingPrice: a.StartingPrice,
			StartTime:     a.StartTime,
			EndTime:       a.EndTime,
		})
		return a, nil
	}
	return nil, E(KindConflict, "auction %s is being modified concurrently", auctionID)
}

// DeleteAuction removes an auction and cascades to its bids and offers.
// Not permitted while the auction is ACTIVE.
func (e *Engine) DeleteAuction(ctx context.Context, auctionID, actorID string) error {
	ctx, span := e.tracer.Start(ctx, "Engine.DeleteAuction",
		trace.WithAttributes(attribute.String("auction_id", auctionID)),
	)
	defer span.End()

	a, err := e.loadAuction(ctx, auctionID)
	if err != nil {
		return err
	}
	if !e.canAct(a, actorID) {
		return E(KindForbidden, "only the owner may delete the auction")
	}
	if a.Status == store.AuctionActive {
		return E(KindInvalidAuctionState, "active auctions cannot be deleted")
	}
	if err := e.auctions.Delete(ctx, auctionID); err != nil {
		return fmt.Errorf("deleting auction: %w", err)
	}

	e.journal(ctx, auctionID, event.AuctionDeleted, struct{}{})
	e.logger.InfoContext(ctx, "auction deleted", slog.String("auction_id", auctionID))
	return nil
}

// GetSnapshot returns the caller-facing view of an auction.
func (e *Engine) GetSnapshot(ctx context.Context, auctionID string) (*Snapshot, error) {
	a, err := e.loadAuction(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	return snapshotOf(a, e.clock.Now()), nil
}

// PlaceBid validates and applies a bid, returning the updated snapshot.
//
// The bid row is inserted first, then the auction row is swapped under its
// version; losing the swap deletes the inserted bid and restarts the whole
// operation so that no partial state survives.
func (e *Engine) PlaceBid(ctx context.Context, auctionID, bidderID string, amount int64, origin BidOrigin) (*Snapshot, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.PlaceBid",
		trace.WithAttributes(
			attribute.String("auction_id", auctionID),
			attribute.String("bidder_id", bidderID),
			attribute.Int64("amount", amount),
		),
	)
	defer span.End()

	if bidderID == "" {
		return nil, E(KindInvalidInput, "bidder is required")
	}
	if amount <= 0 {
		return nil, E(KindInvalidInput, "bid amount must be positive")
	}

	for attempt := 0; attempt < casAttempts; attempt++ {
		a, err := e.loadAuction(ctx, auctionID)
		if err != nil {
			return nil, err
		}
		now := e.clock.Now()

		if a.Status != store.AuctionActive {
			return nil, E(KindInvalidAuctionState, "auction is %s, bidding requires ACTIVE", a.Status)
		}
		if now.Before(a.StartTime) || now.After(a.EndTime) {
			return nil, E(KindInvalidAuctionState, "bidding window is closed")
		}
		if floor := bidFloor(a); amount < floor {
			return nil, E(KindInvalidBid, "bid of %d is below the minimum of %d", amount, floor)
		}
		if a.BuyNowPrice != nil && amount >= *a.BuyNowPrice {
			return nil, E(KindInvalidBid, "bid meets the buy-now price of %d, use buy-now instead", *a.BuyNowPrice)
		}

		bid := &store.Bid{
			ID:        uuid.New().String(),
			AuctionID: a.ID,
			BidderID:  bidderID,
			Amount:    amount,
			Status:    store.BidAccepted,
			IPAddress: origin.IPAddress,
			UserAgent: origin.UserAgent,
			Shipping:  origin.Shipping,
		}
		if err := e.bids.Create(ctx, bid); err != nil {
			return nil, fmt.Errorf("persisting bid: %w", err)
		}

		a.CurrentBid = &amount
		a.HighBidder = &bidderID
		extended := false
		if a.ExtendSeconds > 0 && a.EndTime.Sub(now) <= snipeWindow {
			a.EndTime = a.EndTime.Add(time.Duration(a.ExtendSeconds) * time.Second)
			extended = true
		}

		err = e.auctions.Update(ctx, a)
		if err != nil {
			// Roll the bid row back so the operation leaves nothing behind,
			// then retry from a fresh read on version conflicts.
			if delErr := e.bids.Delete(ctx, bid.ID); delErr != nil {
				e.logger.ErrorContext(ctx, "orphaned bid after failed auction update",
					slog.String("bid_id", bid.ID), slog.Any("error", delErr))
			}
			if errors.Is(err, store.ErrConflict) {
				continue
			}
			return nil, fmt.Errorf("updating auction: %w", err)
		}

		// The cascade after the committed swap gets the same bounded retry
		// as the swap itself; a transient failure here would leave a stale
		// ACCEPTED bid or an outpriced offer visible.
		if err := retryCascade(func() error {
			_, err := e.bids.MarkOutbid(ctx, a.ID, bid.ID)
			return err
		}); err != nil {
			e.logger.ErrorContext(ctx, "marking outbid failed",
				slog.String("auction_id", a.ID), slog.Any("error", err))
		}
		var expired int64
		if err := retryCascade(func() error {
			var err error
			expired, err = e.offers.ExpireBelow(ctx, a.ID, amount)
			return err
		}); err != nil {
			e.logger.ErrorContext(ctx, "expiring outpriced offers failed",
				slog.String("auction_id", a.ID), slog.Any("error", err))
		} else if expired > 0 {
			e.journal(ctx, a.ID, event.OfferExpired, event.OfferData{Amount: amount})
		}

		e.journal(ctx, a.ID, event.BidPlaced, event.BidPlacedData{
			BidID:    bid.ID,
			BidderID: bidderID,
			Amount:   amount,
			Extended: extended,
		})
		e.notifier.BidUpdated(ctx, a.ID)

		e.logger.InfoContext(ctx, "bid placed",
			slog.String("auction_id", a.ID),
			slog.String("bidder_id", bidderID),
			slog.Int64("amount", amount),
			slog.Bool("extended", extended),
		)
		return snapshotOf(a, now), nil
	}
	return nil, E(KindConflict, "auction %s is receiving concurrent bids, try again", auctionID)
}

// BuyNow ends an ACTIVE auction immediately at its buy-now price.
func (e *Engine) BuyNow(ctx context.Context, auctionID, buyerID string) (*Snapshot, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.BuyNow",
		trace.WithAttributes(
			attribute.String("auction_id", auctionID),
			attribute.String("buyer_id", buyerID),
		),
	)
	defer span.End()

	if buyerID == "" {
		return nil, E(KindInvalidInput, "buyer is required")
	}

	for attempt := 0; attempt < casAttempts; attempt++ {
		a, err := e.loadAuction(ctx, auctionID)
		if err != nil {
			return nil, err
		}
		now := e.clock.Now()

		if a.BuyNowPrice == nil {
			return nil, E(KindInvalidBid, "auction has no buy-now price")
		}
		if a.Status != store.AuctionActive {
			return nil, E(KindInvalidAuctionState, "auction is %s, buy-now requires ACTIVE", a.Status)
		}
		if now.After(a.EndTime) {
			return nil, E(KindInvalidAuctionState, "auction has already ended")
		}

		price := *a.BuyNowPrice
		a.Status = store.AuctionSoldBuyNow
		a.CurrentBid = &price
		a.HighBidder = &buyerID

		err = e.auctions.Update(ctx, a)
		if errors.Is(err, store.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("updating auction: %w", err)
		}

		if err := retryCascade(func() error {
			_, err := e.offers.ExpireActive(ctx, a.ID)
			return err
		}); err != nil {
			e.logger.ErrorContext(ctx, "expiring offers after buy-now failed",
				slog.String("auction_id", a.ID), slog.Any("error", err))
		}

		e.journal(ctx, a.ID, event.AuctionBoughtNow, event.ClosedData{
			WinnerID: buyerID,
			Amount:   price,
		})
		e.notifier.AuctionEnded(ctx, a.ID)

		e.logger.InfoContext(ctx, "auction bought now",
			slog.String("auction_id", a.ID),
			slog.String("buyer_id", buyerID),
			slog.Int64("price", price),
		)
		return snapshotOf(a, now), nil
	}
	return nil, E(KindConflict, "auction %s is being modified concurrently", auctionID)
}

// CreateOffer records a buyer's offer on a SCHEDULED or ACTIVE auction.
func (e *Engine) CreateOffer(ctx context.Context, auctionID, buyerID string, amount int64) (*store.Offer, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.CreateOffer",
		trace.WithAttributes(
			attribute.String("auction_id", auctionID),
			attribute.String("buyer_id", buyerID),
			attribute.Int64("amount", amount),
		),
	)
	defer span.End()

	if buyerID == "" {
		return nil, E(KindInvalidInput, "buyer is required")
	}
	if amount <= 0 {
		return nil, E(KindInvalidInput, "offer amount must be positive")
	}

	a, err := e.loadAuction(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	if a.Status != store.AuctionScheduled && a.Status != store.AuctionActive {
		return nil, E(KindInvalidAuctionState, "auction is %s, offers require SCHEDULED or ACTIVE", a.Status)
	}
	if amount < a.StartingPrice {
		return nil, E(KindInvalidOffer, "offer of %d is below the starting price of %d", amount, a.StartingPrice)
	}
	if a.BuyNowPrice != nil && amount >= *a.BuyNowPrice {
		return nil, E(KindInvalidOffer, "offer meets the buy-now price of %d, use buy-now instead", *a.BuyNowPrice)
	}

	if _, err := e.offers.ActiveForBuyer(ctx, a.ID, buyerID); err == nil {
		return nil, E(KindInvalidOffer, "an active offer from this buyer already exists")
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("checking existing offers: %w", err)
	}

	now := e.clock.Now()
	o := &store.Offer{
		ID:        uuid.New().String(),
		AuctionID: a.ID,
		BuyerID:   buyerID,
		Amount:    amount,
		Status:    store.OfferPending,
		ExpiresAt: now.Add(offerTTL),
	}
	if err := e.offers.Create(ctx, o); err != nil {
		return nil, fmt.Errorf("persisting offer: %w", err)
	}

	e.journal(ctx, a.ID, event.OfferCreated, event.OfferData{
		OfferID: o.ID,
		BuyerID: buyerID,
		Amount:  amount,
	})
	e.notifier.OfferUpdated(ctx, a.ID)

	e.logger.InfoContext(ctx, "offer created",
		slog.String("auction_id", a.ID),
		slog.String("buyer_id", buyerID),
		slog.Int64("amount", amount),
	)
	return o, nil
}

// AcceptOffer marks a PENDING, unexpired offer as ACCEPTED. Expiry is
// checked lazily here; a stale offer is flipped to EXPIRED on the way out.
// When the close-on-accept policy is enabled the auction is also closed as
// a sale at the offer amount.
func (e *Engine) AcceptOffer(ctx context.Context, offerID, actorID string) error {
	ctx, span := e.tracer.Start(ctx, "Engine.AcceptOffer",
		trace.WithAttributes(attribute.String("offer_id", offerID)),
	)
	defer span.End()

	o, a, err := e.loadOfferWithAuction(ctx, offerID)
	if err != nil {
		return err
	}
	if !e.canAct(a, actorID) {
		return E(KindForbidden, "only the auction owner may accept offers")
	}
	if o.Status != store.OfferPending {
		return E(KindInvalidOffer, "offer is %s, accept requires PENDING", o.Status)
	}
	if e.clock.Now().After(o.ExpiresAt) {
		if err := e.offers.SetStatus(ctx, o.ID, store.OfferExpired); err != nil {
			e.logger.ErrorContext(ctx, "expiring stale offer failed",
				slog.String("offer_id", o.ID), slog.Any("error", err))
		}
		return E(KindInvalidOffer, "offer expired at %s", o.ExpiresAt.UTC().Format(time.RFC3339))
	}

	if err := e.offers.SetStatus(ctx, o.ID, store.OfferAccepted); err != nil {
		return fmt.Errorf("accepting offer: %w", err)
	}

	e.journal(ctx, a.ID, event.OfferAccepted, event.OfferData{
		OfferID: o.ID,
		BuyerID: o.BuyerID,
		Amount:  o.Amount,
	})
	e.notifier.OfferUpdated(ctx, a.ID)

	if e.closeOnAcceptedOffer && !a.Status.Terminal() {
		if err := e.closeAsSold(ctx, a.ID, o.BuyerID, o.Amount); err != nil {
			e.logger.ErrorContext(ctx, "closing auction after accepted offer failed",
				slog.String("auction_id", a.ID), slog.Any("error", err))
		}
	}

	e.logger.InfoContext(ctx, "offer accepted",
		slog.String("auction_id", a.ID),
		slog.String("offer_id", o.ID),
	)
	return nil
}

// DeclineOffer marks an active offer as DECLINED.
func (e *Engine) DeclineOffer(ctx context.Context, offerID, actorID string) error {
	ctx, span := e.tracer.Start(ctx, "Engine.DeclineOffer",
		trace.WithAttributes(attribute.String("offer_id", offerID)),
	)
	defer span.End()

	o, a, err := e.loadOfferWithAuction(ctx, offerID)
	if err != nil {
		return err
	}
	if !e.canAct(a, actorID) {
		return E(KindForbidden, "only the auction owner may decline offers")
	}
	if !o.Status.Active() {
		return E(KindInvalidOffer, "offer is %s and can no longer be declined", o.Status)
	}

	if err := e.offers.SetStatus(ctx, o.ID, store.OfferDeclined); err != nil {
		return fmt.Errorf("declining offer: %w", err)
	}

	e.journal(ctx, a.ID, event.OfferDeclined, event.OfferData{
		OfferID: o.ID,
		BuyerID: o.BuyerID,
		Amount:  o.Amount,
	})
	e.notifier.OfferUpdated(ctx, a.ID)
	return nil
}

// closeAsSold transitions an auction to SOLD at the given price under the
// usual version discipline.
func (e *Engine) closeAsSold(ctx context.Context, auctionID, winnerID string, amount int64) error {
	for attempt := 0; attempt < casAttempts; attempt++ {
		a, err := e.loadAuction(ctx, auctionID)
		if err != nil {
			return err
		}
		if a.Status.Terminal() {
			return nil
		}
		a.Status = store.AuctionSold
		a.CurrentBid = &amount
		a.HighBidder = &winnerID

		err = e.auctions.Update(ctx, a)
		if errors.Is(err, store.ErrConflict) {
			continue
		}
		if err != nil {
			return err
		}

		e.journal(ctx, a.ID, event.AuctionSold, event.ClosedData{WinnerID: winnerID, Amount: amount})
		e.notifier.AuctionEnded(ctx, a.ID)
		return nil
	}
	return E(KindConflict, "auction %s is being modified concurrently", auctionID)
}

// retryCascade runs fn up to casAttempts times, returning the last error.
// Used for the post-commit cascade steps of a bid or buy-now.
func retryCascade(fn func() error) error {
	var err error
	for attempt := 0; attempt < casAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
	}
	return err
}

// loadAuction fetches an auction, mapping missing rows to the domain kind.
func (e *Engine) loadAuction(ctx context.Context, auctionID string) (*store.Auction, error) {
	a, err := e.auctions.GetByID(ctx, auctionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, E(KindNotFound, "auction %s not found", auctionID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading auction: %w", err)
	}
	return a, nil
}

func (e *Engine) loadOfferWithAuction(ctx context.Context, offerID string) (*store.Offer, *store.Auction, error) {
	o, err := e.offers.GetByID(ctx, offerID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, E(KindNotFound, "offer %s not found", offerID)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("loading offer: %w", err)
	}
	a, err := e.loadAuction(ctx, o.AuctionID)
	if err != nil {
		return nil, nil, err
	}
	return o, a, nil
}

// journal appends a domain event, best-effort.
func (e *Engine) journal(ctx context.Context, auctionID string, t event.Type, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		e.logger.ErrorContext(ctx, "marshalling journal event", slog.Any("error", err))
		return
	}
	evt := event.Event{
		AggregateID: auctionID,
		Type:        t,
		Data:        payload,
	}
	if err := e.events.Append(ctx, evt); err != nil {
		e.logger.ErrorContext(ctx, "journal append failed",
			slog.String("auction_id", auctionID),
			slog.String("type", string(t)),
			slog.Any("error", err),
		)
	}
}

// Package memory provides a store.Driver backed by process memory. It is
// the default for unit tests and useful for local development without a
// database. The versioned update discipline matches the postgres driver.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jensholdgaard/auction-house/internal/clock"
	"github.com/jensholdgaard/auction-house/internal/config"
	"github.com/jensholdgaard/auction-house/internal/event"
	"github.com/jensholdgaard/auction-house/internal/store"
)

func init() {
	store.Register("memory", func(ctx context.Context, cfg config.DatabaseConfig, clk clock.Clock) (*store.Repositories, error) {
		return Open(clk), nil
	})
}

// DB is the shared state behind the in-memory repositories.
type DB struct {
	mu       sync.Mutex
	clock    clock.Clock
	auctions map[string]store.Auction
	bids     map[string]store.Bid
	offers   map[string]store.Offer
	events   []event.Event
}

// Open returns Repositories backed by a fresh in-memory DB.
func Open(clk clock.Clock) *store.Repositories {
	db := &DB{
		clock:    clk,
		auctions: make(map[string]store.Auction),
		bids:     make(map[string]store.Bid),
		offers:   make(map[string]store.Offer),
	}
	return &store.Repositories{
		Auctions: &AuctionRepo{db: db},
		Bids:     &BidRepo{db: db},
		Offers:   &OfferRepo{db: db},
		Events:   &EventStore{db: db},
		Closer:   nopCloser{},
		Ping:     func(context.Context) error { return nil },
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// AuctionRepo implements store.AuctionRepository in memory.
type AuctionRepo struct {
	db *DB
}

func (r *AuctionRepo) Create(ctx context.Context, a *store.Auction) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	now := r.db.clock.Now().UTC()
	a.Version = 1
	a.CreatedAt = now
	a.UpdatedAt = now
	r.db.auctions[a.ID] = *a
	return nil
}

func (r *AuctionRepo) GetByID(ctx context.Context, id string) (*store.Auction, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	a, ok := r.db.auctions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &a, nil
}

func (r *AuctionRepo) Update(ctx context.Context, a *store.Auction) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	cur, ok := r.db.auctions[a.ID]
	if !ok {
		return store.ErrNotFound
	}
	if cur.Version != a.Version {
		return store.ErrConflict
	}
	a.Version++
	a.UpdatedAt = r.db.clock.Now().UTC()
	r.db.auctions[a.ID] = *a
	return nil
}

func (r *AuctionRepo) Delete(ctx context.Context, id string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if _, ok := r.db.auctions[id]; !ok {
		return store.ErrNotFound
	}
	delete(r.db.auctions, id)
	for bidID, b := range r.db.bids {
		if b.AuctionID == id {
			delete(r.db.bids, bidID)
		}
	}
	for offerID, o := range r.db.offers {
		if o.AuctionID == id {
			delete(r.db.offers, offerID)
		}
	}
	return nil
}

func (r *AuctionRepo) DueForActivation(ctx context.Context, now time.Time) ([]store.Auction, error) {
	return r.selectWhere(func(a store.Auction) bool {
		return a.Status == store.AuctionScheduled && !a.StartTime.After(now)
	})
}

func (r *AuctionRepo) DueForClose(ctx context.Context, now time.Time) ([]store.Auction, error) {
	return r.selectWhere(func(a store.Auction) bool {
		return a.Status == store.AuctionActive && !a.EndTime.After(now)
	})
}

func (r *AuctionRepo) TerminalBefore(ctx context.Context, cutoff time.Time) ([]store.Auction, error) {
	return r.selectWhere(func(a store.Auction) bool {
		return a.Status.Terminal() && a.UpdatedAt.Before(cutoff)
	})
}

func (r *AuctionRepo) selectWhere(keep func(store.Auction) bool) ([]store.Auction, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	var out []store.Auction
	for _, a := range r.db.auctions {
		if keep(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// BidRepo implements store.BidRepository in memory.
type BidRepo struct {
	db *DB
}

func (r *BidRepo) Create(ctx context.Context, b *store.Bid) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	b.CreatedAt = r.db.clock.Now().UTC()
	r.db.bids[b.ID] = *b
	return nil
}

func (r *BidRepo) Delete(ctx context.Context, id string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if _, ok := r.db.bids[id]; !ok {
		return store.ErrNotFound
	}
	delete(r.db.bids, id)
	return nil
}

func (r *BidRepo) ListByAuction(ctx context.Context, auctionID string) ([]store.Bid, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	var out []store.Bid
	for _, b := range r.db.bids {
		if b.AuctionID == auctionID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *BidRepo) MarkOutbid(ctx context.Context, auctionID, exceptID string) (int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	var n int64
	for id, b := range r.db.bids {
		if b.AuctionID == auctionID && b.ID != exceptID && b.Status == store.BidAccepted {
			b.Status = store.BidOutbid
			r.db.bids[id] = b
			n++
		}
	}
	return n, nil
}

// OfferRepo implements store.OfferRepository in memory.
type OfferRepo struct {
	db *DB
}

func (r *OfferRepo) Create(ctx context.Context, o *store.Offer) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	now := r.db.clock.Now().UTC()
	o.CreatedAt = now
	o.UpdatedAt = now
	r.db.offers[o.ID] = *o
	return nil
}

func (r *OfferRepo) GetByID(ctx context.Context, id string) (*store.Offer, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	o, ok := r.db.offers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &o, nil
}

func (r *OfferRepo) SetStatus(ctx context.Context, id string, status store.OfferStatus) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	o, ok := r.db.offers[id]
	if !ok {
		return store.ErrNotFound
	}
	o.Status = status
	o.UpdatedAt = r.db.clock.Now().UTC()
	r.db.offers[id] = o
	return nil
}

func (r *OfferRepo) ActiveForBuyer(ctx context.Context, auctionID, buyerID string) (*store.Offer, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	for _, o := range r.db.offers {
		if o.AuctionID == auctionID && o.BuyerID == buyerID && o.Status.Active() {
			return &o, nil
		}
	}
	return nil, store.ErrNotFound
}

func (r *OfferRepo) ListByAuction(ctx context.Context, auctionID string) ([]store.Offer, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	var out []store.Offer
	for _, o := range r.db.offers {
		if o.AuctionID == auctionID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *OfferRepo) ExpireBelow(ctx context.Context, auctionID string, floor int64) (int64, error) {
	return r.expireWhere(auctionID, func(o store.Offer) bool { return o.Amount < floor })
}

func (r *OfferRepo) ExpireActive(ctx context.Context, auctionID string) (int64, error) {
	return r.expireWhere(auctionID, func(store.Offer) bool { return true })
}

func (r *OfferRepo) expireWhere(auctionID string, match func(store.Offer) bool) (int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	var n int64
	now := r.db.clock.Now().UTC()
	for id, o := range r.db.offers {
		if o.AuctionID == auctionID && o.Status.Active() && match(o) {
			o.Status = store.OfferExpired
			o.UpdatedAt = now
			r.db.offers[id] = o
			n++
		}
	}
	return n, nil
}

// EventStore implements event.Store in memory.
type EventStore struct {
	db *DB
}

func (s *EventStore) Append(ctx context.Context, events ...event.Event) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	now := s.db.clock.Now().UTC()
	for _, e := range events {
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		e.CreatedAt = now
		s.db.events = append(s.db.events, e)
	}
	return nil
}

func (s *EventStore) Load(ctx context.Context, aggregateID string) ([]event.Event, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	var out []event.Event
	for _, e := range s.db.events {
		if e.AggregateID == aggregateID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *EventStore) LoadByType(ctx context.Context, eventType event.Type) ([]event.Event, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	var out []event.Event
	for _, e := range s.db.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out, nil
}

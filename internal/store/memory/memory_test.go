package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jensholdgaard/auction-house/internal/clock"
	"github.com/jensholdgaard/auction-house/internal/store"
	"github.com/jensholdgaard/auction-house/internal/store/memory"
)

func newRepos(t *testing.T) (*store.Repositories, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	return memory.Open(clk), clk
}

func testAuction(clk clock.Clock) *store.Auction {
	now := clk.Now()
	return &store.Auction{
		Title:         "Test item",
		Currency:      "USD",
		StartingPrice: 100,
		MinIncrement:  10,
		StartTime:     now.Add(time.Minute),
		EndTime:       now.Add(time.Hour),
		Status:        store.AuctionScheduled,
		CreatedBy:     "owner-1",
	}
}

func TestAuctionVersionedUpdate(t *testing.T) {
	repos, clk := newRepos(t)
	ctx := context.Background()

	a := testAuction(clk)
	if err := repos.Auctions.Create(ctx, a); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if a.Version != 1 {
		t.Fatalf("version after create = %d, want 1", a.Version)
	}

	// Two readers load the same version; only the first write wins.
	first, _ := repos.Auctions.GetByID(ctx, a.ID)
	second, _ := repos.Auctions.GetByID(ctx, a.ID)

	first.Title = "First writer"
	if err := repos.Auctions.Update(ctx, first); err != nil {
		t.Fatalf("first update: %v", err)
	}
	if first.Version != 2 {
		t.Errorf("version after update = %d, want 2", first.Version)
	}

	second.Title = "Second writer"
	if err := repos.Auctions.Update(ctx, second); !errors.Is(err, store.ErrConflict) {
		t.Errorf("stale update error = %v, want ErrConflict", err)
	}

	got, err := repos.Auctions.GetByID(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Title != "First writer" {
		t.Errorf("title = %q, want %q", got.Title, "First writer")
	}
}

func TestAuctionDeleteCascades(t *testing.T) {
	repos, clk := newRepos(t)
	ctx := context.Background()

	a := testAuction(clk)
	if err := repos.Auctions.Create(ctx, a); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := repos.Bids.Create(ctx, &store.Bid{AuctionID: a.ID, BidderID: "b1", Amount: 110, Status: store.BidAccepted}); err != nil {
		t.Fatalf("Create bid: %v", err)
	}
	if err := repos.Offers.Create(ctx, &store.Offer{AuctionID: a.ID, BuyerID: "b2", Amount: 150, Status: store.OfferPending, ExpiresAt: clk.Now().Add(time.Hour)}); err != nil {
		t.Fatalf("Create offer: %v", err)
	}

	if err := repos.Auctions.Delete(ctx, a.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if _, err := repos.Auctions.GetByID(ctx, a.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetByID after delete = %v, want ErrNotFound", err)
	}
	bids, _ := repos.Bids.ListByAuction(ctx, a.ID)
	if len(bids) != 0 {
		t.Errorf("bids after delete = %d, want 0", len(bids))
	}
	offers, _ := repos.Offers.ListByAuction(ctx, a.ID)
	if len(offers) != 0 {
		t.Errorf("offers after delete = %d, want 0", len(offers))
	}
}

func TestDueQueries(t *testing.T) {
	repos, clk := newRepos(t)
	ctx := context.Background()
	now := clk.Now()

	scheduled := testAuction(clk)
	scheduled.StartTime = now.Add(-time.Minute)
	if err := repos.Auctions.Create(ctx, scheduled); err != nil {
		t.Fatalf("Create: %v", err)
	}

	active := testAuction(clk)
	active.Status = store.AuctionActive
	active.EndTime = now.Add(-time.Minute)
	if err := repos.Auctions.Create(ctx, active); err != nil {
		t.Fatalf("Create: %v", err)
	}

	dueStart, err := repos.Auctions.DueForActivation(ctx, now)
	if err != nil {
		t.Fatalf("DueForActivation: %v", err)
	}
	if len(dueStart) != 1 || dueStart[0].ID != scheduled.ID {
		t.Errorf("DueForActivation = %+v, want only %s", dueStart, scheduled.ID)
	}

	dueEnd, err := repos.Auctions.DueForClose(ctx, now)
	if err != nil {
		t.Fatalf("DueForClose: %v", err)
	}
	if len(dueEnd) != 1 || dueEnd[0].ID != active.ID {
		t.Errorf("DueForClose = %+v, want only %s", dueEnd, active.ID)
	}
}

func TestExpireBelow(t *testing.T) {
	repos, clk := newRepos(t)
	ctx := context.Background()

	a := testAuction(clk)
	if err := repos.Auctions.Create(ctx, a); err != nil {
		t.Fatalf("Create: %v", err)
	}

	low := &store.Offer{AuctionID: a.ID, BuyerID: "b1", Amount: 120, Status: store.OfferPending, ExpiresAt: clk.Now().Add(time.Hour)}
	high := &store.Offer{AuctionID: a.ID, BuyerID: "b2", Amount: 300, Status: store.OfferPending, ExpiresAt: clk.Now().Add(time.Hour)}
	declined := &store.Offer{AuctionID: a.ID, BuyerID: "b3", Amount: 50, Status: store.OfferDeclined, ExpiresAt: clk.Now().Add(time.Hour)}
	for _, o := range []*store.Offer{low, high, declined} {
		if err := repos.Offers.Create(ctx, o); err != nil {
			t.Fatalf("Create offer: %v", err)
		}
	}

	n, err := repos.Offers.ExpireBelow(ctx, a.ID, 200)
	if err != nil {
		t.Fatalf("ExpireBelow: %v", err)
	}
	if n != 1 {
		t.Errorf("expired = %d, want 1 (terminal offers are left alone)", n)
	}

	got, _ := repos.Offers.GetByID(ctx, low.ID)
	if got.Status != store.OfferExpired {
		t.Errorf("low offer = %s, want %s", got.Status, store.OfferExpired)
	}
	got, _ = repos.Offers.GetByID(ctx, high.ID)
	if got.Status != store.OfferPending {
		t.Errorf("high offer = %s, want %s", got.Status, store.OfferPending)
	}
	got, _ = repos.Offers.GetByID(ctx, declined.ID)
	if got.Status != store.OfferDeclined {
		t.Errorf("declined offer = %s, want unchanged %s", got.Status, store.OfferDeclined)
	}
}

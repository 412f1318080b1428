package postgres_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jensholdgaard/auction-house/internal/clock"
	"github.com/jensholdgaard/auction-house/internal/store"
	"github.com/jensholdgaard/auction-house/internal/store/postgres"
)

func TestOfferRepo_ActiveForBuyer(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := postgres.NewOfferRepo(db, clock.Real{})

	now := time.Now().UTC()
	a := createTestAuction(t, db, testAuction(now.Add(time.Hour), now.Add(25*time.Hour)))

	_, err := repo.ActiveForBuyer(ctx, a.ID, "buyer-1")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("ActiveForBuyer on empty table error = %v, want ErrNotFound", err)
	}

	o := &store.Offer{AuctionID: a.ID, BuyerID: "buyer-1", Amount: 10500, Status: store.OfferPending, ExpiresAt: now.Add(24 * time.Hour)}
	if err := repo.Create(ctx, o); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := repo.ActiveForBuyer(ctx, a.ID, "buyer-1")
	if err != nil {
		t.Fatalf("ActiveForBuyer: %v", err)
	}
	if got.ID != o.ID {
		t.Errorf("ActiveForBuyer returned %s, want %s", got.ID, o.ID)
	}

	// Declined offers no longer count as active.
	if err := repo.SetStatus(ctx, o.ID, store.OfferDeclined); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if _, err := repo.ActiveForBuyer(ctx, a.ID, "buyer-1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("ActiveForBuyer after decline error = %v, want ErrNotFound", err)
	}
}

func TestOfferRepo_ExpireBelow(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := postgres.NewOfferRepo(db, clock.Real{})

	now := time.Now().UTC()
	a := createTestAuction(t, db, testAuction(now.Add(time.Hour), now.Add(25*time.Hour)))

	low := &store.Offer{AuctionID: a.ID, BuyerID: "b1", Amount: 10500, Status: store.OfferPending, ExpiresAt: now.Add(24 * time.Hour)}
	high := &store.Offer{AuctionID: a.ID, BuyerID: "b2", Amount: 20000, Status: store.OfferCountered, ExpiresAt: now.Add(24 * time.Hour)}
	done := &store.Offer{AuctionID: a.ID, BuyerID: "b3", Amount: 9000, Status: store.OfferDeclined, ExpiresAt: now.Add(24 * time.Hour)}
	for _, o := range []*store.Offer{low, high, done} {
		if err := repo.Create(ctx, o); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	n, err := repo.ExpireBelow(ctx, a.ID, 15000)
	if err != nil {
		t.Fatalf("ExpireBelow: %v", err)
	}
	if n != 1 {
		t.Errorf("ExpireBelow changed %d rows, want 1", n)
	}

	gotLow, _ := repo.GetByID(ctx, low.ID)
	if gotLow.Status != store.OfferExpired {
		t.Errorf("low offer status = %q, want EXPIRED", gotLow.Status)
	}
	gotHigh, _ := repo.GetByID(ctx, high.ID)
	if gotHigh.Status != store.OfferCountered {
		t.Errorf("high offer status = %q, want COUNTERED", gotHigh.Status)
	}
	gotDone, _ := repo.GetByID(ctx, done.ID)
	if gotDone.Status != store.OfferDeclined {
		t.Errorf("declined offer status = %q, want DECLINED (untouched)", gotDone.Status)
	}
}

func TestOfferRepo_ExpireActive(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := postgres.NewOfferRepo(db, clock.Real{})

	now := time.Now().UTC()
	a := createTestAuction(t, db, testAuction(now.Add(time.Hour), now.Add(25*time.Hour)))

	pending := &store.Offer{AuctionID: a.ID, BuyerID: "b1", Amount: 10500, Status: store.OfferPending, ExpiresAt: now.Add(24 * time.Hour)}
	countered := &store.Offer{AuctionID: a.ID, BuyerID: "b2", Amount: 11000, Status: store.OfferCountered, ExpiresAt: now.Add(24 * time.Hour)}
	accepted := &store.Offer{AuctionID: a.ID, BuyerID: "b3", Amount: 12000, Status: store.OfferAccepted, ExpiresAt: now.Add(24 * time.Hour)}
	for _, o := range []*store.Offer{pending, countered, accepted} {
		if err := repo.Create(ctx, o); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	n, err := repo.ExpireActive(ctx, a.ID)
	if err != nil {
		t.Fatalf("ExpireActive: %v", err)
	}
	if n != 2 {
		t.Errorf("ExpireActive changed %d rows, want 2", n)
	}

	gotAccepted, _ := repo.GetByID(ctx, accepted.ID)
	if gotAccepted.Status != store.OfferAccepted {
		t.Errorf("accepted offer status = %q, want ACCEPTED (untouched)", gotAccepted.Status)
	}
}

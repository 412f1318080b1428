package postgres_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/jensholdgaard/auction-house/internal/event"
	"github.com/jensholdgaard/auction-house/internal/store/postgres"
)

func TestEventStore_AppendAndLoad(t *testing.T) {
	db := newTestDB(t)
	es := postgres.NewEventStore(db)
	ctx := context.Background()

	aggID := "auction-001"
	events := []event.Event{
		{AggregateID: aggID, Type: event.AuctionCreated, Data: json.RawMessage(`{"title":"Vintage watch"}`)},
		{AggregateID: aggID, Type: event.BidPlaced, Data: json.RawMessage(`{"bidder_id":"b1","amount":11000}`)},
	}

	if err := es.Append(ctx, events...); err != nil {
		t.Fatalf("Append: %v", err)
	}

	loaded, err := es.Load(ctx, aggID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("Load returned %d events, want 2", len(loaded))
	}

	// Should come back in append order.
	if loaded[0].Type != event.AuctionCreated {
		t.Errorf("event[0].Type = %q, want %q", loaded[0].Type, event.AuctionCreated)
	}
	if loaded[1].Type != event.BidPlaced {
		t.Errorf("event[1].Type = %q, want %q", loaded[1].Type, event.BidPlaced)
	}
}

func TestEventStore_LoadByType(t *testing.T) {
	db := newTestDB(t)
	es := postgres.NewEventStore(db)
	ctx := context.Background()

	events := []event.Event{
		{AggregateID: "a1", Type: event.AuctionCreated, Data: json.RawMessage(`{}`)},
		{AggregateID: "a1", Type: event.BidPlaced, Data: json.RawMessage(`{}`)},
		{AggregateID: "a2", Type: event.AuctionCreated, Data: json.RawMessage(`{}`)},
	}

	if err := es.Append(ctx, events...); err != nil {
		t.Fatalf("Append: %v", err)
	}

	created, err := es.LoadByType(ctx, event.AuctionCreated)
	if err != nil {
		t.Fatalf("LoadByType: %v", err)
	}
	if len(created) != 2 {
		t.Fatalf("LoadByType(AuctionCreated) returned %d, want 2", len(created))
	}

	bids, err := es.LoadByType(ctx, event.BidPlaced)
	if err != nil {
		t.Fatalf("LoadByType: %v", err)
	}
	if len(bids) != 1 {
		t.Fatalf("LoadByType(BidPlaced) returned %d, want 1", len(bids))
	}
}

func TestEventStore_LoadEmpty(t *testing.T) {
	db := newTestDB(t)
	es := postgres.NewEventStore(db)
	ctx := context.Background()

	loaded, err := es.Load(ctx, "nonexistent")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded) != 0 {
		t.Errorf("expected empty slice, got %d events", len(loaded))
	}
}

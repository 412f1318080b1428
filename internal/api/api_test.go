package api_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jensholdgaard/auction-house/internal/api"
	"github.com/jensholdgaard/auction-house/internal/auction"
	"github.com/jensholdgaard/auction-house/internal/clock"
	"github.com/jensholdgaard/auction-house/internal/health"
	"github.com/jensholdgaard/auction-house/internal/notify"
	"github.com/jensholdgaard/auction-house/internal/store/memory"
)

func newTestServer(t *testing.T) (*api.Server, *auction.Engine, *clock.Mock) {
	t.Helper()

	clk := clock.NewMock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	repos := memory.Open(clk)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := auction.NewEngine(repos, notify.Nop{}, logger, noop.NewTracerProvider(), clk, auction.Options{})

	h := health.NewHandler(clk)
	h.SetReady(true)

	return api.NewServer(engine, h, logger), engine, clk
}

func TestHealthRoutes(t *testing.T) {
	srv, _, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s status = %d, want %d", path, resp.StatusCode, http.StatusOK)
		}
	}
}

func TestGetAuction(t *testing.T) {
	srv, engine, clk := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	now := clk.Now()
	reserve := int64(500)
	created, err := engine.CreateAuction(context.Background(), "owner-1", auction.Params{
		Title:         "Vintage amp",
		Currency:      "USD",
		StartingPrice: 100,
		ReservePrice:  &reserve,
		MinIncrement:  10,
		StartTime:     now.Add(time.Minute),
		EndTime:       now.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("CreateAuction: %v", err)
	}

	resp, err := http.Get(ts.URL + "/auctions/" + created.ID)
	if err != nil {
		t.Fatalf("GET auction: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	// Decode into a raw map so the test catches reserve price leaking into
	// the payload under any field name.
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body["id"] != created.ID {
		t.Errorf("id = %v, want %s", body["id"], created.ID)
	}
	if body["title"] != "Vintage amp" {
		t.Errorf("title = %v, want Vintage amp", body["title"])
	}
	if _, leaked := body["reservePrice"]; leaked {
		t.Error("snapshot leaked the reserve price")
	}
	if met, ok := body["reservePriceMet"].(bool); !ok || met {
		t.Errorf("reservePriceMet = %v, want false", body["reservePriceMet"])
	}
}

func TestGetAuctionNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/auctions/no-such-id")
	if err != nil {
		t.Fatalf("GET auction: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}

package auction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/auction-house/internal/clock"
	"github.com/jensholdgaard/auction-house/internal/event"
	"github.com/jensholdgaard/auction-house/internal/notify"
	"github.com/jensholdgaard/auction-house/internal/store"
)

// Scheduler advances auction lifecycle state on a fixed period:
// SCHEDULED auctions past their start time become ACTIVE, ACTIVE auctions
// past their end time settle as SOLD or ENDED_NO_SALE. Each tick is
// idempotent; transitions use the same versioned compare-and-swap as the
// engine, so a tick never tramples a concurrent bid or buy-now.
type Scheduler struct {
	auctions store.AuctionRepository
	events   event.Store
	notifier notify.Notifier
	logger   *slog.Logger
	tracer   trace.Tracer
	clock    clock.Clock

	interval  time.Duration
	retention time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a Scheduler over the given repositories.
func NewScheduler(repos *store.Repositories, notifier notify.Notifier, logger *slog.Logger, tp trace.TracerProvider, clk clock.Clock, interval, retention time.Duration) *Scheduler {
	return &Scheduler{
		auctions:  repos.Auctions,
		events:    repos.Events,
		notifier:  notifier,
		logger:    logger,
		tracer:    tp.Tracer("github.com/jensholdgaard/auction-house/internal/auction"),
		clock:     clk,
		interval:  interval,
		retention: retention,
	}
}

// Start launches the periodic driver. It runs one tick immediately, then
// one per interval until Stop is called or ctx is cancelled. Calling Start
// on a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		if err := s.Tick(ctx); err != nil {
			s.logger.ErrorContext(ctx, "scheduler tick failed", slog.Any("error", err))
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.Tick(ctx); err != nil {
					s.logger.ErrorContext(ctx, "scheduler tick failed", slog.Any("error", err))
				}
			}
		}
	}()

	s.logger.InfoContext(ctx, "scheduler started", slog.Duration("interval", s.interval))
}

// Stop halts the periodic driver and waits for an in-flight tick to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("scheduler stopped")
}

// Tick runs one activation/close/archival pass. Exported so tests and the
// composition root can drive it directly.
func (s *Scheduler) Tick(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "Scheduler.Tick")
	defer span.End()

	now := s.clock.Now()

	activated, err := s.activateDue(ctx, now)
	if err != nil {
		return fmt.Errorf("activating auctions: %w", err)
	}
	closed, err := s.closeDue(ctx, now)
	if err != nil {
		return fmt.Errorf("closing auctions: %w", err)
	}
	s.flagStale(ctx, now)

	span.SetAttributes(
		attribute.Int("activated", activated),
		attribute.Int("closed", closed),
	)
	if activated > 0 || closed > 0 {
		s.logger.InfoContext(ctx, "scheduler tick",
			slog.Int("activated", activated),
			slog.Int("closed", closed),
		)
	}
	return nil
}

// activateDue moves SCHEDULED auctions whose start time has passed to
// ACTIVE.
func (s *Scheduler) activateDue(ctx context.Context, now time.Time) (int, error) {
	due, err := s.auctions.DueForActivation(ctx, now)
	if err != nil {
		return 0, err
	}

	activated := 0
	for i := range due {
		a := &due[i]
		a.Status = store.AuctionActive

		err := s.auctions.Update(ctx, a)
		if errors.Is(err, store.ErrConflict) {
			// Someone else touched the row; the next tick picks it up.
			continue
		}
		if err != nil {
			s.logger.ErrorContext(ctx, "activating auction failed",
				slog.String("auction_id", a.ID), slog.Any("error", err))
			continue
		}

		s.journal(ctx, a.ID, event.AuctionActivated, struct{}{})
		activated++
	}
	return activated, nil
}

// closeDue settles ACTIVE auctions whose end time has passed. An auction
// sells iff it has a high bidder and its reserve, if any, is met.
func (s *Scheduler) closeDue(ctx context.Context, now time.Time) (int, error) {
	due, err := s.auctions.DueForClose(ctx, now)
	if err != nil {
		return 0, err
	}

	closed := 0
	for i := range due {
		if s.closeOne(ctx, &due[i], now) {
			closed++
		}
	}
	return closed, nil
}

// closeOne settles a single auction, re-reading on version conflicts in
// case a late bid slipped in (which may also have pushed the end time out).
func (s *Scheduler) closeOne(ctx context.Context, a *store.Auction, now time.Time) bool {
	for attempt := 0; attempt < casAttempts; attempt++ {
		if a.Status != store.AuctionActive || a.EndTime.After(now) {
			return false
		}

		sold := a.HighBidder != nil && reserveMet(a)
		winner, amount := "", int64(0)
		if sold {
			a.Status = store.AuctionSold
			winner, amount = *a.HighBidder, effectiveBid(a)
		} else {
			a.Status = store.AuctionEndedNoSale
		}

		err := s.auctions.Update(ctx, a)
		if errors.Is(err, store.ErrConflict) {
			fresh, getErr := s.auctions.GetByID(ctx, a.ID)
			if getErr != nil {
				s.logger.ErrorContext(ctx, "reloading auction during close failed",
					slog.String("auction_id", a.ID), slog.Any("error", getErr))
				return false
			}
			a = fresh
			continue
		}
		if err != nil {
			s.logger.ErrorContext(ctx, "closing auction failed",
				slog.String("auction_id", a.ID), slog.Any("error", err))
			return false
		}

		if sold {
			s.journal(ctx, a.ID, event.AuctionSold, event.ClosedData{WinnerID: winner, Amount: amount})
		} else {
			s.journal(ctx, a.ID, event.AuctionEndedNoSale, event.ClosedData{})
		}
		s.notifier.AuctionEnded(ctx, a.ID)

		s.logger.InfoContext(ctx, "auction closed",
			slog.String("auction_id", a.ID),
			slog.String("status", string(a.Status)),
		)
		return true
	}
	return false
}

// flagStale logs terminal auctions past the retention window. Advisory
// only; nothing is deleted here.
func (s *Scheduler) flagStale(ctx context.Context, now time.Time) {
	stale, err := s.auctions.TerminalBefore(ctx, now.Add(-s.retention))
	if err != nil {
		s.logger.ErrorContext(ctx, "listing stale auctions failed", slog.Any("error", err))
		return
	}
	if len(stale) == 0 {
		return
	}

	ids := make([]string, len(stale))
	for i, a := range stale {
		ids[i] = a.ID
	}
	s.logger.InfoContext(ctx, "terminal auctions eligible for archival",
		slog.Int("count", len(ids)),
		slog.Any("auction_ids", ids),
	)
}

func (s *Scheduler) journal(ctx context.Context, auctionID string, t event.Type, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		s.logger.ErrorContext(ctx, "marshalling journal event", slog.Any("error", err))
		return
	}
	evt := event.Event{AggregateID: auctionID, Type: t, Data: payload}
	if err := s.events.Append(ctx, evt); err != nil {
		s.logger.ErrorContext(ctx, "journal append failed",
			slog.String("auction_id", auctionID),
			slog.String("type", string(t)),
			slog.Any("error", err),
		)
	}
}

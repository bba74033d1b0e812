package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/disgoorg/auction-bot/auctionbot/cache"
	"github.com/disgoorg/auction-bot/auctionbot/config"
	"github.com/disgoorg/auction-bot/auctionbot/database/models"
	"github.com/disgoorg/auction-bot/auctionbot/database/repositories"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

type FinalizeReason int

const (
	ReasonExpired FinalizeReason = iota + 1
	ReasonAdmin
	ReasonReconcile
)

func (r FinalizeReason) String() string {
	switch r {
	case ReasonExpired:
		return "expired"
	case ReasonAdmin:
		return "admin"
	case ReasonReconcile:
		return "reconcile"
	default:
		return "unknown"
	}
}

// Finalize ends an active auction and records the highest bidder as winner.
// Calling it on a closed auction returns the stored state unchanged. If the
// store write fails the auction stays active and the error is returned.
func (m *Manager) Finalize(ctx context.Context, auctionID int64, reason FinalizeReason) (*models.Auction, error) {
	unlock := m.locks.Lock(auctionID)
	defer unlock()

	a, err := m.load(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	if a.Status != models.AuctionStatusActive {
		return a, nil
	}

	now := m.now().UTC()
	if reason != ReasonAdmin && now.Before(a.EndTime) {
		// A timer from before an extension. The live timer covers the new end.
		if _, live := m.scheduler.FireAt(auctionID); !live {
			if err = m.scheduler.Reschedule(auctionID, a.EndTime); err != nil {
				return nil, err
			}
		}
		slog.Debug("Ignoring early finalize",
			slog.String("type", "timer"),
			slog.Int64("auction_id", auctionID),
			slog.String("reason", reason.String()),
			slog.Time("end_time", a.EndTime))
		return a, nil
	}

	ended, err := m.repo.Finalize(ctx, auctionID, now)
	if err != nil {
		if errors.Is(err, repositories.ErrConditionFailed) {
			return m.load(ctx, auctionID)
		}
		slog.Error("Failed to finalize auction, leaving it active",
			slog.Int64("auction_id", auctionID),
			slog.String("reason", reason.String()),
			slog.Any("error", err))
		return nil, fmt.Errorf("failed to finalize auction %d: %w", auctionID, err)
	}

	m.scheduler.Cancel(auctionID)
	m.cache.Invalidate(cache.AuctionKey(auctionID), cache.BidsKey(auctionID))
	m.cooldowns.Forget(auctionID)

	slog.Info("Auction finalized",
		slog.Int64("auction_id", auctionID),
		slog.String("reason", reason.String()),
		slog.String("winner_id", ended.WinnerID),
		slog.Int64("final_price", ended.CurrentPrice))

	m.emit(Event{Kind: EventAuctionEnded, Auction: ended.Clone()})
	return ended, nil
}

// Cancel closes an active auction without a winner.
func (m *Manager) Cancel(ctx context.Context, auctionID int64) (*models.Auction, error) {
	unlock := m.locks.Lock(auctionID)
	defer unlock()

	a, err := m.load(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	if a.Status != models.AuctionStatusActive {
		return nil, ErrAuctionNotActive
	}

	cancelled, err := m.repo.Cancel(ctx, auctionID, m.now().UTC())
	if err != nil {
		if errors.Is(err, repositories.ErrConditionFailed) {
			return nil, ErrAuctionNotActive
		}
		return nil, fmt.Errorf("failed to cancel auction %d: %w", auctionID, err)
	}

	m.scheduler.Cancel(auctionID)
	m.cache.Invalidate(cache.AuctionKey(auctionID), cache.BidsKey(auctionID))
	m.cooldowns.Forget(auctionID)

	slog.Info("Auction cancelled", slog.Int64("auction_id", auctionID))

	m.emit(Event{Kind: EventAuctionCancelled, Auction: cancelled.Clone()})
	return cancelled, nil
}

func (m *Manager) onExpire(ctx context.Context, auctionID int64) error {
	ctx, cancel := context.WithTimeout(ctx, config.FinalizeTimeout)
	defer cancel()

	_, err := m.Finalize(ctx, auctionID, ReasonExpired)
	return err
}

// Recover rebuilds timers for every active auction after a restart and
// closes the ones that ended while the bot was offline.
func (m *Manager) Recover(ctx context.Context) error {
	auctions, err := m.repo.ListActive(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to list active auctions: %w", err)
	}

	now := m.now()
	var finalized, scheduled int
	for _, a := range auctions {
		if !now.Before(a.EndTime) {
			if _, err = m.Finalize(ctx, a.ID, ReasonReconcile); err != nil {
				slog.Error("Failed to finalize auction during recovery",
					slog.Int64("auction_id", a.ID),
					slog.Any("error", err))
				continue
			}
			finalized++
			continue
		}
		if err = m.scheduler.Reschedule(a.ID, a.EndTime); err != nil {
			return err
		}
		scheduled++
	}

	slog.Info("Recovered auctions",
		slog.String("type", "sys"),
		slog.Int("scheduled", scheduled),
		slog.Int("finalized", finalized))
	return nil
}

// Reconcile finalizes active auctions whose end time has passed. It covers
// timers whose finalize failed and auctions created while scheduling failed.
func (m *Manager) Reconcile(ctx context.Context) (int, error) {
	expired, err := m.repo.ListExpired(ctx, m.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to list expired auctions: %w", err)
	}

	var finalized int
	for _, a := range expired {
		if _, err = m.Finalize(ctx, a.ID, ReasonReconcile); err != nil {
			slog.Error("Failed to reconcile auction",
				slog.Int64("auction_id", a.ID),
				slog.Any("error", err))
			continue
		}
		finalized++
	}

	if finalized > 0 {
		slog.Warn("Reconciled expired auctions", slog.Int("count", finalized))
	}
	return finalized, nil
}

// Sweep evicts expired cache entries and stale cooldowns.
func (m *Manager) Sweep() {
	evicted := m.cache.Sweep()
	cooldowns := m.cooldowns.Sweep(m.now())
	if evicted > 0 || cooldowns > 0 {
		slog.Debug("Swept expired state",
			slog.String("type", "cache"),
			slog.Int("entries", evicted),
			slog.Int("cooldowns", cooldowns))
	}
}

// Run consumes timer expiries and notification events and runs the periodic
// jobs until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return m.scheduler.Run(ctx, m.onExpire)
	})
	g.Go(func() error {
		return m.deliver(ctx)
	})
	g.Go(func() error {
		return m.runJobs(ctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (m *Manager) runJobs(ctx context.Context) error {
	c := cron.New()

	if m.cfg.SweepInterval > 0 {
		if _, err := c.AddFunc(fmt.Sprintf("@every %s", m.cfg.SweepInterval), m.Sweep); err != nil {
			return fmt.Errorf("failed to schedule sweep: %w", err)
		}
	}
	if m.cfg.ReconcileInterval > 0 {
		_, err := c.AddFunc(fmt.Sprintf("@every %s", m.cfg.ReconcileInterval), func() {
			jobCtx, cancel := context.WithTimeout(ctx, config.DefaultQueryTimeout)
			defer cancel()
			if _, err := m.Reconcile(jobCtx); err != nil {
				slog.Error("Reconcile job failed", slog.Any("error", err))
			}
		})
		if err != nil {
			return fmt.Errorf("failed to schedule reconcile: %w", err)
		}
	}

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return ctx.Err()
}

func (m *Manager) deliver(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-m.events:
			m.notify(ctx, ev)
		}
	}
}

func (m *Manager) notify(ctx context.Context, ev Event) {
	m.notifierMu.RLock()
	n := m.notifier
	m.notifierMu.RUnlock()
	if n == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := n.Notify(ctx, ev); err != nil {
		slog.Error("Notification failed",
			slog.String("event", ev.Kind.String()),
			slog.Int64("auction_id", ev.Auction.ID),
			slog.Any("error", err))
	}
}

// Shutdown stops every timer. Run returns once its context is cancelled.
func (m *Manager) Shutdown() {
	m.scheduler.Shutdown()
}

package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/disgoorg/auction-bot/auctionbot/logger"
)

var (
	ErrSchedulerClosed  = errors.New("scheduler is shut down")
	ErrSchedulerRunning = errors.New("scheduler already has a consumer")
)

type timerState int

const (
	timerScheduled timerState = iota
	timerFired
	timerCancelled
)

type scheduledTimer struct {
	auctionID int64
	fireAt    time.Time
	state     timerState
	timer     *time.Timer
}

// Scheduler keeps at most one live timer per auction. Expired auction ids are
// delivered on a single channel that exactly one consumer drains via Run.
//
// A timer moves from scheduled to either fired or cancelled, never both: the
// transition happens under mu and only for the timer currently registered for
// the auction, so Cancel before the fire time guarantees no delivery.
type Scheduler struct {
	mu      sync.Mutex
	timers  map[int64]*scheduledTimer
	expired chan int64
	done    chan struct{}
	closed  bool
	running atomic.Bool

	fired     atomic.Uint64
	cancelled atomic.Uint64
}

func NewScheduler(buffer int) *Scheduler {
	if buffer < 1 {
		buffer = 1
	}
	return &Scheduler{
		timers:  make(map[int64]*scheduledTimer),
		expired: make(chan int64, buffer),
		done:    make(chan struct{}),
	}
}

// Schedule arms a timer for auctionID at fireAt. A fire time in the past fires
// immediately.
func (s *Scheduler) Schedule(auctionID int64, fireAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSchedulerClosed
	}
	if existing, ok := s.timers[auctionID]; ok {
		return &DuplicateScheduleError{AuctionID: auctionID, FireAt: existing.fireAt}
	}
	s.start(auctionID, fireAt)
	return nil
}

// Reschedule replaces any live timer for auctionID with one firing at fireAt.
func (s *Scheduler) Reschedule(auctionID int64, fireAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSchedulerClosed
	}
	s.cancelLocked(auctionID)
	s.start(auctionID, fireAt)
	return nil
}

// Cancel stops the live timer for auctionID. It returns false when there is
// none, including when the timer has already fired.
func (s *Scheduler) Cancel(auctionID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelLocked(auctionID)
}

// FireAt returns the fire time of the live timer for auctionID.
func (s *Scheduler) FireAt(auctionID int64) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.timers[auctionID]
	if !ok {
		return time.Time{}, false
	}
	return st.fireAt, true
}

func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Run delivers every expiry to fn until ctx is cancelled or the scheduler is
// shut down. An error or panic from fn is logged and the timer stays fired.
func (s *Scheduler) Run(ctx context.Context, fn func(ctx context.Context, auctionID int64) error) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrSchedulerRunning
	}
	defer s.running.Store(false)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		case auctionID := <-s.expired:
			s.dispatch(ctx, auctionID, fn)
		}
	}
}

func (s *Scheduler) dispatch(ctx context.Context, auctionID int64, fn func(ctx context.Context, auctionID int64) error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Auction expiry handler panicked",
				slog.String("type", "timer"),
				slog.Int64("auction_id", auctionID),
				slog.Any("error", fmt.Errorf("panic: %v", r)))
		}
	}()

	if err := fn(ctx, auctionID); err != nil {
		slog.Error("Auction expiry handler failed",
			slog.String("type", "timer"),
			slog.Int64("auction_id", auctionID),
			slog.Any("error", err))
	}
}

// Shutdown cancels every live timer and stops Run.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	for id := range s.timers {
		s.cancelLocked(id)
	}
	close(s.done)
}

type SchedulerStats struct {
	Live      int    `json:"live"`
	Fired     uint64 `json:"fired"`
	Cancelled uint64 `json:"cancelled"`
}

func (s *Scheduler) Stats() SchedulerStats {
	return SchedulerStats{
		Live:      s.Len(),
		Fired:     s.fired.Load(),
		Cancelled: s.cancelled.Load(),
	}
}

func (s *Scheduler) start(auctionID int64, fireAt time.Time) {
	st := &scheduledTimer{auctionID: auctionID, fireAt: fireAt, state: timerScheduled}
	s.timers[auctionID] = st
	st.timer = time.AfterFunc(time.Until(fireAt), func() { s.fire(st) })
}

func (s *Scheduler) cancelLocked(auctionID int64) bool {
	st, ok := s.timers[auctionID]
	if !ok || st.state != timerScheduled {
		return false
	}
	st.state = timerCancelled
	st.timer.Stop()
	delete(s.timers, auctionID)
	s.cancelled.Add(1)
	return true
}

func (s *Scheduler) fire(st *scheduledTimer) {
	s.mu.Lock()
	if st.state != timerScheduled || s.timers[st.auctionID] != st {
		s.mu.Unlock()
		return
	}
	st.state = timerFired
	delete(s.timers, st.auctionID)
	s.mu.Unlock()

	s.fired.Add(1)
	logger.LogTimer("Auction timer fired", st.auctionID)

	select {
	case s.expired <- st.auctionID:
	case <-s.done:
	}
}

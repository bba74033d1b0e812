package auction

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runScheduler starts the consumer and records every delivered id.
func runScheduler(t *testing.T, s *Scheduler, fn func(ctx context.Context, id int64) error) (*sync.Map, func()) {
	t.Helper()
	counts := &sync.Map{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		_ = s.Run(ctx, func(ctx context.Context, id int64) error {
			v, _ := counts.LoadOrStore(id, new(atomic.Int32))
			v.(*atomic.Int32).Add(1)
			if fn != nil {
				return fn(ctx, id)
			}
			return nil
		})
	}()

	return counts, func() {
		cancel()
		<-done
		s.Shutdown()
	}
}

func fireCount(counts *sync.Map, id int64) int32 {
	v, ok := counts.Load(id)
	if !ok {
		return 0
	}
	return v.(*atomic.Int32).Load()
}

func TestScheduler_FiresExactlyOnce(t *testing.T) {
	s := NewScheduler(8)
	counts, stop := runScheduler(t, s, nil)
	defer stop()

	require.NoError(t, s.Schedule(1, time.Now().Add(20*time.Millisecond)))
	assert.Equal(t, 1, s.Len())

	assert.Eventually(t, func() bool { return fireCount(counts, 1) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), fireCount(counts, 1))
	assert.Equal(t, 0, s.Len())
	assert.False(t, s.Cancel(1), "cancel after fire must report no live timer")
	assert.Equal(t, uint64(1), s.Stats().Fired)
}

func TestScheduler_CancelBeforeFire(t *testing.T) {
	s := NewScheduler(8)
	counts, stop := runScheduler(t, s, nil)
	defer stop()

	require.NoError(t, s.Schedule(1, time.Now().Add(30*time.Millisecond)))
	assert.True(t, s.Cancel(1))
	assert.False(t, s.Cancel(1))

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, int32(0), fireCount(counts, 1))
	assert.Equal(t, uint64(1), s.Stats().Cancelled)
}

func TestScheduler_DuplicateSchedule(t *testing.T) {
	s := NewScheduler(8)
	defer s.Shutdown()

	fireAt := time.Now().Add(time.Hour)
	require.NoError(t, s.Schedule(7, fireAt))

	err := s.Schedule(7, fireAt.Add(time.Minute))
	var dup *DuplicateScheduleError
	require.True(t, errors.As(err, &dup), "Schedule() error = %v, want DuplicateScheduleError", err)
	assert.Equal(t, int64(7), dup.AuctionID)

	got, ok := s.FireAt(7)
	require.True(t, ok)
	assert.Equal(t, fireAt, got, "the original timer must stay in place")
}

func TestScheduler_Reschedule(t *testing.T) {
	s := NewScheduler(8)
	counts, stop := runScheduler(t, s, nil)
	defer stop()

	require.NoError(t, s.Schedule(3, time.Now().Add(20*time.Millisecond)))
	require.NoError(t, s.Reschedule(3, time.Now().Add(80*time.Millisecond)))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), fireCount(counts, 3), "old timer must not fire")

	assert.Eventually(t, func() bool { return fireCount(counts, 3) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), fireCount(counts, 3))

	// Reschedule without a live timer simply schedules.
	require.NoError(t, s.Reschedule(4, time.Now().Add(time.Hour)))
	assert.Equal(t, 1, s.Len())
}

func TestScheduler_PastFireTime(t *testing.T) {
	s := NewScheduler(8)
	counts, stop := runScheduler(t, s, nil)
	defer stop()

	require.NoError(t, s.Schedule(9, time.Now().Add(-time.Minute)))
	assert.Eventually(t, func() bool { return fireCount(counts, 9) == 1 }, time.Second, 5*time.Millisecond)
}

func TestScheduler_CallbackFailureIsContained(t *testing.T) {
	s := NewScheduler(8)
	counts, stop := runScheduler(t, s, func(_ context.Context, id int64) error {
		switch id {
		case 1:
			return errors.New("store unavailable")
		case 2:
			panic("boom")
		}
		return nil
	})
	defer stop()

	now := time.Now()
	for id := int64(1); id <= 3; id++ {
		require.NoError(t, s.Schedule(id, now.Add(10*time.Millisecond)))
	}

	assert.Eventually(t, func() bool {
		return fireCount(counts, 1) == 1 && fireCount(counts, 2) == 1 && fireCount(counts, 3) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, s.Len(), "failed callbacks leave timers fired, not rescheduled")
}

func TestScheduler_SingleConsumer(t *testing.T) {
	s := NewScheduler(1)
	_, stop := runScheduler(t, s, nil)
	defer stop()

	assert.Eventually(t, func() bool { return s.running.Load() }, time.Second, time.Millisecond)
	err := s.Run(context.Background(), func(context.Context, int64) error { return nil })
	assert.ErrorIs(t, err, ErrSchedulerRunning)
}

func TestScheduler_Shutdown(t *testing.T) {
	s := NewScheduler(1)
	require.NoError(t, s.Schedule(1, time.Now().Add(time.Hour)))
	s.Shutdown()
	s.Shutdown()

	assert.Equal(t, 0, s.Len())
	assert.ErrorIs(t, s.Schedule(2, time.Now()), ErrSchedulerClosed)
	assert.ErrorIs(t, s.Reschedule(2, time.Now()), ErrSchedulerClosed)
	assert.NoError(t, s.Run(context.Background(), func(context.Context, int64) error { return nil }))
}

// Cancel racing the fire time must produce exactly one of the two outcomes.
func TestScheduler_CancelFireExclusive(t *testing.T) {
	s := NewScheduler(256)
	counts, stop := runScheduler(t, s, nil)
	defer stop()

	const n = 200
	cancelled := make([]bool, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		id := int64(i)
		require.NoError(t, s.Schedule(id, time.Now().Add(time.Millisecond)))
		wg.Add(1)
		go func() {
			defer wg.Done()
			time.Sleep(time.Duration(id%3) * time.Millisecond)
			cancelled[id] = s.Cancel(id)
		}()
	}
	wg.Wait()
	time.Sleep(100 * time.Millisecond)

	for i := 0; i < n; i++ {
		fired := fireCount(counts, int64(i))
		if cancelled[i] {
			assert.Equal(t, int32(0), fired, "auction %d was cancelled but fired", i)
		} else {
			assert.Equal(t, int32(1), fired, "auction %d neither cancelled nor fired once", i)
		}
	}
}

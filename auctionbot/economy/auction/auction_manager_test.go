package auction_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/disgoorg/auction-bot/auctionbot/database"
	"github.com/disgoorg/auction-bot/auctionbot/database/models"
	"github.com/disgoorg/auction-bot/auctionbot/database/repositories"
	"github.com/disgoorg/auction-bot/auctionbot/economy/auction"
	"github.com/disgoorg/auction-bot/auctionbot/economy/auction/mock"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Now().UTC().Truncate(time.Millisecond)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// failingRepo fails Finalize while fail is set.
type failingRepo struct {
	repositories.AuctionRepository
	fail atomic.Bool
}

func (r *failingRepo) Finalize(ctx context.Context, auctionID int64, now time.Time) (*models.Auction, error) {
	if r.fail.Load() {
		return nil, errors.New("disk I/O error")
	}
	return r.AuctionRepository.Finalize(ctx, auctionID, now)
}

func testConfig() auction.Config {
	cfg := auction.DefaultConfig()
	cfg.MinDuration = 100 * time.Millisecond
	cfg.BidCooldown = 0
	cfg.QuickBidCooldown = 0
	cfg.AntiSnipeThreshold = 0
	cfg.AntiSnipeExtension = 0
	cfg.SweepInterval = 0
	cfg.ReconcileInterval = 0
	return cfg
}

func newTestRepo(t testing.TB) repositories.AuctionRepository {
	t.Helper()
	ctx := context.Background()

	db, err := database.New(ctx, database.DBConfig{Driver: database.DriverSQLite, Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(db.Close)
	require.NoError(t, db.InitializeSchema(ctx))

	return repositories.NewAuctionRepository(db.BunDB())
}

func newTestManager(t testing.TB, repo repositories.AuctionRepository, cfg auction.Config, opts ...auction.Option) *auction.Manager {
	t.Helper()
	m := auction.NewManager(repo, cfg, opts...)
	t.Cleanup(m.Shutdown)
	return m
}

func createTestAuction(t testing.TB, m *auction.Manager, startingPrice int64, d time.Duration) *models.Auction {
	t.Helper()
	a, err := m.Create(context.Background(), auction.CreateParams{
		GuildID:       "1",
		ChannelID:     "2",
		CreatorID:     "seller",
		Title:         "Enchanted sword",
		StartingPrice: startingPrice,
		Duration:      d,
	})
	require.NoError(t, err)
	return a
}

func bid(m *auction.Manager, auctionID int64, bidder string, amount int64) (*auction.BidResult, error) {
	return m.PlaceBid(context.Background(), auction.BidParams{
		AuctionID: auctionID,
		BidderID:  bidder,
		Amount:    amount,
		Kind:      auction.BidCustom,
	})
}

func runManager(t *testing.T, m *auction.Manager) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("manager did not stop")
		}
	})
}

func TestManager_BidScenarioAutoFinalize(t *testing.T) {
	m := newTestManager(t, newTestRepo(t), testConfig())
	runManager(t, m)

	a := createTestAuction(t, m, 100, 400*time.Millisecond)

	_, err := bid(m, a.ID, "alice", 150)
	require.NoError(t, err)

	_, err = bid(m, a.ID, "bob", 140)
	var tooLow *auction.BidTooLowError
	require.ErrorAs(t, err, &tooLow)
	assert.Equal(t, int64(151), tooLow.Minimum)

	_, err = bid(m, a.ID, "bob", 200)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := m.Get(context.Background(), a.ID)
		return err == nil && got.Status == models.AuctionStatusEnded
	}, 3*time.Second, 20*time.Millisecond)

	got, err := m.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, "bob", got.WinnerID)
	assert.Equal(t, int64(200), got.CurrentPrice)
	assert.Equal(t, 2, got.BidCount)
	assert.Zero(t, m.Stats().Timers.Live)
}

func TestManager_AntiSnipeExtendsOncePerCrossing(t *testing.T) {
	clock := newTestClock()
	cfg := testConfig()
	cfg.AntiSnipeThreshold = 10 * time.Second
	cfg.AntiSnipeExtension = 30 * time.Second
	m := newTestManager(t, newTestRepo(t), cfg, auction.WithClock(clock.Now))

	a := createTestAuction(t, m, 100, time.Minute)
	originalEnd := a.EndTime

	clock.Advance(55 * time.Second)
	res, err := bid(m, a.ID, "alice", 150)
	require.NoError(t, err)
	assert.True(t, res.Extended)
	assert.WithinDuration(t, originalEnd.Add(30*time.Second), res.Auction.EndTime, time.Millisecond)
	assert.Equal(t, uint64(1), m.Stats().Timers.Cancelled, "timer rescheduled once")
	assert.Equal(t, 1, m.Stats().Timers.Live)

	// 35s left, outside the window again.
	res, err = bid(m, a.ID, "bob", 160)
	require.NoError(t, err)
	assert.False(t, res.Extended)
	assert.Equal(t, uint64(1), m.Stats().Timers.Cancelled)

	clock.Advance(30 * time.Second)
	res, err = bid(m, a.ID, "alice", 170)
	require.NoError(t, err)
	assert.True(t, res.Extended)
	assert.WithinDuration(t, originalEnd.Add(time.Minute), res.Auction.EndTime, time.Millisecond)

	got, err := m.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Extensions)
	assert.WithinDuration(t, originalEnd.Add(time.Minute), got.EndTime, time.Millisecond)
}

func TestManager_ExtensionNeverShorterThanThreshold(t *testing.T) {
	clock := newTestClock()
	cfg := testConfig()
	cfg.AntiSnipeThreshold = 20 * time.Second
	cfg.AntiSnipeExtension = 5 * time.Second
	m := newTestManager(t, newTestRepo(t), cfg, auction.WithClock(clock.Now))

	assert.Equal(t, 20*time.Second, m.Config().AntiSnipeExtension)
}

func TestManager_ConcurrentBids(t *testing.T) {
	m := newTestManager(t, newTestRepo(t), testConfig())
	a := createTestAuction(t, m, 100, time.Hour)

	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		errs  = make(map[int64]error)
		mu    sync.Mutex
	)
	for bidder, amount := range map[string]int64{"alice": 150, "bob": 160} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := bid(m, a.ID, bidder, amount)
			mu.Lock()
			errs[amount] = err
			mu.Unlock()
		}()
	}
	close(start)
	wg.Wait()

	require.NoError(t, errs[160])
	if errs[150] != nil {
		var tooLow *auction.BidTooLowError
		assert.ErrorAs(t, errs[150], &tooLow)
	}

	got, err := m.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(160), got.CurrentPrice)
	assert.Equal(t, "bob", got.HighestBidderID)
}

func TestManager_BidAfterEndRejected(t *testing.T) {
	clock := newTestClock()
	m := newTestManager(t, newTestRepo(t), testConfig(), auction.WithClock(clock.Now))
	a := createTestAuction(t, m, 100, time.Minute)

	clock.Advance(time.Minute)
	_, err := bid(m, a.ID, "alice", 500)
	assert.ErrorIs(t, err, auction.ErrAuctionNotActive)

	got, err := m.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AuctionStatusActive, got.Status)
	assert.Equal(t, int64(100), got.CurrentPrice)
}

func TestManager_FinalizeIdempotent(t *testing.T) {
	clock := newTestClock()
	m := newTestManager(t, newTestRepo(t), testConfig(), auction.WithClock(clock.Now))
	ctx := context.Background()
	a := createTestAuction(t, m, 100, time.Minute)

	_, err := bid(m, a.ID, "alice", 150)
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	first, err := m.Finalize(ctx, a.ID, auction.ReasonExpired)
	require.NoError(t, err)
	assert.Equal(t, models.AuctionStatusEnded, first.Status)
	assert.Equal(t, "alice", first.WinnerID)

	clock.Advance(time.Minute)
	second, err := m.Finalize(ctx, a.ID, auction.ReasonAdmin)
	require.NoError(t, err)
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.WinnerID, second.WinnerID)
	assert.Equal(t, first.CurrentPrice, second.CurrentPrice)
	assert.Equal(t, first.BidCount, second.BidCount)
	assert.WithinDuration(t, first.UpdatedAt, second.UpdatedAt, time.Millisecond)

	assert.Zero(t, m.Stats().Timers.Live)
}

func TestManager_EarlyExpiryIsIgnored(t *testing.T) {
	clock := newTestClock()
	m := newTestManager(t, newTestRepo(t), testConfig(), auction.WithClock(clock.Now))
	ctx := context.Background()
	a := createTestAuction(t, m, 100, time.Hour)

	got, err := m.Finalize(ctx, a.ID, auction.ReasonExpired)
	require.NoError(t, err)
	assert.Equal(t, models.AuctionStatusActive, got.Status)
	assert.Equal(t, 1, m.Stats().Timers.Live)

	got, err = m.Finalize(ctx, a.ID, auction.ReasonAdmin)
	require.NoError(t, err)
	assert.Equal(t, models.AuctionStatusEnded, got.Status)
	assert.Empty(t, got.WinnerID)
	assert.Zero(t, m.Stats().Timers.Live)
}

func TestManager_FinalizeStoreFailureLeavesActive(t *testing.T) {
	clock := newTestClock()
	repo := &failingRepo{AuctionRepository: newTestRepo(t)}
	m := newTestManager(t, repo, testConfig(), auction.WithClock(clock.Now))
	ctx := context.Background()
	a := createTestAuction(t, m, 100, time.Minute)

	_, err := bid(m, a.ID, "alice", 150)
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	repo.fail.Store(true)
	_, err = m.Finalize(ctx, a.ID, auction.ReasonExpired)
	require.Error(t, err)

	stored, err := repo.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AuctionStatusActive, stored.Status)
	assert.Empty(t, stored.WinnerID)

	repo.fail.Store(false)
	n, err := m.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, err = repo.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AuctionStatusEnded, stored.Status)
	assert.Equal(t, "alice", stored.WinnerID)
}

func TestManager_Cancel(t *testing.T) {
	m := newTestManager(t, newTestRepo(t), testConfig())
	ctx := context.Background()
	a := createTestAuction(t, m, 100, time.Hour)

	got, err := m.Cancel(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AuctionStatusCancelled, got.Status)
	assert.Zero(t, m.Stats().Timers.Live)

	_, err = m.Cancel(ctx, a.ID)
	assert.ErrorIs(t, err, auction.ErrAuctionNotActive)

	_, err = bid(m, a.ID, "alice", 150)
	assert.ErrorIs(t, err, auction.ErrAuctionNotActive)

	_, err = m.Cancel(ctx, a.ID+100)
	assert.ErrorIs(t, err, auction.ErrNotFound)
}

func TestManager_Cooldowns(t *testing.T) {
	clock := newTestClock()
	cfg := testConfig()
	cfg.BidCooldown = time.Second
	cfg.QuickBidCooldown = 500 * time.Millisecond
	m := newTestManager(t, newTestRepo(t), cfg, auction.WithClock(clock.Now))
	ctx := context.Background()
	a := createTestAuction(t, m, 100, time.Hour)

	_, err := bid(m, a.ID, "alice", 150)
	require.NoError(t, err)

	_, err = bid(m, a.ID, "alice", 200)
	var cooldown *auction.CooldownError
	require.ErrorAs(t, err, &cooldown)
	assert.Equal(t, time.Second, cooldown.Remaining)

	// Other bidders are not affected.
	_, err = bid(m, a.ID, "bob", 160)
	require.NoError(t, err)

	clock.Advance(600 * time.Millisecond)
	res, err := m.QuickBid(ctx, a.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(161), res.Bid.Amount)
	assert.True(t, res.Bid.Quick)

	_, err = bid(m, a.ID, "alice", 300)
	require.ErrorAs(t, err, &cooldown)

	clock.Advance(time.Second)
	_, err = bid(m, a.ID, "alice", 300)
	require.NoError(t, err)
}

func TestManager_RejectsInvalidBids(t *testing.T) {
	m := newTestManager(t, newTestRepo(t), testConfig())
	a := createTestAuction(t, m, 100, time.Hour)

	_, err := bid(m, a.ID, "seller", 500)
	assert.ErrorIs(t, err, auction.ErrSelfBid)

	_, err = bid(m, a.ID+100, "alice", 500)
	assert.ErrorIs(t, err, auction.ErrNotFound)

	_, err = bid(m, a.ID, "alice", 100)
	var tooLow *auction.BidTooLowError
	assert.ErrorAs(t, err, &tooLow)

	var invalid *auction.ValidationError
	_, err = bid(m, a.ID, "alice", -5)
	assert.ErrorAs(t, err, &invalid)
	_, err = bid(m, a.ID, "", 500)
	assert.ErrorAs(t, err, &invalid)
}

func TestManager_QuickBidUsesMinimumIncrement(t *testing.T) {
	m := newTestManager(t, newTestRepo(t), testConfig())
	ctx := context.Background()
	a, err := m.Create(ctx, auction.CreateParams{
		CreatorID:     "seller",
		Title:         "Shield",
		StartingPrice: 100,
		MinIncrement:  25,
		Duration:      time.Hour,
	})
	require.NoError(t, err)

	res, err := m.QuickBid(ctx, a.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(125), res.Bid.Amount)

	res, err = m.QuickBid(ctx, a.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(150), res.Bid.Amount)
	assert.Equal(t, "alice", res.PreviousBidderID)

	_, err = bid(m, a.ID, "alice", 160)
	var tooLow *auction.BidTooLowError
	require.ErrorAs(t, err, &tooLow)
	assert.Equal(t, int64(175), tooLow.Minimum)
}

func TestManager_CreateValidation(t *testing.T) {
	m := newTestManager(t, newTestRepo(t), testConfig())
	valid := auction.CreateParams{
		CreatorID:     "seller",
		Title:         "Helmet",
		StartingPrice: 10,
		Duration:      time.Hour,
	}

	tests := []struct {
		name   string
		modify func(p *auction.CreateParams)
		field  string
	}{
		{"missing title", func(p *auction.CreateParams) { p.Title = "   " }, "title"},
		{"long title", func(p *auction.CreateParams) { p.Title = string(make([]rune, 101)) }, "title"},
		{"zero price", func(p *auction.CreateParams) { p.StartingPrice = 0 }, "starting price"},
		{"negative increment", func(p *auction.CreateParams) { p.MinIncrement = -1 }, "minimum increment"},
		{"too short", func(p *auction.CreateParams) { p.Duration = time.Millisecond }, "duration"},
		{"too long", func(p *auction.CreateParams) { p.Duration = 72 * time.Hour }, "duration"},
		{"too many images", func(p *auction.CreateParams) { p.ImageURLs = make([]string, 11) }, "images"},
		{"missing creator", func(p *auction.CreateParams) { p.CreatorID = "" }, "creator"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			tt.modify(&p)
			_, err := m.Create(context.Background(), p)
			var invalid *auction.ValidationError
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, tt.field, invalid.Field)
		})
	}

	assert.Zero(t, m.Stats().Timers.Live, "rejected auctions must not be scheduled")

	a, err := m.Create(context.Background(), valid)
	require.NoError(t, err)
	assert.Equal(t, int64(1), a.MinIncrement)
	assert.Equal(t, "No description", a.Description)
	assert.Equal(t, models.AuctionStatusActive, a.Status)
}

func TestManager_RecoverAfterRestart(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	expired := &models.Auction{CreatorID: "seller", Title: "Old", StartingPrice: 10, MinIncrement: 1, EndTime: now.Add(-time.Minute)}
	live := &models.Auction{CreatorID: "seller", Title: "New", StartingPrice: 10, MinIncrement: 1, EndTime: now.Add(time.Hour)}
	require.NoError(t, repo.Create(ctx, expired))
	require.NoError(t, repo.Create(ctx, live))

	m := newTestManager(t, repo, testConfig())
	require.NoError(t, m.Recover(ctx))

	got, err := repo.GetByID(ctx, expired.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AuctionStatusEnded, got.Status)

	got, err = repo.GetByID(ctx, live.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AuctionStatusActive, got.Status)
	assert.Equal(t, 1, m.Stats().Timers.Live)
}

func TestManager_SetMessageInvalidatesCache(t *testing.T) {
	m := newTestManager(t, newTestRepo(t), testConfig())
	ctx := context.Background()
	a := createTestAuction(t, m, 100, time.Hour)

	_, err := m.Get(ctx, a.ID)
	require.NoError(t, err)

	require.NoError(t, m.SetMessage(ctx, a.ID, "2", "3"))
	got, err := m.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "3", got.MessageID)

	active, err := m.ListActive(ctx, "1")
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestManager_NotifierReceivesEvents(t *testing.T) {
	notifier := mock.NewMockNotifier(gomock.NewController(t))
	events := make(chan auction.Event, 8)
	notifier.EXPECT().
		Notify(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, ev auction.Event) error {
			events <- ev
			return nil
		}).
		Times(4)

	m := newTestManager(t, newTestRepo(t), testConfig(), auction.WithNotifier(notifier))
	runManager(t, m)
	a := createTestAuction(t, m, 100, time.Hour)

	_, err := bid(m, a.ID, "alice", 150)
	require.NoError(t, err)
	_, err = bid(m, a.ID, "bob", 200)
	require.NoError(t, err)
	_, err = m.Finalize(context.Background(), a.ID, auction.ReasonAdmin)
	require.NoError(t, err)

	var got []auction.Event
	for len(got) < 4 {
		select {
		case ev := <-events:
			got = append(got, ev)
		case <-time.After(2 * time.Second):
			t.Fatalf("received %d of 4 events", len(got))
		}
	}

	assert.Equal(t, auction.EventBidPlaced, got[0].Kind)
	assert.Equal(t, auction.EventBidPlaced, got[1].Kind)
	assert.Equal(t, auction.EventOutbid, got[2].Kind)
	assert.Equal(t, "alice", got[2].PreviousBidderID)
	assert.Equal(t, int64(150), got[2].PreviousAmount)
	assert.Equal(t, auction.EventAuctionEnded, got[3].Kind)
	assert.Equal(t, "bob", got[3].Auction.WinnerID)
}

func TestManager_NotificationFailureKeepsState(t *testing.T) {
	notifier := mock.NewMockNotifier(gomock.NewController(t))
	notified := make(chan struct{}, 1)
	notifier.EXPECT().
		Notify(gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, auction.Event) error {
			notified <- struct{}{}
			return &auction.NotificationError{Kind: auction.EventAuctionEnded, Err: errors.New("cannot send messages to this user")}
		}).
		Times(1)

	m := newTestManager(t, newTestRepo(t), testConfig(), auction.WithNotifier(notifier))
	runManager(t, m)
	a := createTestAuction(t, m, 100, time.Hour)

	_, err := m.Finalize(context.Background(), a.ID, auction.ReasonAdmin)
	require.NoError(t, err)

	select {
	case <-notified:
	case <-time.After(2 * time.Second):
		t.Fatal("notifier was not called")
	}

	got, err := m.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AuctionStatusEnded, got.Status)
}

func TestManager_BidProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 25
	properties := gopter.NewProperties(parameters)

	properties.Property("accepted bids are strictly increasing and low bids are rejected", prop.ForAll(
		func(amounts []int64) bool {
			m := newTestManager(t, newTestRepo(t), testConfig())
			a := createTestAuction(t, m, 100, time.Hour)

			current := a.CurrentPrice
			for i, amount := range amounts {
				_, err := bid(m, a.ID, fmt.Sprintf("bidder-%d", i%3), amount)
				if amount <= current {
					var tooLow *auction.BidTooLowError
					if !errors.As(err, &tooLow) {
						return false
					}
					continue
				}
				if err != nil {
					return false
				}
				current = amount
			}

			got, err := m.Get(context.Background(), a.ID)
			if err != nil || got.CurrentPrice != current {
				return false
			}
			bids, err := m.Bids(context.Background(), a.ID)
			if err != nil {
				return false
			}
			for i := 1; i < len(bids); i++ {
				if bids[i].Amount >= bids[i-1].Amount {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(12, gen.Int64Range(1, 400)),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestManager_BidAtAmountLimit(t *testing.T) {
	m := newTestManager(t, newTestRepo(t), testConfig())
	a := createTestAuction(t, m, 100, time.Minute)

	_, err := bid(m, a.ID, "alice", math.MaxInt64)
	require.NoError(t, err)

	_, err = m.QuickBid(context.Background(), a.ID, "bob")
	var tooLow *auction.BidTooLowError
	require.ErrorAs(t, err, &tooLow)
	assert.Equal(t, int64(math.MaxInt64), tooLow.Minimum)

	got, err := m.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.HighestBidderID)
	assert.Equal(t, int64(math.MaxInt64), got.CurrentPrice)
}

func TestManager_CreateSurvivesSchedulerFailure(t *testing.T) {
	repo := newTestRepo(t)
	m := newTestManager(t, repo, testConfig())
	m.Shutdown()

	a := createTestAuction(t, m, 100, time.Minute)
	require.NotZero(t, a.ID)
	assert.Equal(t, models.AuctionStatusActive, a.Status)

	stored, err := repo.GetByID(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, stored.ID)
	assert.Equal(t, models.AuctionStatusActive, stored.Status)
}

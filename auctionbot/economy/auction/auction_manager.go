package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/disgoorg/auction-bot/auctionbot/cache"
	"github.com/disgoorg/auction-bot/auctionbot/config"
	"github.com/disgoorg/auction-bot/auctionbot/database/models"
	"github.com/disgoorg/auction-bot/auctionbot/database/repositories"
	"golang.org/x/sync/singleflight"
)

type Config struct {
	MinDuration        time.Duration
	MaxDuration        time.Duration
	MinIncrement       int64
	MaxImages          int
	BidCooldown        time.Duration
	QuickBidCooldown   time.Duration
	AntiSnipeThreshold time.Duration
	AntiSnipeExtension time.Duration
	SweepInterval      time.Duration
	ReconcileInterval  time.Duration
	BidHistory         int
	TTLs               cache.TTLConfig
}

func DefaultConfig() Config {
	return Config{
		MinDuration:        config.DefaultMinDuration,
		MaxDuration:        config.DefaultMaxDuration,
		MinIncrement:       config.DefaultMinIncrement,
		MaxImages:          config.MaxImages,
		BidCooldown:        config.DefaultBidCooldown,
		QuickBidCooldown:   config.DefaultQuickBidCooldown,
		AntiSnipeThreshold: config.DefaultAntiSnipeThreshold,
		AntiSnipeExtension: config.DefaultAntiSnipeExtension,
		SweepInterval:      config.CacheSweepInterval,
		ReconcileInterval:  config.DefaultReconcileInterval,
		BidHistory:         config.BidsShown,
		TTLs:               cache.DefaultTTLs,
	}
}

type Option func(*Manager)

// WithClock replaces time.Now for bid, cooldown and expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

func WithNotifier(n Notifier) Option {
	return func(m *Manager) {
		m.notifier = n
	}
}

// Manager owns every piece of auction state: the store, the cache, the
// expiry timers, the cooldowns and the per-auction locks.
type Manager struct {
	cfg       Config
	repo      repositories.AuctionRepository
	cache     *cache.Cache
	scheduler *Scheduler
	cooldowns *Cooldowns
	locks     *auctionLocks
	inflight  sync.Map
	loader    singleflight.Group

	notifierMu sync.RWMutex
	notifier   Notifier
	events     chan Event

	now func() time.Time
}

func NewManager(repo repositories.AuctionRepository, cfg Config, opts ...Option) *Manager {
	if repo == nil {
		panic("auction repository cannot be nil")
	}

	// An extension shorter than the threshold would leave the auction inside
	// the window and let every following bid extend again.
	if cfg.AntiSnipeExtension > 0 && cfg.AntiSnipeExtension < cfg.AntiSnipeThreshold {
		slog.Warn("Anti-snipe extension shorter than threshold, raising it",
			slog.Duration("threshold", cfg.AntiSnipeThreshold),
			slog.Duration("extension", cfg.AntiSnipeExtension))
		cfg.AntiSnipeExtension = cfg.AntiSnipeThreshold
	}
	if cfg.MinIncrement <= 0 {
		cfg.MinIncrement = config.DefaultMinIncrement
	}
	if cfg.BidHistory <= 0 {
		cfg.BidHistory = config.BidsShown
	}

	m := &Manager{
		cfg:       cfg,
		repo:      repo,
		scheduler: NewScheduler(64),
		cooldowns: NewCooldowns(cfg.BidCooldown, cfg.QuickBidCooldown),
		locks:     newAuctionLocks(),
		events:    make(chan Event, 256),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.cache = cache.NewWithClock(cfg.TTLs, m.now)
	return m
}

// SetNotifier attaches the notification sink once the Discord client exists.
func (m *Manager) SetNotifier(n Notifier) {
	m.notifierMu.Lock()
	defer m.notifierMu.Unlock()
	m.notifier = n
}

func (m *Manager) Cache() *cache.Cache {
	return m.cache
}

func (m *Manager) Config() Config {
	return m.cfg
}

type CreateParams struct {
	GuildID         string
	ChannelID       string
	CreatorID       string
	Title           string
	Description     string
	PaymentMaterial string
	StartingPrice   int64
	MinIncrement    int64
	Duration        time.Duration
	ImageURLs       []string
}

func (m *Manager) validateCreate(p *CreateParams) error {
	p.Title = strings.TrimSpace(p.Title)
	p.Description = strings.TrimSpace(p.Description)
	p.PaymentMaterial = strings.TrimSpace(p.PaymentMaterial)

	switch {
	case p.CreatorID == "":
		return &ValidationError{Field: "creator", Reason: "is required"}
	case p.Title == "":
		return &ValidationError{Field: "title", Reason: "is required"}
	case utf8.RuneCountInString(p.Title) > config.MaxTitleLength:
		return &ValidationError{Field: "title", Reason: fmt.Sprintf("must be at most %d characters", config.MaxTitleLength)}
	case p.StartingPrice <= 0:
		return &ValidationError{Field: "starting price", Reason: "must be greater than zero"}
	case p.MinIncrement < 0:
		return &ValidationError{Field: "minimum increment", Reason: "must be greater than zero"}
	case p.Duration < m.cfg.MinDuration || p.Duration > m.cfg.MaxDuration:
		return &ValidationError{Field: "duration", Reason: fmt.Sprintf("must be between %s and %s", m.cfg.MinDuration, m.cfg.MaxDuration)}
	case m.cfg.MaxImages > 0 && len(p.ImageURLs) > m.cfg.MaxImages:
		return &ValidationError{Field: "images", Reason: fmt.Sprintf("at most %d images are allowed", m.cfg.MaxImages)}
	}

	if p.MinIncrement == 0 {
		p.MinIncrement = m.cfg.MinIncrement
	}
	if p.Description == "" {
		p.Description = config.DefaultDescription
	}
	return nil
}

// Create persists a new active auction and arms its expiry timer.
func (m *Manager) Create(ctx context.Context, p CreateParams) (*models.Auction, error) {
	if err := m.validateCreate(&p); err != nil {
		return nil, err
	}

	now := m.now().UTC()
	a := &models.Auction{
		GuildID:         p.GuildID,
		ChannelID:       p.ChannelID,
		CreatorID:       p.CreatorID,
		Title:           p.Title,
		Description:     p.Description,
		PaymentMaterial: p.PaymentMaterial,
		StartingPrice:   p.StartingPrice,
		MinIncrement:    p.MinIncrement,
		ImageURLs:       append([]string{}, p.ImageURLs...),
		EndTime:         now.Add(p.Duration),
		CreatedAt:       now,
	}

	if err := m.repo.Create(ctx, a); err != nil {
		return nil, err
	}

	// The row is committed either way. Without a timer the reconcile job or
	// the next Recover closes it.
	if err := m.scheduler.Schedule(a.ID, a.EndTime); err != nil {
		slog.Error("Failed to schedule auction end",
			slog.String("type", "timer"),
			slog.Int64("auction_id", a.ID),
			slog.Any("error", err))
	}

	m.cache.Set(cache.AuctionKey(a.ID), a.Clone(), cache.ClassAuction)

	slog.Info("Auction created",
		slog.Int64("auction_id", a.ID),
		slog.String("creator_id", a.CreatorID),
		slog.Int64("starting_price", a.StartingPrice),
		slog.Time("end_time", a.EndTime))

	return a.Clone(), nil
}

type BidParams struct {
	AuctionID int64
	BidderID  string
	Amount    int64
	Kind      BidKind
}

type BidResult struct {
	Auction          *models.Auction
	Bid              *models.Bid
	Extended         bool
	PreviousBidderID string
	PreviousAmount   int64
}

// QuickBid bids the minimum acceptable amount computed from the latest state.
func (m *Manager) QuickBid(ctx context.Context, auctionID int64, bidderID string) (*BidResult, error) {
	return m.PlaceBid(ctx, BidParams{AuctionID: auctionID, BidderID: bidderID, Kind: BidQuick})
}

// PlaceBid accepts a bid only if it beats the current price by at least the
// auction's minimum increment. Bids on the same auction are serialized, and
// the store write is conditional on the price it was checked against.
func (m *Manager) PlaceBid(ctx context.Context, p BidParams) (*BidResult, error) {
	if p.BidderID == "" {
		return nil, &ValidationError{Field: "bidder", Reason: "is required"}
	}
	if p.Kind == BidCustom && p.Amount <= 0 {
		return nil, &ValidationError{Field: "amount", Reason: "must be greater than zero"}
	}

	if _, busy := m.inflight.LoadOrStore(p.BidderID, struct{}{}); busy {
		return nil, ErrBidInProgress
	}
	defer m.inflight.Delete(p.BidderID)

	if remaining, ok := m.cooldowns.Check(p.BidderID, p.AuctionID, p.Kind, m.now().UTC()); !ok {
		return nil, &CooldownError{Remaining: remaining}
	}

	unlock := m.locks.Lock(p.AuctionID)
	defer unlock()

	// Waiting on the lock can outlast the auction, so the bid time is taken
	// only once the lock is held.
	now := m.now().UTC()
	a, err := m.load(ctx, p.AuctionID)
	if err != nil {
		return nil, err
	}
	if !a.IsActive(now) {
		return nil, ErrAuctionNotActive
	}
	if a.CreatorID == p.BidderID {
		return nil, ErrSelfBid
	}

	amount := p.Amount
	if p.Kind == BidQuick {
		amount = a.MinimumBid()
	}
	if amount <= a.CurrentPrice || amount < a.MinimumBid() {
		return nil, &BidTooLowError{Amount: amount, Minimum: a.MinimumBid()}
	}

	endTime, extended := m.antiSnipe(a.EndTime, now)

	bid, err := m.repo.PlaceBid(ctx, repositories.BidUpdate{
		AuctionID: a.ID,
		BidderID:  p.BidderID,
		Amount:    amount,
		Quick:     p.Kind == BidQuick,
		EndTime:   endTime,
		Extended:  extended,
		Now:       now,
	})
	m.cache.Invalidate(cache.AuctionKey(a.ID), cache.BidsKey(a.ID))
	if err != nil {
		if errors.Is(err, repositories.ErrConditionFailed) {
			return nil, m.explainLostBid(ctx, a.ID, amount, now)
		}
		return nil, fmt.Errorf("failed to place bid: %w", err)
	}

	m.cooldowns.Record(p.BidderID, a.ID, now)
	if extended {
		if err = m.scheduler.Reschedule(a.ID, endTime); err != nil {
			slog.Error("Failed to reschedule extended auction",
				slog.String("type", "timer"),
				slog.Int64("auction_id", a.ID),
				slog.Any("error", err))
		}
	}

	updated := a.Clone()
	updated.CurrentPrice = amount
	updated.HighestBidderID = p.BidderID
	updated.BidCount++
	updated.EndTime = endTime
	updated.UpdatedAt = now
	if extended {
		updated.Extensions++
	}

	result := &BidResult{
		Auction:          updated,
		Bid:              bid,
		Extended:         extended,
		PreviousBidderID: a.HighestBidderID,
		PreviousAmount:   a.CurrentPrice,
	}

	slog.Info("Bid accepted",
		slog.Int64("auction_id", a.ID),
		slog.String("bidder_id", p.BidderID),
		slog.Int64("amount", amount),
		slog.String("kind", p.Kind.String()),
		slog.Bool("extended", extended))

	m.emit(Event{Kind: EventBidPlaced, Auction: updated.Clone(), Bid: bid, Extended: extended})
	if result.PreviousBidderID != "" && result.PreviousBidderID != p.BidderID {
		m.emit(Event{
			Kind:             EventOutbid,
			Auction:          updated.Clone(),
			Bid:              bid,
			PreviousBidderID: result.PreviousBidderID,
			PreviousAmount:   result.PreviousAmount,
		})
	}
	return result, nil
}

// antiSnipe extends the end time when a bid lands inside the final window.
// The extension is never shorter than the window, so the auction leaves it
// and only a later crossing can extend again.
func (m *Manager) antiSnipe(end, now time.Time) (time.Time, bool) {
	if m.cfg.AntiSnipeThreshold <= 0 || m.cfg.AntiSnipeExtension <= 0 {
		return end, false
	}
	if end.Sub(now) < m.cfg.AntiSnipeThreshold {
		return end.Add(m.cfg.AntiSnipeExtension), true
	}
	return end, false
}

func (m *Manager) explainLostBid(ctx context.Context, auctionID, amount int64, now time.Time) error {
	fresh, err := m.load(ctx, auctionID)
	if err != nil {
		return err
	}
	if !fresh.IsActive(now) {
		return ErrAuctionNotActive
	}
	return &BidTooLowError{Amount: amount, Minimum: fresh.MinimumBid()}
}

// Get returns the auction through the cache.
func (m *Manager) Get(ctx context.Context, auctionID int64) (*models.Auction, error) {
	key := cache.AuctionKey(auctionID)
	if v, ok := m.cache.Get(key); ok {
		return v.(*models.Auction).Clone(), nil
	}

	v, err, _ := m.loader.Do(key, func() (any, error) {
		a, err := m.load(ctx, auctionID)
		if err != nil {
			return nil, err
		}
		m.cache.Set(key, a, cache.ClassAuction)
		return a, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Auction).Clone(), nil
}

// load always reads the store. Mutations use it under the auction lock.
func (m *Manager) load(ctx context.Context, auctionID int64) (*models.Auction, error) {
	a, err := m.repo.GetByID(ctx, auctionID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return a, nil
}

// Bids returns the most recent bids, highest first, through the cache.
func (m *Manager) Bids(ctx context.Context, auctionID int64) ([]*models.Bid, error) {
	key := cache.BidsKey(auctionID)
	if v, ok := m.cache.Get(key); ok {
		return v.([]*models.Bid), nil
	}

	v, err, _ := m.loader.Do(key, func() (any, error) {
		bids, err := m.repo.ListBids(ctx, auctionID, m.cfg.BidHistory)
		if err != nil {
			return nil, err
		}
		m.cache.Set(key, bids, cache.ClassBids)
		return bids, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]*models.Bid), nil
}

func (m *Manager) BidStats(ctx context.Context, auctionID int64) (*models.BidStats, error) {
	return m.repo.BidStats(ctx, auctionID)
}

// ListActive returns the guild's active auctions ordered by end time.
func (m *Manager) ListActive(ctx context.Context, guildID string) ([]*models.Auction, error) {
	return m.repo.ListActive(ctx, guildID)
}

// SetMessage records where the public auction message lives.
func (m *Manager) SetMessage(ctx context.Context, auctionID int64, channelID, messageID string) error {
	if err := m.repo.UpdateMessage(ctx, auctionID, channelID, messageID); err != nil {
		return err
	}
	m.cache.Invalidate(cache.AuctionKey(auctionID))
	return nil
}

type Stats struct {
	Cache       cache.Stats    `json:"cache"`
	Timers      SchedulerStats `json:"timers"`
	Cooldowns   int            `json:"cooldowns"`
	ActiveLocks int            `json:"active_locks"`
}

func (m *Manager) Stats() Stats {
	return Stats{
		Cache:       m.cache.Stats(),
		Timers:      m.scheduler.Stats(),
		Cooldowns:   m.cooldowns.Len(),
		ActiveLocks: m.locks.Len(),
	}
}

func (m *Manager) emit(ev Event) {
	select {
	case m.events <- ev:
	default:
		slog.Warn("Notification queue full, dropping event",
			slog.String("event", ev.Kind.String()),
			slog.Int64("auction_id", ev.Auction.ID))
	}
}

package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/disgoorg/auction-bot/auctionbot/cache"
	"github.com/disgoorg/auction-bot/auctionbot/config"
	"github.com/disgoorg/auction-bot/auctionbot/database/models"
	"github.com/disgoorg/auction-bot/auctionbot/utils"
	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/snowflake/v2"
)

// closedRetention bounds how long a closed auction is remembered past its
// throttle window. It covers a flush that waited on the final edit.
const closedRetention = 5 * time.Minute

type EventKind int

const (
	EventBidPlaced EventKind = iota + 1
	EventOutbid
	EventAuctionEnded
	EventAuctionCancelled
)

func (k EventKind) String() string {
	switch k {
	case EventBidPlaced:
		return "bid_placed"
	case EventOutbid:
		return "outbid"
	case EventAuctionEnded:
		return "auction_ended"
	case EventAuctionCancelled:
		return "auction_cancelled"
	default:
		return "unknown"
	}
}

// Event is a committed state change that someone outside should hear about.
type Event struct {
	Kind             EventKind
	Auction          *models.Auction
	Bid              *models.Bid
	PreviousBidderID string
	PreviousAmount   int64
	Extended         bool
}

type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// AuctionReader is the read side the notifier needs to redraw a message.
type AuctionReader interface {
	Bids(ctx context.Context, auctionID int64) ([]*models.Bid, error)
	BidStats(ctx context.Context, auctionID int64) (*models.BidStats, error)
}

// DiscordNotifier turns events into DMs and edits of the public auction
// message. Edits after bids are throttled per auction; the last throttled
// state is flushed once the window passes. Once an auction is closed no bid
// redraw may touch its message again.
type DiscordNotifier struct {
	client   bot.Client
	reader   AuctionReader
	users    *cache.Cache
	throttle time.Duration
	now      func() time.Time

	mu       sync.Mutex
	lastEdit map[int64]time.Time
	pending  map[int64]*models.Auction
	closed   map[int64]struct{}

	// drawMu orders message edits so a bid redraw never lands after the
	// final message.
	drawMu sync.Mutex

	handlers map[EventKind]func(ctx context.Context, ev Event) error
}

func NewDiscordNotifier(client bot.Client, reader AuctionReader, users *cache.Cache, throttle time.Duration) *DiscordNotifier {
	n := &DiscordNotifier{
		client:   client,
		reader:   reader,
		users:    users,
		throttle: throttle,
		now:      time.Now,
		lastEdit: make(map[int64]time.Time),
		pending:  make(map[int64]*models.Auction),
		closed:   make(map[int64]struct{}),
	}
	n.handlers = map[EventKind]func(ctx context.Context, ev Event) error{
		EventBidPlaced:        n.onBidPlaced,
		EventOutbid:           n.onOutbid,
		EventAuctionEnded:     n.onAuctionEnded,
		EventAuctionCancelled: n.onAuctionCancelled,
	}
	return n
}

func (n *DiscordNotifier) Notify(ctx context.Context, ev Event) error {
	handle, ok := n.handlers[ev.Kind]
	if !ok {
		return fmt.Errorf("no handler for event %s", ev.Kind)
	}
	if err := handle(ctx, ev); err != nil {
		return &NotificationError{Kind: ev.Kind, AuctionID: ev.Auction.ID, Err: err}
	}
	return nil
}

func (n *DiscordNotifier) onBidPlaced(ctx context.Context, ev Event) error {
	a := ev.Auction
	if a.MessageID == "" {
		return nil
	}

	n.mu.Lock()
	if _, done := n.closed[a.ID]; done {
		n.mu.Unlock()
		return nil
	}
	last := n.lastEdit[a.ID]
	wait := n.throttle - n.now().Sub(last)
	if wait > 0 {
		_, scheduled := n.pending[a.ID]
		n.pending[a.ID] = a
		n.mu.Unlock()
		if !scheduled {
			time.AfterFunc(wait, func() { n.flush(a.ID) })
		}
		return nil
	}
	n.lastEdit[a.ID] = n.now()
	n.mu.Unlock()

	return n.redrawOpen(ctx, a)
}

func (n *DiscordNotifier) flush(auctionID int64) {
	n.mu.Lock()
	a, ok := n.pending[auctionID]
	delete(n.pending, auctionID)
	if _, done := n.closed[auctionID]; done {
		ok = false
	}
	if ok {
		n.lastEdit[auctionID] = n.now()
	}
	n.mu.Unlock()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.DefaultQueryTimeout)
	defer cancel()
	if err := n.redrawOpen(ctx, a); err != nil {
		slog.Warn("Failed to flush throttled auction update",
			slog.Int64("auction_id", auctionID),
			slog.Any("error", err))
	}
}

// forget drops throttling state and marks the auction closed so a late flush
// cannot overwrite the final message. The mark outlives any flush timer armed
// before it.
func (n *DiscordNotifier) forget(auctionID int64) {
	n.mu.Lock()
	delete(n.pending, auctionID)
	delete(n.lastEdit, auctionID)
	n.closed[auctionID] = struct{}{}
	n.mu.Unlock()

	time.AfterFunc(n.throttle+closedRetention, func() {
		n.mu.Lock()
		delete(n.closed, auctionID)
		n.mu.Unlock()
	})
}

func (n *DiscordNotifier) isClosed(auctionID int64) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.closed[auctionID]
	return ok
}

// redrawOpen redraws a still running auction unless it was closed while the
// edit waited its turn.
func (n *DiscordNotifier) redrawOpen(ctx context.Context, a *models.Auction) error {
	n.drawMu.Lock()
	defer n.drawMu.Unlock()
	if n.isClosed(a.ID) {
		return nil
	}
	return n.redraw(ctx, a)
}

func (n *DiscordNotifier) view(ctx context.Context, a *models.Auction) View {
	v := View{Auction: a, Now: n.now()}
	if bids, err := n.reader.Bids(ctx, a.ID); err == nil {
		v.Bids = bids
	}
	if stats, err := n.reader.BidStats(ctx, a.ID); err == nil {
		v.Stats = stats
	}
	return v
}

func (n *DiscordNotifier) redraw(ctx context.Context, a *models.Auction) error {
	channelID, messageID, err := messageRef(a)
	if err != nil {
		return err
	}

	embeds := []discord.Embed{AuctionEmbed(n.view(ctx, a))}
	comps := AuctionComponents(a, n.now())
	_, err = n.client.Rest().UpdateMessage(channelID, messageID, discord.MessageUpdate{
		Embeds:     &embeds,
		Components: &comps,
	}, rest.WithCtx(ctx))
	return err
}

func (n *DiscordNotifier) onOutbid(ctx context.Context, ev Event) error {
	a := ev.Auction
	embed := discord.NewEmbedBuilder().
		SetTitle("📉 You have been outbid").
		SetDescription(fmt.Sprintf("Your bid of **%s** on **%s** (#%d) was beaten with **%s**.",
			utils.FormatAmount(ev.PreviousAmount), a.Title, a.ID, utils.FormatAmount(a.CurrentPrice))).
		AddField("Minimum Next Bid", utils.FormatAmount(a.MinimumBid()), true).
		AddField("Ends", fmt.Sprintf("<t:%d:R>", a.EndTime.Unix()), true).
		SetColor(config.WarningColor).
		Build()
	return n.dm(ctx, ev.PreviousBidderID, embed)
}

func (n *DiscordNotifier) onAuctionEnded(ctx context.Context, ev Event) error {
	a := ev.Auction
	n.forget(a.ID)

	var errs []error
	if err := n.publishFinal(ctx, a); err != nil {
		errs = append(errs, err)
	}

	if a.WinnerID != "" {
		winner := discord.NewEmbedBuilder().
			SetTitle("🏆 Auction Won!").
			SetDescription(fmt.Sprintf("You won **%s** (#%d) with a final bid of **%s**.",
				a.Title, a.ID, utils.FormatAmount(a.CurrentPrice))).
			AddField("Seller", fmt.Sprintf("<@%s>", a.CreatorID), true).
			SetColor(config.SuccessColor)
		if a.PaymentMaterial != "" {
			winner.AddField("Payment", a.PaymentMaterial, true)
		}
		if err := n.dm(ctx, a.WinnerID, winner.Build()); err != nil {
			errs = append(errs, err)
		}
	}

	creator := discord.NewEmbedBuilder().
		SetTitle("🏛️ Auction Completed").
		SetColor(config.BackgroundColor)
	if a.WinnerID != "" {
		creator.SetDescription(fmt.Sprintf("Your auction **%s** (#%d) was won by **%s** for **%s**.",
			a.Title, a.ID, n.displayName(ctx, a.WinnerID), utils.FormatAmount(a.CurrentPrice)))
	} else {
		creator.SetDescription(fmt.Sprintf("Your auction **%s** (#%d) ended without bids.", a.Title, a.ID))
	}
	if err := n.dm(ctx, a.CreatorID, creator.Build()); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func (n *DiscordNotifier) onAuctionCancelled(ctx context.Context, ev Event) error {
	n.forget(ev.Auction.ID)
	return n.publishFinal(ctx, ev.Auction)
}

// publishFinal edits the public message without buttons. If the message is
// gone a new one is posted in the channel instead.
func (n *DiscordNotifier) publishFinal(ctx context.Context, a *models.Auction) error {
	n.drawMu.Lock()
	defer n.drawMu.Unlock()

	embeds := []discord.Embed{AuctionEmbed(n.view(ctx, a))}

	if a.MessageID != "" {
		channelID, messageID, err := messageRef(a)
		if err != nil {
			return err
		}

		comps := []discord.ContainerComponent{}
		for attempt := 1; attempt <= config.MessageEditRetries; attempt++ {
			_, err = n.client.Rest().UpdateMessage(channelID, messageID, discord.MessageUpdate{
				Embeds:     &embeds,
				Components: &comps,
			}, rest.WithCtx(ctx))
			if err == nil {
				return nil
			}
			slog.Warn("Failed to edit auction message",
				slog.Int64("auction_id", a.ID),
				slog.Int("attempt", attempt),
				slog.Any("error", err))

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}
	}

	if a.ChannelID == "" {
		return fmt.Errorf("auction %d has no channel", a.ID)
	}
	channelID, err := snowflake.Parse(a.ChannelID)
	if err != nil {
		return fmt.Errorf("invalid channel id %q: %w", a.ChannelID, err)
	}
	_, err = n.client.Rest().CreateMessage(channelID, discord.MessageCreate{Embeds: embeds}, rest.WithCtx(ctx))
	return err
}

func (n *DiscordNotifier) dm(ctx context.Context, userID string, embed discord.Embed) error {
	id, err := snowflake.Parse(userID)
	if err != nil {
		return fmt.Errorf("invalid user id %q: %w", userID, err)
	}

	dmChannel, err := n.client.Rest().CreateDMChannel(id, rest.WithCtx(ctx))
	if err != nil {
		return fmt.Errorf("failed to create DM channel with %s: %w", userID, err)
	}

	_, err = n.client.Rest().CreateMessage(dmChannel.ID(), discord.MessageCreate{
		Embeds: []discord.Embed{embed},
	}, rest.WithCtx(ctx))
	if err != nil {
		return fmt.Errorf("failed to DM %s: %w", userID, err)
	}
	return nil
}

// displayName resolves a user through the user cache, falling back to a mention.
func (n *DiscordNotifier) displayName(ctx context.Context, userID string) string {
	key := cache.UserKey(userID)
	if v, ok := n.users.Get(key); ok {
		return v.(string)
	}

	id, err := snowflake.Parse(userID)
	if err != nil {
		return userID
	}
	user, err := n.client.Rest().GetUser(id, rest.WithCtx(ctx))
	if err != nil {
		return fmt.Sprintf("<@%s>", userID)
	}

	name := user.EffectiveName()
	n.users.Set(key, name, cache.ClassUser)
	return name
}

func messageRef(a *models.Auction) (snowflake.ID, snowflake.ID, error) {
	channelID, err := snowflake.Parse(a.ChannelID)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid channel id %q: %w", a.ChannelID, err)
	}
	messageID, err := snowflake.Parse(a.MessageID)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid message id %q: %w", a.MessageID, err)
	}
	return channelID, messageID, nil
}

package commands

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/disgoorg/auction-bot/auctionbot"
	"github.com/disgoorg/auction-bot/auctionbot/components"
	"github.com/disgoorg/auction-bot/auctionbot/config"
	"github.com/disgoorg/auction-bot/auctionbot/database/models"
	"github.com/disgoorg/auction-bot/auctionbot/economy/auction"
	"github.com/disgoorg/auction-bot/auctionbot/handlers"
	"github.com/disgoorg/auction-bot/auctionbot/services"
	"github.com/disgoorg/auction-bot/auctionbot/utils"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/handler"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/paginator"
	"github.com/disgoorg/snowflake/v2"
	lru "github.com/hashicorp/golang-lru"
)

func auctionIDOption(description string) discord.ApplicationCommandOptionString {
	return discord.ApplicationCommandOptionString{
		Name:         "auction_id",
		Description:  description,
		Required:     true,
		Autocomplete: true,
	}
}

func imageOptions() []discord.ApplicationCommandOption {
	opts := make([]discord.ApplicationCommandOption, 0, config.MaxImages)
	for i := 1; i <= config.MaxImages; i++ {
		opts = append(opts, discord.ApplicationCommandOptionAttachment{
			Name:        fmt.Sprintf("image%d", i),
			Description: fmt.Sprintf("Image %d (optional)", i),
		})
	}
	return opts
}

var AuctionCommand = discord.SlashCommandCreate{
	Name:        "auction",
	Description: "Auction related commands",
	Options: []discord.ApplicationCommandOption{
		discord.ApplicationCommandOptionSubCommand{
			Name:        "create",
			Description: "Start a new auction",
			Options: append([]discord.ApplicationCommandOption{
				discord.ApplicationCommandOptionString{
					Name:        "title",
					Description: "What is being auctioned",
					Required:    true,
					MaxLength:   intPtr(config.MaxTitleLength),
				},
				discord.ApplicationCommandOptionInt{
					Name:        "starting_price",
					Description: "Starting price",
					Required:    true,
					MinValue:    intPtr(1),
				},
				discord.ApplicationCommandOptionInt{
					Name:        "min_increment",
					Description: "Smallest amount a new bid must add",
					Required:    true,
					MinValue:    intPtr(1),
				},
				discord.ApplicationCommandOptionString{
					Name:        "payment_material",
					Description: "What the winner pays with (diamonds, gold, ...)",
					Required:    true,
				},
				discord.ApplicationCommandOptionInt{
					Name:        "duration",
					Description: "Duration in hours",
					Required:    true,
					Choices: []discord.ApplicationCommandOptionChoiceInt{
						{Name: "1 hour", Value: 1},
						{Name: "6 hours", Value: 6},
						{Name: "12 hours", Value: 12},
						{Name: "24 hours", Value: 24},
						{Name: "48 hours", Value: 48},
					},
				},
				discord.ApplicationCommandOptionString{
					Name:        "description",
					Description: "Optional description",
				},
			}, imageOptions()...),
		},
		discord.ApplicationCommandOptionSubCommand{
			Name:        "bid",
			Description: "Place a bid on an auction",
			Options: []discord.ApplicationCommandOption{
				auctionIDOption("The auction to bid on"),
				discord.ApplicationCommandOptionInt{
					Name:        "amount",
					Description: "Bid amount",
					Required:    true,
					MinValue:    intPtr(1),
				},
			},
		},
		discord.ApplicationCommandOptionSubCommand{
			Name:        "list",
			Description: "List active auctions (admin)",
		},
		discord.ApplicationCommandOptionSubCommand{
			Name:        "finalize",
			Description: "End an auction now (admin)",
			Options: []discord.ApplicationCommandOption{
				auctionIDOption("The auction to end"),
			},
		},
		discord.ApplicationCommandOptionSubCommand{
			Name:        "cancel",
			Description: "Cancel an auction without a winner (admin)",
			Options: []discord.ApplicationCommandOption{
				auctionIDOption("The auction to cancel"),
			},
		},
		discord.ApplicationCommandOptionSubCommand{
			Name:        "stats",
			Description: "Cache and timer statistics (admin)",
		},
	},
}

type AuctionHandler struct {
	b        *auctionbot.Bot
	carousel *lru.Cache
	actions  map[components.ActionKind]func(e *handler.ComponentEvent, a components.Action) error
}

func NewAuctionHandler(b *auctionbot.Bot) *AuctionHandler {
	size := b.Cfg.Cache.CarouselSize
	if size <= 0 {
		size = config.CarouselCacheSize
	}
	carousel, _ := lru.New(size)

	h := &AuctionHandler{b: b, carousel: carousel}
	h.actions = map[components.ActionKind]func(e *handler.ComponentEvent, a components.Action) error{
		components.ActionQuickBid:  h.handleQuickBid,
		components.ActionCustomBid: h.handleCustomBid,
		components.ActionImages:    h.handleImages,
		components.ActionImagePrev: h.handleImageStep,
		components.ActionImageNext: h.handleImageStep,
	}
	return h
}

func (h *AuctionHandler) Register(r handler.Router) {
	r.Route("/auction", func(r handler.Router) {
		r.Command("/create", handlers.WrapWithLogging("auction-create", h.HandleCreate))
		r.Command("/bid", handlers.WrapWithLogging("auction-bid", h.HandleBid))
		r.Command("/list", handlers.WrapWithLogging("auction-list", h.HandleList))
		r.Command("/finalize", handlers.WrapWithLogging("auction-finalize", h.HandleFinalize))
		r.Command("/cancel", handlers.WrapWithLogging("auction-cancel", h.HandleCancel))
		r.Command("/stats", handlers.WrapWithLogging("auction-stats", h.HandleStats))

		r.Autocomplete("/bid", handlers.WrapAutocomplete("auction-bid", h.HandleAutocomplete))
		r.Autocomplete("/finalize", handlers.WrapAutocomplete("auction-finalize", h.HandleAutocomplete))
		r.Autocomplete("/cancel", handlers.WrapAutocomplete("auction-cancel", h.HandleAutocomplete))
	})

	// Component patterns must start with /
	r.Component("/auction/{action}/{auction_id}", handlers.WrapComponentWithLogging("auction-button", h.HandleComponent))
	r.Modal("/auction-bid/{auction_id}", handlers.WrapModalWithLogging("auction-bid-modal", h.HandleBidModal))
}

type responder interface {
	CreateMessage(messageCreate discord.MessageCreate, opts ...rest.RequestOpt) error
}

func parseAuctionID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(strings.TrimSpace(s), "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid auction id %q", s)
	}
	return id, nil
}

func (h *AuctionHandler) HandleCreate(e *handler.CommandEvent) error {
	guildID := e.GuildID()
	if guildID == nil {
		return e.CreateMessage(ephemeral("❌ Auctions can only be created in a server."))
	}

	data := e.SlashCommandInteractionData()

	var images []services.ImageSource
	for i := 1; i <= config.MaxImages; i++ {
		att, ok := data.OptAttachment(fmt.Sprintf("image%d", i))
		if !ok {
			continue
		}
		img := services.ImageSource{URL: att.URL, Filename: att.Filename, Size: att.Size}
		if att.ContentType != nil {
			img.ContentType = *att.ContentType
		}
		if err := services.ValidateImage(img, h.b.Cfg.Auction.MaxImageSize); err != nil {
			return e.CreateMessage(ephemeral("❌ " + err.Error()))
		}
		images = append(images, img)
	}

	if err := e.DeferCreateMessage(false); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.DefaultQueryTimeout)
	defer cancel()

	urls := make([]string, len(images))
	for i, img := range images {
		urls[i] = img.URL
	}
	if h.b.Images != nil && len(images) > 0 {
		urls = h.b.Images.MirrorImages(ctx, guildID.String(), images)
	}

	a, err := h.b.AuctionManager.Create(ctx, auction.CreateParams{
		GuildID:         guildID.String(),
		ChannelID:       e.ChannelID().String(),
		CreatorID:       e.User().ID.String(),
		Title:           data.String("title"),
		Description:     data.String("description"),
		PaymentMaterial: data.String("payment_material"),
		StartingPrice:   int64(data.Int("starting_price")),
		MinIncrement:    int64(data.Int("min_increment")),
		Duration:        time.Duration(data.Int("duration")) * time.Hour,
		ImageURLs:       urls,
	})
	if err != nil {
		msg, ok := userMessage(err)
		if !ok {
			slog.Error("Failed to create auction", slog.Any("error", err))
		}
		_ = e.DeleteInteractionResponse()
		_, ferr := e.CreateFollowupMessage(ephemeral(msg))
		return ferr
	}

	now := time.Now()
	content := fmt.Sprintf("🔔 New auction available! Bidding runs for %s.", utils.FormatDuration(a.EndTime.Sub(a.CreatedAt)))
	update := discord.MessageUpdate{}
	if role := h.b.Cfg.Bot.AnnounceRoleID; role != 0 {
		content = fmt.Sprintf("<@&%s> %s", role, content)
		update.AllowedMentions = &discord.AllowedMentions{Roles: []snowflake.ID{role}}
	}
	embeds := []discord.Embed{auction.AuctionEmbed(auction.View{Auction: a, Now: now})}
	comps := auction.AuctionComponents(a, now)
	update.Content = &content
	update.Embeds = &embeds
	update.Components = &comps

	msg, err := e.UpdateInteractionResponse(update)
	if err != nil {
		return err
	}

	if err = h.b.AuctionManager.SetMessage(ctx, a.ID, msg.ChannelID.String(), msg.ID.String()); err != nil {
		slog.Error("Failed to store auction message",
			slog.Int64("auction_id", a.ID),
			slog.Any("error", err))
	}
	return nil
}

func (h *AuctionHandler) HandleBid(e *handler.CommandEvent) error {
	data := e.SlashCommandInteractionData()
	auctionID, err := parseAuctionID(data.String("auction_id"))
	if err != nil {
		return e.CreateMessage(ephemeral("❌ Pick an auction from the list or enter its number."))
	}

	return h.placeBid(e, auction.BidParams{
		AuctionID: auctionID,
		BidderID:  e.User().ID.String(),
		Amount:    int64(data.Int("amount")),
		Kind:      auction.BidCustom,
	})
}

func (h *AuctionHandler) placeBid(r responder, params auction.BidParams) error {
	ctx, cancel := context.WithTimeout(context.Background(), config.DefaultQueryTimeout)
	defer cancel()

	res, err := h.b.AuctionManager.PlaceBid(ctx, params)
	if err != nil {
		msg, ok := userMessage(err)
		if !ok {
			slog.Error("Failed to place bid",
				slog.Int64("auction_id", params.AuctionID),
				slog.String("bidder_id", params.BidderID),
				slog.Any("error", err))
		}
		return r.CreateMessage(ephemeral(msg))
	}

	text := fmt.Sprintf("✅ Your bid of **%s** on **%s** (#%d) was placed.",
		utils.FormatAmount(res.Bid.Amount), res.Auction.Title, res.Auction.ID)
	if res.Extended {
		text += fmt.Sprintf("\n⏰ Late bid! The auction now ends <t:%d:R>.", res.Auction.EndTime.Unix())
	}
	return r.CreateMessage(ephemeral(text))
}

func (h *AuctionHandler) requireAdmin(e *handler.CommandEvent) bool {
	if h.b.IsAdmin(e.Member()) {
		return true
	}
	_ = e.CreateMessage(errorEmbed("❌ Only administrators can use this command."))
	return false
}

func (h *AuctionHandler) HandleList(e *handler.CommandEvent) error {
	if !h.requireAdmin(e) {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.DefaultQueryTimeout)
	defer cancel()

	guildID := ""
	if e.GuildID() != nil {
		guildID = e.GuildID().String()
	}
	auctions, err := h.b.AuctionManager.ListActive(ctx, guildID)
	if err != nil {
		return err
	}
	if len(auctions) == 0 {
		return e.CreateMessage(ephemeral("No active auctions."))
	}

	now := time.Now()
	totalPages := int(math.Ceil(float64(len(auctions)) / float64(config.AuctionsPerPage)))

	return h.b.Paginator.Create(e.Respond, paginator.Pages{
		ID:      e.ID().String(),
		Creator: e.User().ID,
		PageFunc: func(page int, embed *discord.EmbedBuilder) {
			start := page * config.AuctionsPerPage
			end := min(start+config.AuctionsPerPage, len(auctions))

			var description strings.Builder
			for _, a := range auctions[start:end] {
				description.WriteString(listLine(a, now))
			}

			embed.
				SetTitle("🏛️ Active Auctions").
				SetDescription(description.String()).
				SetColor(config.BackgroundColor).
				SetFooter(fmt.Sprintf("Page %d/%d • %d active", page+1, totalPages, len(auctions)), "")
		},
		Pages:      totalPages,
		ExpireMode: paginator.ExpireModeAfterLastUsage,
	}, true)
}

func listLine(a *models.Auction, now time.Time) string {
	bids := "no bids"
	if a.BidCount > 0 {
		bids = fmt.Sprintf("%d bid(s)", a.BidCount)
	}
	return fmt.Sprintf("`#%d` **%s** · %s · %s · %s\n",
		a.ID,
		utils.Truncate(a.Title, 40),
		utils.FormatAmount(a.CurrentPrice),
		bids,
		utils.FormatTimeRemaining(a.EndTime.Sub(now)))
}

func (h *AuctionHandler) HandleFinalize(e *handler.CommandEvent) error {
	if !h.requireAdmin(e) {
		return nil
	}
	auctionID, err := parseAuctionID(e.SlashCommandInteractionData().String("auction_id"))
	if err != nil {
		return e.CreateMessage(ephemeral("❌ Invalid auction id."))
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.FinalizeTimeout)
	defer cancel()

	a, err := h.b.AuctionManager.Finalize(ctx, auctionID, auction.ReasonAdmin)
	if err != nil {
		msg, ok := userMessage(err)
		if !ok {
			return err
		}
		return e.CreateMessage(ephemeral(msg))
	}

	switch {
	case a.Status == models.AuctionStatusCancelled:
		return e.CreateMessage(ephemeral(fmt.Sprintf("Auction #%d was cancelled earlier.", a.ID)))
	case a.WinnerID != "":
		return e.CreateMessage(ephemeral(fmt.Sprintf("🏁 Auction #%d ended. Winner: <@%s> with **%s**.",
			a.ID, a.WinnerID, utils.FormatAmount(a.CurrentPrice))))
	default:
		return e.CreateMessage(ephemeral(fmt.Sprintf("🏁 Auction #%d ended without bids.", a.ID)))
	}
}

func (h *AuctionHandler) HandleCancel(e *handler.CommandEvent) error {
	if !h.requireAdmin(e) {
		return nil
	}
	auctionID, err := parseAuctionID(e.SlashCommandInteractionData().String("auction_id"))
	if err != nil {
		return e.CreateMessage(ephemeral("❌ Invalid auction id."))
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.DefaultQueryTimeout)
	defer cancel()

	a, err := h.b.AuctionManager.Cancel(ctx, auctionID)
	if err != nil {
		msg, ok := userMessage(err)
		if !ok {
			return err
		}
		return e.CreateMessage(ephemeral(msg))
	}
	return e.CreateMessage(ephemeral(fmt.Sprintf("🚫 Auction #%d (%s) was cancelled.", a.ID, a.Title)))
}

func (h *AuctionHandler) HandleStats(e *handler.CommandEvent) error {
	if !h.requireAdmin(e) {
		return nil
	}

	stats := h.b.AuctionManager.Stats()
	total := stats.Cache.Hits + stats.Cache.Misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(stats.Cache.Hits) / float64(total) * 100
	}

	embed := discord.NewEmbedBuilder().
		SetTitle("📊 Auction Stats").
		AddField("Cache Entries", fmt.Sprintf("auction: %d\nbids: %d\nuser: %d",
			stats.Cache.Entries["auction"], stats.Cache.Entries["bids"], stats.Cache.Entries["user"]), true).
		AddField("Cache Hits", fmt.Sprintf("%d hits / %d misses (%.1f%%)\n%d evicted",
			stats.Cache.Hits, stats.Cache.Misses, hitRate, stats.Cache.Evictions), true).
		AddField("Timers", fmt.Sprintf("%d live\n%d fired\n%d cancelled",
			stats.Timers.Live, stats.Timers.Fired, stats.Timers.Cancelled), true).
		AddField("Bidding", fmt.Sprintf("%d cooldowns\n%d locked auctions", stats.Cooldowns, stats.ActiveLocks), true).
		SetColor(config.InfoColor).
		SetFooter(fmt.Sprintf("Version %s (%s)", h.b.Version, h.b.Commit), "").
		Build()

	return e.CreateMessage(discord.MessageCreate{
		Embeds: []discord.Embed{embed},
		Flags:  discord.MessageFlagEphemeral,
	})
}

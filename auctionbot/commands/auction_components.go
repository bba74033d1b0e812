package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/disgoorg/auction-bot/auctionbot/components"
	"github.com/disgoorg/auction-bot/auctionbot/config"
	"github.com/disgoorg/auction-bot/auctionbot/database/models"
	"github.com/disgoorg/auction-bot/auctionbot/economy/auction"
	"github.com/disgoorg/auction-bot/auctionbot/utils"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/handler"
	"github.com/sahilm/fuzzy"
)

const maxAutocompleteChoices = 25

func (h *AuctionHandler) HandleComponent(e *handler.ComponentEvent) error {
	action, err := components.ParseCustomID(e.Data.CustomID())
	if err != nil {
		return e.CreateMessage(ephemeral("❌ This button is no longer valid."))
	}

	handle, ok := h.actions[action.Kind]
	if !ok {
		return e.CreateMessage(ephemeral("❌ This button is no longer valid."))
	}
	return handle(e, action)
}

func (h *AuctionHandler) handleQuickBid(e *handler.ComponentEvent, action components.Action) error {
	return h.placeBid(e, auction.BidParams{
		AuctionID: action.AuctionID,
		BidderID:  e.User().ID.String(),
		Kind:      auction.BidQuick,
	})
}

func (h *AuctionHandler) handleCustomBid(e *handler.ComponentEvent, action components.Action) error {
	ctx, cancel := context.WithTimeout(context.Background(), config.DefaultQueryTimeout)
	defer cancel()

	a, err := h.b.AuctionManager.Get(ctx, action.AuctionID)
	if err != nil {
		msg, _ := userMessage(err)
		return e.CreateMessage(ephemeral(msg))
	}
	if !a.IsActive(time.Now()) {
		return e.CreateMessage(ephemeral("❌ This auction is no longer active."))
	}

	return e.Modal(discord.ModalCreate{
		CustomID: components.BidModalID(a.ID),
		Title:    utils.Truncate(fmt.Sprintf("Bid on #%d %s", a.ID, a.Title), 45),
		Components: []discord.ContainerComponent{
			discord.NewActionRow(
				discord.NewShortTextInput(components.BidAmountInput, "Bid amount").
					WithPlaceholder(fmt.Sprintf("At least %s", utils.FormatAmount(a.MinimumBid()))).
					WithRequired(true),
			),
		},
	})
}

func carouselKey(userID string, auctionID int64) string {
	return userID + ":" + strconv.FormatInt(auctionID, 10)
}

func (h *AuctionHandler) handleImages(e *handler.ComponentEvent, action components.Action) error {
	ctx, cancel := context.WithTimeout(context.Background(), config.DefaultQueryTimeout)
	defer cancel()

	a, err := h.b.AuctionManager.Get(ctx, action.AuctionID)
	if err != nil {
		msg, _ := userMessage(err)
		return e.CreateMessage(ephemeral(msg))
	}
	if len(a.ImageURLs) == 0 {
		return e.CreateMessage(ephemeral("This auction has no images."))
	}

	h.carousel.Add(carouselKey(e.User().ID.String(), a.ID), 0)
	return e.CreateMessage(discord.MessageCreate{
		Embeds:     []discord.Embed{auction.ImageEmbed(a, 0)},
		Components: auction.ImageComponents(a.ID, 0, len(a.ImageURLs)),
		Flags:      discord.MessageFlagEphemeral,
	})
}

func (h *AuctionHandler) handleImageStep(e *handler.ComponentEvent, action components.Action) error {
	ctx, cancel := context.WithTimeout(context.Background(), config.DefaultQueryTimeout)
	defer cancel()

	a, err := h.b.AuctionManager.Get(ctx, action.AuctionID)
	if err != nil {
		msg, _ := userMessage(err)
		return e.CreateMessage(ephemeral(msg))
	}
	total := len(a.ImageURLs)
	if total == 0 {
		return e.CreateMessage(ephemeral("This auction has no images."))
	}

	key := carouselKey(e.User().ID.String(), a.ID)
	index := 0
	if v, ok := h.carousel.Get(key); ok {
		index = v.(int)
	}
	index = stepIndex(index, action.Kind, total)
	h.carousel.Add(key, index)

	embeds := []discord.Embed{auction.ImageEmbed(a, index)}
	comps := auction.ImageComponents(a.ID, index, total)
	return e.UpdateMessage(discord.MessageUpdate{
		Embeds:     &embeds,
		Components: &comps,
	})
}

func stepIndex(index int, kind components.ActionKind, total int) int {
	switch kind {
	case components.ActionImagePrev:
		index--
	case components.ActionImageNext:
		index++
	}
	return max(0, min(index, total-1))
}

func (h *AuctionHandler) HandleBidModal(e *handler.ModalEvent) error {
	auctionID, err := components.ParseBidModalID(e.Data.CustomID)
	if err != nil {
		return e.CreateMessage(ephemeral("❌ This form is no longer valid."))
	}

	amount, err := parseAmount(e.Data.Text(components.BidAmountInput))
	if err != nil {
		return e.CreateMessage(ephemeral("❌ Enter a whole number, for example `1500` or `1.5k`."))
	}

	return h.placeBid(e, auction.BidParams{
		AuctionID: auctionID,
		BidderID:  e.User().ID.String(),
		Amount:    amount,
		Kind:      auction.BidCustom,
	})
}

var errInvalidAmount = errors.New("invalid amount")

// parseAmount accepts plain integers with optional thousands separators and
// a k or m suffix, up to config.MaxBidAmount.
func parseAmount(s string) (int64, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer(",", "", "_", "", " ", "").Replace(s)
	if s == "" {
		return 0, errInvalidAmount
	}

	multiplier := 1.0
	switch {
	case strings.HasSuffix(s, "k"):
		multiplier, s = 1_000, strings.TrimSuffix(s, "k")
	case strings.HasSuffix(s, "m"):
		multiplier, s = 1_000_000, strings.TrimSuffix(s, "m")
	}

	if multiplier == 1 {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil || v <= 0 || v > config.MaxBidAmount {
			return 0, errInvalidAmount
		}
		return v, nil
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f <= 0 {
		return 0, errInvalidAmount
	}
	v := f * multiplier
	if v > config.MaxBidAmount || v != float64(int64(v)) {
		return 0, errInvalidAmount
	}
	return int64(v), nil
}

func (h *AuctionHandler) HandleAutocomplete(e *handler.AutocompleteEvent) error {
	guildID := ""
	if e.GuildID() != nil {
		guildID = e.GuildID().String()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	auctions, err := h.b.AuctionManager.ListActive(ctx, guildID)
	if err != nil {
		slog.Error("Failed to list auctions for autocomplete",
			slog.String("guild_id", guildID),
			slog.Any("error", err))
		return e.AutocompleteResult(nil)
	}

	return e.AutocompleteResult(auctionChoices(auctions, e.Data.String("auction_id"), time.Now()))
}

type auctionSource []*models.Auction

func (s auctionSource) String(i int) string { return s[i].Title }
func (s auctionSource) Len() int            { return len(s) }

// rankAuctions orders auctions for the query: id prefix matches first, then
// fuzzy title matches by score. An empty query keeps the input order.
func rankAuctions(auctions []*models.Auction, query string) []*models.Auction {
	query = strings.TrimPrefix(strings.TrimSpace(query), "#")
	if query == "" {
		return auctions
	}

	seen := make(map[int64]struct{}, len(auctions))
	ranked := make([]*models.Auction, 0, len(auctions))

	var byID []*models.Auction
	for _, a := range auctions {
		if strings.HasPrefix(strconv.FormatInt(a.ID, 10), query) {
			byID = append(byID, a)
		}
	}
	sort.SliceStable(byID, func(i, j int) bool { return byID[i].ID < byID[j].ID })
	for _, a := range byID {
		seen[a.ID] = struct{}{}
		ranked = append(ranked, a)
	}

	for _, match := range fuzzy.FindFrom(query, auctionSource(auctions)) {
		a := auctions[match.Index]
		if _, ok := seen[a.ID]; ok {
			continue
		}
		seen[a.ID] = struct{}{}
		ranked = append(ranked, a)
	}
	return ranked
}

func auctionChoices(auctions []*models.Auction, query string, now time.Time) []discord.AutocompleteChoice {
	ranked := rankAuctions(auctions, query)
	if len(ranked) > maxAutocompleteChoices {
		ranked = ranked[:maxAutocompleteChoices]
	}

	choices := make([]discord.AutocompleteChoice, 0, len(ranked))
	for _, a := range ranked {
		name := fmt.Sprintf("#%d %s · %s · %s",
			a.ID,
			utils.Truncate(a.Title, 50),
			utils.FormatAmount(a.CurrentPrice),
			utils.FormatTimeRemaining(a.EndTime.Sub(now)))
		choices = append(choices, discord.AutocompleteChoiceString{
			Name:  utils.Truncate(name, 100),
			Value: strconv.FormatInt(a.ID, 10),
		})
	}
	return choices
}

package auction

import (
	"fmt"
	"strings"
	"time"

	"github.com/disgoorg/auction-bot/auctionbot/components"
	"github.com/disgoorg/auction-bot/auctionbot/config"
	"github.com/disgoorg/auction-bot/auctionbot/database/models"
	"github.com/disgoorg/auction-bot/auctionbot/utils"
	"github.com/disgoorg/disgo/discord"
)

// View is everything needed to draw the public auction message.
type View struct {
	Auction *models.Auction
	Bids    []*models.Bid
	Stats   *models.BidStats
	Now     time.Time
}

// AuctionColor picks the embed color from the time left.
func AuctionColor(a *models.Auction, now time.Time) int {
	switch {
	case a.Status == models.AuctionStatusCancelled:
		return config.BackgroundColor
	case !a.IsActive(now):
		return config.AuctionExpiredColor
	case a.EndTime.Sub(now) < config.UrgentThreshold:
		return config.AuctionUrgentColor
	default:
		return config.AuctionActiveColor
	}
}

func statusLine(a *models.Auction, now time.Time) string {
	switch a.Status {
	case models.AuctionStatusCancelled:
		return "🚫 Cancelled"
	case models.AuctionStatusEnded:
		return "⏰ Ended"
	}
	return fmt.Sprintf("%s (<t:%d:R>)", utils.FormatTimeRemaining(a.EndTime.Sub(now)), a.EndTime.Unix())
}

func AuctionEmbed(v View) discord.Embed {
	a := v.Auction
	builder := discord.NewEmbedBuilder().
		SetTitle(fmt.Sprintf("Auction #%d: %s", a.ID, a.Title)).
		SetDescription(a.Description).
		SetColor(AuctionColor(a, v.Now)).
		AddField("Current Price", utils.FormatAmount(a.CurrentPrice), true).
		AddField("Min Increment", utils.FormatAmount(a.MinIncrement), true).
		AddField("Status", statusLine(a, v.Now), true).
		AddField("Seller", fmt.Sprintf("<@%s>", a.CreatorID), true)

	if a.PaymentMaterial != "" {
		builder.AddField("Payment", a.PaymentMaterial, true)
	}

	switch {
	case a.WinnerID != "":
		builder.AddField("Winner", fmt.Sprintf("<@%s>", a.WinnerID), true)
	case a.HasBids():
		builder.AddField("Highest Bidder", fmt.Sprintf("<@%s>", a.HighestBidderID), true)
	}

	if len(v.Bids) > 0 {
		var sb strings.Builder
		for i, bid := range v.Bids {
			if i == config.BidsShown {
				break
			}
			marker := ""
			if bid.Quick {
				marker = " ⚡"
			}
			fmt.Fprintf(&sb, "%d. <@%s> %s%s <t:%d:R>\n", i+1, bid.BidderID, utils.FormatAmount(bid.Amount), marker, bid.CreatedAt.Unix())
		}
		builder.AddField("Recent Bids", sb.String(), false)
	}

	if v.Stats != nil && v.Stats.Total > 0 {
		builder.AddField("Bid Stats",
			fmt.Sprintf("%d bids (%d quick) from %d bidders", v.Stats.Total, v.Stats.Quick, v.Stats.Bidders), false)
	}

	if len(a.ImageURLs) > 0 {
		builder.SetImage(a.ImageURLs[0])
	}
	if a.Extensions > 0 {
		builder.SetFooterText(fmt.Sprintf("Extended %d× by late bids", a.Extensions))
	}

	return builder.Build()
}

// AuctionComponents returns the bid buttons, or nothing once bidding is over.
func AuctionComponents(a *models.Auction, now time.Time) []discord.ContainerComponent {
	if !a.IsActive(now) {
		return []discord.ContainerComponent{}
	}

	buttons := []discord.InteractiveComponent{
		discord.NewPrimaryButton(
			fmt.Sprintf("Quick Bid (%s)", utils.FormatAmount(a.MinimumBid())),
			components.Action{Kind: components.ActionQuickBid, AuctionID: a.ID}.CustomID()),
		discord.NewSuccessButton("Custom Bid",
			components.Action{Kind: components.ActionCustomBid, AuctionID: a.ID}.CustomID()),
	}
	if len(a.ImageURLs) > 1 {
		buttons = append(buttons, discord.NewSecondaryButton(
			fmt.Sprintf("Images (%d)", len(a.ImageURLs)),
			components.Action{Kind: components.ActionImages, AuctionID: a.ID}.CustomID()))
	}
	return []discord.ContainerComponent{discord.NewActionRow(buttons...)}
}

// ImageEmbed shows one image of the auction gallery.
func ImageEmbed(a *models.Auction, index int) discord.Embed {
	return discord.NewEmbedBuilder().
		SetTitle(fmt.Sprintf("Auction #%d: %s", a.ID, a.Title)).
		SetImage(a.ImageURLs[index]).
		SetFooterText(fmt.Sprintf("Image %d of %d", index+1, len(a.ImageURLs))).
		SetColor(config.InfoColor).
		Build()
}

func ImageComponents(auctionID int64, index, total int) []discord.ContainerComponent {
	return []discord.ContainerComponent{
		discord.NewActionRow(
			discord.NewSecondaryButton("◀ Previous",
				components.Action{Kind: components.ActionImagePrev, AuctionID: auctionID}.CustomID()).
				WithDisabled(index <= 0),
			discord.NewSecondaryButton("Next ▶",
				components.Action{Kind: components.ActionImageNext, AuctionID: auctionID}.CustomID()).
				WithDisabled(index >= total-1),
		),
	}
}

package commands

import (
	"errors"
	"fmt"

	"github.com/disgoorg/auction-bot/auctionbot/config"
	"github.com/disgoorg/auction-bot/auctionbot/economy/auction"
	"github.com/disgoorg/auction-bot/auctionbot/utils"
	"github.com/disgoorg/disgo/discord"
)

var Commands = []discord.ApplicationCommandCreate{
	AuctionCommand,
}

func intPtr(v int) *int {
	return &v
}

// userMessage turns a service error into the text shown to the user. The
// second value is false for errors the user cannot act on.
func userMessage(err error) (string, bool) {
	var (
		validation *auction.ValidationError
		tooLow     *auction.BidTooLowError
		cooldown   *auction.CooldownError
	)

	switch {
	case errors.As(err, &validation):
		return fmt.Sprintf("❌ The %s %s.", validation.Field, validation.Reason), true
	case errors.As(err, &tooLow):
		return fmt.Sprintf("❌ Your bid is too low. The minimum bid is **%s**.", utils.FormatAmount(tooLow.Minimum)), true
	case errors.As(err, &cooldown):
		return fmt.Sprintf("⏳ Slow down! You can bid again in %.1fs.", cooldown.Remaining.Seconds()), true
	case errors.Is(err, auction.ErrNotFound):
		return "❌ That auction does not exist.", true
	case errors.Is(err, auction.ErrAuctionNotActive):
		return "❌ This auction is no longer active.", true
	case errors.Is(err, auction.ErrSelfBid):
		return "❌ You cannot bid on your own auction.", true
	case errors.Is(err, auction.ErrBidInProgress):
		return "⏳ Your previous bid is still being processed.", true
	default:
		return "❌ Something went wrong. Please try again.", false
	}
}

func ephemeral(content string) discord.MessageCreate {
	return discord.MessageCreate{
		Content: content,
		Flags:   discord.MessageFlagEphemeral,
	}
}

func errorEmbed(description string) discord.MessageCreate {
	return discord.MessageCreate{
		Embeds: []discord.Embed{
			discord.NewEmbedBuilder().
				SetDescription(description).
				SetColor(config.ErrorColor).
				Build(),
		},
		Flags: discord.MessageFlagEphemeral,
	}
}

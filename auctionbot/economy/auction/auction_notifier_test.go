package auction

import (
	"context"
	"testing"
	"time"

	"github.com/disgoorg/auction-bot/auctionbot/database/models"
	"github.com/disgoorg/snowflake/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageRef(t *testing.T) {
	channelID, messageID, err := messageRef(&models.Auction{ChannelID: "123", MessageID: "456"})
	require.NoError(t, err)
	assert.Equal(t, snowflake.ID(123), channelID)
	assert.Equal(t, snowflake.ID(456), messageID)

	_, _, err = messageRef(&models.Auction{ChannelID: "123"})
	assert.Error(t, err)
}

func TestDiscordNotifier_UnknownEvent(t *testing.T) {
	n := NewDiscordNotifier(nil, nil, nil, time.Second)
	err := n.Notify(context.Background(), Event{Kind: EventKind(99), Auction: &models.Auction{ID: 1}})
	assert.Error(t, err)
}

func TestDiscordNotifier_ThrottlesRedraws(t *testing.T) {
	n := NewDiscordNotifier(nil, nil, nil, time.Hour)
	now := time.Now()
	n.now = func() time.Time { return now }

	a := &models.Auction{ID: 7, ChannelID: "1", MessageID: "2", CurrentPrice: 100}
	n.lastEdit[a.ID] = now

	require.NoError(t, n.onBidPlaced(context.Background(), Event{Kind: EventBidPlaced, Auction: a}))

	newer := a.Clone()
	newer.CurrentPrice = 150
	require.NoError(t, n.onBidPlaced(context.Background(), Event{Kind: EventBidPlaced, Auction: newer}))

	n.mu.Lock()
	pending := n.pending[a.ID]
	n.mu.Unlock()
	require.NotNil(t, pending)
	assert.Equal(t, int64(150), pending.CurrentPrice)

	n.forget(a.ID)
	n.flush(a.ID)

	n.mu.Lock()
	defer n.mu.Unlock()
	assert.Empty(t, n.pending)
	assert.Empty(t, n.lastEdit)
}

func TestDiscordNotifier_SkipsAuctionsWithoutMessage(t *testing.T) {
	n := NewDiscordNotifier(nil, nil, nil, time.Second)
	err := n.onBidPlaced(context.Background(), Event{Kind: EventBidPlaced, Auction: &models.Auction{ID: 3}})
	assert.NoError(t, err)
	assert.Empty(t, n.lastEdit)
}

func TestDiscordNotifier_NoRedrawAfterClose(t *testing.T) {
	n := NewDiscordNotifier(nil, nil, nil, time.Hour)
	a := &models.Auction{ID: 9, ChannelID: "1", MessageID: "2", CurrentPrice: 100}

	n.forget(a.ID)

	// A flush that picked up its state before the auction closed.
	n.mu.Lock()
	n.pending[a.ID] = a
	n.mu.Unlock()
	assert.NotPanics(t, func() { n.flush(a.ID) })

	// A bid event that arrives after the close.
	assert.NotPanics(t, func() {
		require.NoError(t, n.onBidPlaced(context.Background(), Event{Kind: EventBidPlaced, Auction: a}))
	})
	require.NoError(t, n.redrawOpen(context.Background(), a))

	n.mu.Lock()
	defer n.mu.Unlock()
	assert.Empty(t, n.pending)
	assert.Empty(t, n.lastEdit)
	assert.Contains(t, n.closed, a.ID)
}

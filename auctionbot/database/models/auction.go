package models

import (
	"math"
	"time"

	"github.com/uptrace/bun"
)

type AuctionStatus string

const (
	AuctionStatusActive    AuctionStatus = "active"
	AuctionStatusEnded     AuctionStatus = "ended"
	AuctionStatusCancelled AuctionStatus = "cancelled"
)

type Auction struct {
	bun.BaseModel `bun:"table:auctions,alias:a"`

	ID              int64         `bun:"id,pk,autoincrement"`
	GuildID         string        `bun:"guild_id,notnull"`
	ChannelID       string        `bun:"channel_id,notnull"`
	MessageID       string        `bun:"message_id"`
	CreatorID       string        `bun:"creator_id,notnull"`
	Title           string        `bun:"title,notnull"`
	Description     string        `bun:"description"`
	StartingPrice   int64         `bun:"starting_price,notnull"`
	CurrentPrice    int64         `bun:"current_price,notnull"`
	MinIncrement    int64         `bun:"min_increment,notnull"`
	PaymentMaterial string        `bun:"payment_material"`
	ImageURLs       []string      `bun:"image_urls"`
	HighestBidderID string        `bun:"highest_bidder_id"`
	WinnerID        string        `bun:"winner_id"`
	Status          AuctionStatus `bun:"status,notnull"`
	BidCount        int           `bun:"bid_count,notnull"`
	Extensions      int           `bun:"extensions,notnull"`
	EndTime         time.Time     `bun:"end_time,notnull"`

	CreatedAt time.Time `bun:"created_at,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

// IsActive reports whether the auction still accepts bids at now.
func (a *Auction) IsActive(now time.Time) bool {
	return a.Status == AuctionStatusActive && now.Before(a.EndTime)
}

// HasBids reports whether anyone has bid yet.
func (a *Auction) HasBids() bool {
	return a.HighestBidderID != ""
}

// MinimumBid is the lowest amount a new bid must reach. It saturates at
// math.MaxInt64 instead of wrapping.
func (a *Auction) MinimumBid() int64 {
	if a.MinIncrement > 0 && a.CurrentPrice > math.MaxInt64-a.MinIncrement {
		return math.MaxInt64
	}
	return a.CurrentPrice + a.MinIncrement
}

// Clone returns a copy that can be handed out without sharing the image slice.
func (a *Auction) Clone() *Auction {
	c := *a
	c.ImageURLs = append([]string(nil), a.ImageURLs...)
	return &c
}

type Bid struct {
	bun.BaseModel `bun:"table:bids,alias:b"`

	ID        int64     `bun:"id,pk,autoincrement"`
	AuctionID int64     `bun:"auction_id,notnull"`
	BidderID  string    `bun:"bidder_id,notnull"`
	Amount    int64     `bun:"amount,notnull"`
	Quick     bool      `bun:"quick,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull"`
}

// BidStats summarises the bid history of one auction.
type BidStats struct {
	Total   int   `bun:"total"`
	Quick   int   `bun:"quick"`
	Bidders int   `bun:"bidders"`
	Highest int64 `bun:"highest"`
}

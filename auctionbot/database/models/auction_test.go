package models

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAuction_IsActive(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		auction Auction
		want    bool
	}{
		{name: "running", auction: Auction{Status: AuctionStatusActive, EndTime: now.Add(time.Minute)}, want: true},
		{name: "past end time", auction: Auction{Status: AuctionStatusActive, EndTime: now.Add(-time.Second)}, want: false},
		{name: "exactly at end time", auction: Auction{Status: AuctionStatusActive, EndTime: now}, want: false},
		{name: "ended", auction: Auction{Status: AuctionStatusEnded, EndTime: now.Add(time.Minute)}, want: false},
		{name: "cancelled", auction: Auction{Status: AuctionStatusCancelled, EndTime: now.Add(time.Minute)}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.auction.IsActive(now); got != tt.want {
				t.Errorf("Auction.IsActive() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAuction_Clone(t *testing.T) {
	a := &Auction{ID: 1, ImageURLs: []string{"a.png"}}
	c := a.Clone()
	c.ImageURLs[0] = "b.png"

	assert.Equal(t, "a.png", a.ImageURLs[0])
	assert.Equal(t, int64(101), (&Auction{CurrentPrice: 100, MinIncrement: 1}).MinimumBid())
}

func TestAuction_MinimumBidSaturates(t *testing.T) {
	tests := []struct {
		name    string
		auction Auction
		want    int64
	}{
		{name: "regular", auction: Auction{CurrentPrice: 100, MinIncrement: 5}, want: 105},
		{name: "at the limit", auction: Auction{CurrentPrice: math.MaxInt64 - 1, MinIncrement: 1}, want: math.MaxInt64},
		{name: "past the limit", auction: Auction{CurrentPrice: math.MaxInt64, MinIncrement: 1}, want: math.MaxInt64},
		{name: "large increment", auction: Auction{CurrentPrice: math.MaxInt64 / 2, MinIncrement: math.MaxInt64}, want: math.MaxInt64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.auction.MinimumBid()
			assert.Equal(t, tt.want, got)
			assert.Greater(t, got, int64(0))
		})
	}
}

func TestAuction_HasBids(t *testing.T) {
	assert.False(t, (&Auction{}).HasBids())
	assert.True(t, (&Auction{HighestBidderID: "alice"}).HasBids())
}

package auction

import (
	"sync"
	"time"
)

type BidKind int

const (
	BidCustom BidKind = iota
	BidQuick
)

func (k BidKind) String() string {
	if k == BidQuick {
		return "quick"
	}
	return "custom"
}

type cooldownKey struct {
	bidderID  string
	auctionID int64
}

// Cooldowns tracks the last accepted bid of each bidder on each auction.
// Quick bids and custom bids wait different amounts of time.
type Cooldowns struct {
	last      sync.Map // cooldownKey -> time.Time
	durations map[BidKind]time.Duration
}

func NewCooldowns(custom, quick time.Duration) *Cooldowns {
	return &Cooldowns{
		durations: map[BidKind]time.Duration{
			BidCustom: custom,
			BidQuick:  quick,
		},
	}
}

// Check reports whether bidderID may bid on auctionID at now, and otherwise
// how long is left.
func (c *Cooldowns) Check(bidderID string, auctionID int64, kind BidKind, now time.Time) (time.Duration, bool) {
	v, ok := c.last.Load(cooldownKey{bidderID, auctionID})
	if !ok {
		return 0, true
	}
	ready := v.(time.Time).Add(c.durations[kind])
	if now.Before(ready) {
		return ready.Sub(now), false
	}
	return 0, true
}

func (c *Cooldowns) Record(bidderID string, auctionID int64, at time.Time) {
	c.last.Store(cooldownKey{bidderID, auctionID}, at)
}

// Forget drops every entry for a closed auction.
func (c *Cooldowns) Forget(auctionID int64) {
	c.last.Range(func(key, _ any) bool {
		if key.(cooldownKey).auctionID == auctionID {
			c.last.Delete(key)
		}
		return true
	})
}

// Sweep removes entries whose longest cooldown has elapsed.
func (c *Cooldowns) Sweep(now time.Time) int {
	longest := c.durations[BidCustom]
	if c.durations[BidQuick] > longest {
		longest = c.durations[BidQuick]
	}

	removed := 0
	c.last.Range(func(key, value any) bool {
		if !now.Before(value.(time.Time).Add(longest)) {
			c.last.Delete(key)
			removed++
		}
		return true
	})
	return removed
}

func (c *Cooldowns) Len() int {
	n := 0
	c.last.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

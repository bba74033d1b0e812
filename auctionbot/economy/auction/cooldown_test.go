package auction

import (
	"testing"
	"time"
)

func TestCooldowns_Check(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewCooldowns(time.Second, 500*time.Millisecond)
	c.Record("alice", 1, base)

	tests := []struct {
		name          string
		bidder        string
		auction       int64
		kind          BidKind
		at            time.Duration
		wantOK        bool
		wantRemaining time.Duration
	}{
		{name: "custom inside window", bidder: "alice", auction: 1, kind: BidCustom, at: 400 * time.Millisecond, wantOK: false, wantRemaining: 600 * time.Millisecond},
		{name: "quick inside window", bidder: "alice", auction: 1, kind: BidQuick, at: 400 * time.Millisecond, wantOK: false, wantRemaining: 100 * time.Millisecond},
		{name: "quick after its window", bidder: "alice", auction: 1, kind: BidQuick, at: 500 * time.Millisecond, wantOK: true},
		{name: "custom after its window", bidder: "alice", auction: 1, kind: BidCustom, at: time.Second, wantOK: true},
		{name: "other auction unaffected", bidder: "alice", auction: 2, kind: BidCustom, at: 0, wantOK: true},
		{name: "other bidder unaffected", bidder: "bob", auction: 1, kind: BidCustom, at: 0, wantOK: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			remaining, ok := c.Check(tt.bidder, tt.auction, tt.kind, base.Add(tt.at))
			if ok != tt.wantOK {
				t.Errorf("Cooldowns.Check() ok = %v, want %v", ok, tt.wantOK)
			}
			if remaining != tt.wantRemaining {
				t.Errorf("Cooldowns.Check() remaining = %v, want %v", remaining, tt.wantRemaining)
			}
		})
	}
}

func TestCooldowns_SweepAndForget(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewCooldowns(time.Second, 500*time.Millisecond)
	c.Record("alice", 1, base)
	c.Record("bob", 1, base.Add(900*time.Millisecond))
	c.Record("carol", 2, base)

	if got := c.Sweep(base.Add(time.Second)); got != 2 {
		t.Errorf("Cooldowns.Sweep() = %d, want 2", got)
	}
	if got := c.Len(); got != 1 {
		t.Errorf("Cooldowns.Len() = %d, want 1", got)
	}

	c.Forget(1)
	if got := c.Len(); got != 0 {
		t.Errorf("Cooldowns.Len() after Forget = %d, want 0", got)
	}
}

package components

import (
	"reflect"
	"testing"
)

func TestParseCustomID(t *testing.T) {
	tests := []struct {
		name     string
		customID string
		want     Action
		wantErr  bool
	}{
		{name: "quick bid", customID: "/auction/quick/12", want: Action{Kind: ActionQuickBid, AuctionID: 12}},
		{name: "custom bid", customID: "/auction/custom/7", want: Action{Kind: ActionCustomBid, AuctionID: 7}},
		{name: "images", customID: "/auction/images/3", want: Action{Kind: ActionImages, AuctionID: 3}},
		{name: "next", customID: "/auction/next/3", want: Action{Kind: ActionImageNext, AuctionID: 3}},
		{name: "wrong prefix", customID: "/claim/quick/1", wantErr: true},
		{name: "unknown action", customID: "/auction/sell/1", wantErr: true},
		{name: "missing id", customID: "/auction/quick", wantErr: true},
		{name: "bad id", customID: "/auction/quick/abc", wantErr: true},
		{name: "negative id", customID: "/auction/quick/-1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCustomID(tt.customID)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseCustomID() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseCustomID() got = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestActionCustomIDRoundTrip(t *testing.T) {
	for kind := range actionNames {
		a := Action{Kind: kind, AuctionID: 42}
		got, err := ParseCustomID(a.CustomID())
		if err != nil {
			t.Fatalf("ParseCustomID(%q) error = %v", a.CustomID(), err)
		}
		if got != a {
			t.Errorf("round trip of %v gave %v", a, got)
		}
	}
}

func TestBidModalID(t *testing.T) {
	id, err := ParseBidModalID(BidModalID(99))
	if err != nil || id != 99 {
		t.Errorf("ParseBidModalID() = %d, %v", id, err)
	}
	if _, err = ParseBidModalID("/auction/quick/99"); err == nil {
		t.Error("ParseBidModalID() accepted a button id")
	}
}

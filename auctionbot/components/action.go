// Package components encodes the buttons and modals attached to auction
// messages into custom ids and decodes them back.
package components

import (
	"fmt"
	"strconv"
	"strings"
)

type ActionKind int

const (
	ActionQuickBid ActionKind = iota + 1
	ActionCustomBid
	ActionImages
	ActionImagePrev
	ActionImageNext
)

var actionNames = map[ActionKind]string{
	ActionQuickBid:  "quick",
	ActionCustomBid: "custom",
	ActionImages:    "images",
	ActionImagePrev: "prev",
	ActionImageNext: "next",
}

var actionsByName = func() map[string]ActionKind {
	m := make(map[string]ActionKind, len(actionNames))
	for kind, name := range actionNames {
		m[name] = kind
	}
	return m
}()

func (k ActionKind) String() string {
	if name, ok := actionNames[k]; ok {
		return name
	}
	return "unknown"
}

const (
	// ComponentPrefix starts every auction button custom id.
	ComponentPrefix = "/auction/"
	// ModalPrefix starts every custom bid modal custom id.
	ModalPrefix = "/auction-bid/"
	// BidAmountInput is the text input id inside the custom bid modal.
	BidAmountInput = "amount"
)

// Action is a decoded button press on an auction message.
type Action struct {
	Kind      ActionKind
	AuctionID int64
}

// CustomID encodes the action as "/auction/<kind>/<auction id>".
func (a Action) CustomID() string {
	return fmt.Sprintf("%s%s/%d", ComponentPrefix, a.Kind, a.AuctionID)
}

func ParseCustomID(customID string) (Action, error) {
	rest, ok := strings.CutPrefix(customID, ComponentPrefix)
	if !ok {
		return Action{}, fmt.Errorf("custom id %q is not an auction component", customID)
	}

	parts := strings.Split(rest, "/")
	if len(parts) != 2 {
		return Action{}, fmt.Errorf("malformed auction custom id %q", customID)
	}

	kind, ok := actionsByName[parts[0]]
	if !ok {
		return Action{}, fmt.Errorf("unknown auction action %q", parts[0])
	}

	auctionID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || auctionID <= 0 {
		return Action{}, fmt.Errorf("invalid auction id in %q", customID)
	}
	return Action{Kind: kind, AuctionID: auctionID}, nil
}

func BidModalID(auctionID int64) string {
	return ModalPrefix + strconv.FormatInt(auctionID, 10)
}

func ParseBidModalID(customID string) (int64, error) {
	rest, ok := strings.CutPrefix(customID, ModalPrefix)
	if !ok {
		return 0, fmt.Errorf("custom id %q is not a bid modal", customID)
	}
	auctionID, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || auctionID <= 0 {
		return 0, fmt.Errorf("invalid auction id in %q", customID)
	}
	return auctionID, nil
}

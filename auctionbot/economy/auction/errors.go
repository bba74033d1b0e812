package auction

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound         = errors.New("auction not found")
	ErrAuctionNotActive = errors.New("auction is not active")
	ErrSelfBid          = errors.New("you cannot bid on your own auction")
	ErrBidInProgress    = errors.New("a previous bid is still being processed")
)

// ValidationError rejects malformed create or bid input before any state changes.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// BidTooLowError carries the smallest amount that would have been accepted.
type BidTooLowError struct {
	Amount  int64
	Minimum int64
}

func (e *BidTooLowError) Error() string {
	return fmt.Sprintf("bid of %d is too low, minimum is %d", e.Amount, e.Minimum)
}

// CooldownError means the bidder must wait Remaining before bidding again on this auction.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("bid cooldown active, retry in %s", e.Remaining.Round(10*time.Millisecond))
}

// DuplicateScheduleError is returned when a live timer already exists for the auction.
type DuplicateScheduleError struct {
	AuctionID int64
	FireAt    time.Time
}

func (e *DuplicateScheduleError) Error() string {
	return fmt.Sprintf("auction %d already has a timer firing at %s", e.AuctionID, e.FireAt.Format(time.RFC3339))
}

// NotificationError wraps a failed delivery. It is logged and never rolls back state.
type NotificationError struct {
	Kind      EventKind
	AuctionID int64
	Err       error
}

func (e *NotificationError) Error() string {
	return fmt.Sprintf("failed to deliver %s notification for auction %d: %v", e.Kind, e.AuctionID, e.Err)
}

func (e *NotificationError) Unwrap() error {
	return e.Err
}

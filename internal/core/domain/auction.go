package domain

import (
	"time"
)

type AuctionStatus string

const (
	AuctionActive AuctionStatus = "active"
	AuctionEnded  AuctionStatus = "ended"
)

// Auction is a single timed sale running on top of a stream session.
// CurrentPrice and CurrentLeaderID are mutated only through the store's
// conditional bid-apply primitive, never by direct writes.
type Auction struct {
	ID              AuctionID     `json:"id"`
	SessionID       SessionID     `json:"session_id"`
	ProductID       ProductID     `json:"product_id"`
	StartingPrice   int64         `json:"starting_price"`
	CurrentPrice    int64         `json:"current_price"`
	CurrentLeaderID UserID        `json:"current_leader_id,omitempty"`
	Status          AuctionStatus `json:"status"`
	// DeadlineAt is the authoritative end of bidding. Clients derive the
	// remaining time from it rather than running their own countdowns.
	DeadlineAt time.Time `json:"deadline_at"`
	WinnerID   UserID    `json:"winner_id,omitempty"`
	WinningBid int64     `json:"winning_bid,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func (a *Auction) IsActive() bool {
	return a.Status == AuctionActive
}

// Remaining reports the time left until the deadline at the given instant,
// clamped at zero.
func (a *Auction) Remaining(now time.Time) time.Duration {
	if !now.Before(a.DeadlineAt) {
		return 0
	}
	return a.DeadlineAt.Sub(now)
}

// Bid is one accepted ledger entry. The ledger is append-only; amounts for a
// given auction are non-decreasing in insertion order.
type Bid struct {
	ID        BidID     `json:"id"`
	AuctionID AuctionID `json:"auction_id"`
	BidderID  UserID    `json:"bidder_id"`
	Amount    int64     `json:"amount"`
	Delta     int64     `json:"delta"`
	CreatedAt time.Time `json:"created_at"`
}

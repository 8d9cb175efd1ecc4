package ports

import (
	"context"

	"livebid/internal/core/domain"
)

type SessionRepository interface {
	Create(ctx context.Context, session *domain.StreamSession) error
	GetByID(ctx context.Context, id domain.SessionID) (*domain.StreamSession, error)
	// Activate flips the session to active while reserving the publisher's
	// one-active-session slot. Returns domain.ErrAlreadyPublishing when the
	// publisher already holds an active session.
	Activate(ctx context.Context, session *domain.StreamSession) error
	// End flips the session to ended and releases the publisher's slot.
	End(ctx context.Context, session *domain.StreamSession) error
}

type AuctionRepository interface {
	// Create writes a new active auction. Returns domain.ErrAuctionActive
	// when the session already has one.
	Create(ctx context.Context, auction *domain.Auction) error
	GetByID(ctx context.Context, id domain.AuctionID) (*domain.Auction, error)
	GetActiveBySession(ctx context.Context, sessionID domain.SessionID) (*domain.Auction, error)
	ListActive(ctx context.Context) ([]*domain.Auction, error)
	// ApplyBid atomically compares the auction's current price against
	// expectedPrice and, only on match, updates price and leader and appends
	// the bid to the ledger. Returns domain.ErrStalePrice on mismatch and
	// domain.ErrAuctionEnded once the auction is no longer active. This is
	// the only write path for CurrentPrice, CurrentLeaderID and the ledger.
	ApplyBid(ctx context.Context, auctionID domain.AuctionID, expectedPrice int64, bid *domain.Bid) error
	// MarkEnded atomically flips the auction to ended. The boolean reports
	// whether this call performed the flip; a second caller racing the same
	// resolution sees false.
	MarkEnded(ctx context.Context, auctionID domain.AuctionID) (bool, error)
	RecordWinner(ctx context.Context, auctionID domain.AuctionID, winnerID domain.UserID, amount int64) error
}

// BidLedger is the read side of the append-only bid record. Inserts happen
// exclusively through AuctionRepository.ApplyBid so that the ledger can never
// disagree with the auction's current price.
type BidLedger interface {
	Max(ctx context.Context, auctionID domain.AuctionID) (*domain.Bid, error)
	Count(ctx context.Context, auctionID domain.AuctionID) (int64, error)
}

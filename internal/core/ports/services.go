package ports

import (
	"context"

	"livebid/internal/core/domain"
)

type SessionService interface {
	CreateSession(ctx context.Context, publisherID domain.UserID, orientation domain.Orientation) (*domain.StreamSession, error)
	GetSession(ctx context.Context, id domain.SessionID) (*domain.StreamSession, error)
	StartPublishing(ctx context.Context, id domain.SessionID, publisherID domain.UserID) (*domain.StreamSession, error)
	StopPublishing(ctx context.Context, id domain.SessionID, publisherID domain.UserID) error
}

type AuctionService interface {
	StartAuction(ctx context.Context, sessionID domain.SessionID, publisherID domain.UserID, productID domain.ProductID, startingPrice int64) (*domain.Auction, error)
	// PlaceBid applies a positive delta on top of the authoritative current
	// price. A stale compare-and-set is retried against the fresh price up
	// to the configured attempt budget before ErrStalePrice reaches the
	// caller.
	PlaceBid(ctx context.Context, auctionID domain.AuctionID, bidderID domain.UserID, delta int64) (*domain.Auction, error)
	EndAuction(ctx context.Context, auctionID domain.AuctionID, publisherID domain.UserID) (*domain.Auction, error)
	// EndActiveForSession force-resolves the session's active auction, if
	// any. Used when a session stops while an auction is still running.
	EndActiveForSession(ctx context.Context, sessionID domain.SessionID) error
	GetAuction(ctx context.Context, id domain.AuctionID) (*domain.Auction, error)
	// ResumeTimers re-arms deadline timers for auctions that were active
	// when the process last stopped.
	ResumeTimers(ctx context.Context) error
}

// Presence tracks topic membership for viewer-count display. It is never
// consulted for correctness-critical decisions.
type Presence interface {
	Join(ctx context.Context, sessionID domain.SessionID, clientID domain.ViewerID) error
	Leave(ctx context.Context, sessionID domain.SessionID, clientID domain.ViewerID) error
	Count(ctx context.Context, sessionID domain.SessionID) (int64, error)
}

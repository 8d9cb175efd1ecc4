package domain

import "errors"

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionNotActive  = errors.New("session not active")
	ErrAlreadyPublishing = errors.New("publisher already has an active session")
	ErrNotSessionOwner   = errors.New("caller does not own this session")

	ErrAuctionNotFound  = errors.New("auction not found")
	ErrAuctionActive    = errors.New("an auction is already active for this session")
	ErrAuctionEnded     = errors.New("auction already ended")
	ErrDeadlinePassed   = errors.New("bidding deadline has passed")
	ErrInvalidDelta     = errors.New("bid delta must be positive")
	ErrStalePrice       = errors.New("bid computed against a stale price")
	ErrStoreUnavailable = errors.New("durable store unavailable")

	ErrLinkClosed  = errors.New("peer link closed")
	ErrUnreachable = errors.New("stream unreachable")
)

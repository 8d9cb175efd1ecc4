package memory

import (
	"context"
	"sync"

	"livebid/internal/core/domain"
	"livebid/internal/core/ports"
)

// AuctionRepository keeps auctions and the bid ledger in process memory with
// the same conditional-update semantics as the Redis implementation: the
// price compare-and-set and the ledger append happen under one lock, so a
// stale bid can never corrupt the price or slip into the ledger.
type AuctionRepository struct {
	mu       sync.Mutex
	auctions map[domain.AuctionID]*domain.Auction
	bySess   map[domain.SessionID]domain.AuctionID
	ledger   map[domain.AuctionID][]*domain.Bid
}

func NewAuctionRepository() *AuctionRepository {
	return &AuctionRepository{
		auctions: make(map[domain.AuctionID]*domain.Auction),
		bySess:   make(map[domain.SessionID]domain.AuctionID),
		ledger:   make(map[domain.AuctionID][]*domain.Bid),
	}
}

func (r *AuctionRepository) Create(ctx context.Context, auction *domain.Auction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.bySess[auction.SessionID]; ok {
		return domain.ErrAuctionActive
	}
	r.bySess[auction.SessionID] = auction.ID

	copied := *auction
	r.auctions[auction.ID] = &copied
	return nil
}

func (r *AuctionRepository) GetByID(ctx context.Context, id domain.AuctionID) (*domain.Auction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	auction, ok := r.auctions[id]
	if !ok {
		return nil, domain.ErrAuctionNotFound
	}
	copied := *auction
	return &copied, nil
}

func (r *AuctionRepository) GetActiveBySession(ctx context.Context, sessionID domain.SessionID) (*domain.Auction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.bySess[sessionID]
	if !ok {
		return nil, domain.ErrAuctionNotFound
	}
	copied := *r.auctions[id]
	return &copied, nil
}

func (r *AuctionRepository) ListActive(ctx context.Context) ([]*domain.Auction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var auctions []*domain.Auction
	for _, auction := range r.auctions {
		if auction.IsActive() {
			copied := *auction
			auctions = append(auctions, &copied)
		}
	}
	return auctions, nil
}

func (r *AuctionRepository) ApplyBid(ctx context.Context, auctionID domain.AuctionID, expectedPrice int64, bid *domain.Bid) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	auction, ok := r.auctions[auctionID]
	if !ok {
		return domain.ErrAuctionNotFound
	}
	if !auction.IsActive() {
		return domain.ErrAuctionEnded
	}
	if auction.CurrentPrice != expectedPrice {
		return domain.ErrStalePrice
	}

	auction.CurrentPrice = bid.Amount
	auction.CurrentLeaderID = bid.BidderID

	copied := *bid
	r.ledger[auctionID] = append(r.ledger[auctionID], &copied)
	return nil
}

func (r *AuctionRepository) MarkEnded(ctx context.Context, auctionID domain.AuctionID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	auction, ok := r.auctions[auctionID]
	if !ok {
		return false, domain.ErrAuctionNotFound
	}
	if !auction.IsActive() {
		return false, nil
	}

	auction.Status = domain.AuctionEnded
	if id, ok := r.bySess[auction.SessionID]; ok && id == auctionID {
		delete(r.bySess, auction.SessionID)
	}
	return true, nil
}

func (r *AuctionRepository) RecordWinner(ctx context.Context, auctionID domain.AuctionID, winnerID domain.UserID, amount int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	auction, ok := r.auctions[auctionID]
	if !ok {
		return domain.ErrAuctionNotFound
	}
	auction.WinnerID = winnerID
	auction.WinningBid = amount
	return nil
}

func (r *AuctionRepository) Max(ctx context.Context, auctionID domain.AuctionID) (*domain.Bid, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var max *domain.Bid
	for _, bid := range r.ledger[auctionID] {
		if max == nil || bid.Amount > max.Amount {
			max = bid
		}
	}
	if max == nil {
		return nil, nil
	}
	copied := *max
	return &copied, nil
}

func (r *AuctionRepository) Count(ctx context.Context, auctionID domain.AuctionID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.ledger[auctionID])), nil
}

var _ ports.AuctionRepository = (*AuctionRepository)(nil)
var _ ports.BidLedger = (*AuctionRepository)(nil)

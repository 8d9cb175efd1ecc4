package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"livebid/internal/core/domain"
	"livebid/internal/core/ports"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Locker serializes coordinator-side critical sections (auction start,
// winner resolution) across processes. The bid path does not use it: bids
// are serialized by the store's compare-and-set, not by any lock.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func() error) error
}

// NopLocker is used with the in-memory store, where the repository mutex
// already provides the needed exclusion.
type NopLocker struct{}

func (NopLocker) WithLock(ctx context.Context, key string, fn func() error) error {
	return fn()
}

// AuctionConfig carries the product-chosen timing knobs.
type AuctionConfig struct {
	Duration      time.Duration
	BidRetryLimit int
}

type auctionService struct {
	auctionRepo ports.AuctionRepository
	ledger      ports.BidLedger
	sessionRepo ports.SessionRepository
	bus         ports.SignalBus
	locker      Locker
	metrics     Metrics
	cfg         AuctionConfig
	logger      *zap.SugaredLogger

	mu     sync.Mutex
	timers map[domain.AuctionID]*time.Timer
}

func NewAuctionService(
	auctionRepo ports.AuctionRepository,
	ledger ports.BidLedger,
	sessionRepo ports.SessionRepository,
	bus ports.SignalBus,
	locker Locker,
	metrics Metrics,
	cfg AuctionConfig,
	logger *zap.SugaredLogger,
) ports.AuctionService {
	return &auctionService{
		auctionRepo: auctionRepo,
		ledger:      ledger,
		sessionRepo: sessionRepo,
		bus:         bus,
		locker:      locker,
		metrics:     metrics,
		cfg:         cfg,
		logger:      logger,
		timers:      make(map[domain.AuctionID]*time.Timer),
	}
}

func (s *auctionService) StartAuction(ctx context.Context, sessionID domain.SessionID, publisherID domain.UserID, productID domain.ProductID, startingPrice int64) (*domain.Auction, error) {
	session, err := s.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.PublisherID != publisherID {
		return nil, domain.ErrNotSessionOwner
	}
	if !session.IsActive() {
		return nil, domain.ErrSessionNotActive
	}
	if startingPrice < 0 {
		return nil, fmt.Errorf("starting price must be >= 0")
	}

	now := time.Now()
	auction := &domain.Auction{
		ID:            domain.AuctionID(uuid.NewString()),
		SessionID:     sessionID,
		ProductID:     productID,
		StartingPrice: startingPrice,
		CurrentPrice:  startingPrice,
		Status:        domain.AuctionActive,
		DeadlineAt:    now.Add(s.cfg.Duration),
		CreatedAt:     now,
	}

	err = s.locker.WithLock(ctx, "livebid:lock:auction:"+string(sessionID), func() error {
		if _, err := s.auctionRepo.GetActiveBySession(ctx, sessionID); err == nil {
			return domain.ErrAuctionActive
		} else if !errors.Is(err, domain.ErrAuctionNotFound) {
			return err
		}
		return s.auctionRepo.Create(ctx, auction)
	})
	if err != nil {
		return nil, err
	}

	s.armTimer(auction)
	s.broadcastState(ctx, auction)
	s.metrics.AuctionStarted()

	s.logger.Infow("auction started",
		"auction_id", auction.ID,
		"session_id", sessionID,
		"product_id", productID,
		"starting_price", startingPrice,
		"deadline_at", auction.DeadlineAt,
	)
	return auction, nil
}

func (s *auctionService) PlaceBid(ctx context.Context, auctionID domain.AuctionID, bidderID domain.UserID, delta int64) (*domain.Auction, error) {
	if delta <= 0 {
		return nil, domain.ErrInvalidDelta
	}

	start := time.Now()

	// Read-price/compare-and-set loop. A stale attempt means another bidder
	// advanced the price first; the delta is re-applied on top of the fresh
	// price rather than dropped.
	for attempt := 0; attempt < s.cfg.BidRetryLimit; attempt++ {
		auction, err := s.auctionRepo.GetByID(ctx, auctionID)
		if err != nil {
			return nil, err
		}
		if !auction.IsActive() {
			return nil, domain.ErrAuctionEnded
		}
		if !time.Now().Before(auction.DeadlineAt) {
			// The timer will resolve momentarily; make sure it does even
			// if this process armed no timer for the auction.
			go s.resolveLater(auctionID)
			return nil, domain.ErrDeadlinePassed
		}

		bid := &domain.Bid{
			ID:        domain.BidID(uuid.NewString()),
			AuctionID: auctionID,
			BidderID:  bidderID,
			Amount:    auction.CurrentPrice + delta,
			Delta:     delta,
			CreatedAt: time.Now(),
		}

		err = s.auctionRepo.ApplyBid(ctx, auctionID, auction.CurrentPrice, bid)
		if err == nil {
			updated, err := s.auctionRepo.GetByID(ctx, auctionID)
			if err != nil {
				return nil, err
			}
			s.broadcastState(ctx, updated)
			s.metrics.BidAccepted(time.Since(start))

			s.logger.Infow("bid accepted",
				"auction_id", auctionID,
				"bidder_id", bidderID,
				"amount", bid.Amount,
				"delta", delta,
			)
			return updated, nil
		}
		if errors.Is(err, domain.ErrStalePrice) {
			s.metrics.BidStale()
			continue
		}
		return nil, err
	}

	return nil, domain.ErrStalePrice
}

func (s *auctionService) EndAuction(ctx context.Context, auctionID domain.AuctionID, publisherID domain.UserID) (*domain.Auction, error) {
	auction, err := s.auctionRepo.GetByID(ctx, auctionID)
	if err != nil {
		return nil, err
	}

	session, err := s.sessionRepo.GetByID(ctx, auction.SessionID)
	if err != nil {
		return nil, err
	}
	if session.PublisherID != publisherID {
		return nil, domain.ErrNotSessionOwner
	}

	return s.resolve(ctx, auctionID)
}

func (s *auctionService) EndActiveForSession(ctx context.Context, sessionID domain.SessionID) error {
	auction, err := s.auctionRepo.GetActiveBySession(ctx, sessionID)
	if errors.Is(err, domain.ErrAuctionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	_, err = s.resolve(ctx, auction.ID)
	return err
}

func (s *auctionService) GetAuction(ctx context.Context, id domain.AuctionID) (*domain.Auction, error) {
	return s.auctionRepo.GetByID(ctx, id)
}

func (s *auctionService) ResumeTimers(ctx context.Context) error {
	auctions, err := s.auctionRepo.ListActive(ctx)
	if err != nil {
		return err
	}

	for _, auction := range auctions {
		if time.Now().Before(auction.DeadlineAt) {
			s.armTimer(auction)
			continue
		}
		if _, err := s.resolve(ctx, auction.ID); err != nil {
			s.logger.Warnw("failed to resolve overdue auction",
				"auction_id", auction.ID,
				"error", err,
			)
		}
	}
	return nil
}

// resolve flips the auction to ended exactly once and derives the winner
// from the bid ledger maximum rather than CurrentLeaderID, so the outcome is
// right even if the final bid's price update lost a race. Racing callers
// (deadline timer vs manual end) converge on the same result.
func (s *auctionService) resolve(ctx context.Context, auctionID domain.AuctionID) (*domain.Auction, error) {
	var flipped bool

	err := s.locker.WithLock(ctx, "livebid:lock:resolve:"+string(auctionID), func() error {
		var err error
		flipped, err = s.auctionRepo.MarkEnded(ctx, auctionID)
		if err != nil {
			return err
		}
		if !flipped {
			return nil
		}

		winning, err := s.ledger.Max(ctx, auctionID)
		if err != nil {
			return err
		}
		if winning != nil {
			return s.auctionRepo.RecordWinner(ctx, auctionID, winning.BidderID, winning.Amount)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.cancelTimer(auctionID)

	auction, err := s.auctionRepo.GetByID(ctx, auctionID)
	if err != nil {
		return nil, err
	}

	if flipped {
		s.broadcastState(ctx, auction)
		s.metrics.AuctionResolved()
		s.logger.Infow("auction resolved",
			"auction_id", auctionID,
			"winner_id", auction.WinnerID,
			"winning_bid", auction.WinningBid,
		)
	}
	return auction, nil
}

func (s *auctionService) armTimer(auction *domain.Auction) {
	id := auction.ID
	delay := time.Until(auction.DeadlineAt)
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.timers[id]; exists {
		return
	}
	s.timers[id] = time.AfterFunc(delay, func() {
		s.resolveLater(id)
	})
}

func (s *auctionService) resolveLater(id domain.AuctionID) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := s.resolve(ctx, id); err != nil {
		s.logger.Errorw("deadline resolution failed",
			"auction_id", id,
			"error", err,
		)
	}
}

func (s *auctionService) cancelTimer(id domain.AuctionID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if timer, ok := s.timers[id]; ok {
		timer.Stop()
		delete(s.timers, id)
	}
}

func (s *auctionService) broadcastState(ctx context.Context, auction *domain.Auction) {
	payload, _ := json.Marshal(domain.AuctionStatePayload{Auction: auction})
	env := &domain.Envelope{
		Type:      domain.SignalAuctionState,
		SessionID: auction.SessionID,
		Payload:   payload,
	}
	if err := s.bus.Publish(ctx, ports.SessionTopic(auction.SessionID), env); err != nil {
		s.logger.Warnw("failed to broadcast auction state",
			"auction_id", auction.ID,
			"error", err,
		)
	}
}

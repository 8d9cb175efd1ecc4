package reliability

import (
	"context"
	"errors"

	"livebid/internal/core/domain"
	"livebid/internal/core/ports"
	"livebid/pkg/circuitbreaker"

	"go.uber.org/zap"
)

// AuctionServiceWrapper guards the auction service behind a circuit breaker.
// When the store is unreachable the breaker opens and bidding fails closed:
// callers get an explicit store error instead of optimistic acceptance, so
// no bid is ever acknowledged without a ledger write behind it.
type AuctionServiceWrapper struct {
	service ports.AuctionService
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.SugaredLogger
}

func NewAuctionServiceWrapper(service ports.AuctionService, cbConfig circuitbreaker.Config, logger *zap.SugaredLogger) *AuctionServiceWrapper {
	wrapper := &AuctionServiceWrapper{
		service: service,
		breaker: circuitbreaker.New(cbConfig),
		logger:  logger,
	}

	wrapper.breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Warnw("auction store circuit breaker state changed",
			"from", from.String(),
			"to", to.String(),
		)
	})

	return wrapper
}

// execute runs fn through the breaker. Domain rejections are business
// outcomes, not store failures, so they never trip the breaker.
func (w *AuctionServiceWrapper) execute(fn func() error) error {
	err := w.breaker.Execute(func() error {
		if err := fn(); err != nil && !isDomainRejection(err) {
			return err
		}
		return nil
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return domain.ErrStoreUnavailable
	}
	return err
}

func (w *AuctionServiceWrapper) StartAuction(ctx context.Context, sessionID domain.SessionID, publisherID domain.UserID, productID domain.ProductID, startingPrice int64) (*domain.Auction, error) {
	var auction *domain.Auction
	var opErr error
	err := w.execute(func() error {
		auction, opErr = w.service.StartAuction(ctx, sessionID, publisherID, productID, startingPrice)
		return opErr
	})
	if err != nil {
		return nil, err
	}
	return auction, opErr
}

func (w *AuctionServiceWrapper) PlaceBid(ctx context.Context, auctionID domain.AuctionID, bidderID domain.UserID, delta int64) (*domain.Auction, error) {
	var auction *domain.Auction
	var opErr error
	err := w.execute(func() error {
		auction, opErr = w.service.PlaceBid(ctx, auctionID, bidderID, delta)
		return opErr
	})
	if err != nil {
		return nil, err
	}
	return auction, opErr
}

func (w *AuctionServiceWrapper) EndAuction(ctx context.Context, auctionID domain.AuctionID, publisherID domain.UserID) (*domain.Auction, error) {
	var auction *domain.Auction
	var opErr error
	err := w.execute(func() error {
		auction, opErr = w.service.EndAuction(ctx, auctionID, publisherID)
		return opErr
	})
	if err != nil {
		return nil, err
	}
	return auction, opErr
}

func (w *AuctionServiceWrapper) EndActiveForSession(ctx context.Context, sessionID domain.SessionID) error {
	var opErr error
	err := w.execute(func() error {
		opErr = w.service.EndActiveForSession(ctx, sessionID)
		return opErr
	})
	if err != nil {
		return err
	}
	return opErr
}

// GetAuction is a read; it bypasses the breaker so reconciliation reads keep
// working while writes are shed.
func (w *AuctionServiceWrapper) GetAuction(ctx context.Context, id domain.AuctionID) (*domain.Auction, error) {
	return w.service.GetAuction(ctx, id)
}

func (w *AuctionServiceWrapper) ResumeTimers(ctx context.Context) error {
	return w.service.ResumeTimers(ctx)
}

func (w *AuctionServiceWrapper) BreakerState() circuitbreaker.State {
	return w.breaker.State()
}

// isDomainRejection reports whether the error is an expected business
// outcome rather than evidence of store trouble.
func isDomainRejection(err error) bool {
	return errors.Is(err, domain.ErrAuctionNotFound) ||
		errors.Is(err, domain.ErrAuctionActive) ||
		errors.Is(err, domain.ErrAuctionEnded) ||
		errors.Is(err, domain.ErrDeadlinePassed) ||
		errors.Is(err, domain.ErrInvalidDelta) ||
		errors.Is(err, domain.ErrStalePrice) ||
		errors.Is(err, domain.ErrNotSessionOwner) ||
		errors.Is(err, domain.ErrSessionNotFound) ||
		errors.Is(err, domain.ErrSessionNotActive)
}

var _ ports.AuctionService = (*AuctionServiceWrapper)(nil)

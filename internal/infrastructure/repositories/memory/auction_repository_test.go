package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"livebid/internal/core/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newActiveAuction(sessionID domain.SessionID) *domain.Auction {
	return &domain.Auction{
		ID:            domain.AuctionID(uuid.NewString()),
		SessionID:     sessionID,
		ProductID:     "product-1",
		StartingPrice: 100,
		CurrentPrice:  100,
		Status:        domain.AuctionActive,
		DeadlineAt:    time.Now().Add(time.Minute),
		CreatedAt:     time.Now(),
	}
}

func TestCreate_OneActivePerSession(t *testing.T) {
	repo := NewAuctionRepository()
	ctx := context.Background()

	first := newActiveAuction("session-1")
	require.NoError(t, repo.Create(ctx, first))

	second := newActiveAuction("session-1")
	assert.ErrorIs(t, repo.Create(ctx, second), domain.ErrAuctionActive)

	// Ending the first frees the session slot.
	flipped, err := repo.MarkEnded(ctx, first.ID)
	require.NoError(t, err)
	require.True(t, flipped)
	assert.NoError(t, repo.Create(ctx, second))
}

func TestGetByID_ReturnsCopy(t *testing.T) {
	repo := NewAuctionRepository()
	ctx := context.Background()

	auction := newActiveAuction("session-1")
	require.NoError(t, repo.Create(ctx, auction))

	got, err := repo.GetByID(ctx, auction.ID)
	require.NoError(t, err)
	got.CurrentPrice = 999

	again, err := repo.GetByID(ctx, auction.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), again.CurrentPrice)
}

func TestApplyBid_CompareAndSet(t *testing.T) {
	repo := NewAuctionRepository()
	ctx := context.Background()

	auction := newActiveAuction("session-1")
	require.NoError(t, repo.Create(ctx, auction))

	bid := &domain.Bid{
		ID:        domain.BidID(uuid.NewString()),
		AuctionID: auction.ID,
		BidderID:  "alice",
		Amount:    125,
		Delta:     25,
		CreatedAt: time.Now(),
	}
	require.NoError(t, repo.ApplyBid(ctx, auction.ID, 100, bid))

	got, err := repo.GetByID(ctx, auction.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(125), got.CurrentPrice)
	assert.Equal(t, domain.UserID("alice"), got.CurrentLeaderID)

	// The same expected price is now stale; nothing moves and nothing is
	// appended.
	stale := &domain.Bid{ID: domain.BidID(uuid.NewString()), AuctionID: auction.ID, BidderID: "bob", Amount: 150, Delta: 50}
	assert.ErrorIs(t, repo.ApplyBid(ctx, auction.ID, 100, stale), domain.ErrStalePrice)

	count, err := repo.Count(ctx, auction.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestApplyBid_EndedAuction(t *testing.T) {
	repo := NewAuctionRepository()
	ctx := context.Background()

	auction := newActiveAuction("session-1")
	require.NoError(t, repo.Create(ctx, auction))
	_, err := repo.MarkEnded(ctx, auction.ID)
	require.NoError(t, err)

	bid := &domain.Bid{ID: domain.BidID(uuid.NewString()), AuctionID: auction.ID, BidderID: "alice", Amount: 125, Delta: 25}
	assert.ErrorIs(t, repo.ApplyBid(ctx, auction.ID, 100, bid), domain.ErrAuctionEnded)
}

func TestApplyBid_ConcurrentSingleWinnerPerPrice(t *testing.T) {
	repo := NewAuctionRepository()
	ctx := context.Background()

	auction := newActiveAuction("session-1")
	require.NoError(t, repo.Create(ctx, auction))

	// Every goroutine races the same expected price; exactly one wins.
	const racers = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bid := &domain.Bid{
				ID:        domain.BidID(uuid.NewString()),
				AuctionID: auction.ID,
				BidderID:  domain.UserID(uuid.NewString()),
				Amount:    110,
				Delta:     10,
				CreatedAt: time.Now(),
			}
			if err := repo.ApplyBid(ctx, auction.ID, 100, bid); err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, accepted)

	count, err := repo.Count(ctx, auction.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	got, err := repo.GetByID(ctx, auction.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(110), got.CurrentPrice)
}

func TestMarkEnded_FlipsOnce(t *testing.T) {
	repo := NewAuctionRepository()
	ctx := context.Background()

	auction := newActiveAuction("session-1")
	require.NoError(t, repo.Create(ctx, auction))

	flipped, err := repo.MarkEnded(ctx, auction.ID)
	require.NoError(t, err)
	assert.True(t, flipped)

	flipped, err = repo.MarkEnded(ctx, auction.ID)
	require.NoError(t, err)
	assert.False(t, flipped)
}

func TestLedgerMax(t *testing.T) {
	repo := NewAuctionRepository()
	ctx := context.Background()

	auction := newActiveAuction("session-1")
	require.NoError(t, repo.Create(ctx, auction))

	max, err := repo.Max(ctx, auction.ID)
	require.NoError(t, err)
	assert.Nil(t, max)

	// The highest amount is not the last append; Max must scan, not peek.
	amounts := []int64{125, 175, 150}
	bidders := []domain.UserID{"alice", "bob", "carol"}
	price := int64(100)
	for i, amount := range amounts {
		bid := &domain.Bid{
			ID:        domain.BidID(uuid.NewString()),
			AuctionID: auction.ID,
			BidderID:  bidders[i],
			Amount:    amount,
			Delta:     amount - price,
			CreatedAt: time.Now(),
		}
		require.NoError(t, repo.ApplyBid(ctx, auction.ID, price, bid))
		price = amount
	}

	max, err = repo.Max(ctx, auction.ID)
	require.NoError(t, err)
	require.NotNil(t, max)
	assert.Equal(t, int64(175), max.Amount)
	assert.Equal(t, domain.UserID("bob"), max.BidderID)
}

func TestGetActiveBySession(t *testing.T) {
	repo := NewAuctionRepository()
	ctx := context.Background()

	_, err := repo.GetActiveBySession(ctx, "session-1")
	assert.ErrorIs(t, err, domain.ErrAuctionNotFound)

	auction := newActiveAuction("session-1")
	require.NoError(t, repo.Create(ctx, auction))

	got, err := repo.GetActiveBySession(ctx, "session-1")
	require.NoError(t, err)
	assert.Equal(t, auction.ID, got.ID)

	_, err = repo.MarkEnded(ctx, auction.ID)
	require.NoError(t, err)
	_, err = repo.GetActiveBySession(ctx, "session-1")
	assert.ErrorIs(t, err, domain.ErrAuctionNotFound)
}

func TestListActive(t *testing.T) {
	repo := NewAuctionRepository()
	ctx := context.Background()

	a := newActiveAuction("session-1")
	b := newActiveAuction("session-2")
	require.NoError(t, repo.Create(ctx, a))
	require.NoError(t, repo.Create(ctx, b))
	_, err := repo.MarkEnded(ctx, b.ID)
	require.NoError(t, err)

	active, err := repo.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, a.ID, active[0].ID)
}

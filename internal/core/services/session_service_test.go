package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"livebid/internal/core/domain"
	"livebid/internal/core/ports"
	"livebid/internal/infrastructure/repositories/memory"
	"livebid/internal/infrastructure/signalbus"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeMediaRunner struct {
	mu       sync.Mutex
	startErr error
	started  []domain.SessionID
	stopped  []domain.SessionID
}

func (m *fakeMediaRunner) StartSession(_ context.Context, id domain.SessionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.startErr != nil {
		return m.startErr
	}
	m.started = append(m.started, id)
	return nil
}

func (m *fakeMediaRunner) StopSession(id domain.SessionID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = append(m.stopped, id)
}

type sessionFixture struct {
	service     ports.SessionService
	auctions    ports.AuctionService
	sessionRepo *memory.SessionRepository
	auctionRepo *memory.AuctionRepository
	media       *fakeMediaRunner
}

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()

	sessionRepo := memory.NewSessionRepository()
	auctionRepo := memory.NewAuctionRepository()
	bus := signalbus.NewMemoryBus()
	log := zap.NewNop().Sugar()

	auctions := NewAuctionService(
		auctionRepo, auctionRepo, sessionRepo,
		bus, NopLocker{}, NopMetrics{},
		AuctionConfig{Duration: time.Minute, BidRetryLimit: 3},
		log,
	)
	media := &fakeMediaRunner{}
	service := NewSessionService(sessionRepo, auctions, bus, media, NopMetrics{}, SessionConfig{}, log)

	return &sessionFixture{
		service:     service,
		auctions:    auctions,
		sessionRepo: sessionRepo,
		auctionRepo: auctionRepo,
		media:       media,
	}
}

func TestCreateSession(t *testing.T) {
	f := newSessionFixture(t)

	session, err := f.service.CreateSession(context.Background(), "seller-1", domain.OrientationLandscape)
	require.NoError(t, err)

	assert.NotEmpty(t, session.ID)
	assert.Equal(t, domain.UserID("seller-1"), session.PublisherID)
	assert.Equal(t, domain.SessionInactive, session.Status)
	assert.Equal(t, domain.OrientationLandscape, session.Orientation)
	assert.Empty(t, session.ManifestURL, "no fallback without a manifest base")
}

func TestCreateSession_ManifestURLFromBase(t *testing.T) {
	f := newSessionFixture(t)
	svc := NewSessionService(
		f.sessionRepo, f.auctions, signalbus.NewMemoryBus(), f.media, NopMetrics{},
		SessionConfig{ManifestBase: "https://cdn.example.com/live/"},
		zap.NewNop().Sugar(),
	)

	session, err := svc.CreateSession(context.Background(), "seller-1", domain.OrientationPortrait)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/live/"+string(session.ID)+"/index.m3u8", session.ManifestURL)

	// The persisted row carries the fallback address, so viewer bootstraps
	// read it from the store.
	stored, err := f.sessionRepo.GetByID(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.ManifestURL, stored.ManifestURL)
}

func TestCreateSession_DefaultsToPortrait(t *testing.T) {
	f := newSessionFixture(t)

	session, err := f.service.CreateSession(context.Background(), "seller-1", "")
	require.NoError(t, err)
	assert.Equal(t, domain.OrientationPortrait, session.Orientation)
}

func TestStartPublishing(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	session, err := f.service.CreateSession(ctx, "seller-1", domain.OrientationPortrait)
	require.NoError(t, err)

	started, err := f.service.StartPublishing(ctx, session.ID, "seller-1")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionActive, started.Status)
	assert.Equal(t, []domain.SessionID{session.ID}, f.media.started)
}

func TestStartPublishing_RequiresOwner(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	session, err := f.service.CreateSession(ctx, "seller-1", domain.OrientationPortrait)
	require.NoError(t, err)

	_, err = f.service.StartPublishing(ctx, session.ID, "intruder")
	assert.ErrorIs(t, err, domain.ErrNotSessionOwner)
	assert.Empty(t, f.media.started)
}

func TestStartPublishing_AlreadyLive(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	session, err := f.service.CreateSession(ctx, "seller-1", domain.OrientationPortrait)
	require.NoError(t, err)
	_, err = f.service.StartPublishing(ctx, session.ID, "seller-1")
	require.NoError(t, err)

	_, err = f.service.StartPublishing(ctx, session.ID, "seller-1")
	assert.ErrorIs(t, err, domain.ErrAlreadyPublishing)
}

func TestStartPublishing_EndedSessionStaysEnded(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	session, err := f.service.CreateSession(ctx, "seller-1", domain.OrientationPortrait)
	require.NoError(t, err)
	_, err = f.service.StartPublishing(ctx, session.ID, "seller-1")
	require.NoError(t, err)
	require.NoError(t, f.service.StopPublishing(ctx, session.ID, "seller-1"))

	_, err = f.service.StartPublishing(ctx, session.ID, "seller-1")
	assert.ErrorIs(t, err, domain.ErrSessionNotActive)
}

func TestStartPublishing_MediaFailureLeavesSessionInactive(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	session, err := f.service.CreateSession(ctx, "seller-1", domain.OrientationPortrait)
	require.NoError(t, err)

	f.media.startErr = errors.New("ingest socket bind failed")
	_, err = f.service.StartPublishing(ctx, session.ID, "seller-1")
	require.Error(t, err)

	// The failed start must not leave a half-live session behind.
	got, err := f.service.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionInactive, got.Status)

	f.media.startErr = nil
	_, err = f.service.StartPublishing(ctx, session.ID, "seller-1")
	assert.NoError(t, err)
}

func TestStopPublishing(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	session, err := f.service.CreateSession(ctx, "seller-1", domain.OrientationPortrait)
	require.NoError(t, err)
	_, err = f.service.StartPublishing(ctx, session.ID, "seller-1")
	require.NoError(t, err)

	require.NoError(t, f.service.StopPublishing(ctx, session.ID, "seller-1"))

	got, err := f.service.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionEnded, got.Status)
	assert.Equal(t, []domain.SessionID{session.ID}, f.media.stopped)
}

func TestStopPublishing_NotLive(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	session, err := f.service.CreateSession(ctx, "seller-1", domain.OrientationPortrait)
	require.NoError(t, err)

	err = f.service.StopPublishing(ctx, session.ID, "seller-1")
	assert.ErrorIs(t, err, domain.ErrSessionNotActive)
}

func TestStopPublishing_ForceEndsActiveAuction(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	session, err := f.service.CreateSession(ctx, "seller-1", domain.OrientationPortrait)
	require.NoError(t, err)
	_, err = f.service.StartPublishing(ctx, session.ID, "seller-1")
	require.NoError(t, err)

	auction, err := f.auctions.StartAuction(ctx, session.ID, "seller-1", "product-1", 100)
	require.NoError(t, err)
	_, err = f.auctions.PlaceBid(ctx, auction.ID, "alice", 25)
	require.NoError(t, err)

	require.NoError(t, f.service.StopPublishing(ctx, session.ID, "seller-1"))

	ended, err := f.auctions.GetAuction(ctx, auction.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AuctionEnded, ended.Status)
	assert.Equal(t, domain.UserID("alice"), ended.WinnerID)
}

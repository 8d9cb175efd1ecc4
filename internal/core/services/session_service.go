package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"livebid/internal/core/domain"
	"livebid/internal/core/ports"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Metrics is the slice of the monitoring collector the core services report
// into. A nil-safe no-op implementation backs tests.
type Metrics interface {
	SessionStarted()
	SessionEnded()
	AuctionStarted()
	AuctionResolved()
	BidAccepted(latency time.Duration)
	BidStale()
}

// NopMetrics satisfies Metrics without recording anything.
type NopMetrics struct{}

func (NopMetrics) SessionStarted()           {}
func (NopMetrics) SessionEnded()             {}
func (NopMetrics) AuctionStarted()           {}
func (NopMetrics) AuctionResolved()          {}
func (NopMetrics) BidAccepted(time.Duration) {}
func (NopMetrics) BidStale()                 {}

// MediaRunner starts and stops the media pipeline backing a live session:
// ingest sockets, local tracks and the viewer fan-out.
type MediaRunner interface {
	StartSession(ctx context.Context, id domain.SessionID) error
	StopSession(id domain.SessionID)
}

// NopMediaRunner backs deployments where media is handled by a separate
// process, and tests.
type NopMediaRunner struct{}

func (NopMediaRunner) StartSession(context.Context, domain.SessionID) error { return nil }
func (NopMediaRunner) StopSession(domain.SessionID)                         {}

// SessionConfig carries session-level product settings.
type SessionConfig struct {
	// ManifestBase roots each session's pull-based fallback stream. When
	// empty, sessions carry no fallback and viewers that cannot establish a
	// peer link end up unreachable.
	ManifestBase string
}

type sessionService struct {
	sessionRepo ports.SessionRepository
	auctions    ports.AuctionService
	bus         ports.SignalBus
	media       MediaRunner
	metrics     Metrics
	cfg         SessionConfig
	logger      *zap.SugaredLogger
}

func NewSessionService(
	sessionRepo ports.SessionRepository,
	auctions ports.AuctionService,
	bus ports.SignalBus,
	media MediaRunner,
	metrics Metrics,
	cfg SessionConfig,
	logger *zap.SugaredLogger,
) ports.SessionService {
	return &sessionService{
		sessionRepo: sessionRepo,
		auctions:    auctions,
		bus:         bus,
		media:       media,
		metrics:     metrics,
		cfg:         cfg,
		logger:      logger,
	}
}

func (s *sessionService) CreateSession(ctx context.Context, publisherID domain.UserID, orientation domain.Orientation) (*domain.StreamSession, error) {
	if orientation == "" {
		orientation = domain.OrientationPortrait
	}

	session := &domain.StreamSession{
		ID:          domain.SessionID(uuid.NewString()),
		PublisherID: publisherID,
		Status:      domain.SessionInactive,
		Orientation: orientation,
		CreatedAt:   time.Now(),
	}
	if s.cfg.ManifestBase != "" {
		session.ManifestURL = strings.TrimSuffix(s.cfg.ManifestBase, "/") + "/" + string(session.ID) + "/index.m3u8"
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.logger.Infow("session created",
		"session_id", session.ID,
		"publisher_id", publisherID,
	)
	return session, nil
}

func (s *sessionService) GetSession(ctx context.Context, id domain.SessionID) (*domain.StreamSession, error) {
	return s.sessionRepo.GetByID(ctx, id)
}

func (s *sessionService) StartPublishing(ctx context.Context, id domain.SessionID, publisherID domain.UserID) (*domain.StreamSession, error) {
	session, err := s.sessionRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.PublisherID != publisherID {
		return nil, domain.ErrNotSessionOwner
	}
	if session.IsActive() {
		return nil, domain.ErrAlreadyPublishing
	}
	if session.Status == domain.SessionEnded {
		return nil, domain.ErrSessionNotActive
	}

	if err := s.media.StartSession(ctx, session.ID); err != nil {
		return nil, fmt.Errorf("failed to start media pipeline: %w", err)
	}

	if err := s.sessionRepo.Activate(ctx, session); err != nil {
		s.media.StopSession(session.ID)
		return nil, err
	}

	s.broadcastStatus(ctx, session)
	s.metrics.SessionStarted()

	s.logger.Infow("publishing started",
		"session_id", session.ID,
		"publisher_id", publisherID,
	)
	return session, nil
}

func (s *sessionService) StopPublishing(ctx context.Context, id domain.SessionID, publisherID domain.UserID) error {
	session, err := s.sessionRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if session.PublisherID != publisherID {
		return domain.ErrNotSessionOwner
	}
	if !session.IsActive() {
		return domain.ErrSessionNotActive
	}

	// A live auction cannot outlive its session; resolve it first so the
	// winner comes from the ledger before viewers see the session end.
	if err := s.auctions.EndActiveForSession(ctx, id); err != nil {
		s.logger.Warnw("failed to end auction with session",
			"session_id", id,
			"error", err,
		)
	}

	if err := s.sessionRepo.End(ctx, session); err != nil {
		return err
	}

	s.media.StopSession(session.ID)

	s.broadcastStatus(ctx, session)
	s.metrics.SessionEnded()

	s.logger.Infow("publishing stopped",
		"session_id", session.ID,
		"publisher_id", publisherID,
	)
	return nil
}

func (s *sessionService) broadcastStatus(ctx context.Context, session *domain.StreamSession) {
	payload, _ := json.Marshal(domain.SessionStatePayload{Status: session.Status})
	env := &domain.Envelope{
		Type:      domain.SignalSessionState,
		SessionID: session.ID,
		Payload:   payload,
	}
	if err := s.bus.Publish(ctx, ports.SessionTopic(session.ID), env); err != nil {
		s.logger.Warnw("failed to broadcast session state",
			"session_id", session.ID,
			"error", err,
		)
	}
}

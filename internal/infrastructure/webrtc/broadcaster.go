package webrtc

import (
	"context"
	"fmt"
	"sync"

	"livebid/internal/core/domain"
	"livebid/internal/core/ports"
	"livebid/internal/core/services"

	"go.uber.org/zap"
)

// Broadcaster runs the media pipelines for sessions going live on this
// node. The ingest sockets are a per-process resource, so one node carries
// one live broadcast at a time; a second start is refused until the first
// session stops.
type Broadcaster struct {
	cfg    Config
	ingest IngestConfig
	bus    ports.SignalBus
	logger *zap.SugaredLogger

	mu     sync.Mutex
	active map[domain.SessionID]*Publisher
}

func NewBroadcaster(cfg Config, ingest IngestConfig, bus ports.SignalBus, logger *zap.SugaredLogger) *Broadcaster {
	return &Broadcaster{
		cfg:    cfg,
		ingest: ingest,
		bus:    bus,
		logger: logger,
		active: make(map[domain.SessionID]*Publisher),
	}
}

func (b *Broadcaster) StartSession(ctx context.Context, id domain.SessionID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.active[id]; ok {
		return nil
	}
	if len(b.active) > 0 {
		return fmt.Errorf("ingest sockets already serve another session")
	}

	publisher := NewPublisher(b.cfg, b.ingest, id, b.bus, b.logger)
	if err := publisher.Start(ctx); err != nil {
		return err
	}

	b.active[id] = publisher
	return nil
}

func (b *Broadcaster) StopSession(id domain.SessionID) {
	b.mu.Lock()
	publisher, ok := b.active[id]
	delete(b.active, id)
	b.mu.Unlock()

	if ok {
		publisher.Stop()
	}
}

// SwitchCamera flips the named session's outbound video feed.
func (b *Broadcaster) SwitchCamera(id domain.SessionID) error {
	b.mu.Lock()
	publisher, ok := b.active[id]
	b.mu.Unlock()

	if !ok {
		return domain.ErrSessionNotActive
	}
	return publisher.SwitchCamera()
}

// ViewerCount reports live fan-out links for the session.
func (b *Broadcaster) ViewerCount(id domain.SessionID) int {
	b.mu.Lock()
	publisher, ok := b.active[id]
	b.mu.Unlock()

	if !ok {
		return 0
	}
	return publisher.ViewerCount()
}

var _ services.MediaRunner = (*Broadcaster)(nil)

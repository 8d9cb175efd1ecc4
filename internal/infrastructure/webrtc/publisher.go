package webrtc

import (
	"context"
	"fmt"
	"sync"

	"livebid/internal/core/domain"
	"livebid/internal/core/ports"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// IngestConfig names the UDP feeds the publisher reads media from. The
// secondary video address carries the alternate camera used for in-stream
// switching.
type IngestConfig struct {
	AudioAddress    string
	VideoAddress    string
	AltVideoAddress string
}

// Publisher runs one session's broadcast: it owns the ingest sources, the
// local tracks, and the per-viewer fan-out. Camera switching flips which
// video track the fan-out senders carry without renegotiating any viewer.
type Publisher struct {
	cfg    Config
	ingest IngestConfig
	bus    ports.SignalBus
	logger *zap.SugaredLogger

	sessionID domain.SessionID
	fanout    *Fanout

	audioTrack    *webrtc.TrackLocalStaticRTP
	primaryTrack  *webrtc.TrackLocalStaticRTP
	altTrack      *webrtc.TrackLocalStaticRTP
	sources       []*RTPSource
	usingAltVideo bool
	mu            sync.Mutex

	cancel context.CancelFunc
	done   chan struct{}
}

func NewPublisher(cfg Config, ingest IngestConfig, sessionID domain.SessionID, bus ports.SignalBus, logger *zap.SugaredLogger) *Publisher {
	return &Publisher{
		cfg:       cfg,
		ingest:    ingest,
		bus:       bus,
		logger:    logger,
		sessionID: sessionID,
	}
}

// Start opens the ingest sockets and begins serving viewer links. Both
// camera feeds run continuously so switching is instant.
func (p *Publisher) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return domain.ErrAlreadyPublishing
	}

	streamID := string(p.sessionID)

	audioTrack, err := NewAudioTrack(streamID)
	if err != nil {
		return fmt.Errorf("failed to create audio track: %w", err)
	}
	primaryTrack, err := NewVideoTrack(streamID)
	if err != nil {
		return fmt.Errorf("failed to create video track: %w", err)
	}

	feeds := []struct {
		address string
		track   *webrtc.TrackLocalStaticRTP
	}{
		{p.ingest.AudioAddress, audioTrack},
		{p.ingest.VideoAddress, primaryTrack},
	}

	var altTrack *webrtc.TrackLocalStaticRTP
	if p.ingest.AltVideoAddress != "" {
		altTrack, err = NewVideoTrack(streamID)
		if err != nil {
			return fmt.Errorf("failed to create alternate video track: %w", err)
		}
		feeds = append(feeds, struct {
			address string
			track   *webrtc.TrackLocalStaticRTP
		}{p.ingest.AltVideoAddress, altTrack})
	}

	runCtx, cancel := context.WithCancel(ctx)

	var sources []*RTPSource
	for _, feed := range feeds {
		source, err := NewRTPSource(feed.address, feed.track, p.logger)
		if err != nil {
			cancel()
			for _, s := range sources {
				s.Close()
			}
			return err
		}
		sources = append(sources, source)
	}

	p.audioTrack = audioTrack
	p.primaryTrack = primaryTrack
	p.altTrack = altTrack
	p.sources = sources
	p.usingAltVideo = false
	p.fanout = NewFanout(p.cfg, p.sessionID, p.bus, audioTrack, primaryTrack, p.logger)
	p.cancel = cancel
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)
		if err := p.fanout.Run(runCtx); err != nil {
			p.logger.Errorw("fanout stopped",
				"session_id", p.sessionID,
				"error", err,
			)
		}
	}()

	for _, source := range sources {
		go func(s *RTPSource) {
			if err := s.Run(runCtx); err != nil {
				p.logger.Errorw("ingest source stopped",
					"session_id", p.sessionID,
					"error", err,
				)
			}
		}(source)
	}

	p.logger.Infow("publishing media",
		"session_id", p.sessionID,
		"audio_address", p.ingest.AudioAddress,
		"video_address", p.ingest.VideoAddress,
	)
	return nil
}

// SwitchCamera toggles between the primary and alternate feeds on every
// connected viewer at once.
func (p *Publisher) SwitchCamera() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fanout == nil {
		return domain.ErrSessionNotActive
	}
	if p.altTrack == nil {
		return fmt.Errorf("no alternate camera feed configured")
	}

	next := p.altTrack
	if p.usingAltVideo {
		next = p.primaryTrack
	}
	p.usingAltVideo = !p.usingAltVideo
	p.fanout.ReplaceVideoTrack(next)

	p.logger.Infow("camera switched",
		"session_id", p.sessionID,
		"alt_active", p.usingAltVideo,
	)
	return nil
}

// ViewerCount reports live fan-out links, for monitoring.
func (p *Publisher) ViewerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fanout == nil {
		return 0
	}
	return p.fanout.LinkCount()
}

// Stop closes every viewer link and ingest socket. Idempotent.
func (p *Publisher) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel == nil {
		return
	}

	p.cancel()
	for _, source := range p.sources {
		source.Close()
	}
	<-p.done

	p.cancel = nil
	p.sources = nil
	p.fanout = nil

	p.logger.Infow("publishing stopped", "session_id", p.sessionID)
}

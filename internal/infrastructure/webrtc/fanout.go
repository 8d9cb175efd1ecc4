package webrtc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"livebid/internal/core/domain"
	"livebid/internal/core/ports"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// Fanout maintains one dedicated peer link per viewer for a single session.
// It consumes viewer-originated signaling from the bus and answers with
// per-viewer offers and candidates. Links never share negotiation state:
// one viewer's failure touches nothing but that viewer's entry.
type Fanout struct {
	cfg       Config
	sessionID domain.SessionID
	bus       ports.SignalBus
	logger    *zap.SugaredLogger

	mu         sync.RWMutex
	audioTrack webrtc.TrackLocal
	videoTrack webrtc.TrackLocal
	links      map[domain.ViewerID]*PeerLink
}

func NewFanout(cfg Config, sessionID domain.SessionID, bus ports.SignalBus, audioTrack, videoTrack webrtc.TrackLocal, logger *zap.SugaredLogger) *Fanout {
	return &Fanout{
		cfg:        cfg,
		sessionID:  sessionID,
		bus:        bus,
		logger:     logger,
		audioTrack: audioTrack,
		videoTrack: videoTrack,
		links:      make(map[domain.ViewerID]*PeerLink),
	}
}

// Run subscribes to the session topic and dispatches signaling until the
// context is cancelled, then closes every remaining link.
func (f *Fanout) Run(ctx context.Context) error {
	sub, err := f.bus.Subscribe(ctx, ports.SessionTopic(f.sessionID))
	if err != nil {
		return fmt.Errorf("failed to subscribe to session topic: %w", err)
	}
	defer sub.Close()
	defer f.CloseAll()

	for env := range sub.Messages() {
		f.dispatch(ctx, env)
	}
	return nil
}

func (f *Fanout) dispatch(ctx context.Context, env *domain.Envelope) {
	switch env.Type {
	case domain.SignalRequestOffer:
		if env.ViewerID == "" {
			return
		}
		if err := f.HandleRequestOffer(ctx, env.ViewerID); err != nil {
			f.logger.Errorw("failed to handle offer request",
				"session_id", f.sessionID,
				"viewer_id", env.ViewerID,
				"error", err,
			)
		}

	case domain.SignalAnswer:
		var payload domain.SDPPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			f.logger.Warnw("malformed answer payload", "viewer_id", env.ViewerID, "error", err)
			return
		}
		f.HandleAnswer(env.ViewerID, payload.SDP)

	case domain.SignalICECandidate:
		var payload domain.ICECandidatePayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			f.logger.Warnw("malformed candidate payload", "viewer_id", env.ViewerID, "error", err)
			return
		}
		if payload.Origin != domain.OriginViewer {
			return
		}
		f.HandleRemoteCandidate(env.ViewerID, payload)
	}
}

// HandleRequestOffer creates a dedicated link for the viewer and publishes
// its offer. A repeated request while the link is still negotiating resends
// the stored offer, so lost offers are recovered without renegotiation.
func (f *Fanout) HandleRequestOffer(ctx context.Context, viewerID domain.ViewerID) error {
	f.mu.Lock()
	if existing, ok := f.links[viewerID]; ok {
		f.mu.Unlock()
		if sdp := existing.LocalOfferSDP(); sdp != "" && existing.State() != LinkConnected {
			return f.publishOffer(ctx, viewerID, sdp)
		}
		return nil
	}
	audioTrack, videoTrack := f.audioTrack, f.videoTrack
	f.mu.Unlock()

	pc, err := f.cfg.newPeerConnection()
	if err != nil {
		return fmt.Errorf("failed to create peer connection: %w", err)
	}

	link := newPeerLink(viewerID, pc)

	if audioTrack != nil {
		sender, err := pc.AddTrack(audioTrack)
		if err != nil {
			link.Close()
			return fmt.Errorf("failed to add audio track: %w", err)
		}
		go drainSenderRTCP(sender)
	}
	if videoTrack != nil {
		sender, err := pc.AddTrack(videoTrack)
		if err != nil {
			link.Close()
			return fmt.Errorf("failed to add video track: %w", err)
		}
		link.setVideoSender(sender)
		go drainSenderRTCP(sender)
	}

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		f.publishCandidate(context.Background(), viewerID, candidate)
	})

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		if state == webrtc.ICEConnectionStateConnected {
			link.setState(LinkConnected)
			f.logger.Infow("viewer link connected",
				"session_id", f.sessionID,
				"viewer_id", viewerID,
			)
			return
		}
		if isTerminalICEState(state) {
			f.logger.Infow("viewer link terminated",
				"session_id", f.sessionID,
				"viewer_id", viewerID,
				"ice_state", state.String(),
			)
			f.removeLink(viewerID)
		}
	})

	f.mu.Lock()
	if _, ok := f.links[viewerID]; ok {
		// Lost the race to another request for the same viewer.
		f.mu.Unlock()
		link.Close()
		return nil
	}
	f.links[viewerID] = link
	f.mu.Unlock()

	sdp, err := link.CreateOffer()
	if err != nil {
		f.removeLink(viewerID)
		return err
	}

	f.logger.Infow("offer created",
		"session_id", f.sessionID,
		"viewer_id", viewerID,
	)
	return f.publishOffer(ctx, viewerID, sdp)
}

// HandleAnswer applies the viewer's answer to its link. An answer for an
// unknown viewer is dropped: the link already failed and was removed.
func (f *Fanout) HandleAnswer(viewerID domain.ViewerID, sdp string) {
	f.mu.RLock()
	link, ok := f.links[viewerID]
	f.mu.RUnlock()
	if !ok {
		return
	}

	if err := link.ApplyAnswer(sdp); err != nil {
		f.logger.Errorw("failed to apply answer",
			"session_id", f.sessionID,
			"viewer_id", viewerID,
			"error", err,
		)
	}
}

// HandleRemoteCandidate feeds a viewer's candidate into its link; unknown
// viewers are a no-op.
func (f *Fanout) HandleRemoteCandidate(viewerID domain.ViewerID, payload domain.ICECandidatePayload) {
	f.mu.RLock()
	link, ok := f.links[viewerID]
	f.mu.RUnlock()
	if !ok {
		return
	}

	if err := link.AddRemoteCandidate(payload); err != nil {
		f.logger.Warnw("failed to add remote candidate",
			"session_id", f.sessionID,
			"viewer_id", viewerID,
			"error", err,
		)
	}
}

// ReplaceVideoTrack switches every link's outbound video in place. Audio
// and the negotiated transports are untouched, so no viewer renegotiates.
func (f *Fanout) ReplaceVideoTrack(track webrtc.TrackLocal) {
	f.mu.Lock()
	f.videoTrack = track
	links := make([]*PeerLink, 0, len(f.links))
	for _, link := range f.links {
		links = append(links, link)
	}
	f.mu.Unlock()

	for _, link := range links {
		if err := link.ReplaceVideoTrack(track); err != nil {
			f.logger.Warnw("failed to replace video track",
				"session_id", f.sessionID,
				"viewer_id", link.ViewerID(),
				"error", err,
			)
		}
	}
}

// LinkCount reports the number of live links, for monitoring only.
func (f *Fanout) LinkCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.links)
}

// CloseAll tears down every link, typically on session stop.
func (f *Fanout) CloseAll() {
	f.mu.Lock()
	links := f.links
	f.links = make(map[domain.ViewerID]*PeerLink)
	f.mu.Unlock()

	for _, link := range links {
		link.Close()
	}
}

func (f *Fanout) removeLink(viewerID domain.ViewerID) {
	f.mu.Lock()
	link, ok := f.links[viewerID]
	delete(f.links, viewerID)
	f.mu.Unlock()

	if ok {
		link.Close()
	}
}

func (f *Fanout) publishOffer(ctx context.Context, viewerID domain.ViewerID, sdp string) error {
	payload, _ := json.Marshal(domain.SDPPayload{SDP: sdp})
	return f.bus.Publish(ctx, ports.SessionTopic(f.sessionID), &domain.Envelope{
		Type:      domain.SignalOffer,
		SessionID: f.sessionID,
		ViewerID:  viewerID,
		Payload:   payload,
	})
}

func (f *Fanout) publishCandidate(ctx context.Context, viewerID domain.ViewerID, candidate *webrtc.ICECandidate) {
	init := candidate.ToJSON()
	payload := domain.ICECandidatePayload{
		Origin:    domain.OriginPublisher,
		Candidate: init.Candidate,
	}
	if init.SDPMid != nil {
		payload.SDPMid = *init.SDPMid
	}
	if init.SDPMLineIndex != nil {
		payload.SDPMLineIndex = *init.SDPMLineIndex
	}

	raw, _ := json.Marshal(payload)
	err := f.bus.Publish(ctx, ports.SessionTopic(f.sessionID), &domain.Envelope{
		Type:      domain.SignalICECandidate,
		SessionID: f.sessionID,
		ViewerID:  viewerID,
		Payload:   raw,
	})
	if err != nil {
		f.logger.Warnw("failed to publish candidate",
			"session_id", f.sessionID,
			"viewer_id", viewerID,
			"error", err,
		)
	}
}

// drainSenderRTCP keeps the sender's RTCP read loop serviced so interceptor
// feedback does not back up.
func drainSenderRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

package webrtc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"livebid/internal/core/domain"
	"livebid/internal/core/ports"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// ViewerState names the watch lifecycle of one viewer. The manager owns at
// most one peer link at a time; fallback playback and a live link are
// mutually exclusive.
type ViewerState string

const (
	ViewerIdle        ViewerState = "idle"
	ViewerRequesting  ViewerState = "requesting"
	ViewerConnected   ViewerState = "connected"
	ViewerUnreachable ViewerState = "unreachable"
	ViewerFallback    ViewerState = "fallback"
)

// ViewerConfig carries the reconnect policy: a fixed delay between offer
// requests and a hard cap on attempts before the publisher is declared
// unreachable.
type ViewerConfig struct {
	WebRTC      Config
	RetryDelay  time.Duration
	RetryLimit  int
	ManifestURL string
}

// Viewer manages a single viewer's link to the publisher: it requests an
// offer, answers it, retries on a fixed schedule while no media arrives, and
// falls back to manifest playback when the attempt budget is spent.
type Viewer struct {
	cfg       ViewerConfig
	viewerID  domain.ViewerID
	sessionID domain.SessionID
	bus       ports.SignalBus
	logger    *zap.SugaredLogger

	// OnTrack receives the remote media once negotiation completes. Set
	// before Join.
	OnTrack func(track *webrtc.TrackRemote)
	// OnStateChange observes lifecycle transitions, for UI wiring.
	OnStateChange func(state ViewerState)

	mu         sync.Mutex
	state      ViewerState
	link       *PeerLink
	attempts   int
	retryTimer *time.Timer
	sub        ports.Subscription
	cancel     context.CancelFunc
}

func NewViewer(cfg ViewerConfig, sessionID domain.SessionID, viewerID domain.ViewerID, bus ports.SignalBus, logger *zap.SugaredLogger) *Viewer {
	return &Viewer{
		cfg:       cfg,
		viewerID:  viewerID,
		sessionID: sessionID,
		bus:       bus,
		logger:    logger,
		state:     ViewerIdle,
	}
}

func (v *Viewer) State() ViewerState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// ManifestURL returns the fallback playback address, or empty when the
// viewer is not in fallback.
func (v *Viewer) ManifestURL() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state != ViewerFallback {
		return ""
	}
	return v.cfg.ManifestURL
}

// Join subscribes to the session topic and starts the offer request cycle.
// Calling Join while already joined restarts from scratch.
func (v *Viewer) Join(ctx context.Context) error {
	v.mu.Lock()
	v.teardownLocked()

	subCtx, cancel := context.WithCancel(ctx)
	sub, err := v.bus.Subscribe(subCtx, ports.SessionTopic(v.sessionID))
	if err != nil {
		cancel()
		v.mu.Unlock()
		return fmt.Errorf("failed to subscribe to session topic: %w", err)
	}

	v.sub = sub
	v.cancel = cancel
	v.attempts = 0
	v.setStateLocked(ViewerRequesting)
	v.mu.Unlock()

	go v.consume(sub)

	return v.requestOffer(ctx)
}

// Reconnect tears the current link down and rejoins with a fresh attempt
// budget. Safe to call in any state, including while connected.
func (v *Viewer) Reconnect(ctx context.Context) error {
	v.logger.Infow("reconnecting",
		"session_id", v.sessionID,
		"viewer_id", v.viewerID,
	)
	return v.Join(ctx)
}

// Leave stops watching and releases the link and subscription.
func (v *Viewer) Leave() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.teardownLocked()
	v.setStateLocked(ViewerIdle)
}

func (v *Viewer) consume(sub ports.Subscription) {
	for env := range sub.Messages() {
		if !env.AddressedTo(v.viewerID) {
			continue
		}

		switch env.Type {
		case domain.SignalOffer:
			var payload domain.SDPPayload
			if err := json.Unmarshal(env.Payload, &payload); err != nil {
				v.logger.Warnw("malformed offer payload", "error", err)
				continue
			}
			if err := v.handleOffer(payload.SDP); err != nil {
				v.logger.Errorw("failed to handle offer",
					"session_id", v.sessionID,
					"viewer_id", v.viewerID,
					"error", err,
				)
			}

		case domain.SignalICECandidate:
			var payload domain.ICECandidatePayload
			if err := json.Unmarshal(env.Payload, &payload); err != nil {
				continue
			}
			if payload.Origin != domain.OriginPublisher {
				continue
			}
			v.handleCandidate(payload)

		case domain.SignalSessionState:
			var payload domain.SessionStatePayload
			if err := json.Unmarshal(env.Payload, &payload); err != nil {
				continue
			}
			v.handleSessionState(payload.Status)
		}
	}
}

func (v *Viewer) handleOffer(sdp string) error {
	v.mu.Lock()
	if v.state != ViewerRequesting {
		// A late duplicate offer after connect or fallback. Ignore it.
		v.mu.Unlock()
		return nil
	}
	if v.link != nil {
		v.link.Close()
		v.link = nil
	}
	v.mu.Unlock()

	pc, err := v.cfg.WebRTC.newPeerConnection()
	if err != nil {
		return fmt.Errorf("failed to create peer connection: %w", err)
	}

	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}); err != nil {
		pc.Close()
		return fmt.Errorf("failed to add audio transceiver: %w", err)
	}
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}); err != nil {
		pc.Close()
		return fmt.Errorf("failed to add video transceiver: %w", err)
	}

	link := newPeerLink(v.viewerID, pc)

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		v.markConnected()

		// Ask for a fresh keyframe so playback starts immediately instead of
		// waiting out the publisher's keyframe interval.
		if track.Kind() == webrtc.RTPCodecTypeVideo {
			if err := pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())}}); err != nil {
				v.logger.Warnw("failed to send keyframe request", "error", err)
			}
		}

		go drainReceiverRTCP(receiver)

		if v.OnTrack != nil {
			v.OnTrack(track)
		}
	})

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		v.publishCandidate(candidate)
	})

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		if isTerminalICEState(state) && v.State() == ViewerConnected {
			v.logger.Infow("link lost, rejoining",
				"session_id", v.sessionID,
				"viewer_id", v.viewerID,
				"ice_state", state.String(),
			)
			go v.Reconnect(context.Background())
		}
	})

	answer, err := link.ApplyOffer(sdp)
	if err != nil {
		link.Close()
		return err
	}

	v.mu.Lock()
	v.link = link
	v.mu.Unlock()

	payload, _ := json.Marshal(domain.SDPPayload{SDP: answer})
	return v.bus.Publish(context.Background(), ports.SessionTopic(v.sessionID), &domain.Envelope{
		Type:      domain.SignalAnswer,
		SessionID: v.sessionID,
		ViewerID:  v.viewerID,
		Payload:   payload,
	})
}

func (v *Viewer) handleCandidate(payload domain.ICECandidatePayload) {
	v.mu.Lock()
	link := v.link
	v.mu.Unlock()
	if link == nil {
		return
	}

	if err := link.AddRemoteCandidate(payload); err != nil {
		v.logger.Warnw("failed to add remote candidate",
			"session_id", v.sessionID,
			"viewer_id", v.viewerID,
			"error", err,
		)
	}
}

// handleSessionState rejoins when a session that was down comes back live.
func (v *Viewer) handleSessionState(status domain.SessionStatus) {
	if status != domain.SessionActive {
		return
	}

	v.mu.Lock()
	rejoin := v.state == ViewerUnreachable || v.state == ViewerFallback
	v.mu.Unlock()

	if rejoin {
		go v.Reconnect(context.Background())
	}
}

func (v *Viewer) requestOffer(ctx context.Context) error {
	v.mu.Lock()
	if v.state != ViewerRequesting {
		v.mu.Unlock()
		return nil
	}
	v.attempts++
	attempt := v.attempts
	v.armRetryLocked()
	v.mu.Unlock()

	v.logger.Infow("requesting offer",
		"session_id", v.sessionID,
		"viewer_id", v.viewerID,
		"attempt", attempt,
	)

	return v.bus.Publish(ctx, ports.SessionTopic(v.sessionID), &domain.Envelope{
		Type:      domain.SignalRequestOffer,
		SessionID: v.sessionID,
		ViewerID:  v.viewerID,
	})
}

// armRetryLocked schedules the next attempt. Connecting cancels the timer;
// exhausting the budget marks the publisher unreachable or switches to
// fallback playback when a manifest address is configured.
func (v *Viewer) armRetryLocked() {
	if v.retryTimer != nil {
		v.retryTimer.Stop()
	}
	v.retryTimer = time.AfterFunc(v.cfg.RetryDelay, func() {
		v.mu.Lock()
		if v.state != ViewerRequesting {
			v.mu.Unlock()
			return
		}
		if v.attempts >= v.cfg.RetryLimit {
			v.teardownLinkLocked()
			if v.cfg.ManifestURL != "" {
				v.setStateLocked(ViewerFallback)
				v.mu.Unlock()
				v.logger.Infow("switching to fallback playback",
					"session_id", v.sessionID,
					"viewer_id", v.viewerID,
					"manifest_url", v.cfg.ManifestURL,
				)
				return
			}
			v.setStateLocked(ViewerUnreachable)
			v.mu.Unlock()
			v.logger.Warnw("publisher unreachable",
				"session_id", v.sessionID,
				"viewer_id", v.viewerID,
				"attempts", v.attempts,
			)
			return
		}
		v.mu.Unlock()

		if err := v.requestOffer(context.Background()); err != nil {
			v.logger.Warnw("offer request failed", "error", err)
		}
	})
}

func (v *Viewer) markConnected() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state == ViewerConnected {
		return
	}
	if v.retryTimer != nil {
		v.retryTimer.Stop()
		v.retryTimer = nil
	}
	v.attempts = 0
	v.setStateLocked(ViewerConnected)
}

func (v *Viewer) publishCandidate(candidate *webrtc.ICECandidate) {
	init := candidate.ToJSON()
	payload := domain.ICECandidatePayload{
		Origin:    domain.OriginViewer,
		Candidate: init.Candidate,
	}
	if init.SDPMid != nil {
		payload.SDPMid = *init.SDPMid
	}
	if init.SDPMLineIndex != nil {
		payload.SDPMLineIndex = *init.SDPMLineIndex
	}

	raw, _ := json.Marshal(payload)
	err := v.bus.Publish(context.Background(), ports.SessionTopic(v.sessionID), &domain.Envelope{
		Type:      domain.SignalICECandidate,
		SessionID: v.sessionID,
		ViewerID:  v.viewerID,
		Payload:   raw,
	})
	if err != nil {
		v.logger.Warnw("failed to publish candidate", "error", err)
	}
}

func (v *Viewer) setStateLocked(state ViewerState) {
	if v.state == state {
		return
	}
	v.state = state
	if v.OnStateChange != nil {
		go v.OnStateChange(state)
	}
}

func (v *Viewer) teardownLinkLocked() {
	if v.link != nil {
		v.link.Close()
		v.link = nil
	}
}

func (v *Viewer) teardownLocked() {
	if v.retryTimer != nil {
		v.retryTimer.Stop()
		v.retryTimer = nil
	}
	v.teardownLinkLocked()
	if v.sub != nil {
		v.sub.Close()
		v.sub = nil
	}
	if v.cancel != nil {
		v.cancel()
		v.cancel = nil
	}
}

func drainReceiverRTCP(receiver *webrtc.RTPReceiver) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := receiver.Read(buf); err != nil {
			return
		}
	}
}

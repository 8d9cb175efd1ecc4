package webrtc

import (
	"fmt"
	"sync"

	"livebid/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

// Config carries the WebRTC transport settings shared by the publisher
// fan-out and the viewer link manager.
type Config struct {
	ICEServers []webrtc.ICEServer
	PortRange  struct {
		Min uint16
		Max uint16
	}
}

func (c Config) newPeerConnection() (*webrtc.PeerConnection, error) {
	config := webrtc.Configuration{
		ICEServers:   c.ICEServers,
		SDPSemantics: webrtc.SDPSemanticsUnifiedPlanWithFallback,
	}

	settingEngine := webrtc.SettingEngine{}
	if c.PortRange.Min > 0 && c.PortRange.Max > 0 {
		settingEngine.SetEphemeralUDPPortRange(c.PortRange.Min, c.PortRange.Max)
	}

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
	return api.NewPeerConnection(config)
}

// LinkState names the lifecycle stage of one peer link. Negotiation
// callbacks advance the state machine instead of scattering side effects.
type LinkState string

const (
	LinkNew       LinkState = "new"
	LinkOffering  LinkState = "offering"
	LinkAnswered  LinkState = "answered"
	LinkConnected LinkState = "connected"
	LinkClosed    LinkState = "closed"
)

// PeerLink is one negotiated media path between the publisher and a single
// viewer. It is owned exclusively by the side that created it.
type PeerLink struct {
	viewerID domain.ViewerID
	pc       *webrtc.PeerConnection

	mu          sync.Mutex
	state       LinkState
	videoSender *webrtc.RTPSender

	closeOnce sync.Once
}

func newPeerLink(viewerID domain.ViewerID, pc *webrtc.PeerConnection) *PeerLink {
	return &PeerLink{
		viewerID: viewerID,
		pc:       pc,
		state:    LinkNew,
	}
}

func (l *PeerLink) ViewerID() domain.ViewerID { return l.viewerID }

func (l *PeerLink) State() LinkState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *PeerLink) setState(state LinkState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != LinkClosed {
		l.state = state
	}
}

// CreateOffer produces the local offer SDP and moves the link to offering.
func (l *PeerLink) CreateOffer() (string, error) {
	if l.State() == LinkClosed {
		return "", domain.ErrLinkClosed
	}

	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create offer: %w", err)
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("failed to set local description: %w", err)
	}

	l.setState(LinkOffering)
	return offer.SDP, nil
}

// LocalOfferSDP returns the stored local offer, used to answer duplicate
// request-offer retries without renegotiating.
func (l *PeerLink) LocalOfferSDP() string {
	desc := l.pc.LocalDescription()
	if desc == nil {
		return ""
	}
	return desc.SDP
}

// ApplyAnswer installs the viewer's answer. Applying an answer to a closed
// link is a no-op so stale retries are tolerated.
func (l *PeerLink) ApplyAnswer(sdp string) error {
	if l.State() == LinkClosed {
		return nil
	}

	err := l.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	})
	if err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}

	l.setState(LinkAnswered)
	return nil
}

// ApplyOffer installs the publisher's offer and produces the local answer.
func (l *PeerLink) ApplyOffer(sdp string) (string, error) {
	if l.State() == LinkClosed {
		return "", domain.ErrLinkClosed
	}

	err := l.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  sdp,
	})
	if err != nil {
		return "", fmt.Errorf("failed to set remote description: %w", err)
	}

	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create answer: %w", err)
	}
	if err := l.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("failed to set local description: %w", err)
	}

	l.setState(LinkAnswered)
	return answer.SDP, nil
}

// AddRemoteCandidate feeds a remote ICE candidate into the link. Candidates
// arriving after close are dropped silently.
func (l *PeerLink) AddRemoteCandidate(payload domain.ICECandidatePayload) error {
	if l.State() == LinkClosed {
		return nil
	}

	init := webrtc.ICECandidateInit{Candidate: payload.Candidate}
	if payload.SDPMid != "" {
		mid := payload.SDPMid
		init.SDPMid = &mid
	}
	idx := payload.SDPMLineIndex
	init.SDPMLineIndex = &idx

	if err := l.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("failed to add ICE candidate: %w", err)
	}
	return nil
}

func (l *PeerLink) setVideoSender(sender *webrtc.RTPSender) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.videoSender = sender
}

// ReplaceVideoTrack swaps the outbound video track in place; no offer/answer
// round-trip happens and audio is untouched.
func (l *PeerLink) ReplaceVideoTrack(track webrtc.TrackLocal) error {
	l.mu.Lock()
	sender := l.videoSender
	closed := l.state == LinkClosed
	l.mu.Unlock()

	if closed || sender == nil {
		return nil
	}
	return sender.ReplaceTrack(track)
}

// Close tears the link down, detaching all handlers first so nothing fires
// against a dead connection. Idempotent.
func (l *PeerLink) Close() {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.state = LinkClosed
		l.mu.Unlock()

		l.pc.OnICECandidate(nil)
		l.pc.OnICEConnectionStateChange(nil)
		l.pc.OnTrack(nil)
		l.pc.Close()
	})
}

// isTerminalICEState reports whether the ICE connection can no longer carry
// media. Reaching one of these states is the sole teardown trigger for
// fan-out links.
func isTerminalICEState(state webrtc.ICEConnectionState) bool {
	switch state {
	case webrtc.ICEConnectionStateFailed,
		webrtc.ICEConnectionStateDisconnected,
		webrtc.ICEConnectionStateClosed:
		return true
	}
	return false
}

package domain

import "encoding/json"

type SignalType string

const (
	SignalRequestOffer SignalType = "request-offer"
	SignalOffer        SignalType = "offer"
	SignalAnswer       SignalType = "answer"
	SignalICECandidate SignalType = "ice-candidate"
	SignalAuctionState SignalType = "auction-state"
	SignalSessionState SignalType = "session-state"
	SignalChat         SignalType = "chat"
)

// Envelope is the wire format shared by the signal bus and the websocket
// gateway. The bus has no per-viewer addressing: ViewerID is a routing
// filter, and every subscriber drops envelopes addressed to someone else.
type Envelope struct {
	Type      SignalType      `json:"type"`
	SessionID SessionID       `json:"session_id"`
	ViewerID  ViewerID        `json:"viewer_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// AddressedTo reports whether the envelope should be consumed by the given
// identity. Broadcast envelopes (empty ViewerID) are consumed by everyone.
func (e *Envelope) AddressedTo(id ViewerID) bool {
	return e.ViewerID == "" || e.ViewerID == id
}

type SDPPayload struct {
	SDP string `json:"sdp"`
}

// CandidateOrigin marks which side of a peer link produced an ICE
// candidate. The bus echoes every envelope back to its sender, so both
// sides filter on origin to consume only the remote side's candidates.
type CandidateOrigin string

const (
	OriginPublisher CandidateOrigin = "publisher"
	OriginViewer    CandidateOrigin = "viewer"
)

type ICECandidatePayload struct {
	Origin        CandidateOrigin `json:"origin"`
	Candidate     string          `json:"candidate"`
	SDPMid        string          `json:"sdp_mid,omitempty"`
	SDPMLineIndex uint16          `json:"sdp_mline_index,omitempty"`
}

type AuctionStatePayload struct {
	Auction *Auction `json:"auction"`
}

type SessionStatePayload struct {
	Status SessionStatus `json:"status"`
}

type ChatPayload struct {
	SenderID UserID `json:"sender_id"`
	Text     string `json:"text"`
}

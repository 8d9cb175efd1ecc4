package domain

import (
	"time"
)

type SessionID string
type UserID string
type ViewerID string
type AuctionID string
type ProductID string
type BidID string

type SessionStatus string

const (
	SessionInactive SessionStatus = "inactive"
	SessionActive   SessionStatus = "active"
	SessionEnded    SessionStatus = "ended"
)

type Orientation string

const (
	OrientationPortrait  Orientation = "portrait"
	OrientationLandscape Orientation = "landscape"
)

// StreamSession is one scheduled live broadcast. At most one session per
// publisher may be active at a time.
type StreamSession struct {
	ID          SessionID     `json:"id"`
	PublisherID UserID        `json:"publisher_id"`
	Status      SessionStatus `json:"status"`
	Orientation Orientation   `json:"orientation"`
	// ManifestURL, when set, points at the pull-based distribution stream
	// viewers fall back to if no peer link can be established.
	ManifestURL string    `json:"manifest_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func (s *StreamSession) IsActive() bool {
	return s.Status == SessionActive
}

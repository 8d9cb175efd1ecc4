package webrtc

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// NewAudioTrack returns a local Opus track fed from an ingest source.
func NewAudioTrack(streamID string) (*webrtc.TrackLocalStaticRTP, error) {
	return webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio-"+uuid.NewString(),
		streamID,
	)
}

// NewVideoTrack returns a local VP8 track fed from an ingest source.
func NewVideoTrack(streamID string) (*webrtc.TrackLocalStaticRTP, error) {
	return webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"video-"+uuid.NewString(),
		streamID,
	)
}

// RTPSource reads RTP packets from a UDP socket and writes them into a local
// track. One source runs per media feed: audio, the primary camera, and the
// secondary camera.
type RTPSource struct {
	conn   *net.UDPConn
	track  *webrtc.TrackLocalStaticRTP
	logger *zap.SugaredLogger
}

func NewRTPSource(address string, track *webrtc.TrackLocalStaticRTP, logger *zap.SugaredLogger) (*RTPSource, error) {
	addr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve ingest address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on ingest address: %w", err)
	}

	return &RTPSource{
		conn:   conn,
		track:  track,
		logger: logger,
	}, nil
}

// Run pumps packets until the context is cancelled or the socket closes.
// Malformed packets are dropped and counted, never fatal.
func (s *RTPSource) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.conn.Close()
	}()

	buf := make([]byte, 1500)
	var dropped int
	for {
		n, _, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("ingest read failed: %w", err)
		}

		packet := &rtp.Packet{}
		if err := packet.Unmarshal(buf[:n]); err != nil {
			dropped++
			if dropped%100 == 1 {
				s.logger.Warnw("dropping malformed RTP packets",
					"track", s.track.ID(),
					"dropped", dropped,
				)
			}
			continue
		}

		if err := s.track.WriteRTP(packet); err != nil {
			return fmt.Errorf("failed to write RTP to track: %w", err)
		}
	}
}

func (s *RTPSource) Close() error {
	return s.conn.Close()
}

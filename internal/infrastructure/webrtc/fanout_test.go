package webrtc

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"livebid/internal/core/domain"
	"livebid/internal/core/ports"
	"livebid/internal/infrastructure/signalbus"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestFanout(t *testing.T, bus ports.SignalBus) *Fanout {
	t.Helper()

	audio, err := NewAudioTrack("session-1")
	require.NoError(t, err)
	video, err := NewVideoTrack("session-1")
	require.NoError(t, err)

	return NewFanout(Config{}, "session-1", bus, audio, video, zap.NewNop().Sugar())
}

func awaitOffer(t *testing.T, sub ports.Subscription, viewerID domain.ViewerID) string {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case env, ok := <-sub.Messages():
			require.True(t, ok, "subscription closed before offer arrived")
			if env.Type != domain.SignalOffer || env.ViewerID != viewerID {
				continue
			}
			var payload domain.SDPPayload
			require.NoError(t, json.Unmarshal(env.Payload, &payload))
			require.NotEmpty(t, payload.SDP)
			return payload.SDP
		case <-deadline:
			t.Fatal("timed out waiting for offer")
		}
	}
}

func TestHandleRequestOffer_PublishesAddressedOffer(t *testing.T) {
	bus := signalbus.NewMemoryBus()
	fanout := newTestFanout(t, bus)
	defer fanout.CloseAll()

	sub, err := bus.Subscribe(context.Background(), ports.SessionTopic("session-1"))
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, fanout.HandleRequestOffer(context.Background(), "viewer-1"))

	awaitOffer(t, sub, "viewer-1")
	assert.Equal(t, 1, fanout.LinkCount())
}

func TestHandleRequestOffer_DuplicateResendsSameOffer(t *testing.T) {
	bus := signalbus.NewMemoryBus()
	fanout := newTestFanout(t, bus)
	defer fanout.CloseAll()

	sub, err := bus.Subscribe(context.Background(), ports.SessionTopic("session-1"))
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, fanout.HandleRequestOffer(context.Background(), "viewer-1"))
	first := awaitOffer(t, sub, "viewer-1")

	// A retried request must not renegotiate; the stored offer is resent.
	require.NoError(t, fanout.HandleRequestOffer(context.Background(), "viewer-1"))
	second := awaitOffer(t, sub, "viewer-1")

	assert.Equal(t, first, second)
	assert.Equal(t, 1, fanout.LinkCount())
}

func TestHandleRequestOffer_LinksAreIndependent(t *testing.T) {
	bus := signalbus.NewMemoryBus()
	fanout := newTestFanout(t, bus)
	defer fanout.CloseAll()

	sub, err := bus.Subscribe(context.Background(), ports.SessionTopic("session-1"))
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, fanout.HandleRequestOffer(context.Background(), "viewer-1"))
	require.NoError(t, fanout.HandleRequestOffer(context.Background(), "viewer-2"))

	awaitOffer(t, sub, "viewer-1")
	awaitOffer(t, sub, "viewer-2")
	assert.Equal(t, 2, fanout.LinkCount())
}

func TestHandleAnswer_CompletesNegotiation(t *testing.T) {
	bus := signalbus.NewMemoryBus()
	fanout := newTestFanout(t, bus)
	defer fanout.CloseAll()

	sub, err := bus.Subscribe(context.Background(), ports.SessionTopic("session-1"))
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, fanout.HandleRequestOffer(context.Background(), "viewer-1"))
	offerSDP := awaitOffer(t, sub, "viewer-1")

	// Answer with a real viewer-side peer connection.
	pc, err := Config{}.newPeerConnection()
	require.NoError(t, err)
	defer pc.Close()

	require.NoError(t, pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  offerSDP,
	}))
	answer, err := pc.CreateAnswer(nil)
	require.NoError(t, err)
	require.NoError(t, pc.SetLocalDescription(answer))

	fanout.HandleAnswer("viewer-1", answer.SDP)
	assert.Equal(t, 1, fanout.LinkCount())
}

func TestHandleAnswer_UnknownViewerIsDropped(t *testing.T) {
	bus := signalbus.NewMemoryBus()
	fanout := newTestFanout(t, bus)
	defer fanout.CloseAll()

	fanout.HandleAnswer("ghost", "v=0")
	assert.Zero(t, fanout.LinkCount())
}

func TestHandleRemoteCandidate_UnknownViewerIsDropped(t *testing.T) {
	bus := signalbus.NewMemoryBus()
	fanout := newTestFanout(t, bus)
	defer fanout.CloseAll()

	fanout.HandleRemoteCandidate("ghost", domain.ICECandidatePayload{
		Origin:    domain.OriginViewer,
		Candidate: "candidate:1 1 udp 2130706431 127.0.0.1 50000 typ host",
	})
	assert.Zero(t, fanout.LinkCount())
}

func TestReplaceVideoTrack(t *testing.T) {
	bus := signalbus.NewMemoryBus()
	fanout := newTestFanout(t, bus)
	defer fanout.CloseAll()

	sub, err := bus.Subscribe(context.Background(), ports.SessionTopic("session-1"))
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, fanout.HandleRequestOffer(context.Background(), "viewer-1"))
	awaitOffer(t, sub, "viewer-1")

	alt, err := NewVideoTrack("session-1")
	require.NoError(t, err)

	// The swap happens in place; the link survives it.
	fanout.ReplaceVideoTrack(alt)
	assert.Equal(t, 1, fanout.LinkCount())
}

func TestCloseAll(t *testing.T) {
	bus := signalbus.NewMemoryBus()
	fanout := newTestFanout(t, bus)

	sub, err := bus.Subscribe(context.Background(), ports.SessionTopic("session-1"))
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, fanout.HandleRequestOffer(context.Background(), "viewer-1"))
	require.NoError(t, fanout.HandleRequestOffer(context.Background(), "viewer-2"))
	require.Equal(t, 2, fanout.LinkCount())

	fanout.CloseAll()
	assert.Zero(t, fanout.LinkCount())

	// Idempotent.
	fanout.CloseAll()
	assert.Zero(t, fanout.LinkCount())
}

func TestRun_DispatchesRequestOffers(t *testing.T) {
	bus := signalbus.NewMemoryBus()
	fanout := newTestFanout(t, bus)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		fanout.Run(ctx)
		close(done)
	}()

	sub, err := bus.Subscribe(context.Background(), ports.SessionTopic("session-1"))
	require.NoError(t, err)
	defer sub.Close()

	// Give Run a moment to subscribe before publishing.
	require.Eventually(t, func() bool {
		require.NoError(t, bus.Publish(context.Background(), ports.SessionTopic("session-1"), &domain.Envelope{
			Type:      domain.SignalRequestOffer,
			SessionID: "session-1",
			ViewerID:  "viewer-1",
		}))
		return fanout.LinkCount() == 1
	}, 2*time.Second, 20*time.Millisecond)

	awaitOffer(t, sub, "viewer-1")

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on context cancel")
	}
	assert.Zero(t, fanout.LinkCount())
}

package signal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"livebid/internal/core/domain"
	"livebid/internal/core/ports"
	"livebid/internal/core/services"
	"livebid/internal/infrastructure/presence"
	"livebid/internal/infrastructure/repositories/memory"
	"livebid/internal/infrastructure/signalbus"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type gatewayFixture struct {
	gateway  *Gateway
	server   *httptest.Server
	sessions ports.SessionService
	session  *domain.StreamSession
}

func newGatewayFixture(t *testing.T) *gatewayFixture {
	t.Helper()

	sessionRepo := memory.NewSessionRepository()
	auctionRepo := memory.NewAuctionRepository()
	bus := signalbus.NewMemoryBus()
	log := zap.NewNop().Sugar()

	auctions := services.NewAuctionService(
		auctionRepo, auctionRepo, sessionRepo,
		bus, services.NopLocker{}, services.NopMetrics{},
		services.AuctionConfig{Duration: time.Minute, BidRetryLimit: 3},
		log,
	)
	sessions := services.NewSessionService(sessionRepo, auctions, bus, services.NopMediaRunner{}, services.NopMetrics{}, services.SessionConfig{}, log)

	ctx := context.Background()
	session, err := sessions.CreateSession(ctx, "seller-1", domain.OrientationPortrait)
	require.NoError(t, err)
	_, err = sessions.StartPublishing(ctx, session.ID, "seller-1")
	require.NoError(t, err)

	gateway := NewGateway(bus, sessions, presence.NewMemoryPresence(), NopMetrics{}, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", gateway.HandleWebSocket)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &gatewayFixture{
		gateway:  gateway,
		server:   server,
		sessions: sessions,
		session:  session,
	}
}

func (f *gatewayFixture) dial(t *testing.T, clientID string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") +
		"/ws?session_id=" + string(f.session.ID) + "&client_id=" + clientID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// waitForClients blocks until n sockets are registered, then briefly longer
// so their bus subscriptions are live before anything is published.
func (f *gatewayFixture) waitForClients(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return f.gateway.ConnectedClients(f.session.ID) == n
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
}

func readEnvelope(t *testing.T, conn *websocket.Conn) *domain.Envelope {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env domain.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	return &env
}

func TestHandleWebSocket_RequiresQueryParams(t *testing.T) {
	f := newGatewayFixture(t)

	resp, err := http.Get(f.server.URL + "/ws?session_id=" + string(f.session.ID))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleWebSocket_UnknownSession(t *testing.T) {
	f := newGatewayFixture(t)

	resp, err := http.Get(f.server.URL + "/ws?session_id=ghost&client_id=viewer-1")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGateway_ViewerSignalingReachesOnlyPublisher(t *testing.T) {
	f := newGatewayFixture(t)

	publisher := f.dial(t, "seller-1")
	viewer := f.dial(t, "viewer-1")
	bystander := f.dial(t, "viewer-2")
	f.waitForClients(t, 3)

	require.NoError(t, viewer.WriteJSON(&domain.Envelope{
		Type: domain.SignalRequestOffer,
	}))

	env := readEnvelope(t, publisher)
	assert.Equal(t, domain.SignalRequestOffer, env.Type)
	// The gateway stamps the sender so the publisher can route the reply.
	assert.Equal(t, domain.ViewerID("viewer-1"), env.ViewerID)

	bystander.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	var leaked domain.Envelope
	assert.Error(t, bystander.ReadJSON(&leaked), "negotiation frames must not reach other viewers")
}

func TestGateway_OfferDeliveredOnlyToTarget(t *testing.T) {
	f := newGatewayFixture(t)

	publisher := f.dial(t, "seller-1")
	viewer := f.dial(t, "viewer-1")
	bystander := f.dial(t, "viewer-2")
	f.waitForClients(t, 3)

	require.NoError(t, publisher.WriteJSON(&domain.Envelope{
		Type:     domain.SignalOffer,
		ViewerID: "viewer-1",
		Payload:  []byte(`{"sdp":"v=0"}`),
	}))

	env := readEnvelope(t, viewer)
	assert.Equal(t, domain.SignalOffer, env.Type)
	assert.Equal(t, domain.ViewerID("viewer-1"), env.ViewerID)

	bystander.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	var leaked domain.Envelope
	assert.Error(t, bystander.ReadJSON(&leaked))
}

func TestGateway_OfferWithoutTargetRejected(t *testing.T) {
	f := newGatewayFixture(t)

	publisher := f.dial(t, "seller-1")

	require.NoError(t, publisher.WriteJSON(&domain.Envelope{
		Type:    domain.SignalOffer,
		Payload: []byte(`{"sdp":"v=0"}`),
	}))

	publisher.SetReadDeadline(time.Now().Add(2 * time.Second))
	var reply map[string]interface{}
	require.NoError(t, publisher.ReadJSON(&reply))
	assert.Equal(t, "error", reply["type"])
}

func TestGateway_ViewerCannotSpoofViewerID(t *testing.T) {
	f := newGatewayFixture(t)

	viewer := f.dial(t, "viewer-1")

	require.NoError(t, viewer.WriteJSON(&domain.Envelope{
		Type:     domain.SignalAnswer,
		ViewerID: "viewer-2",
		Payload:  []byte(`{"sdp":"v=0"}`),
	}))

	viewer.SetReadDeadline(time.Now().Add(2 * time.Second))
	var reply map[string]interface{}
	require.NoError(t, viewer.ReadJSON(&reply))
	assert.Equal(t, "error", reply["type"])
}

func TestGateway_ChatBroadcastsToEveryone(t *testing.T) {
	f := newGatewayFixture(t)

	publisher := f.dial(t, "seller-1")
	viewer := f.dial(t, "viewer-1")
	f.waitForClients(t, 2)

	require.NoError(t, viewer.WriteJSON(&domain.Envelope{
		Type:    domain.SignalChat,
		Payload: []byte(`{"sender_id":"viewer-1","text":"hi"}`),
	}))

	env := readEnvelope(t, publisher)
	assert.Equal(t, domain.SignalChat, env.Type)
}

func TestGateway_ConnectedClients(t *testing.T) {
	f := newGatewayFixture(t)

	require.Zero(t, f.gateway.ConnectedClients(f.session.ID))

	f.dial(t, "viewer-1")
	f.dial(t, "viewer-2")

	require.Eventually(t, func() bool {
		return f.gateway.ConnectedClients(f.session.ID) == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestGateway_PublisherReconnectKeepsSessionLive(t *testing.T) {
	f := newGatewayFixture(t)

	first := f.dial(t, "seller-1")
	f.waitForClients(t, 1)

	// Reconnecting replaces the registry entry and closes the old socket.
	second := f.dial(t, "seller-1")

	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	var discard domain.Envelope
	require.Error(t, first.ReadJSON(&discard), "old socket must be closed by the takeover")

	// The old handler's exit path runs now; it must not evict the new socket
	// or end the session.
	time.Sleep(100 * time.Millisecond)

	session, err := f.sessions.GetSession(context.Background(), f.session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionActive, session.Status, "publisher reconnect must not end the session")
	assert.Equal(t, 1, f.gateway.ConnectedClients(f.session.ID))

	// The replacement socket still receives viewer signaling.
	viewer := f.dial(t, "viewer-1")
	f.waitForClients(t, 2)
	require.NoError(t, viewer.WriteJSON(&domain.Envelope{
		Type: domain.SignalRequestOffer,
	}))
	env := readEnvelope(t, second)
	assert.Equal(t, domain.SignalRequestOffer, env.Type)
}

func TestGateway_PublisherDisconnectEndsSession(t *testing.T) {
	f := newGatewayFixture(t)

	publisher := f.dial(t, "seller-1")
	publisher.Close()

	require.Eventually(t, func() bool {
		session, err := f.sessions.GetSession(context.Background(), f.session.ID)
		return err == nil && session.Status == domain.SessionEnded
	}, 2*time.Second, 10*time.Millisecond)
}

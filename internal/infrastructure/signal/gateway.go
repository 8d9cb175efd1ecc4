package signal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"livebid/internal/core/domain"
	"livebid/internal/core/ports"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Should be configured properly for production
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Metrics receives gateway-level counters: relayed envelopes and socket
// membership per session.
type Metrics interface {
	SignalRelayed(signalType string)
	ViewerJoined(sessionID string)
	ViewerLeft(sessionID string)
	SessionMetricsCleared(sessionID string)
}

// NopMetrics satisfies Metrics without recording anything.
type NopMetrics struct{}

func (NopMetrics) SignalRelayed(string)         {}
func (NopMetrics) ViewerJoined(string)          {}
func (NopMetrics) ViewerLeft(string)            {}
func (NopMetrics) SessionMetricsCleared(string) {}

// Gateway bridges browser websockets onto the session signal bus. Every
// socket is bound to one session topic: inbound frames become bus envelopes
// and bus envelopes addressed to the client come back down the socket. The
// gateway never inspects SDP contents; it only relays and filters.
type Gateway struct {
	bus      ports.SignalBus
	sessions ports.SessionService
	presence ports.Presence
	metrics  Metrics

	pingInterval time.Duration
	pongTimeout  time.Duration
	writeTimeout time.Duration

	mu      sync.RWMutex
	clients map[clientKey]*client

	logger *zap.SugaredLogger
}

type clientKey struct {
	sessionID domain.SessionID
	clientID  domain.ViewerID
}

type client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// writeJSON serializes concurrent writers; gorilla connections allow only
// one writer at a time.
func (c *client) writeJSON(timeout time.Duration, v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(timeout))
	return c.conn.WriteJSON(v)
}

func (c *client) ping(timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(timeout))
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}

func NewGateway(bus ports.SignalBus, sessions ports.SessionService, presence ports.Presence, metrics Metrics, logger *zap.SugaredLogger) *Gateway {
	return &Gateway{
		bus:          bus,
		sessions:     sessions,
		presence:     presence,
		metrics:      metrics,
		pingInterval: 30 * time.Second,
		pongTimeout:  60 * time.Second,
		writeTimeout: 10 * time.Second,
		clients:      make(map[clientKey]*client),
		logger:       logger,
	}
}

func (g *Gateway) SetPingInterval(interval time.Duration) { g.pingInterval = interval }
func (g *Gateway) SetPongTimeout(timeout time.Duration)   { g.pongTimeout = timeout }

// HandleWebSocket serves one client connection for the session named in the
// query string. The publisher connects with client_id equal to its user id;
// viewers connect with their viewer id.
func (g *Gateway) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := domain.SessionID(r.URL.Query().Get("session_id"))
	clientID := domain.ViewerID(r.URL.Query().Get("client_id"))
	if sessionID == "" || clientID == "" {
		http.Error(w, "session_id and client_id are required", http.StatusBadRequest)
		return
	}

	session, err := g.sessions.GetSession(r.Context(), sessionID)
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	key := clientKey{sessionID: sessionID, clientID: clientID}
	cl := &client{conn: conn}

	g.mu.Lock()
	if existing, isReconnect := g.clients[key]; isReconnect {
		existing.conn.Close()
		g.logger.Infow("closing old connection for reconnecting client",
			"session_id", sessionID,
			"client_id", clientID,
		)
	}
	g.clients[key] = cl
	g.mu.Unlock()

	isPublisher := string(session.PublisherID) == string(clientID)

	g.logger.Infow("client connected",
		"session_id", sessionID,
		"client_id", clientID,
		"publisher", isPublisher,
	)

	if err := g.presence.Join(r.Context(), sessionID, clientID); err != nil {
		g.logger.Warnw("presence join failed", "session_id", sessionID, "error", err)
	}
	g.metrics.ViewerJoined(string(sessionID))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := g.bus.Subscribe(ctx, ports.SessionTopic(sessionID))
	if err != nil {
		g.logger.Errorw("failed to subscribe to session topic",
			"session_id", sessionID,
			"error", err,
		)
		g.removeClient(cl, key, sessionID, clientID, isPublisher, session.PublisherID)
		return
	}
	defer sub.Close()

	conn.SetReadDeadline(time.Now().Add(g.pongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(g.pongTimeout))
		return nil
	})

	pingTicker := time.NewTicker(g.pingInterval)
	defer pingTicker.Stop()

	inbound := make(chan *domain.Envelope, 10)
	errorChan := make(chan error, 1)

	go func() {
		for {
			var env domain.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				errorChan <- err
				return
			}
			conn.SetReadDeadline(time.Now().Add(g.pongTimeout))
			inbound <- &env
		}
	}()

	for {
		select {
		case env := <-inbound:
			if err := g.handleInbound(ctx, sessionID, clientID, env); err != nil {
				g.logger.Infow("error handling client message",
					"session_id", sessionID,
					"client_id", clientID,
					"error", err,
				)
				g.sendError(cl, err.Error())
			}

		case env, ok := <-sub.Messages():
			if !ok {
				g.removeClient(cl, key, sessionID, clientID, isPublisher, session.PublisherID)
				return
			}
			if !g.shouldDeliver(env, clientID, isPublisher) {
				continue
			}
			if err := cl.writeJSON(g.writeTimeout, env); err != nil {
				g.logger.Infow("error writing to client",
					"session_id", sessionID,
					"client_id", clientID,
					"error", err,
				)
				g.removeClient(cl, key, sessionID, clientID, isPublisher, session.PublisherID)
				return
			}

		case <-pingTicker.C:
			if err := cl.ping(g.writeTimeout); err != nil {
				g.logger.Infow("error sending ping",
					"session_id", sessionID,
					"client_id", clientID,
					"error", err,
				)
				g.removeClient(cl, key, sessionID, clientID, isPublisher, session.PublisherID)
				return
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				g.logger.Infow("error reading from client",
					"session_id", sessionID,
					"client_id", clientID,
					"error", err,
				)
			}
			g.removeClient(cl, key, sessionID, clientID, isPublisher, session.PublisherID)
			return
		}
	}
}

// handleInbound validates a client frame and publishes it to the bus.
func (g *Gateway) handleInbound(ctx context.Context, sessionID domain.SessionID, clientID domain.ViewerID, env *domain.Envelope) error {
	if env.Type == "" {
		return fmt.Errorf("message type is required")
	}
	if env.SessionID != "" && env.SessionID != sessionID {
		return fmt.Errorf("session_id mismatch: expected %s, got %s", sessionID, env.SessionID)
	}

	switch env.Type {
	case domain.SignalRequestOffer, domain.SignalAnswer, domain.SignalICECandidate:
		// Viewer-side signaling always names the sending viewer so the
		// publisher routes it to the right link. Clients cannot speak for
		// each other.
		if env.ViewerID != "" && env.ViewerID != clientID {
			return fmt.Errorf("viewer_id mismatch: expected %s, got %s", clientID, env.ViewerID)
		}
		env.ViewerID = clientID

	case domain.SignalOffer:
		// Offers come from the publisher and must name a target viewer.
		if env.ViewerID == "" {
			return fmt.Errorf("offer requires a target viewer_id")
		}

	case domain.SignalChat:
		// Relayed as-is.

	default:
		return fmt.Errorf("unknown message type: %s", env.Type)
	}

	env.SessionID = sessionID
	if err := g.bus.Publish(ctx, ports.SessionTopic(sessionID), env); err != nil {
		return err
	}
	g.metrics.SignalRelayed(string(env.Type))
	return nil
}

// shouldDeliver filters bus traffic down to what this socket needs. Media
// negotiation frames go only to their addressee; state and chat frames go to
// everyone. The publisher additionally receives all viewer-originated
// negotiation traffic.
func (g *Gateway) shouldDeliver(env *domain.Envelope, clientID domain.ViewerID, isPublisher bool) bool {
	switch env.Type {
	case domain.SignalRequestOffer, domain.SignalAnswer:
		return isPublisher
	case domain.SignalOffer:
		return env.AddressedTo(clientID) && !isPublisher
	case domain.SignalICECandidate:
		if isPublisher {
			return true
		}
		return env.AddressedTo(clientID)
	default:
		return true
	}
}

// removeClient drops the socket registration and presence entry. A dropped
// publisher socket ends the whole session so viewers are not left watching
// a dead broadcast. The registry entry is only removed when it still belongs
// to the leaving connection: a reconnect replaces the entry first, and the
// superseded handler's exit must not evict the new socket or tear the
// session down.
func (g *Gateway) removeClient(cl *client, key clientKey, sessionID domain.SessionID, clientID domain.ViewerID, isPublisher bool, publisherID domain.UserID) {
	g.mu.Lock()
	current, registered := g.clients[key]
	superseded := registered && current != cl
	if registered && current == cl {
		delete(g.clients, key)
	}
	g.mu.Unlock()

	if superseded {
		g.logger.Infow("superseded connection closed",
			"session_id", sessionID,
			"client_id", clientID,
		)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := g.presence.Leave(ctx, sessionID, clientID); err != nil {
		g.logger.Warnw("presence leave failed", "session_id", sessionID, "error", err)
	}
	g.metrics.ViewerLeft(string(sessionID))

	if isPublisher {
		err := g.sessions.StopPublishing(ctx, sessionID, publisherID)
		if err != nil && !isBenignStopError(err) {
			g.logger.Warnw("failed to stop session after publisher disconnect",
				"session_id", sessionID,
				"error", err,
			)
		}
		g.metrics.SessionMetricsCleared(string(sessionID))
	}

	g.logger.Infow("client disconnected",
		"session_id", sessionID,
		"client_id", clientID,
	)
}

func (g *Gateway) sendError(cl *client, message string) {
	cl.writeJSON(g.writeTimeout, map[string]interface{}{
		"type":    "error",
		"message": message,
	})
}

// ConnectedClients reports sockets currently attached to a session.
func (g *Gateway) ConnectedClients(sessionID domain.SessionID) int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	count := 0
	for key := range g.clients {
		if key.sessionID == sessionID {
			count++
		}
	}
	return count
}

// isBenignStopError filters expected outcomes of a teardown race: the
// session may already be stopped by an explicit API call.
func isBenignStopError(err error) bool {
	return errors.Is(err, domain.ErrSessionNotActive) ||
		errors.Is(err, domain.ErrSessionNotFound)
}

package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"livebid/internal/core/domain"
	"livebid/internal/infrastructure/repositories"
	webrtcinfra "livebid/internal/infrastructure/webrtc"
	"livebid/pkg/config"
	"livebid/pkg/logger"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
)

// A headless watch client: joins a session's signal topic, negotiates a peer
// link with the publisher, and falls back to the session's distribution
// manifest when the offer retry budget is spent. The retry policy comes from
// the same configuration the server reads.
func main() {
	sessionFlag := flag.String("session", "", "session id to watch")
	viewerFlag := flag.String("viewer", "", "viewer id (defaults to a fresh uuid)")
	configFlag := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configFlag)
	if err != nil {
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	if *sessionFlag == "" {
		log.Fatal("-session is required")
	}
	sessionID := domain.SessionID(*sessionFlag)
	viewerID := domain.ViewerID(*viewerFlag)
	if viewerID == "" {
		viewerID = domain.ViewerID(uuid.NewString())
	}

	factory, err := repositories.NewFactory(cfg, log)
	if err != nil {
		log.Fatalw("failed to create infrastructure factory", "error", err)
	}
	defer factory.Close()

	sessionRepo := factory.CreateSessionRepository()
	bus := factory.CreateSignalBus()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session, err := sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		log.Fatalw("failed to load session", "session_id", sessionID, "error", err)
	}

	var iceServers []webrtc.ICEServer
	for _, s := range cfg.WebRTC.ICEServers {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	if len(iceServers) == 0 {
		iceServers = []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		}
	}

	webrtcConfig := webrtcinfra.Config{ICEServers: iceServers}
	webrtcConfig.PortRange.Min = cfg.WebRTC.PortRange.Min
	webrtcConfig.PortRange.Max = cfg.WebRTC.PortRange.Max

	viewer := webrtcinfra.NewViewer(webrtcinfra.ViewerConfig{
		WebRTC:      webrtcConfig,
		RetryDelay:  cfg.Signal.OfferRetryDelay,
		RetryLimit:  cfg.Signal.OfferRetryLimit,
		ManifestURL: session.ManifestURL,
	}, sessionID, viewerID, bus, log)

	viewer.OnTrack = func(track *webrtc.TrackRemote) {
		log.Infow("receiving media",
			"session_id", sessionID,
			"kind", track.Kind().String(),
			"ssrc", track.SSRC(),
		)
	}

	unreachable := make(chan struct{}, 1)
	viewer.OnStateChange = func(state webrtcinfra.ViewerState) {
		log.Infow("viewer state changed",
			"session_id", sessionID,
			"viewer_id", viewerID,
			"state", state,
		)
		switch state {
		case webrtcinfra.ViewerFallback:
			log.Infow("playing from distribution manifest",
				"session_id", sessionID,
				"manifest_url", viewer.ManifestURL(),
			)
		case webrtcinfra.ViewerUnreachable:
			select {
			case unreachable <- struct{}{}:
			default:
			}
		}
	}

	if err := viewer.Join(ctx); err != nil {
		log.Fatalw("failed to join session", "session_id", sessionID, "error", err)
	}
	defer viewer.Leave()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	case <-unreachable:
		// Budget spent with no fallback manifest; nothing left to retry.
		log.Fatalw("giving up on session",
			"session_id", sessionID,
			"error", domain.ErrUnreachable,
		)
	}
}

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"livebid/internal/core/services"
	httphandlers "livebid/internal/handlers/http"
	"livebid/internal/infrastructure/middleware"
	"livebid/internal/infrastructure/monitoring"
	"livebid/internal/infrastructure/reliability"
	"livebid/internal/infrastructure/repositories"
	signalgw "livebid/internal/infrastructure/signal"
	webrtcinfra "livebid/internal/infrastructure/webrtc"
	"livebid/pkg/circuitbreaker"
	"livebid/pkg/config"
	"livebid/pkg/logger"
	"livebid/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	startTime := time.Now()

	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error

	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}
	if err != nil {
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	tracerProvider, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "livebid",
		JaegerURL:   cfg.Tracing.JaegerURL,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	factory, err := repositories.NewFactory(cfg, log)
	if err != nil {
		log.Fatalw("failed to create infrastructure factory", "error", err)
	}
	defer factory.Close()

	sessionRepo := factory.CreateSessionRepository()
	auctionRepo, bidLedger := factory.CreateAuctionRepository()
	bus := factory.CreateSignalBus()
	presence := factory.CreatePresence()
	locker := factory.CreateLocker()

	collector := monitoring.NewPrometheusCollector()

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

	broadcaster := webrtcinfra.NewBroadcaster(webrtcConfig, webrtcinfra.IngestConfig{
		AudioAddress:    cfg.Ingest.AudioAddress,
		VideoAddress:    cfg.Ingest.VideoAddress,
		AltVideoAddress: cfg.Ingest.AltVideoAddress,
	}, bus, log)

	auctionCore := services.NewAuctionService(
		auctionRepo,
		bidLedger,
		sessionRepo,
		bus,
		locker,
		collector,
		services.AuctionConfig{
			Duration:      cfg.Auction.Duration,
			BidRetryLimit: cfg.Auction.BidRetryLimit,
		},
		log,
	)
	auctionService := reliability.NewAuctionServiceWrapper(auctionCore, circuitbreaker.DefaultConfig(), log)

	sessionService := services.NewSessionService(
		sessionRepo,
		auctionService,
		bus,
		broadcaster,
		collector,
		services.SessionConfig{ManifestBase: cfg.Distribution.ManifestBase},
		log,
	)
	authService := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL)

	// Deadline timers do not survive restarts; re-arm them before serving.
	resumeCtx, resumeCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := auctionService.ResumeTimers(resumeCtx); err != nil {
		log.Warnw("failed to resume auction timers", "error", err)
	}
	resumeCancel()

	gateway := signalgw.NewGateway(bus, sessionService, presence, collector, log)
	gateway.SetPingInterval(cfg.Signal.PingInterval)
	gateway.SetPongTimeout(cfg.Signal.PongTimeout)

	healthChecker := monitoring.NewHealthChecker()
	healthChecker.AddCheck("store", factory.HealthCheck, 2*time.Second)

	authHandler := httphandlers.NewAuthHandler(authService)
	sessionHandler := httphandlers.NewSessionHandler(sessionService, presence, broadcaster)
	auctionHandler := httphandlers.NewAuctionHandler(auctionService, middleware.NewBidRateLimitMiddleware(cfg))

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.ErrorHandlerMiddleware(log))
	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))
	if cfg.Tracing.Enabled {
		router.Use(middleware.TracingMiddleware())
	}

	authHandler.SetupRoutes(router)

	api := router.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(authService))
	sessionHandler.SetupRoutes(api)
	auctionHandler.SetupRoutes(api)

	router.GET("/ws", gin.WrapF(gateway.HandleWebSocket))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":    "healthy",
			"timestamp": time.Now(),
			"uptime":    time.Since(startTime).String(),
		})
	})

	router.GET("/ready", func(c *gin.Context) {
		status := healthChecker.CheckAll(c.Request.Context())
		if status.Status != "healthy" {
			c.JSON(503, gin.H{
				"status": "not_ready",
				"checks": status.Checks,
			})
			return
		}
		c.JSON(200, gin.H{
			"status": "ready",
			"checks": status.Checks,
		})
	})

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("Prometheus metrics enabled")
	}

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infof("starting livebid server on %s", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	}

	log.Info("shutting down livebid server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("error force closing server", "error", closeErr)
		}
	}

	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error shutting down tracer", "error", err)
	}

	if err := factory.Close(); err != nil {
		log.Errorw("error closing infrastructure factory", "error", err)
	}

	log.Info("livebid server stopped")
}

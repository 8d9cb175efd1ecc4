package repositories

import (
	"context"
	"time"

	"livebid/internal/core/ports"
	"livebid/internal/core/services"
	"livebid/internal/infrastructure/presence"
	"livebid/internal/infrastructure/repositories/memory"
	redisrepo "livebid/internal/infrastructure/repositories/redis"
	"livebid/internal/infrastructure/signalbus"
	"livebid/pkg/config"
	"livebid/pkg/distributed"
	"livebid/pkg/retry"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Factory wires either the Redis-backed or the in-memory infrastructure
// behind the core ports. Memory is the single-process fallback; Redis is the
// deployment shape where multiple gateway processes share one store and bus.
type Factory struct {
	useRedis    bool
	redisClient *redis.Client
	logger      *zap.SugaredLogger

	memAuctions *memory.AuctionRepository
}

func NewFactory(cfg *config.Config, logger *zap.SugaredLogger) (*Factory, error) {
	factory := &Factory{
		useRedis: cfg.Redis.Enabled,
		logger:   logger,
	}

	if cfg.Redis.Enabled {
		// A Redis restart racing process startup is common in practice, so
		// the first connection gets a short backoff budget.
		client, err := retry.DoWithResult(context.Background(), retry.DefaultConfig(), func() (*redis.Client, error) {
			return redisrepo.NewClient(
				cfg.Redis.Address,
				cfg.Redis.Password,
				cfg.Redis.DB,
				cfg.Redis.PoolSize,
				logger,
			)
		})
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory infrastructure",
				"error", err,
			)
			factory.useRedis = false
		} else {
			factory.redisClient = client
			logger.Info("using Redis infrastructure")
		}
	}

	if !factory.useRedis {
		logger.Info("using memory infrastructure")
	}

	return factory, nil
}

func (f *Factory) CreateSessionRepository() ports.SessionRepository {
	if f.useRedis && f.redisClient != nil {
		return redisrepo.NewSessionRepository(f.redisClient)
	}
	return memory.NewSessionRepository()
}

// CreateAuctionRepository returns the auction store. The same instance backs
// the ledger reads so winner resolution and price updates see one truth.
func (f *Factory) CreateAuctionRepository() (ports.AuctionRepository, ports.BidLedger) {
	if f.useRedis && f.redisClient != nil {
		repo := redisrepo.NewAuctionRepository(f.redisClient)
		return repo, repo
	}
	if f.memAuctions == nil {
		f.memAuctions = memory.NewAuctionRepository()
	}
	return f.memAuctions, f.memAuctions
}

func (f *Factory) CreateSignalBus() ports.SignalBus {
	if f.useRedis && f.redisClient != nil {
		return signalbus.NewRedisBus(f.redisClient, f.logger)
	}
	return signalbus.NewMemoryBus()
}

func (f *Factory) CreatePresence() ports.Presence {
	if f.useRedis && f.redisClient != nil {
		return presence.NewRedisPresence(f.redisClient)
	}
	return presence.NewMemoryPresence()
}

func (f *Factory) CreateLocker() services.Locker {
	if f.useRedis && f.redisClient != nil {
		return distributed.NewLocker(f.redisClient, 10*time.Second, 5*time.Second)
	}
	return services.NopLocker{}
}

// HealthCheck verifies the store dependency.
func (f *Factory) HealthCheck(ctx context.Context) error {
	if f.useRedis && f.redisClient != nil {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}

func (f *Factory) Close() error {
	if f.redisClient != nil {
		return f.redisClient.Close()
	}
	return nil
}

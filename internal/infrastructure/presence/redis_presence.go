package presence

import (
	"context"
	"fmt"

	"livebid/internal/core/domain"
	"livebid/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// RedisPresence tracks which clients currently hold a socket into a session.
// Counts are display-only and may briefly lag the truth after crashes; no
// correctness decision reads them.
type RedisPresence struct {
	client *redis.Client
}

func NewRedisPresence(client *redis.Client) *RedisPresence {
	return &RedisPresence{client: client}
}

func presenceKey(sessionID domain.SessionID) string {
	return "livebid:presence:" + string(sessionID)
}

func (p *RedisPresence) Join(ctx context.Context, sessionID domain.SessionID, clientID domain.ViewerID) error {
	if err := p.client.SAdd(ctx, presenceKey(sessionID), string(clientID)).Err(); err != nil {
		return fmt.Errorf("failed to record presence: %w", err)
	}
	return nil
}

func (p *RedisPresence) Leave(ctx context.Context, sessionID domain.SessionID, clientID domain.ViewerID) error {
	if err := p.client.SRem(ctx, presenceKey(sessionID), string(clientID)).Err(); err != nil {
		return fmt.Errorf("failed to remove presence: %w", err)
	}
	return nil
}

func (p *RedisPresence) Count(ctx context.Context, sessionID domain.SessionID) (int64, error) {
	count, err := p.client.SCard(ctx, presenceKey(sessionID)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count presence: %w", err)
	}
	return count, nil
}

var _ ports.Presence = (*RedisPresence)(nil)

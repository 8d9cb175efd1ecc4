package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"livebid/internal/core/domain"
	"livebid/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

type SessionRepository struct {
	client *redis.Client
	prefix string
}

func NewSessionRepository(client *redis.Client) ports.SessionRepository {
	return &SessionRepository{
		client: client,
		prefix: "livebid:",
	}
}

func (r *SessionRepository) sessionKey(id domain.SessionID) string {
	return r.prefix + "session:" + string(id)
}

// liveKey is the publisher's one-active-session reservation.
func (r *SessionRepository) liveKey(publisherID domain.UserID) string {
	return r.prefix + "live:" + string(publisherID)
}

func (r *SessionRepository) Create(ctx context.Context, session *domain.StreamSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	if err := r.client.Set(ctx, r.sessionKey(session.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set session in Redis: %w", err)
	}
	return nil
}

func (r *SessionRepository) GetByID(ctx context.Context, id domain.SessionID) (*domain.StreamSession, error) {
	data, err := r.client.Get(ctx, r.sessionKey(id)).Result()
	if err == redis.Nil {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session from Redis: %w", err)
	}

	var session domain.StreamSession
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &session, nil
}

func (r *SessionRepository) Activate(ctx context.Context, session *domain.StreamSession) error {
	// Reserve the publisher slot first; losing this race means another
	// session of the same publisher is already live.
	ok, err := r.client.SetNX(ctx, r.liveKey(session.PublisherID), string(session.ID), 0).Result()
	if err != nil {
		return fmt.Errorf("failed to reserve publisher slot: %w", err)
	}
	if !ok {
		current, _ := r.client.Get(ctx, r.liveKey(session.PublisherID)).Result()
		if current != string(session.ID) {
			return domain.ErrAlreadyPublishing
		}
	}

	session.Status = domain.SessionActive
	if err := r.Create(ctx, session); err != nil {
		r.client.Del(ctx, r.liveKey(session.PublisherID))
		return err
	}
	return nil
}

// releaseSlotScript frees the publisher slot only while this session holds it.
var releaseSlotScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (r *SessionRepository) End(ctx context.Context, session *domain.StreamSession) error {
	session.Status = domain.SessionEnded
	if err := r.Create(ctx, session); err != nil {
		return err
	}

	err := releaseSlotScript.Run(ctx, r.client,
		[]string{r.liveKey(session.PublisherID)}, string(session.ID)).Err()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("failed to release publisher slot: %w", err)
	}
	return nil
}

package memory

import (
	"context"
	"sync"

	"livebid/internal/core/domain"
	"livebid/internal/core/ports"
)

type SessionRepository struct {
	mu       sync.RWMutex
	sessions map[domain.SessionID]*domain.StreamSession
	live     map[domain.UserID]domain.SessionID
}

func NewSessionRepository() *SessionRepository {
	return &SessionRepository{
		sessions: make(map[domain.SessionID]*domain.StreamSession),
		live:     make(map[domain.UserID]domain.SessionID),
	}
}

var _ ports.SessionRepository = (*SessionRepository)(nil)

func (r *SessionRepository) Create(ctx context.Context, session *domain.StreamSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *session
	r.sessions[session.ID] = &copied
	return nil
}

func (r *SessionRepository) GetByID(ctx context.Context, id domain.SessionID) (*domain.StreamSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	copied := *session
	return &copied, nil
}

func (r *SessionRepository) Activate(ctx context.Context, session *domain.StreamSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if held, ok := r.live[session.PublisherID]; ok && held != session.ID {
		return domain.ErrAlreadyPublishing
	}
	r.live[session.PublisherID] = session.ID

	session.Status = domain.SessionActive
	copied := *session
	r.sessions[session.ID] = &copied
	return nil
}

func (r *SessionRepository) End(ctx context.Context, session *domain.StreamSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	session.Status = domain.SessionEnded
	copied := *session
	r.sessions[session.ID] = &copied

	if held, ok := r.live[session.PublisherID]; ok && held == session.ID {
		delete(r.live, session.PublisherID)
	}
	return nil
}

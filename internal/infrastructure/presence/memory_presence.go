package presence

import (
	"context"
	"sync"

	"livebid/internal/core/domain"
	"livebid/internal/core/ports"
)

// MemoryPresence is the single-process counterpart of RedisPresence.
type MemoryPresence struct {
	mu      sync.RWMutex
	members map[domain.SessionID]map[domain.ViewerID]struct{}
}

func NewMemoryPresence() *MemoryPresence {
	return &MemoryPresence{
		members: make(map[domain.SessionID]map[domain.ViewerID]struct{}),
	}
}

func (p *MemoryPresence) Join(ctx context.Context, sessionID domain.SessionID, clientID domain.ViewerID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.members[sessionID] == nil {
		p.members[sessionID] = make(map[domain.ViewerID]struct{})
	}
	p.members[sessionID][clientID] = struct{}{}
	return nil
}

func (p *MemoryPresence) Leave(ctx context.Context, sessionID domain.SessionID, clientID domain.ViewerID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if set, ok := p.members[sessionID]; ok {
		delete(set, clientID)
		if len(set) == 0 {
			delete(p.members, sessionID)
		}
	}
	return nil
}

func (p *MemoryPresence) Count(ctx context.Context, sessionID domain.SessionID) (int64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return int64(len(p.members[sessionID])), nil
}

var _ ports.Presence = (*MemoryPresence)(nil)

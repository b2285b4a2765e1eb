package identity

import (
	"context"
	"sync"

	"sos-guardian/internal/model"
)

type memoryStore struct {
	mu         sync.RWMutex
	byID       map[string]model.Identity
	byUsername map[string]string
	byDevice   map[string]string
}

func NewMemoryStore() Store {
	return &memoryStore{
		byID:       make(map[string]model.Identity),
		byUsername: make(map[string]string),
		byDevice:   make(map[string]string),
	}
}

func (s *memoryStore) Create(_ context.Context, ident model.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byUsername[ident.Username]; taken {
		return ErrUsernameTaken
	}
	s.byID[ident.ID] = ident
	s.byUsername[ident.Username] = ident.ID
	s.byDevice[ident.DeviceID] = ident.ID
	return nil
}

func (s *memoryStore) GetByUsername(_ context.Context, username string) (model.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byUsername[username]
	if !ok {
		return model.Identity{}, ErrNotFound
	}
	return s.byID[id], nil
}

func (s *memoryStore) GetByID(_ context.Context, id string) (model.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ident, ok := s.byID[id]
	if !ok {
		return model.Identity{}, ErrNotFound
	}
	return ident, nil
}

func (s *memoryStore) GetByDevice(_ context.Context, deviceID string) (model.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byDevice[deviceID]
	if !ok {
		return model.Identity{}, ErrNotFound
	}
	return s.byID[id], nil
}

func (s *memoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ident, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	delete(s.byID, id)
	delete(s.byUsername, ident.Username)
	if s.byDevice[ident.DeviceID] == id {
		delete(s.byDevice, ident.DeviceID)
	}
	return nil
}

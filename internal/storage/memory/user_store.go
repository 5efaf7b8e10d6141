package memory

import (
	"context"
	"sync"
	"time"

	"contractcore/internal/corerr"
	"contractcore/internal/domain"
)

// UserStore is an in-memory implementation of storage.UserStore.
type UserStore struct {
	mu   sync.Mutex
	data map[string]*domain.User
}

// NewUserStore creates a new in-memory user store.
func NewUserStore() *UserStore {
	return &UserStore{data: make(map[string]*domain.User)}
}

func (s *UserStore) GetUser(_ context.Context, addr string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.data[addr]
	if !ok {
		return nil, corerr.NotFound
	}
	cp := *u
	return &cp, nil
}

func (s *UserStore) UpsertUser(_ context.Context, addr string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.data[addr]
	if !ok {
		u = &domain.User{Address: addr, CreatedAt: time.Now().UTC()}
		s.data[addr] = u
	}
	cp := *u
	return &cp, nil
}

func (s *UserStore) UpdateUserScore(_ context.Context, addr string, delta float64) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.data[addr]
	if !ok {
		u = &domain.User{Address: addr, CreatedAt: time.Now().UTC()}
		s.data[addr] = u
	}
	u.RawScore += delta
	cp := *u
	return &cp, nil
}

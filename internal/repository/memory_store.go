package repository

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/leafguard/internal/model"
)

// MemoryStore keeps users and history in process memory.  It backs
// STORE_DRIVER=memory for local development and the handler tests.
type MemoryStore struct {
	mu      sync.RWMutex
	users   map[string]model.User
	byEmail map[string]string
	history map[string][]model.HistoryEntry // insertion order
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:   make(map[string]model.User),
		byEmail: make(map[string]string),
		history: make(map[string][]model.HistoryEntry),
	}
}

func (s *MemoryStore) Create(_ context.Context, u model.User) (model.User, error) {
	u.Email = NormalizeEmail(u.Email)
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byEmail[u.Email]; taken {
		return model.User{}, ErrEmailExists
	}
	s.users[u.ID] = u
	s.byEmail[u.Email] = u.ID
	return u, nil
}

func (s *MemoryStore) GetByEmail(_ context.Context, email string) (model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[NormalizeEmail(email)]
	if !ok {
		return model.User{}, ErrNotFound
	}
	return s.users[id], nil
}

func (s *MemoryStore) GetByID(_ context.Context, id string) (model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return model.User{}, ErrNotFound
	}
	return u, nil
}

func (s *MemoryStore) Append(_ context.Context, userID string, e model.HistoryEntry) (model.HistoryEntry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.AnalyzedAt.IsZero() {
		e.AnalyzedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return model.HistoryEntry{}, ErrNotFound
	}
	s.history[userID] = append(s.history[userID], e)
	return e, nil
}

func (s *MemoryStore) Page(_ context.Context, userID string, offset, limit int) (model.HistoryPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return model.HistoryPage{}, ErrNotFound
	}
	all := s.history[userID]
	page := model.HistoryPage{Username: u.Name, Total: len(all), Entries: []model.HistoryEntry{}}
	// walk backwards from the newest entry
	for i := len(all) - 1 - offset; i >= 0 && len(page.Entries) < limit; i-- {
		page.Entries = append(page.Entries, all[i])
	}
	return page, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close(context.Context) error { return nil }

package storage

import (
	"context"
	"strings"
	"sync"
	"time"

	"gitpulse/internal/domain"
)

type memoryStore struct {
	mu     sync.Mutex
	repos  map[string]repoRecord
	users  map[string]userRecord
	closed bool
}

// NewMemory returns an in-process store.
func NewMemory() Store {
	return &memoryStore{repos: map[string]repoRecord{}, users: map[string]userRecord{}}
}

func (s *memoryStore) LoadRepoState(ctx context.Context, repo string) (domain.RepoState, error) {
	_ = ctx
	repo = strings.TrimSpace(repo)
	if repo == "" {
		return domain.RepoState{}, ErrEmptyKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.RepoState{}, ErrClosed
	}
	rec, ok := s.repos[repo]
	if !ok {
		return domain.EmptyRepoState(repo), nil
	}
	return rec.state(), nil
}

func (s *memoryStore) SaveRepoState(ctx context.Context, st domain.RepoState) error {
	_ = ctx
	if strings.TrimSpace(st.Repo) == "" {
		return ErrEmptyKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.repos[st.Repo] = newRepoRecord(st, time.Now())
	return nil
}

func (s *memoryStore) IncrementPoints(ctx context.Context, userID, username string) (domain.UserPoints, error) {
	_ = ctx
	if strings.TrimSpace(userID) == "" {
		return domain.UserPoints{}, ErrEmptyKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.UserPoints{}, ErrClosed
	}
	rec := s.users[userID].increment(userID, username)
	s.users[userID] = rec
	return rec.points(), nil
}

func (s *memoryStore) GetPoints(ctx context.Context, userID string) (domain.UserPoints, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.UserPoints{}, false, ErrClosed
	}
	rec, ok := s.users[userID]
	if !ok {
		return domain.UserPoints{}, false, nil
	}
	return rec.points(), true, nil
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

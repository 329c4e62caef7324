package storage

import (
	"context"
	"errors"
	"time"

	"gitpulse/internal/domain"
)

var (
	ErrClosed        = errors.New("storage closed")
	ErrUnknownDriver = errors.New("unknown storage driver")
	ErrEmptyKey      = errors.New("storage key is empty")
)

// Store is the persistence API used by the poller and the leveling engine.
//
// Repo state and points are disjoint partitions; implementations only need to
// serialize writers within a partition key.
type Store interface {
	// LoadRepoState returns the committed state, or an empty state for an unseen repo.
	LoadRepoState(ctx context.Context, repo string) (domain.RepoState, error)
	// SaveRepoState replaces the committed state of st.Repo.
	SaveRepoState(ctx context.Context, st domain.RepoState) error
	// IncrementPoints atomically adds one point and returns the updated record.
	IncrementPoints(ctx context.Context, userID, username string) (domain.UserPoints, error)
	GetPoints(ctx context.Context, userID string) (domain.UserPoints, bool, error)
	Close() error
}

// Config configures storage.
//
// Driver values:
//   - "memory": process-local, lost on exit
//   - "file": JSON snapshot + JSON Lines journal under Path
//   - "sqlite": SQLite database file at Path
//   - "mongo": MongoDB at URI, collections "posted" and "user_points" in Database
//
// An empty Driver means "memory".
type Config struct {
	Driver         string
	Path           string
	URI            string
	Database       string
	BusyTimeout    time.Duration // sqlite only; 0 means default
	ConnectTimeout time.Duration // mongo only; 0 means default
}

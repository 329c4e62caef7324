package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gitpulse/internal/domain"
	logx "gitpulse/pkg/logx"
)

const fileCompactEvery = 500

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.snapshot.json (periodic snapshot)
//   - <prefix>.journal.jsonl (append-only journal)
//
// Every write appends one journal record; the journal is periodically
// compacted into the snapshot. Open replays snapshot then journal.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	snapshotPath string
	journal      *os.File

	repos  map[string]repoRecord
	users  map[string]userRecord
	writes int
}

type fileSnapshot struct {
	Repos map[string]repoRecord `json:"repos"`
	Users map[string]userRecord `json:"users"`
}

// journalRecord carries exactly one of Repo or User.
type journalRecord struct {
	Repo *repoRecord `json:"repo,omitempty"`
	User *userRecord `json:"user,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".snapshot.json"
	journalPath := prefix + ".journal.jsonl"

	snap := fileSnapshot{Repos: map[string]repoRecord{}, Users: map[string]userRecord{}}
	if err := loadSnapshot(snapPath, &snap); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if err := replayJournal(journalPath, &snap); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	log.Debug("file store opened",
		logx.String("prefix", prefix),
		logx.Int("repos", len(snap.Repos)),
		logx.Int("users", len(snap.Users)),
	)
	return &fileStore{
		log:          log,
		snapshotPath: snapPath,
		journal:      jf,
		repos:        snap.Repos,
		users:        snap.Users,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	// Leave a compact snapshot behind so the next open replays nothing.
	if err := s.compactLocked(); err != nil {
		s.log.Debug("compact on close failed", logx.Err(err))
	}
	err := s.journal.Close()
	s.journal = nil
	return err
}

func (s *fileStore) LoadRepoState(ctx context.Context, repo string) (domain.RepoState, error) {
	_ = ctx
	repo = strings.TrimSpace(repo)
	if repo == "" {
		return domain.RepoState{}, ErrEmptyKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return domain.RepoState{}, ErrClosed
	}
	rec, ok := s.repos[repo]
	if !ok {
		return domain.EmptyRepoState(repo), nil
	}
	return rec.state(), nil
}

func (s *fileStore) SaveRepoState(ctx context.Context, st domain.RepoState) error {
	_ = ctx
	if strings.TrimSpace(st.Repo) == "" {
		return ErrEmptyKey
	}
	rec := newRepoRecord(st, time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.appendLocked(journalRecord{Repo: &rec}); err != nil {
		return err
	}
	s.repos[rec.Repo] = rec
	s.maybeCompactLocked()
	return nil
}

func (s *fileStore) IncrementPoints(ctx context.Context, userID, username string) (domain.UserPoints, error) {
	_ = ctx
	if strings.TrimSpace(userID) == "" {
		return domain.UserPoints{}, ErrEmptyKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.users[userID].increment(userID, username)
	if err := s.appendLocked(journalRecord{User: &rec}); err != nil {
		return domain.UserPoints{}, err
	}
	s.users[userID] = rec
	s.maybeCompactLocked()
	return rec.points(), nil
}

func (s *fileStore) GetPoints(ctx context.Context, userID string) (domain.UserPoints, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return domain.UserPoints{}, false, ErrClosed
	}
	rec, ok := s.users[userID]
	if !ok {
		return domain.UserPoints{}, false, nil
	}
	return rec.points(), true, nil
}

// appendLocked writes the journal record before the in-memory map is updated,
// so a failed write never exposes state that was not persisted.
func (s *fileStore) appendLocked(r journalRecord) error {
	if s.journal == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(s.journal).Encode(r); err != nil {
		return err
	}
	s.writes++
	return nil
}

// maybeCompactLocked runs after the in-memory maps reflect every journal record.
func (s *fileStore) maybeCompactLocked() {
	if s.writes%fileCompactEvery != 0 {
		return
	}
	// Best-effort compact; the journal stays authoritative on failure.
	if err := s.compactLocked(); err != nil {
		s.log.Debug("journal compact failed", logx.Err(err))
	}
}

func (s *fileStore) compactLocked() error {
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(fileSnapshot{Repos: s.repos, Users: s.users}); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, 2)
	return err
}

func loadSnapshot(path string, out *fileSnapshot) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var snap fileSnapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return err
	}
	for k, v := range snap.Repos {
		out.Repos[k] = v
	}
	for k, v := range snap.Users {
		out.Users[k] = v
	}
	return nil
}

func replayJournal(path string, out *fileSnapshot) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		var r journalRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			// torn tail write; skip
			continue
		}
		if r.Repo != nil && r.Repo.Repo != "" {
			out.Repos[r.Repo.Repo] = *r.Repo
		}
		if r.User != nil && r.User.UserID != "" {
			out.Users[r.User.UserID] = *r.User
		}
	}
	return sc.Err()
}

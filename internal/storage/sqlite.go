package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"gitpulse/internal/domain"
	logx "gitpulse/pkg/logx"
)

//go:embed migrations.sql
var migrationsSQL string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite prefers a single writer; this also serializes point increments.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(context.Background(), migrationsSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) LoadRepoState(ctx context.Context, repo string) (domain.RepoState, error) {
	repo = strings.TrimSpace(repo)
	if repo == "" {
		return domain.RepoState{}, ErrEmptyKey
	}
	var prs, issues, updated string
	err := s.db.QueryRowContext(ctx,
		`SELECT prs, issues, updated_at FROM repo_state WHERE repo = ?`, repo,
	).Scan(&prs, &issues, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.EmptyRepoState(repo), nil
	}
	if err != nil {
		return domain.RepoState{}, fmt.Errorf("select repo state: %w", err)
	}

	rec := repoRecord{Repo: repo}
	if err := json.Unmarshal([]byte(prs), &rec.PRs); err != nil {
		return domain.RepoState{}, fmt.Errorf("decode prs: %w", err)
	}
	if err := json.Unmarshal([]byte(issues), &rec.Issues); err != nil {
		return domain.RepoState{}, fmt.Errorf("decode issues: %w", err)
	}
	rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return rec.state(), nil
}

func (s *sqliteStore) SaveRepoState(ctx context.Context, st domain.RepoState) error {
	if strings.TrimSpace(st.Repo) == "" {
		return ErrEmptyKey
	}
	rec := newRepoRecord(st, time.Now())
	prs, err := json.Marshal(nonNil(rec.PRs))
	if err != nil {
		return err
	}
	issues, err := json.Marshal(nonNil(rec.Issues))
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO repo_state(repo, prs, issues, updated_at) VALUES(?,?,?,?)
		 ON CONFLICT(repo) DO UPDATE SET prs=excluded.prs, issues=excluded.issues, updated_at=excluded.updated_at`,
		rec.Repo, string(prs), string(issues), rec.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert repo state: %w", err)
	}
	return nil
}

func (s *sqliteStore) IncrementPoints(ctx context.Context, userID, username string) (domain.UserPoints, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.UserPoints{}, ErrEmptyKey
	}
	var (
		up   = domain.UserPoints{UserID: userID}
		name sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO user_points(user_id, username, points) VALUES(?, ?, 1)
		 ON CONFLICT(user_id) DO UPDATE SET points = points + 1,
		   username = COALESCE(excluded.username, user_points.username)
		 RETURNING username, points`,
		userID, nullStr(username),
	).Scan(&name, &up.Points)
	if err != nil {
		return domain.UserPoints{}, fmt.Errorf("increment points: %w", err)
	}
	up.Username = name.String
	return up, nil
}

func (s *sqliteStore) GetPoints(ctx context.Context, userID string) (domain.UserPoints, bool, error) {
	up := domain.UserPoints{UserID: userID}
	var name sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT username, points FROM user_points WHERE user_id = ?`, userID,
	).Scan(&name, &up.Points)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.UserPoints{}, false, nil
	}
	if err != nil {
		return domain.UserPoints{}, false, fmt.Errorf("select points: %w", err)
	}
	up.Username = name.String
	return up, true, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

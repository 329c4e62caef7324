package storage

import (
	"time"

	"gitpulse/internal/domain"
)

// repoRecord is the flat persisted layout of a RepoState.
type repoRecord struct {
	Repo      string    `json:"repo" bson:"repo"`
	PRs       []string  `json:"prs" bson:"prs"`
	Issues    []string  `json:"issues" bson:"issues"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

func newRepoRecord(st domain.RepoState, now time.Time) repoRecord {
	return repoRecord{
		Repo:      st.Repo,
		PRs:       st.NotifiedPRs.Sorted(),
		Issues:    st.NotifiedIssues.Sorted(),
		UpdatedAt: now.UTC(),
	}
}

func (r repoRecord) state() domain.RepoState {
	return domain.RepoState{
		Repo:           r.Repo,
		NotifiedPRs:    domain.NewURLSet(r.PRs...),
		NotifiedIssues: domain.NewURLSet(r.Issues...),
		UpdatedAt:      r.UpdatedAt,
	}
}

// userRecord is the flat persisted layout of UserPoints.
type userRecord struct {
	UserID   string `json:"user_id" bson:"userId"`
	Username string `json:"username,omitempty" bson:"user,omitempty"`
	Points   int64  `json:"points" bson:"points"`
}

func (r userRecord) increment(userID, username string) userRecord {
	r.UserID = userID
	if username != "" {
		r.Username = username
	}
	r.Points++
	return r
}

func (r userRecord) points() domain.UserPoints {
	return domain.UserPoints{UserID: r.UserID, Username: r.Username, Points: r.Points}
}

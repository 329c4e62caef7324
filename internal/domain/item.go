// Package domain holds the types shared by the fetch, reconcile, render and
// storage layers.
package domain

import (
	"strings"
	"time"
)

type Kind string

const (
	KindPullRequest Kind = "pull_request"
	KindIssue       Kind = "issue"
)

const (
	StateOpen   = "open"
	StateClosed = "closed"
)

// GoodFirstIssueLabel is matched case-insensitively.
const GoodFirstIssueLabel = "good first issue"

type Author struct {
	Login      string
	AvatarURL  string
	ProfileURL string
}

// Item is an open pull request or issue as returned by the tracker.
// URL is the primary key; only the URL is ever persisted.
type Item struct {
	Kind      Kind
	URL       string
	Number    int
	Title     string
	Author    Author
	Body      string
	CreatedAt time.Time
	State     string
	Draft     bool
	Merged    bool
	Labels    []string
}

func (it Item) IsGoodFirstIssue() bool {
	for _, l := range it.Labels {
		if strings.EqualFold(strings.TrimSpace(l), GoodFirstIssueLabel) {
			return true
		}
	}
	return false
}

// URLs returns item URLs in input order.
func URLs(items []Item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.URL)
	}
	return out
}

// TrackedRepo is one configured repository and its destination channel.
type TrackedRepo struct {
	Repo    string // owner/name
	Channel string
	Labels  []string
}

package domain

import (
	"sort"
	"time"
)

// URLSet is a set of item URLs.
type URLSet map[string]struct{}

func NewURLSet(urls ...string) URLSet {
	s := make(URLSet, len(urls))
	for _, u := range urls {
		if u != "" {
			s[u] = struct{}{}
		}
	}
	return s
}

func (s URLSet) Has(u string) bool {
	_, ok := s[u]
	return ok
}

func (s URLSet) Add(u string) {
	if u != "" {
		s[u] = struct{}{}
	}
}

// Sorted returns the members in lexical order (stable persistence and diffs).
func (s URLSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for u := range s {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

func (s URLSet) Clone() URLSet {
	out := make(URLSet, len(s))
	for u := range s {
		out[u] = struct{}{}
	}
	return out
}

// RepoState is the persisted notified-set for one repository.
//
// A URL is a member iff a notification for it was delivered and the item was
// still open at the last committed run.
type RepoState struct {
	Repo           string
	NotifiedPRs    URLSet
	NotifiedIssues URLSet
	UpdatedAt      time.Time
}

// EmptyRepoState is the state of a repo that was never polled.
func EmptyRepoState(repo string) RepoState {
	return RepoState{Repo: repo, NotifiedPRs: URLSet{}, NotifiedIssues: URLSet{}}
}

// UserPoints is the per-user activity counter. Level is derived, never stored.
type UserPoints struct {
	UserID   string
	Username string
	Points   int64
}

// Equal reports whether s and o hold the same URLs.
func (s URLSet) Equal(o URLSet) bool {
	if len(s) != len(o) {
		return false
	}
	for u := range s {
		if !o.Has(u) {
			return false
		}
	}
	return true
}

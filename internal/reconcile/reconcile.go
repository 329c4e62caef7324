// Package reconcile diffs a fetched open-item set against the committed
// notified set of a repository and computes the next committed state.
//
// Everything here is pure: no I/O, no clocks other than the one passed in.
package reconcile

import (
	"time"

	"gitpulse/internal/domain"
)

// DefaultMaxPerRun is the per-category card cap for one repo in one run.
const DefaultMaxPerRun = 5

// Delta is the result of diffing one fetch against the prior state.
type Delta struct {
	// NewPRs and NewIssues keep fetch order and contain each URL once.
	NewPRs    []domain.Item
	NewIssues []domain.Item
	// ClosedPRs and ClosedIssues were notified but are no longer open. Sorted.
	ClosedPRs    []string
	ClosedIssues []string
}

// Empty reports whether the fetch changed nothing.
func (d Delta) Empty() bool {
	return len(d.NewPRs) == 0 && len(d.NewIssues) == 0 && len(d.ClosedPRs) == 0 && len(d.ClosedIssues) == 0
}

// Reconcile computes new and closed items for one repository.
func Reconcile(prior domain.RepoState, openPRs, openIssues []domain.Item) Delta {
	return Delta{
		NewPRs:       newItems(prior.NotifiedPRs, openPRs),
		NewIssues:    newItems(prior.NotifiedIssues, openIssues),
		ClosedPRs:    closed(prior.NotifiedPRs, openPRs),
		ClosedIssues: closed(prior.NotifiedIssues, openIssues),
	}
}

// Cap splits items into the batch delivered this run and the overflow left
// for a later run. max <= 0 disables the cap.
func Cap(items []domain.Item, max int) (batch, deferred []domain.Item) {
	if max <= 0 || len(items) <= max {
		return items, nil
	}
	return items[:max], items[max:]
}

// Delivered collects the URLs whose notification was sent successfully.
type Delivered struct {
	PRs    domain.URLSet
	Issues domain.URLSet
}

func NewDelivered() Delivered {
	return Delivered{PRs: domain.URLSet{}, Issues: domain.URLSet{}}
}

// Mark records a successful delivery of it.
func (d Delivered) Mark(it domain.Item) {
	switch it.Kind {
	case domain.KindPullRequest:
		d.PRs.Add(it.URL)
	case domain.KindIssue:
		d.Issues.Add(it.URL)
	}
}

// Commit returns the next state: (prior ∩ open) ∪ (delivered ∩ open).
//
// Closed items drop out and only delivered items join, so an undelivered or
// deferred item stays new for the next run. When every new item was
// delivered the result equals the open set exactly.
func Commit(prior domain.RepoState, openPRs, openIssues []domain.Item, delivered Delivered, now time.Time) domain.RepoState {
	return domain.RepoState{
		Repo:           prior.Repo,
		NotifiedPRs:    next(prior.NotifiedPRs, openPRs, delivered.PRs),
		NotifiedIssues: next(prior.NotifiedIssues, openIssues, delivered.Issues),
		UpdatedAt:      now,
	}
}

func newItems(notified domain.URLSet, open []domain.Item) []domain.Item {
	var out []domain.Item
	seen := make(domain.URLSet, len(open))
	for _, it := range open {
		if it.URL == "" || notified.Has(it.URL) || seen.Has(it.URL) {
			continue
		}
		seen.Add(it.URL)
		out = append(out, it)
	}
	return out
}

func closed(notified domain.URLSet, open []domain.Item) []string {
	if len(notified) == 0 {
		return nil
	}
	current := domain.NewURLSet(domain.URLs(open)...)
	var gone domain.URLSet
	for u := range notified {
		if !current.Has(u) {
			if gone == nil {
				gone = domain.URLSet{}
			}
			gone.Add(u)
		}
	}
	if gone == nil {
		return nil
	}
	return gone.Sorted()
}

func next(notified domain.URLSet, open []domain.Item, delivered domain.URLSet) domain.URLSet {
	out := make(domain.URLSet, len(open))
	for _, it := range open {
		if notified.Has(it.URL) || delivered.Has(it.URL) {
			out.Add(it.URL)
		}
	}
	return out
}

// Package poller runs one reconciliation pass over every tracked repository:
// fetch, diff against the notified set, deliver, then commit.
package poller

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"gitpulse/internal/delivery"
	"gitpulse/internal/domain"
	"gitpulse/internal/eventbus"
	"gitpulse/internal/reconcile"
	"gitpulse/internal/render"
	"gitpulse/internal/source"
	"gitpulse/internal/storage"
	"gitpulse/internal/transport"
	logx "gitpulse/pkg/logx"
)

// Mode selects how new items are announced.
type Mode int

const (
	// ModeCards sends one card per new item, capped per category.
	ModeCards Mode = iota
	// ModeDigest sends one digest per category with every new item.
	ModeDigest
)

func (m Mode) String() string {
	if m == ModeDigest {
		return "digest"
	}
	return "cards"
}

// Sink delivers payloads and knows which channel names are configured.
type Sink interface {
	delivery.Sink
	Resolve(channel string) (transport.ChatTarget, bool)
}

type Config struct {
	// MaxPerRun caps cards per category per repo; <= 0 disables the cap.
	MaxPerRun int
	// General receives good-first-issue highlights.
	General string
}

type Poller struct {
	cfg   Config
	repos []domain.TrackedRepo
	src   source.Fetcher
	store storage.Store
	sink  Sink
	log   logx.Logger
	bus   eventbus.Bus
	now   func() time.Time

	// warnOnce keys for configuration gaps already reported.
	warnMu sync.Mutex
	warned map[string]bool
}

func New(cfg Config, repos []domain.TrackedRepo, src source.Fetcher, store storage.Store, sink Sink, log logx.Logger, bus eventbus.Bus) *Poller {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Poller{
		cfg:    cfg,
		repos:  append([]domain.TrackedRepo(nil), repos...),
		src:    src,
		store:  store,
		sink:   sink,
		log:    log,
		bus:    bus,
		now:    time.Now,
		warned: map[string]bool{},
	}
}

// RepoReport summarizes one repository in one run.
type RepoReport struct {
	Repo      string
	Skipped   string // non-empty when the repo was not processed
	NewPRs    int
	NewIssues int
	Delivered int
	Failed    int
	Deferred  int
	Closed    int
	Committed bool
	Err       error
}

type Report struct {
	Mode     Mode
	Started  time.Time
	Duration time.Duration
	Repos    []RepoReport
}

// Delivered sums delivered notifications across repos.
func (r Report) Delivered() int {
	n := 0
	for _, rr := range r.Repos {
		n += rr.Delivered
	}
	return n
}

// RunOnce processes every tracked repository in order. It never fails as a
// whole; per-repo problems are logged and reported.
func (p *Poller) RunOnce(ctx context.Context, mode Mode) Report {
	rep := Report{Mode: mode, Started: p.now()}
	p.publish(eventbus.PollStarted, mode.String())
	for _, repo := range p.repos {
		if ctx.Err() != nil {
			break
		}
		rr := p.runRepo(ctx, repo, mode)
		rep.Repos = append(rep.Repos, rr)
		p.publish(eventbus.PollRepo, rr)
	}
	rep.Duration = p.now().Sub(rep.Started)
	p.log.Info("poll run finished",
		logx.String("mode", mode.String()),
		logx.Int("repos", len(rep.Repos)),
		logx.Int("delivered", rep.Delivered()),
		logx.Duration("dur", rep.Duration),
	)
	p.publish(eventbus.PollFinished, rep)
	return rep
}

func (p *Poller) runRepo(ctx context.Context, repo domain.TrackedRepo, mode Mode) RepoReport {
	rr := RepoReport{Repo: repo.Repo}
	log := p.log.With(logx.String("repo", repo.Repo))

	if _, ok := p.sink.Resolve(repo.Channel); !ok {
		p.warnOnce("gap:"+repo.Repo, "repo channel has no destination; skipping repo",
			logx.String("repo", repo.Repo), logx.String("channel", repo.Channel))
		rr.Skipped = "unmapped channel"
		return rr
	}

	prior, err := p.store.LoadRepoState(ctx, repo.Repo)
	if err != nil {
		log.Error("load repo state failed; skipping repo", logx.Err(err))
		rr.Skipped = "storage"
		rr.Err = err
		return rr
	}

	res := p.src.Fetch(ctx, repo)
	if res.PRErr != nil {
		log.Warn("fetch pull requests failed", logx.Err(res.PRErr))
	}
	if res.IssueErr != nil {
		log.Warn("fetch issues failed", logx.Err(res.IssueErr))
	}

	delta := reconcile.Reconcile(prior, res.PullRequests, res.Issues)
	rr.NewPRs, rr.NewIssues = len(delta.NewPRs), len(delta.NewIssues)

	delivered := reconcile.NewDelivered()
	switch mode {
	case ModeDigest:
		p.deliverDigests(ctx, repo, delta, delivered, &rr)
	default:
		p.deliverCards(ctx, repo, delta, delivered, &rr)
	}

	next := reconcile.Commit(prior, res.PullRequests, res.Issues, delivered, p.now())
	// A failed category says nothing about what is open: keep its prior set.
	if res.PRErr != nil {
		next.NotifiedPRs = prior.NotifiedPRs.Clone()
	} else {
		rr.Closed += len(delta.ClosedPRs)
	}
	if res.IssueErr != nil {
		next.NotifiedIssues = prior.NotifiedIssues.Clone()
	} else {
		rr.Closed += len(delta.ClosedIssues)
	}
	if next.NotifiedPRs.Equal(prior.NotifiedPRs) && next.NotifiedIssues.Equal(prior.NotifiedIssues) {
		log.Debug("repo unchanged", logx.Int("open_prs", len(res.PullRequests)), logx.Int("open_issues", len(res.Issues)))
		return rr
	}

	// Persist what was delivered even when the run is being cancelled.
	if err := p.store.SaveRepoState(context.WithoutCancel(ctx), next); err != nil {
		log.Error("save repo state failed; prior state retained", logx.Err(err))
		rr.Err = err
		return rr
	}
	rr.Committed = true
	log.Info("repo reconciled",
		logx.Int("new_prs", rr.NewPRs),
		logx.Int("new_issues", rr.NewIssues),
		logx.Int("delivered", rr.Delivered),
		logx.Int("failed", rr.Failed),
		logx.Int("deferred", rr.Deferred),
		logx.Int("closed", rr.Closed),
	)
	return rr
}

func (p *Poller) deliverCards(ctx context.Context, repo domain.TrackedRepo, delta reconcile.Delta, delivered reconcile.Delivered, rr *RepoReport) {
	prs, deferredPRs := reconcile.Cap(delta.NewPRs, p.cfg.MaxPerRun)
	issues, deferredIssues := reconcile.Cap(delta.NewIssues, p.cfg.MaxPerRun)
	rr.Deferred = len(deferredPRs) + len(deferredIssues)

	batch := make([]domain.Item, 0, len(prs)+len(issues))
	batch = append(batch, prs...)
	batch = append(batch, issues...)
	for _, it := range batch {
		if ctx.Err() != nil {
			return
		}
		if err := p.sink.Send(ctx, repo.Channel, render.Card(it, repo.Repo)); err != nil {
			p.log.Warn("deliver card failed", logx.String("repo", repo.Repo), logx.String("url", it.URL), logx.Err(err))
			rr.Failed++
			continue
		}
		delivered.Mark(it)
		rr.Delivered++
		if hl, ok := render.Highlight(it, repo.Repo); ok {
			p.sendGeneral(ctx, repo.Repo, hl)
		}
	}
}

func (p *Poller) deliverDigests(ctx context.Context, repo domain.TrackedRepo, delta reconcile.Delta, delivered reconcile.Delivered, rr *RepoReport) {
	send := func(kind render.DigestKind, items []domain.Item) bool {
		if len(items) == 0 || ctx.Err() != nil {
			return false
		}
		if err := p.sink.Send(ctx, repo.Channel, render.Digest(kind, repo.Repo, items)); err != nil {
			p.log.Warn("deliver digest failed", logx.String("repo", repo.Repo), logx.Int("items", len(items)), logx.Err(err))
			rr.Failed += len(items)
			return false
		}
		for _, it := range items {
			delivered.Mark(it)
		}
		rr.Delivered += len(items)
		return true
	}

	send(render.DigestPullRequests, delta.NewPRs)
	if !send(render.DigestIssues, delta.NewIssues) {
		return
	}
	var gfi []domain.Item
	for _, it := range delta.NewIssues {
		if it.IsGoodFirstIssue() {
			gfi = append(gfi, it)
		}
	}
	if len(gfi) > 0 {
		p.sendGeneral(ctx, repo.Repo, render.Digest(render.DigestGoodFirstIssues, repo.Repo, gfi))
	}
}

// sendGeneral is best-effort: highlights never gate the commit.
func (p *Poller) sendGeneral(ctx context.Context, repo string, pl render.Payload) {
	general := strings.TrimSpace(p.cfg.General)
	if _, ok := p.sink.Resolve(general); !ok {
		p.warnOnce("general", "general channel has no destination; skipping highlights", logx.String("channel", general))
		return
	}
	if err := p.sink.Send(ctx, general, pl); err != nil && !errors.Is(err, context.Canceled) {
		p.log.Warn("deliver highlight failed", logx.String("repo", repo), logx.Err(err))
	}
}

func (p *Poller) warnOnce(key, msg string, fields ...logx.Field) {
	p.warnMu.Lock()
	seen := p.warned[key]
	p.warned[key] = true
	p.warnMu.Unlock()
	if !seen {
		p.log.Warn(msg, fields...)
	}
}

func (p *Poller) publish(typ string, data any) {
	if p.bus != nil {
		p.bus.Publish(eventbus.Event{Type: typ, Data: data})
	}
}

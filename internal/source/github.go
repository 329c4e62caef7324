// Package source fetches the open pull requests and issues of a tracked
// repository from the GitHub REST API.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofri/go-github-ratelimit/github_ratelimit"
	"github.com/google/go-github/v62/github"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"gitpulse/internal/domain"
	logx "gitpulse/pkg/logx"
)

var (
	// ErrTransport covers network failures and non-2xx responses.
	ErrTransport = errors.New("source: transport failure")
	// ErrMalformedResponse is returned when the body is not the expected JSON list.
	ErrMalformedResponse = errors.New("source: malformed response")
	ErrInvalidRepo       = errors.New("source: invalid repo")
)

const (
	DefaultTimeout = 15 * time.Second
	defaultPerPage = 100
)

// Result holds both categories of one fetch. A failed category is empty and
// its error is kept for logging only.
type Result struct {
	PullRequests []domain.Item
	Issues       []domain.Item
	PRErr        error
	IssueErr     error
}

// Fetcher is implemented by GitHubSource and by test fakes.
type Fetcher interface {
	Fetch(ctx context.Context, repo domain.TrackedRepo) Result
}

type Options struct {
	Token   string
	BaseURL string
	Timeout time.Duration
}

// GitHubSource is the go-github backed Fetcher.
type GitHubSource struct {
	client  *github.Client
	log     logx.Logger
	perPage int
}

// NewGitHub builds a client with a secondary rate-limit waiter and, when a
// token is configured, bearer authentication on top of it.
func NewGitHub(opts Options, log logx.Logger) (*GitHubSource, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	rateLimitWaiter, err := github_ratelimit.NewRateLimitWaiter(nil, github_ratelimit.WithSingleSleepLimit(time.Hour, nil))
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limit waiter: %w", err)
	}
	var rt http.RoundTripper = rateLimitWaiter
	if tok := strings.TrimSpace(opts.Token); tok != "" {
		rt = &oauth2.Transport{
			Base:   rateLimitWaiter,
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: tok}),
		}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client := github.NewClient(&http.Client{Transport: rt, Timeout: timeout})
	if base := strings.TrimSpace(opts.BaseURL); base != "" {
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("github.base_url: %w", err)
		}
		client.BaseURL = u
	}
	return &GitHubSource{client: client, log: log, perPage: defaultPerPage}, nil
}

// Fetch never returns an error: each category degrades to an empty list.
func (s *GitHubSource) Fetch(ctx context.Context, repo domain.TrackedRepo) Result {
	owner, name, ok := strings.Cut(strings.TrimSpace(repo.Repo), "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		err := fmt.Errorf("%w: %q", ErrInvalidRepo, repo.Repo)
		return Result{PRErr: err, IssueErr: err}
	}

	var res Result
	var g errgroup.Group
	g.Go(func() error {
		items, err := s.pullRequests(ctx, owner, name)
		if err != nil {
			res.PRErr = classify(err)
			return nil
		}
		res.PullRequests = items
		return nil
	})
	g.Go(func() error {
		items, err := s.issues(ctx, owner, name, repo.Labels)
		if err != nil {
			res.IssueErr = classify(err)
			return nil
		}
		res.Issues = items
		return nil
	})
	_ = g.Wait()

	s.log.Debug("fetched open items",
		logx.String("repo", repo.Repo),
		logx.Int("prs", len(res.PullRequests)),
		logx.Int("issues", len(res.Issues)),
	)
	return res
}

func (s *GitHubSource) pullRequests(ctx context.Context, owner, name string) ([]domain.Item, error) {
	opts := &github.PullRequestListOptions{
		State:       domain.StateOpen,
		ListOptions: github.ListOptions{PerPage: s.perPage},
	}
	prs, _, err := s.client.PullRequests.List(ctx, owner, name, opts)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Item, 0, len(prs))
	for _, pr := range prs {
		if pr == nil || pr.GetHTMLURL() == "" {
			continue
		}
		out = append(out, domain.Item{
			Kind:      domain.KindPullRequest,
			URL:       pr.GetHTMLURL(),
			Number:    pr.GetNumber(),
			Title:     pr.GetTitle(),
			Author:    author(pr.GetUser()),
			Body:      pr.GetBody(),
			CreatedAt: pr.GetCreatedAt().Time,
			State:     pr.GetState(),
			Draft:     pr.GetDraft(),
			Merged:    pr.GetMerged() || pr.MergedAt != nil,
			Labels:    labelNames(pr.Labels),
		})
	}
	return out, nil
}

func (s *GitHubSource) issues(ctx context.Context, owner, name string, labels []string) ([]domain.Item, error) {
	opts := &github.IssueListByRepoOptions{
		State:       domain.StateOpen,
		Labels:      labels,
		ListOptions: github.ListOptions{PerPage: s.perPage},
	}
	issues, _, err := s.client.Issues.ListByRepo(ctx, owner, name, opts)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Item, 0, len(issues))
	for _, is := range issues {
		// The issues endpoint also lists pull requests.
		if is == nil || is.IsPullRequest() || is.GetHTMLURL() == "" {
			continue
		}
		out = append(out, domain.Item{
			Kind:      domain.KindIssue,
			URL:       is.GetHTMLURL(),
			Number:    is.GetNumber(),
			Title:     is.GetTitle(),
			Author:    author(is.GetUser()),
			Body:      is.GetBody(),
			CreatedAt: is.GetCreatedAt().Time,
			State:     is.GetState(),
			Labels:    labelNames(is.Labels),
		})
	}
	return out, nil
}

func author(u *github.User) domain.Author {
	if u == nil {
		return domain.Author{}
	}
	return domain.Author{
		Login:      u.GetLogin(),
		AvatarURL:  u.GetAvatarURL(),
		ProfileURL: u.GetHTMLURL(),
	}
}

func labelNames(in []*github.Label) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, l := range in {
		if n := l.GetName(); n != "" {
			out = append(out, n)
		}
	}
	return out
}

func classify(err error) error {
	var typeErr *json.UnmarshalTypeError
	var syntaxErr *json.SyntaxError
	if errors.As(err, &typeErr) || errors.As(err, &syntaxErr) {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return fmt.Errorf("%w: %v", ErrTransport, err)
}

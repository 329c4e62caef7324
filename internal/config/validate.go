package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

var (
	ErrNoRepos      = errors.New("config: no repos configured")
	ErrInvalidRepo  = errors.New("config: invalid repo identifier")
	ErrDuplicate    = errors.New("config: duplicate repo")
	ErrUnknownStore = errors.New("config: unknown storage driver")
)

// Environment overrides for secrets. They only fill empty config fields.
const (
	EnvTelegramToken = "GITPULSE_TELEGRAM_TOKEN"
	EnvGitHubToken   = "GITHUB_TOKEN"
	EnvMongoURI      = "GITPULSE_MONGO_URI"
)

// ApplyEnv fills secrets that were left empty in the file from the environment.
func ApplyEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		cfg.Telegram.Token = os.Getenv(EnvTelegramToken)
	}
	if strings.TrimSpace(cfg.GitHub.Token) == "" {
		cfg.GitHub.Token = os.Getenv(EnvGitHubToken)
	}
	if cfg.Storage != nil && strings.EqualFold(strings.TrimSpace(cfg.Storage.Driver), "mongo") && strings.TrimSpace(cfg.Storage.URI) == "" {
		cfg.Storage.URI = os.Getenv(EnvMongoURI)
	}
}

// SplitRepo splits "owner/name". Both parts must be non-empty.
func SplitRepo(repo string) (owner, name string, err error) {
	owner, name, ok := strings.Cut(strings.TrimSpace(repo), "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", "", fmt.Errorf("%w: %q (want owner/name)", ErrInvalidRepo, repo)
	}
	return owner, name, nil
}

// Validate checks the config and returns non-fatal warnings.
//
// A repo whose channel has no destination mapping is a warning: that repo is
// skipped at run time while the others keep working.
func Validate(cfg *Config) ([]string, error) {
	if cfg == nil {
		return nil, errors.New("config: nil")
	}
	if len(cfg.Repos) == 0 {
		return nil, ErrNoRepos
	}

	var warnings []string
	seen := make(map[string]struct{}, len(cfg.Repos))
	for i, r := range cfg.Repos {
		if _, _, err := SplitRepo(r.Repo); err != nil {
			return nil, fmt.Errorf("repos[%d]: %w", i, err)
		}
		key := strings.ToLower(strings.TrimSpace(r.Repo))
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("repos[%d]: %w: %s", i, ErrDuplicate, r.Repo)
		}
		seen[key] = struct{}{}

		ch := strings.TrimSpace(r.Channel)
		if ch == "" {
			warnings = append(warnings, fmt.Sprintf("repo %s has no channel", r.Repo))
			continue
		}
		if _, ok := cfg.Channels[ch]; !ok {
			warnings = append(warnings, fmt.Sprintf("repo %s: channel %q is not mapped", r.Repo, ch))
		}
	}
	if g := strings.TrimSpace(cfg.GeneralChannel); g != "" {
		if _, ok := cfg.Channels[g]; !ok {
			warnings = append(warnings, fmt.Sprintf("general channel %q is not mapped", g))
		}
	}

	for name, ch := range cfg.Channels {
		if ch.ChatID == 0 {
			return nil, fmt.Errorf("channels.%s: chat_id is required", name)
		}
	}

	durations := map[string]string{
		"telegram.poll_timeout":    cfg.Telegram.PollTimeout,
		"github.timeout":           cfg.GitHub.Timeout,
		"poller.run_timeout":       cfg.Poller.RunTimeout,
		"delivery.min_interval":    cfg.Delivery.MinInterval,
		"delivery.retry_base":      cfg.Delivery.RetryBase,
		"delivery.retry_max_delay": cfg.Delivery.RetryMaxDelay,
	}
	for path, raw := range durations {
		if _, err := ParseDurationField(path, raw); err != nil {
			return nil, err
		}
	}
	if cfg.Poller.MaxPerRun < 0 {
		return nil, errors.New("poller.max_per_run must be >= 0")
	}
	if cfg.Delivery.RetryMax != nil && *cfg.Delivery.RetryMax < 0 {
		return nil, errors.New("delivery.retry_max must be >= 0")
	}

	if cfg.Storage != nil {
		switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
		case "", "memory", "file", "sqlite", "sqlite3", "mongo", "mongodb":
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnknownStore, cfg.Storage.Driver)
		}
		if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
			return nil, err
		}
	}
	return warnings, nil
}

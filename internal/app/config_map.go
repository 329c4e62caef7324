package app

import (
	"fmt"
	"strings"
	"time"

	"gitpulse/internal/config"
	"gitpulse/internal/delivery"
	"gitpulse/internal/domain"
	"gitpulse/internal/poller"
	"gitpulse/internal/reconcile"
	"gitpulse/internal/source"
	"gitpulse/internal/storage"
	"gitpulse/internal/task/scheduler"
	"gitpulse/internal/transport"
	logx "gitpulse/pkg/logx"
)

const (
	defaultPollInterval = "4m"
	defaultPollTimeout  = 10 * time.Second
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{Driver: "memory"}, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "memory":
		return storage.Config{Driver: "memory"}, nil
	case "file":
		return storage.Config{Driver: "file", Path: path}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	case "mongo", "mongodb":
		if strings.TrimSpace(sc.URI) == "" {
			return storage.Config{}, fmt.Errorf("storage.uri is required when storage.driver=mongo")
		}
		return storage.Config{Driver: "mongo", URI: sc.URI, Database: strings.TrimSpace(sc.Database)}, nil
	default:
		return storage.Config{}, fmt.Errorf("%w: %s", config.ErrUnknownStore, sc.Driver)
	}
}

func mapSourceOptions(cfg *config.Config) (source.Options, error) {
	timeout, err := config.ParseDurationOrDefault("github.timeout", cfg.GitHub.Timeout, source.DefaultTimeout)
	if err != nil {
		return source.Options{}, err
	}
	return source.Options{
		Token:   strings.TrimSpace(cfg.GitHub.Token),
		BaseURL: strings.TrimSpace(cfg.GitHub.BaseURL),
		Timeout: timeout,
	}, nil
}

func mapDeliveryConfig(cfg *config.Config) (delivery.Config, error) {
	out := delivery.DefaultConfig()
	var err error
	if out.MinInterval, err = config.ParseDurationOrDefault("delivery.min_interval", cfg.Delivery.MinInterval, out.MinInterval); err != nil {
		return delivery.Config{}, err
	}
	if out.RetryBase, err = config.ParseDurationOrDefault("delivery.retry_base", cfg.Delivery.RetryBase, out.RetryBase); err != nil {
		return delivery.Config{}, err
	}
	if out.RetryMaxDelay, err = config.ParseDurationOrDefault("delivery.retry_max_delay", cfg.Delivery.RetryMaxDelay, out.RetryMaxDelay); err != nil {
		return delivery.Config{}, err
	}
	if cfg.Delivery.RetryMax != nil {
		out.RetryMax = *cfg.Delivery.RetryMax
	}
	return out, nil
}

func mapChannels(cfg *config.Config) map[string]transport.ChatTarget {
	out := make(map[string]transport.ChatTarget, len(cfg.Channels))
	for name, ch := range cfg.Channels {
		name = strings.TrimSpace(name)
		if name == "" || ch.ChatID == 0 {
			continue
		}
		out[name] = transport.ChatTarget{ChatID: ch.ChatID, ThreadID: ch.ThreadID}
	}
	return out
}

func mapRepos(cfg *config.Config) []domain.TrackedRepo {
	out := make([]domain.TrackedRepo, 0, len(cfg.Repos))
	for _, r := range cfg.Repos {
		out = append(out, domain.TrackedRepo{
			Repo:    strings.TrimSpace(r.Repo),
			Channel: strings.TrimSpace(r.Channel),
			Labels:  append([]string(nil), r.Labels...),
		})
	}
	return out
}

func mapPollerConfig(cfg *config.Config) poller.Config {
	maxPerRun := cfg.Poller.MaxPerRun
	if maxPerRun == 0 {
		maxPerRun = reconcile.DefaultMaxPerRun
	}
	return poller.Config{
		MaxPerRun: maxPerRun,
		General:   strings.TrimSpace(cfg.GeneralChannel),
	}
}

// mapPollSchedule returns the poll schedule string and its run options.
func mapPollSchedule(cfg *config.Config) (string, scheduler.Options, error) {
	interval := strings.TrimSpace(cfg.Poller.Interval)
	if interval == "" {
		interval = defaultPollInterval
	}
	if _, err := scheduler.ParseSchedule(interval); err != nil {
		return "", scheduler.Options{}, fmt.Errorf("poller.interval: %w", err)
	}
	timeout, err := config.ParseDurationField("poller.run_timeout", cfg.Poller.RunTimeout)
	if err != nil {
		return "", scheduler.Options{}, err
	}
	return interval, scheduler.Options{Timeout: timeout, RunImmediately: true}, nil
}

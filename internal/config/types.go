package config

// Config is the on-disk configuration (JSON or YAML).
//
// Repos and Channels are read once at startup; a hot reload only re-applies
// the logging section.
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	GitHub   GitHubConfig   `json:"github"`

	// Repos maps each tracked repository to a named destination channel.
	Repos []RepoConfig `json:"repos"`
	// Channels resolves destination names to chat targets.
	Channels map[string]ChannelConfig `json:"channels"`
	// GeneralChannel receives good-first-issue highlights and level-ups.
	GeneralChannel string `json:"general_channel,omitempty"`

	Poller   PollerConfig   `json:"poller"`
	Delivery DeliveryConfig `json:"delivery"`
	Leveling LevelingConfig `json:"leveling"`
	Storage  *StorageConfig `json:"storage,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// GitHubConfig controls the issue-tracker client.
//
// Token is optional: it only raises API rate limits.
type GitHubConfig struct {
	Token   string `json:"token,omitempty"`
	BaseURL string `json:"base_url,omitempty"`
	Timeout string `json:"timeout,omitempty"` // default "15s"
}

type RepoConfig struct {
	Repo    string `json:"repo"`
	Channel string `json:"channel"`
	// Labels optionally narrows the issues request (comma-joined "labels" query).
	Labels []string `json:"labels,omitempty"`
}

type ChannelConfig struct {
	ChatID   int64 `json:"chat_id"`
	ThreadID int   `json:"thread_id,omitempty"`
}

// PollerConfig controls the reconciliation run.
//
// Defaults:
//   - interval: "4m"
//   - run_timeout: "0s" (disabled)
//   - max_per_run: 5
type PollerConfig struct {
	Interval      string `json:"interval,omitempty"`
	RunTimeout    string `json:"run_timeout,omitempty"`
	MaxPerRun     int    `json:"max_per_run,omitempty"`
	DigestMode    bool   `json:"digest_mode,omitempty"`
	StartupDigest bool   `json:"startup_digest,omitempty"`
}

// DeliveryConfig controls send pacing and retries.
//
// Defaults:
//   - min_interval: "250ms"
//   - retry_max: 2
//   - retry_base: "500ms"
//   - retry_max_delay: "5s"
type DeliveryConfig struct {
	MinInterval   string `json:"min_interval,omitempty"`
	RetryMax      *int   `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
}

type LevelingConfig struct {
	Enabled bool `json:"enabled"`
}

// StorageConfig controls the state store.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./data/gitpulse" }
//	"storage": { "driver": "mongo", "uri": "mongodb://localhost:27017", "database": "gitpulse" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	URI         string `json:"uri,omitempty"`      // mongo only (do not log)
	Database    string `json:"database,omitempty"` // mongo only
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

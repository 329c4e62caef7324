package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleJSON = `{
  "telegram": {"token": "t", "poll_timeout": "10s"},
  "logging": {"level": "info", "console": true},
  "repos": [{"repo": "acme/api", "channel": "prs"}],
  "channels": {"prs": {"chat_id": -1001}},
  "general_channel": "prs"
}`

const sampleYAML = `
telegram:
  token: t
logging:
  level: debug
repos:
  - repo: acme/api
    channel: prs
    labels: [bug, "help wanted"]
channels:
  prs:
    chat_id: -1001
    thread_id: 4
poller:
  interval: 2m
  max_per_run: 3
`

func TestDecodeJSONAndYAML(t *testing.T) {
	t.Parallel()

	cfg, err := Decode("config.json", []byte(sampleJSON))
	if err != nil {
		t.Fatalf("json: %v", err)
	}
	if cfg.Repos[0].Repo != "acme/api" || cfg.Channels["prs"].ChatID != -1001 {
		t.Fatalf("json decoded wrong: %+v", cfg)
	}

	cfg, err = Decode("config.yml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("yaml: %v", err)
	}
	if cfg.Logging.Level != "debug" || cfg.Poller.Interval != "2m" || cfg.Poller.MaxPerRun != 3 {
		t.Fatalf("yaml decoded wrong: %+v", cfg)
	}
	if got := cfg.Repos[0].Labels; len(got) != 2 || got[1] != "help wanted" {
		t.Fatalf("labels=%v", got)
	}
	if ch := cfg.Channels["prs"]; ch.ChatID != -1001 || ch.ThreadID != 4 {
		t.Fatalf("channel=%+v", ch)
	}
}

func TestDecodeRejectsUnknownFieldsAndTrailingData(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		path string
		data string
	}{
		{name: "json unknown field", path: "c.json", data: `{"telegram": {"token": "t"}, "owner": 1}`},
		{name: "yaml unknown field", path: "c.yaml", data: "repos: []\nscheduler:\n  enabled: true\n"},
		{name: "json trailing object", path: "c.json", data: `{} {}`},
		{name: "bad yaml", path: "c.yaml", data: "repos: [\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := Decode(tc.path, []byte(tc.data)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestDecodeAppliesEnvOnlyToEmptyFields(t *testing.T) {
	t.Setenv(EnvTelegramToken, "from-env")
	t.Setenv(EnvGitHubToken, "gh-env")
	t.Setenv(EnvMongoURI, "mongodb://env")

	cfg, err := Decode("c.json", []byte(`{
		"telegram": {"token": "from-file"},
		"storage": {"driver": "mongo"}
	}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cfg.Telegram.Token != "from-file" {
		t.Fatalf("file token overridden: %q", cfg.Telegram.Token)
	}
	if cfg.GitHub.Token != "gh-env" {
		t.Fatalf("github token=%q", cfg.GitHub.Token)
	}
	if cfg.Storage.URI != "mongodb://env" {
		t.Fatalf("mongo uri=%q", cfg.Storage.URI)
	}
}

func TestManagerLoadAndWatchPublishesLoggingChange(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(sampleJSON), 0o644); err != nil {
		t.Fatal(err)
	}

	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	if m.Get().Logging.Level != "info" {
		t.Fatalf("unexpected level %q", m.Get().Logging.Level)
	}

	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()

	updated := []byte(`{
  "telegram": {"token": "t", "poll_timeout": "10s"},
  "logging": {"level": "debug", "console": true},
  "repos": [{"repo": "acme/api", "channel": "prs"}],
  "channels": {"prs": {"chat_id": -1001}},
  "general_channel": "prs"
}`)

	// The watcher may start after the first write; keep rewriting until an update lands.
	// Writes must be spaced past the debounce window or each one resets the timer.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(2 * reloadDebounce)
	defer tick.Stop()
	for {
		select {
		case cfg := <-sub:
			if cfg.Logging.Level != "debug" {
				t.Fatalf("published level %q", cfg.Logging.Level)
			}
			if m.Get().Logging.Level != "debug" {
				t.Fatalf("manager not committed")
			}
			return
		case <-tick.C:
			if err := os.WriteFile(path, updated, 0o644); err != nil {
				t.Fatal(err)
			}
		case <-deadline:
			t.Fatalf("no config update published")
		}
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{raw: "", want: 0},
		{raw: " 4m ", want: 4 * time.Minute},
		{raw: "250ms", want: 250 * time.Millisecond},
		{raw: "-1s", wantErr: true},
		{raw: "4 minutes", wantErr: true},
	}
	for _, tc := range tests {
		got, err := ParseDurationField("x", tc.raw)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%q: expected error", tc.raw)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("%q: got %s, %v want %s", tc.raw, got, err, tc.want)
		}
	}

	if d, _ := ParseDurationOrDefault("x", "", time.Second); d != time.Second {
		t.Fatalf("default not applied: %s", d)
	}
}

package config

import (
	"reflect"
	"strings"

	logx "gitpulse/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections plus safe
// structured attrs for logging (never includes tokens or URIs).
// restart reports whether any changed section is only read at startup.
func SummarizeConfigChange(oldCfg, newCfg *Config) (changed []string, attrs []logx.Field, restart bool) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}
	if strings.TrimSpace(oldCfg.Telegram.Token) != strings.TrimSpace(newCfg.Telegram.Token) ||
		oldCfg.Telegram.PollTimeout != newCfg.Telegram.PollTimeout {
		changed = append(changed, "telegram")
		restart = true
	}
	if !reflect.DeepEqual(oldCfg.GitHub, newCfg.GitHub) {
		changed = append(changed, "github")
		attrs = append(attrs, logx.Bool("github.token_set", strings.TrimSpace(newCfg.GitHub.Token) != ""))
		restart = true
	}
	if !reflect.DeepEqual(oldCfg.Repos, newCfg.Repos) {
		changed = append(changed, "repos")
		attrs = append(attrs, logx.Int("repos.count", len(newCfg.Repos)))
		restart = true
	}
	if !reflect.DeepEqual(oldCfg.Channels, newCfg.Channels) || oldCfg.GeneralChannel != newCfg.GeneralChannel {
		changed = append(changed, "channels")
		attrs = append(attrs, logx.Int("channels.count", len(newCfg.Channels)))
		restart = true
	}
	if !reflect.DeepEqual(oldCfg.Poller, newCfg.Poller) {
		changed = append(changed, "poller")
		attrs = append(attrs, logx.String("poller.interval", newCfg.Poller.Interval))
		restart = true
	}
	if !reflect.DeepEqual(oldCfg.Delivery, newCfg.Delivery) {
		changed = append(changed, "delivery")
		restart = true
	}
	if oldCfg.Leveling != newCfg.Leveling {
		changed = append(changed, "leveling")
		restart = true
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		restart = true
	}
	return changed, attrs, restart
}

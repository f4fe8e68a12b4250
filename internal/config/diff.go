package config

import (
	"reflect"
	"strings"

	logx "lenabot/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections and
// (2) safe structured attrs for logging (never includes secrets like tokens).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	// Telegram (never log token)
	if strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.poll_timeout", strings.TrimSpace(newCfg.Telegram.PollTimeout)),
		)
	}

	// Logging
	if oldCfg.Logging.Level != newCfg.Logging.Level ||
		oldCfg.Logging.Console != newCfg.Logging.Console ||
		oldCfg.Logging.File.Enabled != newCfg.Logging.File.Enabled ||
		strings.TrimSpace(oldCfg.Logging.File.Path) != strings.TrimSpace(newCfg.Logging.File.Path) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Memory (path changes require a restart; still worth surfacing)
	if !reflect.DeepEqual(oldCfg.Memory, newCfg.Memory) {
		changed = append(changed, "memory")
		attrs = append(attrs, logx.String("memory.path", strings.TrimSpace(newCfg.Memory.Path)))
	}

	if !reflect.DeepEqual(oldCfg.Personality, newCfg.Personality) {
		changed = append(changed, "personality")
	}

	if !reflect.DeepEqual(oldCfg.Delivery, newCfg.Delivery) {
		changed = append(changed, "delivery")
	}

	if !reflect.DeepEqual(oldCfg.Proactive, newCfg.Proactive) {
		changed = append(changed, "proactive")
		attrs = append(attrs,
			logx.Bool("proactive.enabled", newCfg.Proactive.Enabled == nil || *newCfg.Proactive.Enabled),
			logx.String("proactive.tick_interval", strings.TrimSpace(newCfg.Proactive.TickInterval)),
		)
	}

	return changed, attrs
}

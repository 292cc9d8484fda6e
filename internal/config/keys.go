package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "TLOG_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "bridge.port", typ: kInt, env: "TLOG_BRIDGE_PORT",
		apply:   func(cfg *Config, v any) { cfg.Bridge.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Bridge.Port },
	},
	{
		key: "storage.data_dir", typ: kString, env: "TLOG_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "TLOG_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "tracker.tick", typ: kString, env: "TLOG_TRACKER_TICK",
		apply:   func(cfg *Config, v any) { cfg.Tracker.Tick = v.(string) },
		extract: func(cfg Config) any { return cfg.Tracker.Tick },
	},
	{
		key: "tracker.poll_interval", typ: kString, env: "TLOG_TRACKER_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Tracker.PollInterval = v.(string) },
		extract: func(cfg Config) any { return cfg.Tracker.PollInterval },
	},
	{
		key: "tracker.manual_mode", typ: kBool, env: "TLOG_TRACKER_MANUAL_MODE",
		apply:   func(cfg *Config, v any) { cfg.Tracker.ManualMode = v.(bool) },
		extract: func(cfg Config) any { return cfg.Tracker.ManualMode },
	},
	{
		key: "tracker.manual_category", typ: kString, env: "TLOG_TRACKER_MANUAL_CATEGORY",
		apply:   func(cfg *Config, v any) { cfg.Tracker.ManualCategory = v.(string) },
		extract: func(cfg Config) any { return cfg.Tracker.ManualCategory },
	},
	{
		key: "rules.path", typ: kString, env: "TLOG_RULES_PATH",
		apply:   func(cfg *Config, v any) { cfg.Rules.Path = v.(string) },
		extract: func(cfg Config) any { return cfg.Rules.Path },
	},
	{
		key: "controller.port", typ: kString, env: "TLOG_CONTROLLER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Controller.Port = v.(string) },
		extract: func(cfg Config) any { return cfg.Controller.Port },
	},
	{
		key: "controller.baud_rate", typ: kInt, env: "TLOG_CONTROLLER_BAUD_RATE",
		apply:   func(cfg *Config, v any) { cfg.Controller.BaudRate = v.(int) },
		extract: func(cfg Config) any { return cfg.Controller.BaudRate },
	},
	{
		key: "controller.min_players", typ: kInt, env: "TLOG_CONTROLLER_MIN_PLAYERS",
		apply:   func(cfg *Config, v any) { cfg.Controller.MinPlayers = v.(int) },
		extract: func(cfg Config) any { return cfg.Controller.MinPlayers },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}

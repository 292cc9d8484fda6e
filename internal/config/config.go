package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

type Config struct {
	Server     ServerConfig
	Bridge     BridgeConfig
	Storage    StorageConfig
	Log        LogConfig
	Tracker    TrackerConfig
	Rules      RulesConfig
	Controller ControllerConfig
}

type ServerConfig struct {
	Port int
}

// BridgeConfig is the local listener the browser extension reports tabs to.
type BridgeConfig struct {
	Port int
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type TrackerConfig struct {
	Tick           string
	PollInterval   string
	ManualMode     bool
	ManualCategory string
}

type RulesConfig struct {
	Path string
}

// ControllerConfig describes an optional serial hardware controller. An
// empty Port leaves the controller on keyboard input.
type ControllerConfig struct {
	Port       string
	BaudRate   int
	MinPlayers int
}

const (
	defaultTick         = time.Second
	defaultPollInterval = 2 * time.Second
)

func defaults() Config {
	return Config{
		Server:  ServerConfig{Port: 4100},
		Bridge:  BridgeConfig{Port: 31337},
		Storage: StorageConfig{DataDir: defaultDataDir()},
		Log:     LogConfig{Level: "info"},
		Tracker: TrackerConfig{
			Tick:           defaultTick.String(),
			PollInterval:   defaultPollInterval.String(),
			ManualCategory: "Manual",
		},
		Rules: RulesConfig{Path: filepath.Join(ConfigDir(), "rules.yaml")},
		Controller: ControllerConfig{
			BaudRate:   115200,
			MinPlayers: 2,
		},
	}
}

// Load reads configuration from the platform-native backend and environment
// variables.
//
// On macOS the backend is UserDefaults (domain: com.kalambet.tlog).
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/tlog/config.json.
//
// Environment variables (TLOG_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return Config{}, fmt.Errorf("invalid server.port %d", cfg.Server.Port)
	}
	if cfg.Bridge.Port <= 0 || cfg.Bridge.Port > 65535 {
		return Config{}, fmt.Errorf("invalid bridge.port %d", cfg.Bridge.Port)
	}
	if cfg.Server.Port == cfg.Bridge.Port {
		return Config{}, fmt.Errorf("server.port and bridge.port must differ (both %d)", cfg.Server.Port)
	}

	return cfg, nil
}

// TickInterval returns the accrual interval, falling back to the default
// when the configured value does not parse.
func (c Config) TickInterval() time.Duration {
	return parseDuration("tracker.tick", c.Tracker.Tick, defaultTick)
}

// PollInterval returns how often the foreground window is sampled.
func (c Config) PollInterval() time.Duration {
	return parseDuration("tracker.poll_interval", c.Tracker.PollInterval, defaultPollInterval)
}

func parseDuration(key, raw string, def time.Duration) time.Duration {
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		fmt.Fprintf(os.Stderr, "[WARN] could not parse duration from config key %s=%q. Using default value %s.\n", key, raw, def)
		return def
	}
	return d
}

// DBPath returns the path of the session database.
func (c Config) DBPath() string {
	return filepath.Join(c.Storage.DataDir, "tlog.db")
}

// PIDPath returns the path of the daemon's pid file.
func (c Config) PIDPath() string {
	return filepath.Join(c.Storage.DataDir, "tlog.pid")
}

package config

import (
	"errors"
	"strings"
	"testing"
	"time"
)

// memBackend is an in-memory ConfigBackend.
type memBackend struct {
	strs map[string]string
	ints map[string]int
	err  error
}

func newMemBackend() *memBackend {
	return &memBackend{strs: map[string]string{}, ints: map[string]int{}}
}

func (m *memBackend) GetString(key string) (string, bool, error) {
	if m.err != nil {
		return "", false, m.err
	}
	v, ok := m.strs[key]
	return v, ok, nil
}

func (m *memBackend) GetInt(key string) (int, bool, error) {
	if m.err != nil {
		return 0, false, m.err
	}
	v, ok := m.ints[key]
	return v, ok, nil
}

func (m *memBackend) SetString(key, val string) error { m.strs[key] = val; return nil }
func (m *memBackend) SetInt(key string, val int) error  { m.ints[key] = val; return nil }

func (m *memBackend) Delete(key string) error {
	delete(m.strs, key)
	delete(m.ints, key)
	return nil
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
	}
}

// TestDefaults verifies all default values are applied for an empty backend.
func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := loadWith(newMemBackend())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4100 {
		t.Errorf("Server.Port = %d, want 4100", cfg.Server.Port)
	}
	if cfg.Bridge.Port != 31337 {
		t.Errorf("Bridge.Port = %d, want 31337", cfg.Bridge.Port)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.TickInterval() != time.Second {
		t.Errorf("TickInterval() = %v, want 1s", cfg.TickInterval())
	}
	if cfg.PollInterval() != 2*time.Second {
		t.Errorf("PollInterval() = %v, want 2s", cfg.PollInterval())
	}
	if cfg.Tracker.ManualMode {
		t.Error("Tracker.ManualMode = true, want false")
	}
	if cfg.Tracker.ManualCategory != "Manual" {
		t.Errorf("Tracker.ManualCategory = %q, want %q", cfg.Tracker.ManualCategory, "Manual")
	}
	if !strings.HasSuffix(cfg.Rules.Path, "rules.yaml") {
		t.Errorf("Rules.Path = %q, want a rules.yaml path", cfg.Rules.Path)
	}
	if cfg.Controller.Port != "" {
		t.Errorf("Controller.Port = %q, want empty", cfg.Controller.Port)
	}
	if cfg.Controller.BaudRate != 115200 {
		t.Errorf("Controller.BaudRate = %d, want 115200", cfg.Controller.BaudRate)
	}
	if cfg.Controller.MinPlayers != 2 {
		t.Errorf("Controller.MinPlayers = %d, want 2", cfg.Controller.MinPlayers)
	}
	if cfg.Storage.DataDir == "" {
		t.Error("Storage.DataDir is empty")
	}
}

// TestBackendValues verifies values stored in the backend replace defaults.
func TestBackendValues(t *testing.T) {
	clearEnv(t)

	b := newMemBackend()
	b.ints["server.port"] = 5000
	b.strs["storage.data_dir"] = "/tmp/tlog-test"
	b.strs["tracker.tick"] = "500ms"
	b.strs["tracker.manual_mode"] = "true"
	b.strs["controller.port"] = "/dev/ttyUSB0"

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want 5000", cfg.Server.Port)
	}
	if cfg.Storage.DataDir != "/tmp/tlog-test" {
		t.Errorf("Storage.DataDir = %q, want /tmp/tlog-test", cfg.Storage.DataDir)
	}
	if cfg.DBPath() != "/tmp/tlog-test/tlog.db" {
		t.Errorf("DBPath() = %q", cfg.DBPath())
	}
	if cfg.TickInterval() != 500*time.Millisecond {
		t.Errorf("TickInterval() = %v, want 500ms", cfg.TickInterval())
	}
	if !cfg.Tracker.ManualMode {
		t.Error("Tracker.ManualMode = false, want true")
	}
	if cfg.Controller.Port != "/dev/ttyUSB0" {
		t.Errorf("Controller.Port = %q", cfg.Controller.Port)
	}
}

// TestEnvOverride verifies that environment variables override backend values.
func TestEnvOverride(t *testing.T) {
	clearEnv(t)

	b := newMemBackend()
	b.ints["server.port"] = 5000
	b.strs["log.level"] = "warn"

	t.Setenv("TLOG_SERVER_PORT", "6000")
	t.Setenv("TLOG_LOG_LEVEL", "debug")
	t.Setenv("TLOG_TRACKER_MANUAL_MODE", "1")
	t.Setenv("TLOG_TRACKER_MANUAL_CATEGORY", "Focus")

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 6000 {
		t.Errorf("Server.Port = %d, want 6000", cfg.Server.Port)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
	if !cfg.Tracker.ManualMode {
		t.Error("Tracker.ManualMode = false, want true")
	}
	if cfg.Tracker.ManualCategory != "Focus" {
		t.Errorf("Tracker.ManualCategory = %q, want Focus", cfg.Tracker.ManualCategory)
	}
}

// TestInvalidEnvIsIgnored verifies unparseable env values keep the default.
func TestInvalidEnvIsIgnored(t *testing.T) {
	clearEnv(t)
	t.Setenv("TLOG_SERVER_PORT", "not-a-port")
	t.Setenv("TLOG_TRACKER_MANUAL_MODE", "maybe")

	cfg, err := loadWith(newMemBackend())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 4100 {
		t.Errorf("Server.Port = %d, want 4100", cfg.Server.Port)
	}
	if cfg.Tracker.ManualMode {
		t.Error("Tracker.ManualMode = true, want false")
	}
}

func TestInvalidDurationFallsBack(t *testing.T) {
	cfg := defaults()
	cfg.Tracker.Tick = "soon"
	cfg.Tracker.PollInterval = "-3s"
	if got := cfg.TickInterval(); got != time.Second {
		t.Errorf("TickInterval() = %v, want 1s", got)
	}
	if got := cfg.PollInterval(); got != 2*time.Second {
		t.Errorf("PollInterval() = %v, want 2s", got)
	}
}

func TestPortValidation(t *testing.T) {
	clearEnv(t)

	b := newMemBackend()
	b.ints["bridge.port"] = 4100
	if _, err := loadWith(b); err == nil {
		t.Fatal("expected error when server and bridge share a port")
	}

	b = newMemBackend()
	b.ints["server.port"] = 70000
	if _, err := loadWith(b); err == nil {
		t.Fatal("expected error for out of range port")
	}
}

func TestBackendError(t *testing.T) {
	clearEnv(t)
	b := newMemBackend()
	b.err = errors.New("backend down")
	if _, err := loadWith(b); err == nil {
		t.Fatal("expected backend error")
	}
}

func TestSetKey(t *testing.T) {
	b := newMemBackend()

	if err := setKeyWith(b, "server.port", "4200"); err != nil {
		t.Fatalf("setting int: %v", err)
	}
	if b.ints["server.port"] != 4200 {
		t.Errorf("server.port = %d, want 4200", b.ints["server.port"])
	}
	if err := setKeyWith(b, "tracker.manual_mode", "yes"); err == nil {
		t.Error("expected error for invalid bool")
	}
	if err := setKeyWith(b, "tracker.manual_mode", "TRUE"); err != nil {
		t.Fatalf("setting bool: %v", err)
	}
	if b.strs["tracker.manual_mode"] != "true" {
		t.Errorf("tracker.manual_mode = %q, want true", b.strs["tracker.manual_mode"])
	}
	if err := setKeyWith(b, "server.port", "abc"); err == nil {
		t.Error("expected error for invalid integer")
	}
	if err := setKeyWith(b, "no.such.key", "x"); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestShowAllCoversEveryKey(t *testing.T) {
	infos := ShowAll(defaults())
	keys := ValidKeys()
	if len(infos) != len(keys) {
		t.Fatalf("ShowAll returned %d entries, want %d", len(infos), len(keys))
	}
	for i, info := range infos {
		if info.Key != keys[i] {
			t.Errorf("entry %d key = %q, want %q", i, info.Key, keys[i])
		}
		if !strings.HasPrefix(info.EnvVar, "TLOG_") {
			t.Errorf("entry %q env = %q, want TLOG_ prefix", info.Key, info.EnvVar)
		}
	}
}

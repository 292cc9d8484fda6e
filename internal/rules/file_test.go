package rules

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/tlog/internal/activity"
)

const yamlRules = `browsers: [chrome]
rules:
  - category: Programming
    kind: process
    keywords: [code]
  - category: News
    domains: [ycombinator.com]
`

const tomlRules = `browsers = ["chrome"]

[[rules]]
category = "Programming"
kind = "process"
keywords = ["code"]

[[rules]]
category = "News"
domains = ["ycombinator.com"]
`

const jsonRules = `{
  "browsers": ["chrome"],
  "rules": [
    {"category": "Programming", "kind": "process", "keywords": ["code"]},
    {"category": "News", "domains": ["ycombinator.com"]}
  ]
}`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad_Formats(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"rules.yaml", yamlRules},
		{"rules.yml", yamlRules},
		{"rules.toml", tomlRules},
		{"rules.json", jsonRules},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rs, err := Load(writeFile(t, tt.name, tt.content))
			require.NoError(t, err)
			require.Equal(t, 2, rs.Len())
			assert.Equal(t, []string{"chrome"}, rs.Browsers())

			r := rs.Rules()[0]
			assert.Equal(t, "Programming", r.Category)
			assert.Equal(t, activity.KindProcess, r.Kind)

			cat, ok := rs.Classify(tab("https://news.ycombinator.com"))
			assert.True(t, ok)
			assert.Equal(t, "News", cat)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	rs, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)

	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.True(t, errors.Is(err, os.ErrNotExist))
	assert.Equal(t, 0, rs.Len())
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"syntax", "rules.yaml", "rules: [unclosed"},
		{"unknown key", "rules.yaml", "rules:\n  - category: A\n    keywords: [a]\n    weight: 3\n"},
		{"bad kind", "rules.yaml", "rules:\n  - category: A\n    kind: mouse\n    keywords: [a]\n"},
		{"missing category", "rules.json", `{"rules":[{"keywords":["a"]}]}`},
		{"empty", "rules.yaml", ""},
		{"extension", "rules.ini", "[rules]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rs, err := Load(writeFile(t, tt.file, tt.content))
			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, 0, rs.Len(), "invalid config falls back to empty rules")

			_, ok := rs.Classify(proc("a"))
			assert.False(t, ok)
		})
	}
}

func TestCompile_ReportsSkipped(t *testing.T) {
	f := File{Rules: []FileRule{
		{Category: "A", Keywords: []string{"a"}},
		{Category: "B"},
		{Category: "C", Keywords: []string{"c"}},
	}}
	rs, skipped, err := f.Compile()
	require.NoError(t, err)
	assert.Equal(t, []int{1}, skipped)
	assert.Equal(t, 2, rs.Len())
}

func TestEnsureFile_WritesDefaults(t *testing.T) {
	for _, ext := range []string{".yaml", ".toml", ".json"} {
		t.Run(ext, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", "rules"+ext)

			created, err := EnsureFile(path)
			require.NoError(t, err)
			assert.True(t, created)

			rs, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, Default().Rules(), rs.Rules())
			assert.Equal(t, DefaultBrowsers, rs.Browsers())

			created, err = EnsureFile(path)
			require.NoError(t, err)
			assert.False(t, created, "existing file is left alone")
		})
	}
}

func TestSchema(t *testing.T) {
	data, err := Schema()
	require.NoError(t, err)

	var s map[string]any
	require.NoError(t, json.Unmarshal(data, &s))
	assert.Equal(t, "tlog rules", s["title"])
	props, ok := s["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "rules")
	assert.Contains(t, props, "browsers")
}

func TestHolder_ReloadKeepsPreviousOnError(t *testing.T) {
	path := writeFile(t, "rules.yaml", yamlRules)
	rs, err := Load(path)
	require.NoError(t, err)

	h := NewHolder(path, rs)
	require.NoError(t, os.WriteFile(path, []byte("rules: [broken"), 0600))

	got, err := h.Reload()
	require.Error(t, err)
	assert.Same(t, rs, got)
	assert.Same(t, rs, h.Get())

	require.NoError(t, os.WriteFile(path, []byte(jsonRulesAsYAML), 0600))
	got, err = h.Reload()
	require.NoError(t, err)
	assert.Equal(t, 1, got.Len())
	assert.Same(t, got, h.Get())
}

func TestHolder_ReloadLogsOnce(t *testing.T) {
	var logs bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&logs, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	path := writeFile(t, "rules.yaml", yamlRules)
	h := NewHolder(path, nil)

	_, err := h.Reload()
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(logs.String(), "rules reloaded"))
	assert.Contains(t, logs.String(), "path="+path)
}

const jsonRulesAsYAML = "rules:\n  - category: Blog\n    keywords: [medium]\n"

func TestNewHolder_NilIsEmpty(t *testing.T) {
	h := NewHolder("rules.yaml", nil)
	require.NotNil(t, h.Get())
	assert.Equal(t, 0, h.Get().Len())
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	path := writeFile(t, "rules.yaml", yamlRules)
	rs, err := Load(path)
	require.NoError(t, err)
	h := NewHolder(path, rs)

	reloaded := make(chan *RuleSet, 4)
	w := NewWatcher(h, 20*time.Millisecond)
	w.OnReload = func(rs *RuleSet, err error) {
		if err != nil {
			return
		}
		select {
		case reloaded <- rs:
		default:
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Rewrite until the watcher is observed to pick it up; the watch is
	// registered asynchronously.
	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte(jsonRulesAsYAML), 0600)
		select {
		case rs := <-reloaded:
			return rs.Len() == 1
		case <-time.After(100 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, h.Get().Len())
}

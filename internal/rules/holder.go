package rules

import (
	"log/slog"
	"sync/atomic"
)

// Holder publishes the current RuleSet to readers. Writers replace the whole
// set; a RuleSet is never modified in place.
type Holder struct {
	path string
	rs   atomic.Pointer[RuleSet]
}

// NewHolder creates a Holder for the rule file at path, initially holding rs.
func NewHolder(path string, rs *RuleSet) *Holder {
	h := &Holder{path: path}
	if rs == nil {
		rs = Empty()
	}
	h.rs.Store(rs)
	return h
}

// Path returns the rule file path.
func (h *Holder) Path() string { return h.path }

// Get returns the current RuleSet.
func (h *Holder) Get() *RuleSet {
	return h.rs.Load()
}

// Set replaces the current RuleSet.
func (h *Holder) Set(rs *RuleSet) {
	if rs == nil {
		rs = Empty()
	}
	h.rs.Store(rs)
}

// Reload re-reads the rule file. On failure the previous set is kept and the
// *ConfigError is returned.
func (h *Holder) Reload() (*RuleSet, error) {
	rs, err := Load(h.path)
	if err != nil {
		return h.Get(), err
	}
	h.Set(rs)
	slog.Info("rules reloaded", "path", h.path, "rules", rs.Len())
	return rs, nil
}

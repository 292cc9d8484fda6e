// Package rules maps raw activity signals to categories using an ordered
// keyword table.
package rules

import (
	"net/url"
	"strings"
	"unicode"

	"golang.org/x/net/publicsuffix"

	"github.com/kalambet/tlog/internal/activity"
)

// Rule maps signals to Category when any keyword is a substring of the
// normalized payload. For process signals keywords see the process name only;
// the window title is also searched by KindAny rules when the process is a
// browser. Domains additionally match browser tab URLs by their registrable
// domain. Kind restricts the rule to one signal kind; KindAny matches every
// kind.
type Rule struct {
	Keywords []string
	Domains  []string
	Category string
	Kind     activity.Kind
}

// valid reports whether the rule can ever match.
func (r Rule) valid() bool {
	if strings.TrimSpace(r.Category) == "" {
		return false
	}
	for _, kw := range r.Keywords {
		if strings.TrimSpace(kw) != "" {
			return true
		}
	}
	for _, d := range r.Domains {
		if strings.TrimSpace(d) != "" {
			return true
		}
	}
	return false
}

// RuleSet is an ordered rule table. The first matching rule wins.
// A RuleSet is immutable once built; use New to normalize input.
type RuleSet struct {
	rules    []Rule
	browsers []string
}

// New builds a RuleSet from rules and browser keywords. Keywords, domains and
// browsers are lowercased and trimmed; rules that cannot match are dropped.
func New(rules []Rule, browsers []string) *RuleSet {
	rs := &RuleSet{}
	for _, r := range rules {
		if !r.valid() {
			continue
		}
		rs.rules = append(rs.rules, Rule{
			Keywords: normalizeAll(r.Keywords),
			Domains:  normalizeAll(r.Domains),
			Category: strings.TrimSpace(r.Category),
			Kind:     r.Kind,
		})
	}
	rs.browsers = normalizeAll(browsers)
	return rs
}

// Empty returns a RuleSet that classifies nothing.
func Empty() *RuleSet {
	return &RuleSet{}
}

// DefaultBrowsers are process keywords that identify a web browser window.
// They match whole words of the process name.
var DefaultBrowsers = []string{"chrome", "chromium", "whale", "firefox", "safari", "edge", "msedge", "brave", "arc", "opera"}

// DefaultRules is the built-in category table. Whole-application rules come
// before title and URL rules so they take precedence.
func DefaultRules() []Rule {
	return []Rule{
		{Keywords: []string{"unity"}, Category: "Unity", Kind: activity.KindProcess},
		{Keywords: []string{"visual studio code", "code", "antigravity"}, Category: "Programming", Kind: activity.KindProcess},
		{Keywords: []string{"claude", "ai studio", "chatgpt"}, Category: "LLM"},
		{Keywords: []string{"github", "gitingest"}, Category: "Programming"},
		{Keywords: []string{"medium"}, Category: "Blog"},
	}
}

// Default returns the built-in RuleSet.
func Default() *RuleSet {
	return New(DefaultRules(), DefaultBrowsers)
}

// Rules returns a copy of the normalized rules.
func (rs *RuleSet) Rules() []Rule {
	if rs == nil {
		return nil
	}
	out := make([]Rule, len(rs.rules))
	copy(out, rs.rules)
	return out
}

// Browsers returns a copy of the normalized browser keywords.
func (rs *RuleSet) Browsers() []string {
	if rs == nil {
		return nil
	}
	return append([]string(nil), rs.browsers...)
}

// Len returns the number of usable rules.
func (rs *RuleSet) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.rules)
}

// Classify returns the category of the first rule matching sig, or false if
// no rule matches. HardwareInput signals never classify.
func (rs *RuleSet) Classify(sig activity.Signal) (string, bool) {
	if rs == nil || sig.Kind == activity.KindHardwareInput {
		return "", false
	}
	payload := normalize(sig.Payload)
	if payload == "" {
		return "", false
	}

	var domain, title string
	target := payload
	switch sig.Kind {
	case activity.KindBrowserTab:
		domain = registrableDomain(payload)
	case activity.KindProcess:
		name, rest, _ := strings.Cut(payload, " | ")
		target = strings.TrimSpace(name)
		if rs.isBrowserName(target) {
			title = rest
		}
	}

	for _, r := range rs.rules {
		if r.Kind != activity.KindAny && r.Kind != sig.Kind {
			continue
		}
		if matchesAny(target, r.Keywords) || (domain != "" && contains(r.Domains, domain)) {
			return r.Category, true
		}
		if r.Kind == activity.KindAny && title != "" && matchesAny(title, r.Keywords) {
			return r.Category, true
		}
	}
	return "", false
}

// IsBrowser reports whether a process signal belongs to a web browser.
// Browser keywords match whole words of the process name, so "arc" does not
// match "Archive Utility".
func (rs *RuleSet) IsBrowser(sig activity.Signal) bool {
	if rs == nil || sig.Kind != activity.KindProcess {
		return false
	}
	return rs.isBrowserName(normalize(processName(sig.Payload)))
}

func (rs *RuleSet) isBrowserName(name string) bool {
	padded := " " + strings.Join(words(name), " ") + " "
	for _, b := range rs.browsers {
		w := words(b)
		if len(w) == 0 {
			continue
		}
		if strings.Contains(padded, " "+strings.Join(w, " ")+" ") {
			return true
		}
	}
	return false
}

// words splits s into runs of letters and digits.
func words(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Observation is the latest known signal per source used to resolve the
// current category. Either field may be nil.
type Observation struct {
	Process *activity.Signal
	Tab     *activity.Signal
}

// Resolve arbitrates between the focused window and the active browser tab.
// When a browser has focus the tab wins if it classifies; otherwise the
// window title is used. Tab signals are ignored while any other application
// has focus. With no window known, the tab is used alone.
func (rs *RuleSet) Resolve(obs Observation) (string, bool) {
	if obs.Process == nil {
		if obs.Tab == nil {
			return "", false
		}
		return rs.Classify(*obs.Tab)
	}
	if obs.Tab != nil && rs.IsBrowser(*obs.Process) {
		if cat, ok := rs.Classify(*obs.Tab); ok {
			return cat, true
		}
	}
	return rs.Classify(*obs.Process)
}

// processName extracts the process part of a "process | title" payload.
func processName(payload string) string {
	name, _, _ := strings.Cut(payload, " | ")
	return name
}

// registrableDomain returns the eTLD+1 of a URL, or "" if it has none.
func registrableDomain(raw string) string {
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	host := u.Hostname()
	if host == "" {
		return ""
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return ""
	}
	return domain
}

func matchesAny(payload string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(payload, kw) {
			return true
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func normalizeAll(in []string) []string {
	var out []string
	for _, s := range in {
		if s = normalize(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

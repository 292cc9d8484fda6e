// Package session turns a finished tracking run into a SessionRecord and
// defines where records are persisted.
package session

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Run is the frozen outcome of a tracking run, as handed over by the tracker.
type Run struct {
	Accumulated map[string]int // seconds per category
	StartedAt   time.Time
	StoppedAt   time.Time
	Manual      bool
}

// Record is a finished, labelled session. ID is assigned by the Sink.
type Record struct {
	ID             string                   `json:"id,omitempty"`
	Category       string                   `json:"category"`
	Summary        string                   `json:"summary"`
	Breakdown      string                   `json:"breakdown"`
	CategoryTotals map[string]time.Duration `json:"category_totals"`
	StartedAt      time.Time                `json:"started_at"`
	EndedAt        time.Time                `json:"ended_at"`
	Manual         bool                     `json:"manual"`
}

// Total returns the sum of all category durations.
func (r Record) Total() time.Duration {
	var d time.Duration
	for _, v := range r.CategoryTotals {
		d += v
	}
	return d
}

// ValidationError rejects a finalize call with a missing field.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s is required", e.Field)
}

// Sink persists finished sessions.
type Sink interface {
	// AppendSession stores rec and returns its assigned ID.
	AppendSession(ctx context.Context, rec Record) (string, error)
	// ListSessions returns records most recent first.
	ListSessions(ctx context.Context, limit, offset int) ([]Record, error)
}

// Finalize builds a Record from a stopped run. The label becomes the
// record's category. An empty label or summary is rejected with a
// *ValidationError and no record is produced.
func Finalize(run Run, label, summary string) (Record, error) {
	label = strings.TrimSpace(label)
	summary = strings.TrimSpace(summary)
	if label == "" {
		return Record{}, &ValidationError{Field: "label"}
	}
	if summary == "" {
		return Record{}, &ValidationError{Field: "summary"}
	}

	totals := make(map[string]time.Duration, len(run.Accumulated))
	for cat, secs := range run.Accumulated {
		if secs <= 0 {
			continue
		}
		totals[cat] = time.Duration(secs) * time.Second
	}

	return Record{
		Category:       label,
		Summary:        summary,
		Breakdown:      Breakdown(totals),
		CategoryTotals: totals,
		StartedAt:      run.StartedAt,
		EndedAt:        run.StoppedAt,
		Manual:         run.Manual,
	}, nil
}

// CategoryTime is one entry of an ordered breakdown.
type CategoryTime struct {
	Category string        `json:"category"`
	Duration time.Duration `json:"duration"`
}

// Sorted orders totals by descending duration, then ascending name.
func Sorted(totals map[string]time.Duration) []CategoryTime {
	out := make([]CategoryTime, 0, len(totals))
	for cat, d := range totals {
		out = append(out, CategoryTime{Category: cat, Duration: d})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Duration != out[j].Duration {
			return out[i].Duration > out[j].Duration
		}
		return out[i].Category < out[j].Category
	})
	return out
}

// Breakdown renders totals as "Programming: 1h 2m 3s, LLM: 58s".
func Breakdown(totals map[string]time.Duration) string {
	parts := make([]string, 0, len(totals))
	for _, ct := range Sorted(totals) {
		parts = append(parts, ct.Category+": "+FormatDuration(ct.Duration))
	}
	return strings.Join(parts, ", ")
}

// Dominant returns the category with the most time, ties broken by name.
func Dominant(totals map[string]time.Duration) string {
	sorted := Sorted(totals)
	if len(sorted) == 0 {
		return ""
	}
	return sorted[0].Category
}

// Seconds converts a per-category seconds map to durations.
func Seconds(acc map[string]int) map[string]time.Duration {
	out := make(map[string]time.Duration, len(acc))
	for k, v := range acc {
		out[k] = time.Duration(v) * time.Second
	}
	return out
}

// FormatDuration renders d as "1h 2m 3s", omitting zero units. Zero renders
// as "0s". Sub-second precision is dropped.
func FormatDuration(d time.Duration) string {
	total := int64(d / time.Second)
	if total <= 0 {
		return "0s"
	}
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60

	var parts []string
	if h > 0 {
		parts = append(parts, fmt.Sprintf("%dh", h))
	}
	if m > 0 {
		parts = append(parts, fmt.Sprintf("%dm", m))
	}
	if s > 0 {
		parts = append(parts, fmt.Sprintf("%ds", s))
	}
	return strings.Join(parts, " ")
}

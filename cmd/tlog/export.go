package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/kalambet/tlog/internal/session"
)

// exporter writes sessions in one output format.
type exporter interface {
	begin(w io.Writer) error
	write(rec session.Record) error
	end() error
}

func newExporter(format string) (exporter, error) {
	switch strings.ToLower(format) {
	case "csv":
		return &csvExporter{}, nil
	case "jsonl", "ndjson":
		return &jsonlExporter{}, nil
	default:
		return nil, fmt.Errorf("unknown export format %q (want csv or jsonl)", format)
	}
}

var csvHeader = []string{"id", "category", "summary", "started_at", "ended_at", "total_seconds", "manual", "breakdown"}

type csvExporter struct {
	w *csv.Writer
}

func (e *csvExporter) begin(w io.Writer) error {
	e.w = csv.NewWriter(w)
	return e.w.Write(csvHeader)
}

func (e *csvExporter) write(rec session.Record) error {
	return e.w.Write([]string{
		rec.ID,
		rec.Category,
		rec.Summary,
		rec.StartedAt.UTC().Format(time.RFC3339),
		rec.EndedAt.UTC().Format(time.RFC3339),
		strconv.FormatInt(int64(rec.Total()/time.Second), 10),
		strconv.FormatBool(rec.Manual),
		rec.Breakdown,
	})
}

func (e *csvExporter) end() error {
	e.w.Flush()
	return e.w.Error()
}

// jsonlRecord is the export shape of a session. Durations are whole seconds.
type jsonlRecord struct {
	ID         string           `json:"id"`
	Category   string           `json:"category"`
	Summary    string           `json:"summary"`
	StartedAt  time.Time        `json:"started_at"`
	EndedAt    time.Time        `json:"ended_at"`
	Total      int64            `json:"total_seconds"`
	Manual     bool             `json:"manual"`
	Categories map[string]int64 `json:"categories"`
}

type jsonlExporter struct {
	enc *json.Encoder
}

func (e *jsonlExporter) begin(w io.Writer) error {
	e.enc = json.NewEncoder(w)
	return nil
}

func (e *jsonlExporter) write(rec session.Record) error {
	cats := make(map[string]int64, len(rec.CategoryTotals))
	for c, d := range rec.CategoryTotals {
		cats[c] = int64(d / time.Second)
	}
	return e.enc.Encode(jsonlRecord{
		ID:         rec.ID,
		Category:   rec.Category,
		Summary:    rec.Summary,
		StartedAt:  rec.StartedAt.UTC(),
		EndedAt:    rec.EndedAt.UTC(),
		Total:      int64(rec.Total() / time.Second),
		Manual:     rec.Manual,
		Categories: cats,
	})
}

func (e *jsonlExporter) end() error { return nil }

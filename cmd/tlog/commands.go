package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/tlog/internal/config"
	"github.com/kalambet/tlog/internal/rules"
	"github.com/kalambet/tlog/internal/session"
	"github.com/kalambet/tlog/internal/storage"
	"github.com/kalambet/tlog/internal/tracker"
)

// --- track ---

var trackCmd = &cobra.Command{
	Use:   "track",
	Short: "Start, stop, save or discard a tracking run",
}

var trackStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a new tracking run",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var manual *bool
		if cmd.Flags().Changed("manual") {
			v, _ := cmd.Flags().GetBool("manual")
			manual = &v
		}
		return trackStart(cmd.Context(), client, manual)
	},
}

var trackStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the current run and show where the time went",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return trackStop(cmd.Context(), client, os.Stdout)
	},
}

var trackSaveCmd = &cobra.Command{
	Use:   "save",
	Short: "Save the stopped run to the session log",
	RunE: func(cmd *cobra.Command, args []string) error {
		label, _ := cmd.Flags().GetString("label")
		summary, _ := cmd.Flags().GetString("summary")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return trackSave(cmd.Context(), client, label, summary)
	},
}

var trackDiscardCmd = &cobra.Command{
	Use:   "discard",
	Short: "Throw away the stopped run without saving",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/tracking/discard", nil)
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Run discarded")
		return nil
	},
}

func init() {
	trackStartCmd.Flags().Bool("manual", false, "record everything under the manual category instead of classifying")
	trackSaveCmd.Flags().String("label", "", "category to file the session under (default: dominant category)")
	trackSaveCmd.Flags().String("summary", "", "what the session was about")
	trackCmd.AddCommand(trackStartCmd, trackStopCmd, trackSaveCmd, trackDiscardCmd)
}

func trackStart(ctx context.Context, client *apiClient, manual *bool) error {
	var body any
	if manual != nil {
		body = map[string]bool{"manual": *manual}
	}
	resp, err := client.post(ctx, "/tracking/start", body)
	if err != nil {
		return err
	}
	var snap tracker.Snapshot
	if err := decodeJSON(resp, &snap); err != nil {
		return err
	}
	if snap.Manual {
		printSuccess("Tracking started (manual: %s)", snap.Category)
	} else {
		printSuccess("Tracking started")
	}
	return nil
}

func trackStop(ctx context.Context, client *apiClient, w io.Writer) error {
	resp, err := client.post(ctx, "/tracking/stop", nil)
	if err != nil {
		return err
	}
	var snap tracker.Snapshot
	if err := decodeJSON(resp, &snap); err != nil {
		return err
	}
	printSuccess("Tracking stopped after %s", session.FormatDuration(time.Duration(snap.Elapsed)*time.Second))
	printBreakdown(w, session.Seconds(snap.Accumulated))
	if snap.Unsaved {
		printStep("Run 'tlog track save --summary ...' to keep it or 'tlog track discard' to drop it")
	}
	return nil
}

// trackSave files the stopped run. Without a label the dominant category
// is used.
func trackSave(ctx context.Context, client *apiClient, label, summary string) error {
	if label == "" {
		snap, err := client.status(ctx)
		if err != nil {
			return err
		}
		label = snap.Dominant
		if label == "" {
			label = session.Dominant(session.Seconds(snap.Accumulated))
		}
	}

	resp, err := client.post(ctx, "/tracking/save", map[string]string{
		"label":   label,
		"summary": summary,
	})
	if err != nil {
		return err
	}
	var rec session.Record
	if err := decodeJSON(resp, &rec); err != nil {
		return err
	}
	printSuccess("Saved session %s as %s (%s)", shortID(rec.ID), rec.Category, session.FormatDuration(rec.Total()))
	return nil
}

// --- sessions ---

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Browse and export saved sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved sessions, most recent first",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		recs, err := fetchSessions(cmd.Context(), client, limit, offset)
		if err != nil {
			return err
		}
		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(recs)
		}
		if len(recs) == 0 {
			fmt.Println("No sessions found.")
			return nil
		}
		fmt.Println(sessionsTable(recs))
		return nil
	},
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/sessions/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var rec session.Record
		if err := decodeJSON(resp, &rec); err != nil {
			return err
		}
		printSession(os.Stdout, rec)
		return nil
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a saved session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/sessions/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Deleted session %s", args[0])
		return nil
	},
}

var sessionsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export all sessions as CSV or JSONL",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		output, _ := cmd.Flags().GetString("output")

		exp, err := newExporter(format)
		if err != nil {
			return err
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var writer io.Writer = os.Stdout
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("creating output file: %w", err)
			}
			defer f.Close()
			writer = f
		}

		n, err := exportSessions(cmd.Context(), client, exp, writer)
		if err != nil {
			return err
		}
		if output != "" {
			printSuccess("Exported %s to %s", countLabel(n, "session"), output)
		}
		return nil
	},
}

func init() {
	sessionsListCmd.Flags().Int("limit", 20, "maximum number of sessions to list")
	sessionsListCmd.Flags().Int("offset", 0, "number of sessions to skip")
	sessionsListCmd.Flags().Bool("json", false, "print sessions as JSON")
	sessionsExportCmd.Flags().String("format", "csv", "export format: csv or jsonl")
	sessionsExportCmd.Flags().String("output", "", "output file path (default: stdout)")
	sessionsCmd.AddCommand(sessionsListCmd, sessionsShowCmd, sessionsDeleteCmd, sessionsExportCmd)
}

func fetchSessions(ctx context.Context, client *apiClient, limit, offset int) ([]session.Record, error) {
	resp, err := client.get(ctx, fmt.Sprintf("/sessions?limit=%d&offset=%d", limit, offset))
	if err != nil {
		return nil, err
	}
	var recs []session.Record
	if err := decodeJSON(resp, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

const exportPageSize = 100

// exportSessions pages through every session and hands each to exp.
func exportSessions(ctx context.Context, client *apiClient, exp exporter, w io.Writer) (int, error) {
	if err := exp.begin(w); err != nil {
		return 0, err
	}
	n := 0
	for {
		recs, err := fetchSessions(ctx, client, exportPageSize, n)
		if err != nil {
			return n, err
		}
		for _, rec := range recs {
			if err := exp.write(rec); err != nil {
				return n, err
			}
		}
		n += len(recs)
		if len(recs) < exportPageSize {
			break
		}
	}
	return n, exp.end()
}

func sessionsTable(recs []session.Record) string {
	rows := make([][]string, len(recs))
	for i, rec := range recs {
		summary := rec.Summary
		if len(summary) > 50 {
			summary = summary[:50] + "..."
		}
		rows[i] = []string{
			shortID(rec.ID),
			rec.EndedAt.Local().Format("2006-01-02 15:04"),
			rec.Category,
			session.FormatDuration(rec.Total()),
			summary,
		}
	}
	return renderTable([]string{"ID", "ENDED", "CATEGORY", "TOTAL", "SUMMARY"}, rows)
}

func printSession(w io.Writer, rec session.Record) {
	fmt.Fprintf(w, "%s %s\n", colorize(colorBold, "Session"), rec.ID)
	fmt.Fprintf(w, "  Category:  %s\n", rec.Category)
	if rec.Manual {
		fmt.Fprintf(w, "  Mode:      manual\n")
	}
	fmt.Fprintf(w, "  Started:   %s\n", rec.StartedAt.Local().Format(time.RFC1123))
	fmt.Fprintf(w, "  Ended:     %s\n", rec.EndedAt.Local().Format(time.RFC1123))
	fmt.Fprintf(w, "  Total:     %s\n", session.FormatDuration(rec.Total()))
	if rec.Summary != "" {
		fmt.Fprintf(w, "  Summary:   %s\n", rec.Summary)
	}
	fmt.Fprintln(w, "  Breakdown:")
	printBreakdown(w, rec.CategoryTotals)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func countLabel(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return fmt.Sprintf("%d %ss", n, noun)
}

// --- stats ---

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize time per category across saved sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		sinceFlag, _ := cmd.Flags().GetString("since")
		days, _ := cmd.Flags().GetInt("days")

		since, err := statsSince(sinceFlag, days, time.Now())
		if err != nil {
			return err
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		st, err := fetchStats(cmd.Context(), client, since)
		if err != nil {
			return err
		}
		printStats(os.Stdout, st)
		return nil
	},
}

func init() {
	statsCmd.Flags().String("since", "", "only sessions ending on or after this date (YYYY-MM-DD or RFC3339)")
	statsCmd.Flags().Int("days", 0, "only sessions from the last N days")
}

// statsSince resolves the --since and --days flags. --since wins.
func statsSince(since string, days int, now time.Time) (time.Time, error) {
	if since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			return t, nil
		}
		t, err := time.ParseInLocation(time.DateOnly, since, time.Local)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid --since %q: use YYYY-MM-DD or RFC3339", since)
		}
		return t, nil
	}
	if days > 0 {
		return now.AddDate(0, 0, -days), nil
	}
	return time.Time{}, nil
}

func fetchStats(ctx context.Context, client *apiClient, since time.Time) (storage.Stats, error) {
	path := "/stats"
	if !since.IsZero() {
		path += "?since=" + url.QueryEscape(since.Format(time.RFC3339))
	}
	resp, err := client.get(ctx, path)
	if err != nil {
		return storage.Stats{}, err
	}
	var st storage.Stats
	err = decodeJSON(resp, &st)
	return st, err
}

func printStats(w io.Writer, st storage.Stats) {
	if st.Sessions == 0 {
		fmt.Fprintln(w, "No sessions recorded.")
		return
	}
	fmt.Fprintf(w, "%s, %s total, %s average\n",
		countLabel(st.Sessions, "session"),
		session.FormatDuration(st.Total),
		session.FormatDuration(st.Average),
	)
	rows := make([][]string, len(st.Categories))
	for i, c := range st.Categories {
		share := 0.0
		if st.Total > 0 {
			share = float64(c.Duration) / float64(st.Total) * 100
		}
		rows[i] = []string{
			c.Category,
			session.FormatDuration(c.Duration),
			fmt.Sprintf("%.0f%%", share),
			fmt.Sprint(c.Sessions),
		}
	}
	fmt.Fprintln(w, renderTable([]string{"CATEGORY", "TIME", "SHARE", "SESSIONS"}, rows))
}

// --- rules ---

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect, validate and reload classification rules",
}

var rulesShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the configured rule file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		return rulesShow(os.Stdout, cfg.Rules.Path)
	},
}

var rulesCheckCmd = &cobra.Command{
	Use:   "check [path]",
	Short: "Validate a rule file without loading it into the daemon",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := ""
		if len(args) == 1 {
			path = args[0]
		} else {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			path = cfg.Rules.Path
		}
		return rulesCheck(path)
	},
}

var rulesSchemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the JSON Schema for rule files",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := rules.Schema()
		if err != nil {
			return err
		}
		_, err = fmt.Println(string(data))
		return err
	},
}

var rulesInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default rule file if none exists",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		created, err := rules.EnsureFile(cfg.Rules.Path)
		if err != nil {
			return err
		}
		if created {
			printSuccess("Wrote default rules to %s", cfg.Rules.Path)
		} else {
			printWarning("%s already exists", cfg.Rules.Path)
		}
		return nil
	},
}

var rulesReloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Ask the daemon to reload its rule file",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/rules/reload", nil)
		if err != nil {
			return err
		}
		var result struct {
			Path  string `json:"path"`
			Rules int    `json:"rules"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Reloaded %s from %s", countLabel(result.Rules, "rule"), result.Path)
		return nil
	},
}

func init() {
	rulesCmd.AddCommand(rulesShowCmd, rulesCheckCmd, rulesSchemaCmd, rulesInitCmd, rulesReloadCmd)
}

// rulesShow re-encodes the rule file in its own format, so comments are
// dropped and the layout is normalized.
func rulesShow(w io.Writer, path string) error {
	f, err := rules.ReadFile(path)
	if err != nil {
		return err
	}
	data, err := rules.Marshal(f, filepath.Ext(path))
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func rulesCheck(path string) error {
	f, err := rules.ReadFile(path)
	if err != nil {
		return err
	}
	rs, skipped, err := f.Compile()
	if err != nil {
		return &rules.ConfigError{Path: path, Err: err}
	}
	for _, i := range skipped {
		printWarning("rule %d has no category or no keywords and will be ignored", i)
	}
	printSuccess("%s: %s, %s", path, countLabel(rs.Len(), "rule"), countLabel(len(rs.Browsers()), "browser"))
	return nil
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return fmt.Errorf("%w (valid keys: %s)", err, strings.Join(config.ValidKeys(), ", "))
		}

		printSuccess("Set %s = %s", key, value)
		if strings.HasPrefix(key, "server.") || strings.HasPrefix(key, "bridge.") || strings.HasPrefix(key, "storage.") {
			printStep("Restart tlog for this change to take effect")
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

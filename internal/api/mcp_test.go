package api

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/tlog/internal/session"
	"github.com/kalambet/tlog/internal/storage"
	"github.com/kalambet/tlog/internal/tracker"
)

// --- helpers ---

func newTestMCPDeps(t *testing.T) (MCPDeps, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return MCPDeps{
		Store: store,
		Status: func(context.Context) (tracker.Snapshot, error) {
			return tracker.Snapshot{
				Phase:       tracker.Active,
				Category:    "Programming",
				Running:     true,
				Accumulated: map[string]int{"Programming": 42},
				Elapsed:     42,
			}, nil
		},
	}, store
}

func seedSessions(t *testing.T, store *storage.Store, n int) {
	t.Helper()
	end := time.Now().UTC().Truncate(time.Second)
	for i := 0; i < n; i++ {
		_, err := store.AppendSession(context.Background(), session.Record{
			Category:       "Programming",
			Summary:        "session",
			Breakdown:      "Programming: 1m 0s, LLM: 30s",
			CategoryTotals: map[string]time.Duration{"Programming": time.Minute, "LLM": 30 * time.Second},
			StartedAt:      end.Add(-time.Duration(i+1) * time.Hour),
			EndedAt:        end.Add(-time.Duration(i) * time.Hour),
		})
		if err != nil {
			t.Fatalf("seeding session: %v", err)
		}
	}
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

// --- tests ---

func TestMCPTool_TrackingStatus(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	handler := mcpTrackingStatus(deps)

	result, err := handler(context.Background(), makeCallToolRequest("tracking_status", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	var snap tracker.Snapshot
	if err := json.Unmarshal([]byte(toolText(t, result)), &snap); err != nil {
		t.Fatalf("failed to parse status: %v", err)
	}
	if snap.Category != "Programming" || snap.Phase != tracker.Active || snap.Elapsed != 42 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestMCPTool_TrackingStatus_Unavailable(t *testing.T) {
	deps, _ := newTestMCPDeps(t)

	deps.Status = func(context.Context) (tracker.Snapshot, error) {
		return tracker.Snapshot{}, errors.New("connection refused")
	}
	result, err := mcpTrackingStatus(deps)(context.Background(), makeCallToolRequest("tracking_status", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result when the daemon is down")
	}

	deps.Status = nil
	result, _ = mcpTrackingStatus(deps)(context.Background(), makeCallToolRequest("tracking_status", nil))
	if !result.IsError {
		t.Fatal("expected error result without a status source")
	}
}

func TestMCPTool_ListSessions(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	seedSessions(t, store, 3)
	handler := mcpListSessions(deps)

	result, err := handler(context.Background(), makeCallToolRequest("list_sessions", map[string]interface{}{
		"limit": 2,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	var sessions []sessionSummary
	if err := json.Unmarshal([]byte(toolText(t, result)), &sessions); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
	if sessions[0].Total != "1m 30s" {
		t.Fatalf("total = %q, want %q", sessions[0].Total, "1m 30s")
	}
	if sessions[0].EndedAt <= sessions[1].EndedAt {
		t.Fatal("sessions not most recent first")
	}
}

func TestMCPTool_ListSessions_Empty(t *testing.T) {
	deps, _ := newTestMCPDeps(t)

	result, err := mcpListSessions(deps)(context.Background(), makeCallToolRequest("list_sessions", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text := toolText(t, result); text != "[]" {
		t.Fatalf("expected empty array, got: %s", text)
	}
}

func TestMCPTool_CategoryStats(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	seedSessions(t, store, 2)

	result, err := mcpCategoryStats(deps)(context.Background(), makeCallToolRequest("category_stats", map[string]interface{}{
		"days": 7,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	var stats struct {
		Sessions   int `json:"sessions"`
		Categories []struct {
			Category string `json:"category"`
			Seconds  int64  `json:"seconds"`
			Sessions int    `json:"sessions"`
		} `json:"categories"`
	}
	if err := json.Unmarshal([]byte(toolText(t, result)), &stats); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if stats.Sessions != 2 {
		t.Fatalf("sessions = %d, want 2", stats.Sessions)
	}
	if len(stats.Categories) != 2 || stats.Categories[0].Category != "Programming" || stats.Categories[0].Seconds != 120 {
		t.Fatalf("unexpected categories: %+v", stats.Categories)
	}
}

func TestMCPResource_Recent(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	seedSessions(t, store, 12)

	handler := mcpResourceRecent(deps)
	contents, err := handler(context.Background(), makeReadResourceRequest("tlog://sessions/recent"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("expected 1 content, got %d", len(contents))
	}

	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	if tc.URI != "tlog://sessions/recent" {
		t.Fatalf("uri = %q", tc.URI)
	}

	var summaries []json.RawMessage
	if err := json.Unmarshal([]byte(tc.Text), &summaries); err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	if len(summaries) != 10 {
		t.Fatalf("expected 10 sessions, got %d", len(summaries))
	}
}

func TestMCPServer_ConcurrentCalls(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	seedSessions(t, store, 2)

	listHandler := mcpListSessions(deps)
	statsHandler := mcpCategoryStats(deps)

	var wg sync.WaitGroup
	errs := make(chan error, 20)

	for i := 0; i < 5; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := listHandler(context.Background(), makeCallToolRequest("list_sessions", nil)); err != nil {
				errs <- err
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := statsHandler(context.Background(), makeCallToolRequest("category_stats", nil)); err != nil {
				errs <- err
			}
		}()
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatalf("concurrent call failed: %v", err)
	}
}

func TestNewMCPServer(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	if s := NewMCPServer(deps, "test"); s == nil {
		t.Fatal("NewMCPServer returned nil")
	}
}

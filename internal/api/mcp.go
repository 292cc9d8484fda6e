package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/tlog/internal/session"
	"github.com/kalambet/tlog/internal/storage"
	"github.com/kalambet/tlog/internal/tracker"
)

// StatusFunc reports the live tracker state. The MCP server runs in its own
// process, so the daemon is reached through its HTTP API.
type StatusFunc func(ctx context.Context) (tracker.Snapshot, error)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store  *storage.Store
	Status StatusFunc // optional; if nil, tracking_status returns an error
}

// NewMCPServer creates an MCP server with all tlog tools and resources registered.
func NewMCPServer(deps MCPDeps, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"tlog",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("tlog tracks which activity category the user is working in and keeps a history of labelled sessions."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("tracking_status",
			mcp.WithDescription("Report whether tracking is running, the current category and the time accumulated per category."),
		),
		mcpTrackingStatus(deps),
	)

	s.AddTool(
		mcp.NewTool("list_sessions",
			mcp.WithDescription("List saved sessions, most recent first."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of sessions (default 10)")),
			mcp.WithNumber("offset", mcp.Description("Number of sessions to skip")),
		),
		mcpListSessions(deps),
	)

	s.AddTool(
		mcp.NewTool("category_stats",
			mcp.WithDescription("Summarize time spent per category across saved sessions."),
			mcp.WithNumber("days", mcp.Description("Only include sessions that ended in the last N days (default: all)")),
		),
		mcpCategoryStats(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"tlog://sessions/recent",
			"Recent Sessions",
			mcp.WithResourceDescription("Last 10 saved sessions as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	return s
}

func mcpTrackingStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.Status == nil {
			return mcpError("tracking status not available: daemon not reachable"), nil
		}
		snap, err := deps.Status(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get status: %v", err)), nil
		}

		b, err := json.Marshal(snap)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal status: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

// sessionSummary is the MCP view of a session. Durations are reported as
// text so that models do not have to interpret nanoseconds.
type sessionSummary struct {
	ID        string `json:"id"`
	Category  string `json:"category"`
	Summary   string `json:"summary"`
	Breakdown string `json:"breakdown"`
	Total     string `json:"total"`
	StartedAt string `json:"started_at"`
	EndedAt   string `json:"ended_at"`
	Manual    bool   `json:"manual,omitempty"`
}

func summarize(recs []session.Record) []sessionSummary {
	out := make([]sessionSummary, len(recs))
	for i, rec := range recs {
		out[i] = sessionSummary{
			ID:        rec.ID,
			Category:  rec.Category,
			Summary:   rec.Summary,
			Breakdown: rec.Breakdown,
			Total:     session.FormatDuration(rec.Total()),
			StartedAt: rec.StartedAt.Format(time.RFC3339),
			EndedAt:   rec.EndedAt.Format(time.RFC3339),
			Manual:    rec.Manual,
		}
	}
	return out
}

func mcpListSessions(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 10)
		if limit <= 0 {
			limit = 10
		}
		if limit > 100 {
			limit = 100
		}
		offset := req.GetInt("offset", 0)

		recs, err := deps.Store.ListSessions(ctx, limit, offset)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list sessions: %v", err)), nil
		}

		b, err := json.Marshal(summarize(recs))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal sessions: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpCategoryStats(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var since time.Time
		if days := req.GetInt("days", 0); days > 0 {
			since = time.Now().AddDate(0, 0, -days)
		}

		st, err := deps.Store.Stats(ctx, since)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to compute stats: %v", err)), nil
		}

		type categoryResult struct {
			Category string `json:"category"`
			Total    string `json:"total"`
			Seconds  int64  `json:"seconds"`
			Sessions int    `json:"sessions"`
		}
		result := struct {
			Sessions   int              `json:"sessions"`
			Total      string           `json:"total"`
			Average    string           `json:"average"`
			Categories []categoryResult `json:"categories"`
		}{
			Sessions:   st.Sessions,
			Total:      session.FormatDuration(st.Total),
			Average:    session.FormatDuration(st.Average),
			Categories: make([]categoryResult, len(st.Categories)),
		}
		for i, c := range st.Categories {
			result.Categories[i] = categoryResult{
				Category: c.Category,
				Total:    session.FormatDuration(c.Duration),
				Seconds:  int64(c.Duration / time.Second),
				Sessions: c.Sessions,
			}
		}

		b, err := json.Marshal(result)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal stats: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		recs, err := deps.Store.ListSessions(ctx, 10, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to get recent sessions: %w", err)
		}

		b, err := json.Marshal(summarize(recs))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal sessions: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

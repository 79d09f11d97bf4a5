package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/nodebench/internal/planner"
	"github.com/kalambet/nodebench/internal/storage"
)

const (
	mcpRecentDocuments = 20
	mcpRecentRuns      = 10
	mcpPreviewRunes    = 200
)

// NewMCPServer creates an MCP server exposing the research tools and the
// workspace resources. It shares its dependencies with the HTTP router.
func NewMCPServer(deps Deps) *server.MCPServer {
	s := server.NewMCPServer(
		"nodebench",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("nodebench: research workspace with multi-agent answers, task plans, entity research and documents."),
		server.WithRecovery(),
	)

	userArg := mcp.WithString("user_id", mcp.Description("Workspace user (default \"default\")"))

	s.AddTool(
		mcp.NewTool("run_agents",
			mcp.WithDescription("Answer a research prompt by delegating to the web, media, document, SEC and entity agents."),
			mcp.WithString("prompt", mcp.Description("Research question"), mcp.Required()),
			userArg,
		),
		mcpRunAgents(deps),
	)

	s.AddTool(
		mcp.NewTool("plan_goal",
			mcp.WithDescription("Break a research goal into a plan of grouped tool steps."),
			mcp.WithString("goal", mcp.Description("Goal to plan"), mcp.Required()),
			mcp.WithString("format", mcp.Description("Output format: json (default) or yaml")),
			userArg,
		),
		mcpPlanGoal(deps),
	)

	s.AddTool(
		mcp.NewTool("research_entity",
			mcp.WithDescription("Return a cached research summary for a company or person, researching it when missing or stale."),
			mcp.WithString("name", mcp.Description("Entity name"), mcp.Required()),
			mcp.WithString("type", mcp.Description("company (default) or person")),
			mcp.WithBoolean("force", mcp.Description("Research again even when the cache is fresh")),
			userArg,
		),
		mcpResearchEntity(deps),
	)

	s.AddTool(
		mcp.NewTool("search_documents",
			mcp.WithDescription("Keyword search over the user's documents."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
			userArg,
		),
		mcpSearchDocuments(deps),
	)

	s.AddTool(
		mcp.NewTool("create_document",
			mcp.WithDescription("Create a Markdown document in the workspace."),
			mcp.WithString("title", mcp.Description("Document title")),
			mcp.WithString("content", mcp.Description("Markdown body"), mcp.Required()),
			userArg,
		),
		mcpCreateDocument(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"workspace://documents",
			"Recent Documents",
			mcp.WithResourceDescription("Most recently updated documents (titles only)"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceDocuments(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"workspace://runs",
			"Recent Agent Runs",
			mcp.WithResourceDescription("Last 10 agent runs with their status"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRuns(deps),
	)

	return s
}

func mcpUser(req mcp.CallToolRequest) string {
	if u := strings.TrimSpace(req.GetString("user_id", "")); u != "" {
		return u
	}
	return DefaultUserID
}

func mcpRunAgents(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		prompt, err := req.RequireString("prompt")
		if err != nil || strings.TrimSpace(prompt) == "" {
			return mcpError("prompt is required"), nil
		}
		uid := mcpUser(req)
		coord := coordinatorFor(deps, uid)
		if coord == nil {
			return mcpError("agent coordinator is not configured"), nil
		}
		out, err := coord.Run(ctx, uid, "", prompt)
		if err != nil {
			return mcpError(fmt.Sprintf("agent run failed: %v", err)), nil
		}
		if out.Status == storage.RunFailed {
			return mcpError(out.Response), nil
		}
		return mcpText(out.Response), nil
	}
}

func mcpPlanGoal(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		goal, err := req.RequireString("goal")
		if err != nil {
			return mcpError("goal is required"), nil
		}
		format := req.GetString("format", planner.FormatJSON)
		if format != planner.FormatJSON && format != planner.FormatYAML {
			return mcpError(fmt.Sprintf("unsupported format %q", format)), nil
		}
		if deps.Planner == nil {
			return mcpError("planner is not configured"), nil
		}
		p, err := plannerFor(deps, mcpUser(req))
		if err != nil {
			return mcpError(err.Error()), nil
		}
		plan, _, err := p.Plan(ctx, goal)
		if err != nil {
			return mcpError(fmt.Sprintf("planning failed: %v", err)), nil
		}
		b, err := plan.Marshal(format)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to encode plan: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResearchEntity(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := req.RequireString("name")
		if err != nil {
			return mcpError("name is required"), nil
		}
		if deps.Entities == nil {
			return mcpError("entity research is not configured"), nil
		}
		e, cached, err := deps.Entities.Get(ctx, mcpUser(req), name, req.GetString("type", ""), req.GetBool("force", false))
		if err != nil {
			return mcpError(fmt.Sprintf("research failed: %v", err)), nil
		}
		state := "fresh research"
		if cached {
			state = "cached " + e.ResearchedAt.Format("2006-01-02")
		}
		return mcpText(fmt.Sprintf("# %s (%s, %s)\n\n%s", e.Name, e.EntityType, state, e.Summary)), nil
	}
}

func mcpSearchDocuments(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}
		limit := req.GetInt("limit", 5)
		if limit <= 0 {
			limit = 5
		}
		if limit > 50 {
			limit = 50
		}

		docs, err := deps.Store.SearchDocuments(mcpUser(req), strings.Fields(query), limit)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}

		type docResult struct {
			ID      string `json:"id"`
			Title   string `json:"title"`
			Excerpt string `json:"excerpt"`
		}
		results := make([]docResult, len(docs))
		for i, d := range docs {
			results[i] = docResult{ID: d.ID, Title: d.Title, Excerpt: preview(d.Content)}
		}
		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpCreateDocument(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		content, err := req.RequireString("content")
		if err != nil {
			return mcpError("content is required"), nil
		}
		title := strings.TrimSpace(req.GetString("title", ""))
		if title == "" {
			title = untitled
		}
		doc := storage.Document{
			ID:      uuid.New().String(),
			UserID:  mcpUser(req),
			Title:   title,
			Content: content,
		}
		if err := deps.Store.SaveDocument(doc); err != nil {
			return mcpError(fmt.Sprintf("failed to save: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Created document %s", doc.ID)), nil
	}
}

func mcpResourceDocuments(deps Deps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		docs, err := deps.Store.ListDocuments(DefaultUserID, false, mcpRecentDocuments, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to list documents: %w", err)
		}

		type docSummary struct {
			ID        string `json:"id"`
			Title     string `json:"title"`
			UpdatedAt string `json:"updated_at"`
		}
		summaries := make([]docSummary, len(docs))
		for i, d := range docs {
			summaries[i] = docSummary{ID: d.ID, Title: d.Title, UpdatedAt: d.UpdatedAt.Format(time.RFC3339)}
		}
		return jsonResource(req.Params.URI, summaries)
	}
}

func mcpResourceRuns(deps Deps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		runs, err := deps.Store.ListAgentRuns(DefaultUserID, mcpRecentRuns)
		if err != nil {
			return nil, fmt.Errorf("failed to list agent runs: %w", err)
		}

		type runSummary struct {
			ID         string   `json:"id"`
			CreatedAt  string   `json:"created_at"`
			Prompt     string   `json:"prompt"`
			Status     string   `json:"status"`
			AgentsUsed []string `json:"agents_used"`
		}
		summaries := make([]runSummary, len(runs))
		for i, r := range runs {
			summaries[i] = runSummary{
				ID:         r.ID,
				CreatedAt:  r.CreatedAt.Format(time.RFC3339),
				Prompt:     preview(r.Prompt),
				Status:     r.Status,
				AgentsUsed: r.AgentsUsed,
			}
		}
		return jsonResource(req.Params.URI, summaries)
	}
}

func jsonResource(uri string, v any) ([]mcp.ResourceContents, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal resource: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}

// preview truncates s to mcpPreviewRunes runes.
func preview(s string) string {
	if utf8.RuneCountInString(s) <= mcpPreviewRunes {
		return s
	}
	return string([]rune(s)[:mcpPreviewRunes]) + "..."
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

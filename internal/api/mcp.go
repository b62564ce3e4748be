package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/cinematch/internal/catalog"
	"github.com/kalambet/cinematch/internal/engine"
)

// Recommender is the engine surface exposed to MCP clients.
type Recommender interface {
	Search(title string, k int) (engine.SearchResult, error)
	SetFilters(f catalog.Filter) error
	Filter() catalog.Filter
	Available() int
	Stats() (catalog.Stats, error)
	Showcase(n int) ([]engine.Recommendation, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Engine Recommender
	Runs   RunLister // optional; if nil, harvest://recent is empty
	TopK   int
}

// NewMCPServer creates an MCP server with the recommendation tools and
// resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	if deps.TopK <= 0 {
		deps.TopK = 5
	}
	s := server.NewMCPServer(
		"cinematch",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("cinematch recommends films similar to a film you name, from a local catalog."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("recommend",
			mcp.WithDescription("Find films similar to the named film by genre, cast, and plot."),
			mcp.WithString("title", mcp.Description("Title of a film you liked"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Number of recommendations (default 5)")),
		),
		mcpRecommend(deps),
	)

	s.AddTool(
		mcp.NewTool("set_filters",
			mcp.WithDescription("Restrict the catalog by minimum rating and optionally by original language."),
			mcp.WithNumber("min_rating", mcp.Description("Minimum vote average from 0 to 10"), mcp.Required()),
			mcp.WithString("language", mcp.Description("Original language code, e.g. fr; empty for all")),
		),
		mcpSetFilters(deps),
	)

	s.AddTool(
		mcp.NewTool("catalog_stats",
			mcp.WithDescription("Aggregates over the filtered catalog."),
			mcp.WithString("kind", mcp.Description("genres, languages, popularity, or empty for all")),
		),
		mcpCatalogStats(deps),
	)

	s.AddTool(
		mcp.NewTool("showcase",
			mcp.WithDescription("Pick random films from the filtered catalog."),
			mcp.WithNumber("count", mcp.Description("Number of films (default 3)")),
		),
		mcpShowcase(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"catalog://filters",
			"Active Filters",
			mcp.WithResourceDescription("Current filter and number of available films"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceFilters(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"harvest://recent",
			"Recent Harvests",
			mcp.WithResourceDescription("Last 10 harvest runs"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecentHarvests(deps),
	)

	return s
}

func mcpRecommend(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		title, err := req.RequireString("title")
		if err != nil || title == "" {
			return mcpError("title is required"), nil
		}

		limit := req.GetInt("limit", deps.TopK)
		if limit <= 0 {
			limit = deps.TopK
		}
		if limit > 50 {
			limit = 50
		}

		res, err := deps.Engine.Search(title, limit)
		if err != nil {
			if errors.Is(err, engine.ErrNoCatalog) {
				return mcpError("catalog file is not available; run `cinematch harvest` first"), nil
			}
			return mcpError(err.Error()), nil
		}
		return mcpJSON(res)
	}
}

func mcpSetFilters(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		rating, err := req.RequireFloat("min_rating")
		if err != nil {
			return mcpError("min_rating is required"), nil
		}
		f := catalog.Filter{MinRating: rating, Language: req.GetString("language", "")}
		if err := deps.Engine.SetFilters(f); err != nil {
			return mcpError(err.Error()), nil
		}
		return mcpText(fmt.Sprintf("Filter %s: %d films available", f.Key(), deps.Engine.Available())), nil
	}
}

func mcpCatalogStats(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		st, err := deps.Engine.Stats()
		if err != nil {
			return mcpError(fmt.Sprintf("stats unavailable: %v", err)), nil
		}
		switch kind := req.GetString("kind", ""); kind {
		case "":
			return mcpJSON(st)
		case "genres":
			return mcpJSON(st.Genres)
		case "languages":
			return mcpJSON(st.Languages)
		case "popularity":
			return mcpJSON(map[string]any{"points": st.Popularity, "log_scale": st.LogScale})
		default:
			return mcpError(fmt.Sprintf("unknown kind %q", kind)), nil
		}
	}
}

func mcpShowcase(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		n := req.GetInt("count", 3)
		if n <= 0 || n > 50 {
			return mcpError("count must be between 1 and 50"), nil
		}
		films, err := deps.Engine.Showcase(n)
		if err != nil {
			return mcpError(fmt.Sprintf("showcase unavailable: %v", err)), nil
		}
		if len(films) == 0 {
			return mcpText("[]"), nil
		}
		return mcpJSON(films)
	}
}

func mcpResourceFilters(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(filtersResponse{Filter: deps.Engine.Filter(), Available: deps.Engine.Available()})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal filters: %w", err)
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

func mcpResourceRecentHarvests(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		type runSummary struct {
			ID        string `json:"id"`
			StartedAt string `json:"started_at"`
			Status    string `json:"status"`
			Items     int    `json:"items"`
		}
		summaries := []runSummary{}
		if deps.Runs != nil {
			runs, err := deps.Runs.ListHarvestRuns(10)
			if err != nil {
				return nil, fmt.Errorf("failed to list harvest runs: %w", err)
			}
			for _, r := range runs {
				summaries = append(summaries, runSummary{
					ID:        r.ID,
					StartedAt: r.StartedAt.Format(time.RFC3339),
					Status:    r.Status,
					Items:     r.Items,
				})
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal harvest runs: %w", err)
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

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
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

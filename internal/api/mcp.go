package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/merchly/shopassist/internal/catalog"
	"github.com/merchly/shopassist/internal/embedding"
)

// MCPSearcher abstracts semantic product search for the MCP layer.
type MCPSearcher interface {
	Search(ctx context.Context, shop, query string, topK int) ([]embedding.Result, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Catalog  catalog.Client
	Searcher MCPSearcher

	// Shop scopes every tool call; the MCP transport is single-tenant.
	Shop string
}

// NewMCPServer creates an MCP server exposing read-only catalog tools, so
// agent runtimes can query the indexed store directly.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"shopassist",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("shopassist — semantic product catalog search, product details, and store policies."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("search_products",
			mcp.WithDescription("Semantically search the product catalog and return the best-matching products."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
		),
		mcpSearchProducts(deps),
	)

	s.AddTool(
		mcp.NewTool("get_product",
			mcp.WithDescription("Fetch full product details, including generated features, use cases and FAQs."),
			mcp.WithString("productId", mcp.Description("Product ID"), mcp.Required()),
		),
		mcpGetProduct(deps),
	)

	s.AddTool(
		mcp.NewTool("get_policy",
			mcp.WithDescription("Fetch a store policy (shipping, returns, warranty, privacy)."),
			mcp.WithString("slug", mcp.Description("Policy slug"), mcp.Required()),
		),
		mcpGetPolicy(deps),
	)

	return s
}

func mcpSearchProducts(deps MCPDeps) server.ToolHandlerFunc {
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

		results, err := deps.Searcher.Search(ctx, deps.Shop, query, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if len(results) == 0 {
			return mcpText("[]"), nil
		}

		type searchResult struct {
			ID       string   `json:"id"`
			Kind     string   `json:"kind"`
			Title    string   `json:"title"`
			Features []string `json:"features,omitempty"`
			UseCases []string `json:"useCases,omitempty"`
			Score    float64  `json:"score"`
		}
		out := make([]searchResult, len(results))
		for i, r := range results {
			out[i] = searchResult{
				ID:       r.Record.EntityID,
				Kind:     r.Record.Fields.Kind,
				Title:    r.Record.Fields.Title,
				Features: r.Record.Fields.Features,
				UseCases: r.Record.Fields.UseCases,
				Score:    r.Score,
			}
		}

		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGetProduct(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		productID, err := req.RequireString("productId")
		if err != nil {
			return mcpError("productId is required"), nil
		}

		product, err := deps.Catalog.GetProduct(ctx, deps.Shop, productID)
		if err != nil {
			return mcpError(fmt.Sprintf("product lookup failed: %v", err)), nil
		}

		b, err := json.Marshal(product)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal product: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGetPolicy(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		slug, err := req.RequireString("slug")
		if err != nil {
			return mcpError("slug is required"), nil
		}

		policies, err := deps.Catalog.GetPolicies(ctx, deps.Shop)
		if err != nil {
			return mcpError(fmt.Sprintf("policy lookup failed: %v", err)), nil
		}
		for _, p := range policies {
			if p.Type == slug {
				b, err := json.Marshal(p)
				if err != nil {
					return mcpError(fmt.Sprintf("failed to marshal policy: %v", err)), nil
				}
				return mcpText(string(b)), nil
			}
		}
		return mcpError(fmt.Sprintf("no policy with slug %q", slug)), nil
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

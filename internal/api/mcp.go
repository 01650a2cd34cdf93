package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"grimoire/internal/retrieval"
)

// MCPRetriever abstracts semantic search for the MCP layer.
type MCPRetriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]retrieval.Result, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Answerer  Answerer
	Retriever MCPRetriever
}

// NewMCPServer creates an MCP server exposing the rules knowledge base.
func NewMCPServer(version string, deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"grimoire",
		version,
		server.WithToolCapabilities(true),
		server.WithInstructions("grimoire — question answering over a tabletop RPG rules corpus."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask_rules",
			mcp.WithDescription("Answer a rules question using the loaded corpus. Each call is a standalone exchange."),
			mcp.WithString("question", mcp.Description("The rules question to answer"), mcp.Required()),
		),
		mcpAskRules(deps),
	)

	s.AddTool(
		mcp.NewTool("search_rules",
			mcp.WithDescription("Semantically search the rules corpus and return the most relevant entries with scores."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 3)")),
		),
		mcpSearchRules(deps),
	)

	return s
}

func mcpAskRules(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}

		answer, err := deps.Answerer.Answer(ctx, "", question)
		if err != nil {
			return mcpError(fmt.Sprintf("answering failed: %v", err)), nil
		}

		return mcpText(answer.Message), nil
	}
}

func mcpSearchRules(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", retrieval.DefaultTopK)
		if limit <= 0 {
			limit = retrieval.DefaultTopK
		}
		if limit > 50 {
			limit = 50
		}

		results, err := deps.Retriever.Retrieve(ctx, query, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}

		if len(results) == 0 {
			return mcpText("[]"), nil
		}

		type searchResult struct {
			Title string  `json:"title"`
			Text  string  `json:"text"`
			Score float32 `json:"score"`
		}

		out := make([]searchResult, len(results))
		for i, r := range results {
			out[i] = searchResult{Title: r.Title, Text: r.Text, Score: r.Score}
		}

		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}

		return mcpText(string(b)), nil
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

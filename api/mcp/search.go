package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/papercomputeco/semsearch/pkg/search"
)

var (
	searchToolName    = "search"
	searchDescription = "Semantic search over locally indexed documents. Returns the most relevant chunks for the query text with their score, location, tags and content."
)

// SearchInput represents the input arguments for the search tool.
type SearchInput struct {
	Query    string   `json:"query" jsonschema:"the search query text"`
	Limit    int      `json:"limit,omitempty" jsonschema:"maximum number of results (default: 10)"`
	Tags     []string `json:"tags,omitempty" jsonschema:"key:value tags that every result must carry"`
	Sources  []string `json:"sources,omitempty" jsonschema:"source kinds to search, e.g. local"`
	MinScore *float64 `json:"min_score,omitempty" jsonschema:"drop results scoring below this cosine similarity"`
}

// SearchOutput represents the output of the search tool.
type SearchOutput struct {
	Query   string       `json:"query"`
	Results []search.Hit `json:"results"`
	Count   int          `json:"count"`
}

// handleSearch processes a search request. Returned errors reach the
// client as tool results with IsError set.
func (s *Server) handleSearch(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (*mcp.CallToolResult, SearchOutput, error) {
	s.logger.Debug("MCP search request",
		"query", input.Query,
		"limit", input.Limit,
		"tags", input.Tags,
	)

	req := search.Request{
		Text:        input.Query,
		Limit:       input.Limit,
		Tags:        input.Tags,
		SourceKinds: input.Sources,
	}
	if input.MinScore != nil {
		score := float32(*input.MinScore)
		req.MinScore = &score
	}

	results, err := s.config.Search.Search(ctx, req)
	if err != nil {
		s.logger.Error("MCP search failed", "error", err)
		return nil, SearchOutput{}, fmt.Errorf("search failed: %w", err)
	}

	output := SearchOutput{
		Query:   results.Query,
		Results: results.Hits,
		Count:   results.Total,
	}

	// Structured output is mirrored as JSON text for clients that only read
	// text content.
	jsonBytes, err := json.Marshal(output)
	if err != nil {
		s.logger.Error("failed to marshal search output", "error", err)
		return nil, SearchOutput{}, fmt.Errorf("serializing results: %w", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(jsonBytes)},
		},
	}, output, nil
}

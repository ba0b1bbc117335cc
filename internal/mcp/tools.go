package mcp

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/koopa0/searchlight/internal/search"
	"github.com/koopa0/searchlight/internal/store"
)

// Result shaping limits. MCP tool output goes straight into a model context
// window, so snippets are truncated and result lists capped.
const (
	maxSnippetChars = 1000
	maxListItems    = 20
)

// Searcher executes search queries.
type Searcher interface {
	Search(ctx context.Context, req search.Request) (*search.Response, error)
}

// JobStore reads crawl job state.
type JobStore interface {
	GetCrawlJob(ctx context.Context, id uuid.UUID) (*store.CrawlJob, error)
}

// Deps are the services the tools call into.
type Deps struct {
	Searcher Searcher
	Jobs     JobStore
}

// SearchInput is the input schema for the search_knowledge tool.
type SearchInput struct {
	Query    string `json:"query" jsonschema:"the search query to run against the knowledge base"`
	Limit    int    `json:"limit,omitempty" jsonschema:"maximum number of results to return (default 10, max 20)"`
	SourceID string `json:"source_id,omitempty" jsonschema:"restrict results to one source (UUID)"`
	Mode     string `json:"search_type,omitempty" jsonschema:"one of vector, hybrid, auto (default auto)"`
}

// SearchOutput is the output schema for the search_knowledge tool.
type SearchOutput struct {
	Results []SearchResultOutput `json:"results"`
	Count   int                  `json:"count"`
	Mode    string               `json:"mode"`
}

// SearchResultOutput represents a single search result.
type SearchResultOutput struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	SourceID   string  `json:"source_id"`
	Snippet    string  `json:"text_snippet"`
	Score      float64 `json:"score"`
	MatchType  string  `json:"match_type"`
}

// CrawlStatusInput is the input schema for the crawl_status tool.
type CrawlStatusInput struct {
	JobID string `json:"job_id" jsonschema:"the crawl job UUID to inspect"`
}

// CrawlStatusOutput is the output schema for the crawl_status tool.
type CrawlStatusOutput struct {
	JobID        string `json:"job_id"`
	SourceID     string `json:"source_id"`
	Status       string `json:"status"`
	PagesCrawled int    `json:"pages_crawled"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// registerTools registers all tool handlers with the MCP server.
func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "search_knowledge",
		Description: "Search the ingested knowledge base with hybrid vector and keyword retrieval",
	}, s.handleSearch)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "crawl_status",
		Description: "Report the status of a crawl job by ID",
	}, s.handleCrawlStatus)
}

// handleSearch handles the search_knowledge tool invocation.
func (s *Server) handleSearch(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input SearchInput,
) (*mcp.CallToolResult, SearchOutput, error) {
	limit := input.Limit
	if limit <= 0 || limit > maxListItems {
		limit = 10
	}

	req := search.Request{Query: input.Query, Limit: limit, Mode: input.Mode}
	if input.SourceID != "" {
		id, err := uuid.Parse(input.SourceID)
		if err != nil {
			return nil, SearchOutput{}, fmt.Errorf("source_id is not a valid UUID: %q", input.SourceID)
		}
		req.SourceID = &id
	}

	resp, err := s.deps.Searcher.Search(ctx, req)
	if err != nil {
		return nil, SearchOutput{}, err
	}

	results := resp.Results
	if len(results) > maxListItems {
		results = results[:maxListItems]
	}
	output := SearchOutput{
		Results: make([]SearchResultOutput, len(results)),
		Count:   len(results),
		Mode:    resp.Mode,
	}
	for i, r := range results {
		output.Results[i] = SearchResultOutput{
			ChunkID:    r.ChunkID.String(),
			DocumentID: r.DocumentID.String(),
			SourceID:   r.SourceID.String(),
			Snippet:    truncate(r.Snippet),
			Score:      r.Score,
			MatchType:  r.MatchType,
		}
	}
	return nil, output, nil
}

// handleCrawlStatus handles the crawl_status tool invocation.
func (s *Server) handleCrawlStatus(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input CrawlStatusInput,
) (*mcp.CallToolResult, CrawlStatusOutput, error) {
	id, err := uuid.Parse(input.JobID)
	if err != nil {
		return nil, CrawlStatusOutput{}, fmt.Errorf("job_id is not a valid UUID: %q", input.JobID)
	}
	job, err := s.deps.Jobs.GetCrawlJob(ctx, id)
	if err != nil {
		return nil, CrawlStatusOutput{}, err
	}
	return nil, CrawlStatusOutput{
		JobID:        job.ID.String(),
		SourceID:     job.SourceID.String(),
		Status:       job.Status,
		PagesCrawled: job.PagesCrawled,
		ErrorMessage: truncate(job.ErrorMessage),
	}, nil
}

// truncate caps text at maxSnippetChars characters, cutting on a rune
// boundary so truncated CJK content stays valid UTF-8.
func truncate(text string) string {
	if len(text) <= maxSnippetChars {
		return text
	}
	remaining := maxSnippetChars
	for i := range text {
		if remaining == 0 {
			return text[:i]
		}
		remaining--
	}
	return text
}

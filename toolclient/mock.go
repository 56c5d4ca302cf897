package toolclient

import (
	"context"
	"encoding/json"
	"fmt"
)

// MockCaller is a deterministic, offline Caller used for tests and local
// development when GATEWAY_URL is unset. It mirrors the original research
// agent's mock search tools: no network calls, compact synthetic results
// keyed off the query argument so prompts and workflow logic can be
// exercised without a live tool plane.
type MockCaller struct{}

// NewMockCaller returns a MockCaller covering the tool names listed in
// config.RequiredTools for every research type.
func NewMockCaller() *MockCaller { return &MockCaller{} }

func (m *MockCaller) Discover(ctx context.Context) ([]Descriptor, error) {
	querySchema := json.RawMessage(`{"type":"object","properties":{"query":{"type":"string"}},"required":["query"]}`)
	idSchema := json.RawMessage(`{"type":"object","properties":{"id":{"type":"string"}},"required":["id"]}`)
	names := []string{
		"ddg_search", "ddg_news", "tavily_search", "tavily_extract", "google_web_search",
		"google_image_search", "wikipedia_search", "wikipedia_get_article",
		"arxiv_search", "arxiv_get_paper", "stock_quote", "stock_history",
		"financial_news", "stock_analysis",
	}
	descs := make([]Descriptor, 0, len(names))
	for _, name := range names {
		schema := querySchema
		if name == "arxiv_get_paper" || name == "wikipedia_get_article" {
			schema = idSchema
		}
		descs = append(descs, Descriptor{
			Name:        "mock___" + name,
			Description: fmt.Sprintf("offline mock implementation of %s", name),
			InputSchema: schema,
		})
	}
	return descs, nil
}

func (m *MockCaller) Invoke(ctx context.Context, qualifiedName string, arguments json.RawMessage) (Result, error) {
	var args map[string]any
	_ = json.Unmarshal(arguments, &args)
	query, _ := args["query"].(string)
	if query == "" {
		query, _ = args["id"].(string)
	}

	payload, err := json.Marshal(map[string]any{
		"status": "success",
		"query":  query,
		"results": []map[string]any{
			{
				"title":   fmt.Sprintf("Advances in %s: a survey", query),
				"summary": fmt.Sprintf("Overview of recent developments in %s, covering current approaches, open challenges, and likely future directions.", query),
				"url":     "https://example.invalid/mock/1",
			},
			{
				"title":   fmt.Sprintf("Practical applications of %s", query),
				"summary": fmt.Sprintf("Case studies applying %s in production settings, with measured efficiency gains.", query),
				"url":     "https://example.invalid/mock/2",
			},
		},
		"count": 2,
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Payload: payload}, nil
}

package services

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/leapstack-labs/leapchat/internal/chat"
)

// VisualizerClient fetches chart specifications for completed executions.
type VisualizerClient struct {
	apiClient
}

// NewVisualizerClient creates a visualization client.
func NewVisualizerClient(baseURL string, httpc *http.Client, logger *slog.Logger) *VisualizerClient {
	return &VisualizerClient{apiClient: newAPIClient(baseURL, httpc, logger)}
}

// Visualize returns the spec for a query id, or nil when the backend has
// nothing to chart. The spec payload is passed through untouched.
func (c *VisualizerClient) Visualize(ctx context.Context, queryID string) (*chat.VizSpec, error) {
	var resp struct {
		Status string          `json:"status"`
		Title  string          `json:"title"`
		Spec   json.RawMessage `json:"spec"`
	}
	path := "/visualize?query_id=" + url.QueryEscape(queryID)
	if err := c.getJSON(ctx, path, &resp); err != nil {
		return nil, err
	}
	if resp.Status != "success" || len(resp.Spec) == 0 {
		return nil, nil
	}
	return &chat.VizSpec{Title: resp.Title, Spec: resp.Spec}, nil
}

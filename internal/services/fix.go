package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
)

// FixerClient asks the backend to repair a failed SQL statement.
type FixerClient struct {
	apiClient
}

// NewFixerClient creates a fix client.
func NewFixerClient(baseURL string, httpc *http.Client, logger *slog.Logger) *FixerClient {
	return &FixerClient{apiClient: newAPIClient(baseURL, httpc, logger)}
}

// fixPayload is the repair request: the question the SQL should answer, the
// broken statement, and the execution error when one was captured.
type fixPayload struct {
	Question     string `json:"question"`
	BrokenSQL    string `json:"broken_sql"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// FixSQL returns a repaired statement, or an error when the backend cannot
// produce one.
func (c *FixerClient) FixSQL(ctx context.Context, question, brokenSQL, errorMessage string) (string, error) {
	var resp struct {
		Status   string `json:"status"`
		FixedSQL string `json:"fixed_sql"`
		Message  string `json:"message"`
	}
	payload := fixPayload{Question: question, BrokenSQL: brokenSQL, ErrorMessage: errorMessage}
	if err := c.postJSON(ctx, "/fix_sql", payload, &resp); err != nil {
		return "", err
	}
	if resp.Status != "success" || resp.FixedSQL == "" {
		if resp.Message == "" {
			resp.Message = "no fix produced"
		}
		return "", fmt.Errorf("fix sql: %s", resp.Message)
	}
	return resp.FixedSQL, nil
}

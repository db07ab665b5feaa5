package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/leapstack-labs/leapchat/internal/chat"
)

// ExecutorClient runs SQL through the backend execution endpoint. The
// endpoint wants full connection details, so the client resolves them from
// the datasource service per request.
type ExecutorClient struct {
	apiClient
	sources *DatasourceClient
}

// NewExecutorClient creates an execution client.
func NewExecutorClient(baseURL string, sources *DatasourceClient, httpc *http.Client, logger *slog.Logger) *ExecutorClient {
	return &ExecutorClient{
		apiClient: newAPIClient(baseURL, httpc, logger),
		sources:   sources,
	}
}

// executePayload is the request body for SQL execution: the datasource
// connection config plus the statement and originating question.
type executePayload struct {
	DBConfig
	SQL       string `json:"sql"`
	UserQuery string `json:"user_query"`
}

// ExecuteSQL resolves the datasource config and runs the statement. A
// result with status "error" reports a failed query; a non-nil error means
// the backend or datasource service could not be reached.
func (c *ExecutorClient) ExecuteSQL(ctx context.Context, req chat.ExecuteRequest) (*chat.ExecutionResult, error) {
	cfg, err := c.sources.Config(ctx, req.SourceID)
	if err != nil {
		return nil, fmt.Errorf("resolve datasource config: %w", err)
	}

	payload := executePayload{
		DBConfig:  *cfg,
		SQL:       req.SQL,
		UserQuery: req.UserQuery,
	}

	var result chat.ExecutionResult
	if err := c.postJSON(ctx, "/execute_sql", payload, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

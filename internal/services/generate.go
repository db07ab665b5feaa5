package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/leapstack-labs/leapchat/internal/chat"
	"github.com/leapstack-labs/leapchat/internal/stream"
)

// GeneratorClient streams SQL generation from the backend.
type GeneratorClient struct {
	apiClient
}

// NewGeneratorClient creates a generation client. The http.Client should
// have no overall timeout; generation streams are long-lived and bounded by
// the request context instead.
func NewGeneratorClient(baseURL string, httpc *http.Client, logger *slog.Logger) *GeneratorClient {
	if httpc == nil {
		httpc = &http.Client{}
	}
	return &GeneratorClient{apiClient: newAPIClient(baseURL, httpc, logger)}
}

// generatePayload is the request body for the generation stream.
type generatePayload struct {
	Question     string              `json:"question"`
	DatasourceID string              `json:"datasource_id"`
	Context      []chat.ContextEntry `json:"context"`
}

// GenerateSQL opens the generation stream and dispatches decoded events to
// the callbacks until the stream ends. Callbacks run on the calling
// goroutine in arrival order.
func (c *GeneratorClient) GenerateSQL(ctx context.Context, req chat.GenerateRequest, onStep chat.StepFunc, onSQL chat.ChunkFunc) error {
	body, err := json.Marshal(generatePayload{
		Question:     req.Question,
		DatasourceID: req.SourceID,
		Context:      req.Context,
	})
	if err != nil {
		return fmt.Errorf("encode generate request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate_sql_stream", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		return fmt.Errorf("open generation stream: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("open generation stream: unexpected status %d", resp.StatusCode)
	}

	dec := stream.NewDecoder(resp.Body)
	for {
		ev, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read generation stream: %w", err)
		}

		switch ev.Type {
		case stream.EventStep:
			var data *chat.StepData
			if len(ev.Data) > 0 {
				// Step detail is best-effort; a malformed payload drops the
				// detail, not the step.
				_ = json.Unmarshal(ev.Data, &data)
			}
			onStep(chat.Step{
				Title:       ev.Title,
				Status:      ev.Status,
				Description: ev.Description,
				Data:        data,
			})
		case stream.EventSQL:
			if ev.Chunk != "" {
				onSQL(ev.Chunk)
			}
		}
	}
}

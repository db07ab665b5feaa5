// Package chat implements the conversation session core: the turn log,
// per-turn interactive state, the session controller state machine, and
// restoration of persisted conversations.
package chat

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// TurnType discriminates the content payload of a turn.
type TurnType string

const (
	// TurnText is a plain conversational message.
	TurnText TurnType = "text"
	// TurnThought is model reasoning surfaced as conversational context.
	TurnThought TurnType = "thought"
	// TurnQueryResult is an assistant answer: reasoning steps plus generated SQL.
	TurnQueryResult TurnType = "query_result"
	// TurnDataPreview holds execution output for an earlier query_result turn.
	// Preview turns are bookkeeping; they are never rendered directly.
	TurnDataPreview TurnType = "data_preview"
)

// Step is a single reasoning step emitted while SQL is being generated.
type Step struct {
	Title       string    `json:"title"`
	Status      string    `json:"status"`
	Description string    `json:"description,omitempty"`
	Data        *StepData `json:"data,omitempty"`
}

// Step statuses. The generation service reports a step repeatedly as it
// progresses; the latest report wins.
const (
	StepPending = "pending"
	StepDone    = "done"
)

// StepData carries optional structured detail attached to a step.
type StepData struct {
	Models   []string `json:"models,omitempty"`
	Selected []string `json:"selected,omitempty"`
}

// TextContent is the payload of text and thought turns.
type TextContent struct {
	Text string `json:"text"`
}

// QueryContent is the payload of a query_result turn. Steps and SQL grow
// while the exchange streams and are frozen at finalization.
type QueryContent struct {
	Steps    []Step `json:"steps"`
	SQL      string `json:"sql"`
	Question string `json:"question"`
	SourceID string `json:"source_id,omitempty"`
}

// PreviewContent is the payload of a data_preview turn. SourceTurnID names
// the query_result turn the data belongs to; older rows persisted without it
// are resolved positionally during restoration.
type PreviewContent struct {
	Data         *ExecutionResult `json:"data"`
	SourceTurnID string           `json:"source_turn_id,omitempty"`
}

// ExecutionResult is the outcome of running SQL against a datasource.
// Status is "success" or "error"; on error only Message is meaningful.
type ExecutionResult struct {
	Status          string  `json:"status"`
	QueryID         string  `json:"query_id,omitempty"`
	Columns         []string `json:"columns,omitempty"`
	Data            [][]any `json:"data,omitempty"`
	Rows            int     `json:"rows"`
	ExecutionTimeMS int64   `json:"execution_time_ms"`
	Summary         string  `json:"summary,omitempty"`
	Message         string  `json:"message,omitempty"`
}

// Execution result statuses.
const (
	ExecSuccess = "success"
	ExecError   = "error"
)

// Turn is one entry in a conversation. Exactly one of Text, Query and
// Preview is set, matching Type.
type Turn struct {
	ID        string
	Role      Role
	Type      TurnType
	Text      *TextContent
	Query     *QueryContent
	Preview   *PreviewContent
	CreatedAt time.Time
}

// NewTextTurn creates a text turn with a fresh id.
func NewTextTurn(role Role, text string) *Turn {
	return &Turn{
		ID:        uuid.NewString(),
		Role:      role,
		Type:      TurnText,
		Text:      &TextContent{Text: text},
		CreatedAt: time.Now().UTC(),
	}
}

// NewQueryTurn creates an empty assistant query_result turn ready to receive
// streamed steps and SQL.
func NewQueryTurn(question, sourceID string) *Turn {
	return &Turn{
		ID:        uuid.NewString(),
		Role:      RoleAssistant,
		Type:      TurnQueryResult,
		Query:     &QueryContent{Question: question, SourceID: sourceID},
		CreatedAt: time.Now().UTC(),
	}
}

// NewPreviewTurn creates a data_preview turn linked to the query_result turn
// whose execution produced result.
func NewPreviewTurn(result *ExecutionResult, sourceTurnID string) *Turn {
	return &Turn{
		ID:        uuid.NewString(),
		Role:      RoleAssistant,
		Type:      TurnDataPreview,
		Preview:   &PreviewContent{Data: result, SourceTurnID: sourceTurnID},
		CreatedAt: time.Now().UTC(),
	}
}

// turnEnvelope is the wire form of a turn: a type-discriminated content object.
type turnEnvelope struct {
	ID        string          `json:"id,omitempty"`
	Role      Role            `json:"role"`
	Type      TurnType        `json:"type"`
	Content   json.RawMessage `json:"content"`
	CreatedAt time.Time       `json:"created_at,omitzero"`
}

// ContentJSON encodes just the content variant named by the turn type.
func (t *Turn) ContentJSON() ([]byte, error) {
	var content any
	switch t.Type {
	case TurnText, TurnThought:
		content = t.Text
	case TurnQueryResult:
		content = t.Query
	case TurnDataPreview:
		content = t.Preview
	default:
		return nil, fmt.Errorf("encode turn content: unknown type %q", t.Type)
	}
	return json.Marshal(content)
}

// MarshalJSON encodes the turn with its content keyed by type.
func (t *Turn) MarshalJSON() ([]byte, error) {
	raw, err := t.ContentJSON()
	if err != nil {
		return nil, err
	}
	return json.Marshal(turnEnvelope{
		ID:        t.ID,
		Role:      t.Role,
		Type:      t.Type,
		Content:   raw,
		CreatedAt: t.CreatedAt,
	})
}

// UnmarshalJSON decodes the envelope and the content variant named by type.
func (t *Turn) UnmarshalJSON(data []byte) error {
	var env turnEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	t.ID = env.ID
	t.Role = env.Role
	t.Type = env.Type
	t.CreatedAt = env.CreatedAt
	t.Text, t.Query, t.Preview = nil, nil, nil

	if len(env.Content) == 0 {
		env.Content = []byte("{}")
	}
	switch env.Type {
	case TurnText, TurnThought:
		t.Text = &TextContent{}
		return json.Unmarshal(env.Content, t.Text)
	case TurnQueryResult:
		t.Query = &QueryContent{}
		return json.Unmarshal(env.Content, t.Query)
	case TurnDataPreview:
		t.Preview = &PreviewContent{}
		return json.Unmarshal(env.Content, t.Preview)
	default:
		return fmt.Errorf("unmarshal turn: unknown type %q", env.Type)
	}
}

// PlainText returns the text payload for text and thought turns, "" otherwise.
func (t *Turn) PlainText() string {
	if t.Text != nil {
		return t.Text.Text
	}
	return ""
}

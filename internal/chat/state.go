package chat

import "encoding/json"

// QueryError is a failed execution attached to a turn's interactive state.
type QueryError struct {
	Message string `json:"message"`
}

func (e *QueryError) Error() string { return e.Message }

// VizSpec is a visualization specification fetched for a successful run.
type VizSpec struct {
	Title string          `json:"title,omitempty"`
	Spec  json.RawMessage `json:"spec,omitempty"`
}

// TurnState is the ephemeral interactive state of a query_result turn: the
// user's editable SQL draft, the latest execution outcome, and display
// toggles. It is never persisted; restoration rebuilds it from the turn log.
type TurnState struct {
	EditableSQL string
	Result      *ExecutionResult
	Err         *QueryError
	Viz         *VizSpec
	Running     bool
	ShowData    bool
	ReadOnly    bool
}

// CanFix reports whether a repair is offered for this state: the last run
// failed, or succeeded with zero rows.
func (s *TurnState) CanFix() bool {
	if s.Err != nil {
		return true
	}
	return s.Result != nil && s.Result.Rows == 0
}

// StateMap holds TurnState keyed by turn id. It is not goroutine-safe; the
// controller serializes access.
type StateMap struct {
	states map[string]*TurnState
}

// NewStateMap returns an empty state map.
func NewStateMap() *StateMap {
	return &StateMap{states: make(map[string]*TurnState)}
}

// Get returns the state for a turn id, or nil if none exists.
func (m *StateMap) Get(id string) *TurnState {
	return m.states[id]
}

// Ensure returns the state for a turn id, creating it if absent.
func (m *StateMap) Ensure(id string) *TurnState {
	if st, ok := m.states[id]; ok {
		return st
	}
	st := &TurnState{}
	m.states[id] = st
	return st
}

// Len returns the number of tracked states.
func (m *StateMap) Len() int { return len(m.states) }

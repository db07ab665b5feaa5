package chat

import (
	"context"
	"fmt"
)

// Restore replaces the in-memory session with the persisted turn log and
// reconciles interactive state from it. Safe to call repeatedly; each call
// rebuilds from the store and converges to the same result.
//
// Every query_result turn gets a state seeded from its stored SQL. Each
// data_preview turn is resolved to its query_result turn, preferring the
// explicit source_turn_id and falling back to a backward scan for rows
// persisted without one; when several previews resolve to the same turn the
// most recent wins. A preview with no resolvable target is dropped without
// complaint. All restored turns are read-only: their controls render but
// mutate nothing.
func (c *Controller) Restore(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	turns, err := c.store.ListMessages(ctx, c.sessionID)
	if err != nil {
		return fmt.Errorf("restore session %s: %w", c.sessionID, err)
	}

	states := NewStateMap()
	for i, t := range turns {
		switch t.Type {
		case TurnQueryResult:
			st := states.Ensure(t.ID)
			st.EditableSQL = t.Query.SQL
			st.ReadOnly = true

		case TurnDataPreview:
			target := resolvePreviewTarget(turns, i)
			if target == nil {
				continue
			}
			st := states.Ensure(target.ID)
			st.EditableSQL = target.Query.SQL
			st.Result = t.Preview.Data
			st.ShowData = true
			st.ReadOnly = true
		}
	}

	c.mu.Lock()
	c.turns = turns
	c.states = states
	c.mu.Unlock()
	c.notify()
	return nil
}

// resolvePreviewTarget finds the query_result turn a data_preview at index i
// belongs to: by explicit id when recorded, otherwise the nearest preceding
// query_result turn. Returns nil for an orphan.
func resolvePreviewTarget(turns []*Turn, i int) *Turn {
	preview := turns[i].Preview
	if preview == nil {
		return nil
	}
	if preview.SourceTurnID != "" {
		for _, t := range turns {
			if t.ID == preview.SourceTurnID && t.Type == TurnQueryResult {
				return t
			}
		}
		return nil
	}
	for j := i - 1; j >= 0; j-- {
		if turns[j].Type == TurnQueryResult {
			return turns[j]
		}
	}
	return nil
}

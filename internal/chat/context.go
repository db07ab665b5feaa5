package chat

// BuildContext assembles the conversational context for a generation
// request: prior text and thought turns from users and the assistant, in
// order, followed by a synthetic user entry carrying the new question and
// the most recent SQL draft. query_result and data_preview turns never
// appear; their content travels only through the draft SQL.
func BuildContext(turns []*Turn, question, draftSQL string) []ContextEntry {
	entries := make([]ContextEntry, 0, len(turns)+1)
	for _, t := range turns {
		if t.Role != RoleUser && t.Role != RoleAssistant {
			continue
		}
		if t.Type != TurnText && t.Type != TurnThought {
			continue
		}
		entries = append(entries, ContextEntry{
			Role:    t.Role,
			Type:    t.Type,
			Content: ContextContent{Text: t.PlainText()},
		})
	}
	entries = append(entries, ContextEntry{
		Role:    RoleUser,
		Type:    TurnText,
		Content: ContextContent{Text: question, SQL: draftSQL},
	})
	return entries
}

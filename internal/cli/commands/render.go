package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/leapstack-labs/leapchat/internal/chat"
)

// renderResult writes an execution result in the requested format. Failed
// executions render their message regardless of format.
func renderResult(w io.Writer, result *chat.ExecutionResult, format string) error {
	if result == nil {
		_, _ = fmt.Fprintln(w, "(no result)")
		return nil
	}
	if result.Status == chat.ExecError {
		_, _ = fmt.Fprintf(w, "Error: %s\n", result.Message)
		return nil
	}

	switch format {
	case "json":
		return renderJSON(w, result)
	case "csv":
		return renderCSV(w, result)
	case "md", "markdown":
		return renderMarkdown(w, result)
	default:
		return renderTable(w, result)
	}
}

func renderTable(w io.Writer, result *chat.ExecutionResult) error {
	if result.Rows == 0 {
		_, _ = fmt.Fprintln(w, "(0 rows)")
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)

	headerRow := make(table.Row, len(result.Columns))
	for i, col := range result.Columns {
		headerRow[i] = col
	}
	t.AppendHeader(headerRow)

	for _, data := range result.Data {
		row := make(table.Row, len(result.Columns))
		for i := range result.Columns {
			row[i] = formatValue(cell(data, i))
		}
		t.AppendRow(row)
	}

	t.Render()
	_, _ = fmt.Fprintf(w, "(%d rows, %dms)\n", result.Rows, result.ExecutionTimeMS)
	return nil
}

func renderJSON(w io.Writer, result *chat.ExecutionResult) error {
	rows := make([]map[string]any, 0, len(result.Data))
	for _, data := range result.Data {
		row := make(map[string]any, len(result.Columns))
		for i, col := range result.Columns {
			row[col] = cell(data, i)
		}
		rows = append(rows, row)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rows)
}

func renderCSV(w io.Writer, result *chat.ExecutionResult) error {
	_, _ = fmt.Fprintln(w, strings.Join(result.Columns, ","))

	for _, data := range result.Data {
		values := make([]string, len(result.Columns))
		for i := range result.Columns {
			values[i] = escapeCSV(formatValue(cell(data, i)))
		}
		_, _ = fmt.Fprintln(w, strings.Join(values, ","))
	}
	return nil
}

func renderMarkdown(w io.Writer, result *chat.ExecutionResult) error {
	if result.Rows == 0 {
		_, _ = fmt.Fprintln(w, "(0 rows)")
		return nil
	}

	_, _ = fmt.Fprintf(w, "| %s |\n", strings.Join(result.Columns, " | "))
	seps := make([]string, len(result.Columns))
	for i := range seps {
		seps[i] = "---"
	}
	_, _ = fmt.Fprintf(w, "| %s |\n", strings.Join(seps, " | "))

	for _, data := range result.Data {
		values := make([]string, len(result.Columns))
		for i := range result.Columns {
			values[i] = formatValue(cell(data, i))
		}
		_, _ = fmt.Fprintf(w, "| %s |\n", strings.Join(values, " | "))
	}
	return nil
}

// cell guards against rows shorter than the column list.
func cell(data []any, i int) any {
	if i < len(data) {
		return data[i]
	}
	return nil
}

func formatValue(v any) string {
	if v == nil {
		return "NULL"
	}
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return fmt.Sprintf("%v", v)
}

func escapeCSV(s string) string {
	if strings.ContainsAny(s, ",\"\n") {
		return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
	}
	return s
}

// renderSessions writes a session listing as a table.
func renderSessions(w io.Writer, sessions []*chat.Session) {
	if len(sessions) == 0 {
		_, _ = fmt.Fprintln(w, "No chats yet. Start one with: leapchat chat")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"ID", "Title", "Created"})
	for _, s := range sessions {
		title := s.Title
		if title == "" {
			title = "New Chat"
		}
		t.AppendRow(table.Row{s.ID, title, s.CreatedAt.Local().Format("2006-01-02 15:04")})
	}
	t.Render()
}

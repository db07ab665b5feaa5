package chat

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"io"

	"github.com/a-h/templ"

	chatcore "github.com/leapstack-labs/leapchat/internal/chat"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var templates = template.Must(template.New("chat").Funcs(template.FuncMap{
	"fmtcell":  fmtCell,
	"laststep": lastStep,
}).ParseFS(templateFS, "templates/*.tmpl"))

// component wraps a named template execution as a templ.Component so
// fragments can be pushed through datastar element patches.
func component(name string, data any) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		return templates.ExecuteTemplate(w, name, data)
	})
}

// Page renders the full conversation page.
func Page(data PageData) templ.Component {
	return component("chat_page", data)
}

// Feed renders the turn feed fragment, the morph target for live updates.
func Feed(data FeedData) templ.Component {
	return component("chat_feed", data)
}

// Suggestions renders the suggested question chips for a datasource.
func Suggestions(sessionID string, suggestions []string) templ.Component {
	return component("chat_suggestions", struct {
		SessionID   string
		Suggestions []string
	}{sessionID, suggestions})
}

func fmtCell(v any) string {
	if v == nil {
		return "NULL"
	}
	return fmt.Sprintf("%v", v)
}

// lastStep returns the most recent report in a step group; its detail is
// what the timeline shows.
func lastStep(items []chatcore.GroupedStep) chatcore.GroupedStep {
	if len(items) == 0 {
		return chatcore.GroupedStep{}
	}
	return items[len(items)-1]
}

package chat

import (
	"strings"

	chatcore "github.com/leapstack-labs/leapchat/internal/chat"
	"github.com/leapstack-labs/leapchat/internal/services"
)

// PageData drives the full conversation page render.
type PageData struct {
	Title          string
	IsDev          bool
	Session        *chatcore.Session
	Sessions       []*chatcore.Session
	Sources        []services.Datasource
	SelectedSource string
	Suggestions    []string
	Feed           FeedData
}

// FeedData drives the turn feed fragment, re-rendered on every change ping.
type FeedData struct {
	SessionID string
	Streaming bool
	Turns     []TurnCard
}

// TurnCard is one rendered turn. data_preview turns never become cards;
// their payload surfaces through the owning card's Result.
type TurnCard struct {
	ID        string
	SessionID string
	SignalID  string
	Role      string
	IsQuery   bool
	Text      string
	SQL       string
	Steps     []chatcore.StepGroup
	Running   bool
	ShowData  bool
	ReadOnly  bool
	CanFix    bool
	Streaming bool
	Error     string
	Result    *chatcore.ExecutionResult
	VizTitle  string
}

// SuggestionsView shapes the suggestion chip data for its template.
func (p PageData) SuggestionsView() any {
	return struct {
		SessionID   string
		Suggestions []string
	}{p.Session.ID, p.Suggestions}
}

// signalID derives the signal key for a turn's SQL editor. Signal paths
// nest on dots and dislike dashes, so the uuid is flattened.
func signalID(turnID string) string {
	return strings.ReplaceAll(turnID, "-", "")
}

// buildFeed projects a controller snapshot into renderable cards.
func buildFeed(snap chatcore.Snapshot) FeedData {
	feed := FeedData{
		SessionID: snap.SessionID,
		Streaming: snap.Streaming,
	}
	for _, view := range snap.Turns {
		switch view.Turn.Type {
		case chatcore.TurnText, chatcore.TurnThought:
			feed.Turns = append(feed.Turns, TurnCard{
				ID:        view.Turn.ID,
				SessionID: snap.SessionID,
				Role:      string(view.Turn.Role),
				Text:      view.Turn.PlainText(),
			})

		case chatcore.TurnQueryResult:
			card := TurnCard{
				ID:        view.Turn.ID,
				SessionID: snap.SessionID,
				SignalID:  signalID(view.Turn.ID),
				Role:      string(view.Turn.Role),
				IsQuery:   true,
				SQL:       view.Turn.Query.SQL,
				Steps:     chatcore.GroupSteps(view.Turn.Query.Steps),
				Streaming: view.Streaming,
			}
			if view.HasState {
				card.SQL = view.State.EditableSQL
				card.Running = view.State.Running
				card.ShowData = view.State.ShowData
				card.ReadOnly = view.State.ReadOnly
				card.CanFix = view.State.CanFix()
				card.Result = view.State.Result
				if view.State.Err != nil {
					card.Error = view.State.Err.Message
				}
				if view.State.Viz != nil {
					card.VizTitle = view.State.Viz.Title
				}
			}
			feed.Turns = append(feed.Turns, card)
		}
	}
	return feed
}

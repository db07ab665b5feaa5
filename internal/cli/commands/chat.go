package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapchat/internal/chat"
)

const chatTitleLimit = 60

// NewChatCommand creates the chat command, an interactive terminal REPL over
// a conversation.
func NewChatCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "chat [session-id]",
		Aliases: []string{"repl"},
		Short:   "Chat with your data from the terminal",
		Long: `Open an interactive conversation.

Type a question to generate SQL, then drive the draft with dot-commands:
run it, repair it, edit it in place. Pass a session id to resume an
earlier conversation.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID := ""
			if len(args) > 0 {
				sessionID = args[0]
			}
			return runChatREPL(cmd, sessionID)
		},
	}
}

// repl drives one conversation from the terminal. The generation stream
// reports progress through the manager's change callback, so printing is
// serialized behind a mutex.
type repl struct {
	out    io.Writer
	errw   io.Writer
	format string
	source string

	mu      sync.Mutex
	ctrl    *chat.Controller
	printed map[string]bool
}

func runChatREPL(cmd *cobra.Command, sessionID string) error {
	cfg, err := getConfig(cmd)
	if err != nil {
		return err
	}

	r := &repl{
		out:     cmd.OutOrStdout(),
		errw:    cmd.ErrOrStderr(),
		format:  cfg.Output,
		source:  cfg.DefaultSource,
		printed: make(map[string]bool),
	}

	deps, err := buildDeps(cmd, r.onChange)
	if err != nil {
		return err
	}
	defer deps.Close()

	ctx := cmd.Context()

	if sessionID == "" {
		session, err := deps.Manager.CreateSession(ctx)
		if err != nil {
			return err
		}
		sessionID = session.ID
	}

	ctrl, err := deps.Manager.Controller(ctx, sessionID)
	if err != nil {
		return err
	}
	r.setController(ctrl)

	historyFile := filepath.Join(filepath.Dir(cfg.StorePath), "chat_history")
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "leapchat> ",
		HistoryFile:     historyFile,
		AutoComplete:    chatCompleter(),
		InterruptPrompt: "^C",
		EOFPrompt:       ".quit",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize REPL: %w", err)
	}
	defer func() { _ = rl.Close() }()

	_, _ = fmt.Fprintf(r.out, "LeapChat (session: %s)\n", sessionID)
	if r.source != "" {
		_, _ = fmt.Fprintf(r.out, "Datasource: %s\n", r.source)
	}
	_, _ = fmt.Fprintln(r.out, "Ask a question, or type .help for commands, .quit to exit")
	_, _ = fmt.Fprintln(r.out)

	r.printHistory()

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			break
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, ".") {
			if quit := r.handleDotCommand(ctx, deps, line); quit {
				break
			}
			continue
		}

		r.ask(ctx, deps, sessionID, line)
		_, _ = fmt.Fprintln(r.out)
	}

	return nil
}

func (r *repl) setController(ctrl *chat.Controller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctrl = ctrl
}

// onChange prints each reasoning step the first time it completes. It runs
// on the generation goroutine while ask blocks on the stream.
func (r *repl) onChange(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ctrl == nil || r.ctrl.SessionID() != sessionID {
		return
	}

	snap := r.ctrl.Snapshot()
	for _, view := range snap.Turns {
		if !view.Streaming || view.Turn.Query == nil {
			continue
		}
		for _, group := range chat.GroupSteps(view.Turn.Query.Steps) {
			if group.Status != chat.StepDone {
				continue
			}
			key := view.Turn.ID + "/" + group.Title
			if r.printed[key] {
				continue
			}
			r.printed[key] = true
			_, _ = fmt.Fprintf(r.out, "  ✓ %s\n", group.Title)
		}
	}
}

// ask streams one exchange. Ctrl+C cancels the stream and keeps whatever
// arrived so far.
func (r *repl) ask(ctx context.Context, deps *appDeps, sessionID, question string) {
	askCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	if err := r.ctrl.Ask(askCtx, question, r.source); err != nil {
		if errors.Is(err, chat.ErrExchangeInFlight) {
			_, _ = fmt.Fprintln(r.errw, "A question is already streaming")
			return
		}
		_, _ = fmt.Fprintf(r.errw, "Error: %v\n", err)
		return
	}

	r.titleSession(ctx, deps, sessionID, question)

	view, ok := r.lastQueryTurn()
	if !ok {
		return
	}
	sql := view.Turn.Query.SQL
	if view.HasState && view.State.EditableSQL != "" {
		sql = view.State.EditableSQL
	}
	if sql == "" {
		_, _ = fmt.Fprintln(r.out, "No SQL was generated")
		return
	}
	_, _ = fmt.Fprintf(r.out, "\n%s\n\n", strings.TrimSpace(sql))
	_, _ = fmt.Fprintln(r.out, "Use .run to execute, .sql <query> to edit the draft")
}

// titleSession names an untitled session after its first question, the same
// way the web UI does.
func (r *repl) titleSession(ctx context.Context, deps *appDeps, sessionID, question string) {
	session, err := deps.Manager.GetSession(ctx, sessionID)
	if err != nil || session.Title != "" {
		return
	}
	title := question
	if len(title) > chatTitleLimit {
		title = title[:chatTitleLimit]
	}
	_ = deps.Manager.RenameSession(ctx, sessionID, title)
}

// lastQueryTurn returns the most recent query_result turn.
func (r *repl) lastQueryTurn() (chat.TurnView, bool) {
	snap := r.ctrl.Snapshot()
	for i := len(snap.Turns) - 1; i >= 0; i-- {
		if snap.Turns[i].Turn.Type == chat.TurnQueryResult {
			return snap.Turns[i], true
		}
	}
	return chat.TurnView{}, false
}

func (r *repl) handleDotCommand(ctx context.Context, deps *appDeps, line string) (quit bool) {
	parts := strings.Fields(line)
	command := strings.ToLower(parts[0])

	switch command {
	case ".quit", ".exit":
		return true

	case ".help":
		printChatHelp(r.out)

	case ".sql":
		r.handleSQL(strings.TrimSpace(strings.TrimPrefix(line, parts[0])))

	case ".run":
		r.handleRun(ctx)

	case ".fix":
		r.handleFix(ctx)

	case ".data":
		r.handleData()

	case ".source":
		if len(parts) < 2 {
			if r.source == "" {
				_, _ = fmt.Fprintln(r.out, "No datasource selected. Usage: .source <id>")
			} else {
				_, _ = fmt.Fprintf(r.out, "Datasource: %s\n", r.source)
			}
			return false
		}
		r.source = parts[1]
		_, _ = fmt.Fprintf(r.out, "Datasource set to %s\n", r.source)

	case ".sources":
		sources, err := deps.Sources.List(ctx)
		if err != nil {
			_, _ = fmt.Fprintf(r.errw, "Error: %v\n", err)
			return false
		}
		for _, src := range sources {
			_, _ = fmt.Fprintf(r.out, "  %s\t%s (%s)\n", src.ID, src.Name, src.Type)
		}

	case ".chats":
		sessions, err := deps.Manager.ListSessions(ctx)
		if err != nil {
			_, _ = fmt.Fprintf(r.errw, "Error: %v\n", err)
			return false
		}
		renderSessions(r.out, sessions)

	case ".clear":
		fmt.Print("\033[H\033[2J")

	default:
		_, _ = fmt.Fprintf(r.errw, "Unknown command: %s (type .help for commands)\n", command)
	}
	return false
}

func (r *repl) handleSQL(draft string) {
	view, ok := r.lastQueryTurn()
	if !ok {
		_, _ = fmt.Fprintln(r.errw, "No query to edit yet")
		return
	}
	if draft == "" {
		sql := view.Turn.Query.SQL
		if view.HasState && view.State.EditableSQL != "" {
			sql = view.State.EditableSQL
		}
		_, _ = fmt.Fprintln(r.out, strings.TrimSpace(sql))
		return
	}
	if err := r.ctrl.SetEditableSQL(view.Turn.ID, draft); err != nil {
		_, _ = fmt.Fprintf(r.errw, "Error: %v\n", err)
		return
	}
	_, _ = fmt.Fprintln(r.out, "Draft updated")
}

func (r *repl) handleRun(ctx context.Context) {
	view, ok := r.lastQueryTurn()
	if !ok {
		_, _ = fmt.Fprintln(r.errw, "No query to run yet")
		return
	}
	if err := r.ctrl.RunTurn(ctx, view.Turn.ID); err != nil {
		_, _ = fmt.Fprintf(r.errw, "Error: %v\n", err)
		return
	}

	view, _ = r.lastQueryTurn()
	if !view.HasState {
		return
	}
	switch {
	case view.State.Err != nil:
		_, _ = fmt.Fprintf(r.out, "Error: %s\n", view.State.Err.Message)
	default:
		_ = renderResult(r.out, view.State.Result, r.format)
	}
	if st := view.State; st.CanFix() {
		_, _ = fmt.Fprintln(r.out, "Use .fix to let the assistant repair the query")
	}
}

func (r *repl) handleFix(ctx context.Context) {
	view, ok := r.lastQueryTurn()
	if !ok {
		_, _ = fmt.Fprintln(r.errw, "No query to fix yet")
		return
	}
	if err := r.ctrl.FixTurn(ctx, view.Turn.ID); err != nil {
		if errors.Is(err, chat.ErrFixUnavailable) {
			_, _ = fmt.Fprintln(r.errw, "Nothing to fix; run the query first")
			return
		}
		_, _ = fmt.Fprintf(r.errw, "Error: %v\n", err)
		return
	}

	view, _ = r.lastQueryTurn()
	if view.HasState && view.State.EditableSQL != "" {
		_, _ = fmt.Fprintf(r.out, "Repaired draft:\n\n%s\n\n", strings.TrimSpace(view.State.EditableSQL))
		_, _ = fmt.Fprintln(r.out, "Use .run to execute it")
	}
}

func (r *repl) handleData() {
	view, ok := r.lastQueryTurn()
	if !ok || !view.HasState || view.State.Result == nil {
		_, _ = fmt.Fprintln(r.errw, "No results yet; use .run first")
		return
	}
	_ = renderResult(r.out, view.State.Result, r.format)
}

// printHistory replays a resumed conversation so the user sees where they
// left off.
func (r *repl) printHistory() {
	snap := r.ctrl.Snapshot()
	for _, view := range snap.Turns {
		switch view.Turn.Type {
		case chat.TurnText:
			prefix := "you"
			if view.Turn.Role == chat.RoleAssistant {
				prefix = "assistant"
			}
			_, _ = fmt.Fprintf(r.out, "%s: %s\n", prefix, view.Turn.Text.Text)
		case chat.TurnQueryResult:
			sql := view.Turn.Query.SQL
			if view.HasState && view.State.EditableSQL != "" {
				sql = view.State.EditableSQL
			}
			if sql != "" {
				_, _ = fmt.Fprintf(r.out, "assistant:\n%s\n", strings.TrimSpace(sql))
			}
		}
	}
	if len(snap.Turns) > 0 {
		_, _ = fmt.Fprintln(r.out)
	}
}

func printChatHelp(w io.Writer) {
	help := `
Commands:
  .sql            Show the current SQL draft
  .sql <query>    Replace the draft with your own SQL
  .run            Execute the draft against the datasource
  .fix            Ask the assistant to repair a failed or empty query
  .data           Show the latest results again
  .source <id>    Switch datasource
  .sources        List available datasources
  .chats          List saved conversations
  .clear          Clear the screen
  .quit / .exit   Exit

Anything else is sent to the assistant as a question.
`
	_, _ = fmt.Fprintln(w, help)
}

// chatCompleter completes dot-commands.
func chatCompleter() *readline.PrefixCompleter {
	return readline.NewPrefixCompleter(
		readline.PcItem(".help"),
		readline.PcItem(".sql"),
		readline.PcItem(".run"),
		readline.PcItem(".fix"),
		readline.PcItem(".data"),
		readline.PcItem(".source"),
		readline.PcItem(".sources"),
		readline.PcItem(".chats"),
		readline.PcItem(".clear"),
		readline.PcItem(".quit"),
		readline.PcItem(".exit"),
	)
}

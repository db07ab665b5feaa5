package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// NewChatsCommand creates the chats command group for managing saved
// conversations.
func NewChatsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chats",
		Short: "Manage saved conversations",
	}

	cmd.AddCommand(newChatsListCommand())
	cmd.AddCommand(newChatsNewCommand())
	cmd.AddCommand(newChatsRenameCommand())

	return cmd
}

func newChatsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved conversations, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			deps, err := buildDeps(cmd, nil)
			if err != nil {
				return err
			}
			defer deps.Close()

			sessions, err := deps.Manager.ListSessions(cmd.Context())
			if err != nil {
				return err
			}
			renderSessions(cmd.OutOrStdout(), sessions)
			return nil
		},
	}
}

func newChatsNewCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "new",
		Short: "Create a new conversation and print its id",
		RunE: func(cmd *cobra.Command, _ []string) error {
			deps, err := buildDeps(cmd, nil)
			if err != nil {
				return err
			}
			defer deps.Close()

			session, err := deps.Manager.CreateSession(cmd.Context())
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), session.ID)
			return nil
		},
	}
}

func newChatsRenameCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <id> <title>",
		Short: "Rename a conversation",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := buildDeps(cmd, nil)
			if err != nil {
				return err
			}
			defer deps.Close()

			title := strings.Join(args[1:], " ")
			if err := deps.Manager.RenameSession(cmd.Context(), args[0], title); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Renamed %s to %q\n", args[0], title)
			return nil
		},
	}
}

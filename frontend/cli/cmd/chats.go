package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/furisto/parley/backend/model"
	"github.com/furisto/parley/frontend/cli/pkg/terminal"
	"github.com/spf13/cobra"
)

type chatsOptions struct {
	Client clientOptions
}

func NewChatsCmd() *cobra.Command {
	var options chatsOptions

	cmd := &cobra.Command{
		Use:     "chats [chat-id] [flags]",
		Short:   "List conversations or show the messages of one",
		GroupID: "core",
		Args:    cobra.MaximumNArgs(1),
		Example: `  # List your conversations
  parley chats

  # Show a conversation
  parley chats 0195fbbe-0be8-74b1-af7a-6e76e80e2462`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(cmd.Context(), options.Client)
			if err != nil {
				return err
			}

			if len(args) == 1 {
				detail, err := client.GetConversation(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				printMessages(cmd.OutOrStdout(), detail.Messages)
				return nil
			}

			list, err := client.ListConversations(cmd.Context())
			if err != nil {
				return err
			}
			if len(list.Conversations) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "%s No conversations yet. Start one with 'parley chat'.\n", terminal.InfoSymbol)
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTITLE\tUPDATED")
			for _, c := range list.Conversations {
				fmt.Fprintf(w, "%s\t%s\t%s\n", c.ID, c.Title, humanize.Time(c.UpdatedAt))
			}
			return w.Flush()
		},
	}

	options.Client.addFlags(cmd)
	return cmd
}

func printMessages(w io.Writer, messages []*model.Message) {
	for _, m := range messages {
		switch {
		case m.Role == model.RoleSystem:
			continue
		case m.Role == model.RoleTool:
			fmt.Fprintf(w, "%s %s\n", terminal.LinkSymbol, "search results")
		case len(m.RequestedToolCalls()) > 0:
			for _, call := range m.RequestedToolCalls() {
				fmt.Fprintf(w, "%s %s(%s)\n", terminal.ActionSymbol, call.Name, call.Arguments)
			}
		default:
			fmt.Fprintf(w, "%s: %s\n", terminal.Bold(string(m.Role)), m.Content)
		}
	}
}

package cmd

import (
	"fmt"
	"strings"

	"github.com/furisto/parley/backend/agent"
	"github.com/furisto/parley/frontend/cli/pkg/terminal"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

type chatOptions struct {
	Client          clientOptions
	ChatID          string
	ConfigurationID string
	Deep            bool
	NoSearch        bool
	Attachments     []string
	Markdown        bool
}

func NewChatCmd() *cobra.Command {
	var options chatOptions

	cmd := &cobra.Command{
		Use:     "chat <message> [flags]",
		Short:   "Send a message and stream the answer",
		GroupID: "core",
		Args:    cobra.MinimumNArgs(1),
		Example: `  # Start a new conversation
  parley chat "What is the tallest building in Europe?"

  # Continue a conversation with a reasoning model
  parley chat --chat-id 0195fbbe-0be8-74b1-af7a-6e76e80e2462 --deep "Why?"

  # Answer without searching the web
  parley chat --no-search "Write a haiku about Go"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := &agent.ChatRequest{
				Content:       strings.Join(args, " "),
				AttachmentIDs: options.Attachments,
				DeepReasoning: options.Deep,
			}

			if options.ChatID != "" {
				id, err := uuid.Parse(options.ChatID)
				if err != nil {
					return fmt.Errorf("invalid chat id %q: %w", options.ChatID, err)
				}
				req.ChatID = &id
			}
			if options.ConfigurationID != "" {
				id, err := uuid.Parse(options.ConfigurationID)
				if err != nil {
					return fmt.Errorf("invalid configuration id %q: %w", options.ConfigurationID, err)
				}
				req.ConfigurationID = &id
			}
			if options.NoSearch {
				searchEnabled := false
				req.SearchEnabled = &searchEnabled
			}
			if err := req.Validate(); err != nil {
				return err
			}

			client, err := newClient(cmd.Context(), options.Client)
			if err != nil {
				return err
			}

			renderer := terminal.NewChatRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), options.Markdown)
			if err := client.Chat(cmd.Context(), req, renderer.Render); err != nil {
				return err
			}
			renderer.Finish()

			return nil
		},
	}

	options.Client.addFlags(cmd)
	cmd.Flags().StringVar(&options.ChatID, "chat-id", "", "continue an existing conversation")
	cmd.Flags().StringVar(&options.ConfigurationID, "configuration", "", "persona configuration to use for a new conversation")
	cmd.Flags().BoolVar(&options.Deep, "deep", false, "use the reasoning model")
	cmd.Flags().BoolVar(&options.NoSearch, "no-search", false, "do not offer web search to the model")
	cmd.Flags().StringSliceVar(&options.Attachments, "attachment", nil, "id of an uploaded attachment (repeatable)")
	cmd.Flags().BoolVar(&options.Markdown, "markdown", false, "render the answer as markdown once it is complete")

	return cmd
}

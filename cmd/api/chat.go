package main

import (
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zhouzirui/agent-relay/internal/model/chat"
)

func newChatCmd(envFile *string) *cobra.Command {
	var (
		userID    string
		sessionID string
	)

	cmd := &cobra.Command{
		Use:   "chat MESSAGE...",
		Short: "Send one message through the relay and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := bootstrap(cmd.Context(), *envFile)
			if err != nil {
				return err
			}
			defer app.Close()

			resp, err := app.relay.Chat(cmd.Context(), chat.Request{
				UserID:    userID,
				Message:   strings.Join(args, " "),
				SessionID: sessionID,
			})
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(resp)
		},
	}

	cmd.Flags().StringVar(&userID, "user-id", "", "user id, defaults to DEFAULT_USER_ID")
	cmd.Flags().StringVar(&sessionID, "session-id", "", "continue an existing session")
	return cmd
}

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/matheus3301/chatsync/internal/lock"
	"github.com/matheus3301/chatsync/internal/session"
	"github.com/matheus3301/chatsync/internal/tui/client"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd, syncCmd, openCmd, closeCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon state, pending messages and conversations",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, err := profile()
		if err != nil {
			return err
		}
		if pid := lock.Holder(session.Dir(name)); pid == 0 {
			return fmt.Errorf("no daemon running for profile %q", name)
		}
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			st, err := c.Status(ctx)
			if err != nil {
				return err
			}
			if jsonFlag {
				return outputJSON(st)
			}
			fmt.Printf("Profile:  %s\n", st.Profile)
			fmt.Printf("State:    %s (since %s)\n", st.State, st.Since.Format(time.RFC3339))
			if st.Reason != "" {
				fmt.Printf("Reason:   %s\n", st.Reason)
			}
			fmt.Printf("Token:    %v\n", st.HasToken)
			fmt.Printf("Pending:  %d\n", st.Pending)
			if len(st.Conversations) == 0 {
				fmt.Println("No conversations.")
				return nil
			}
			open := make(map[string]bool, len(st.OpenConversations))
			for _, id := range st.OpenConversations {
				open[id] = true
			}
			fmt.Println()
			for _, conv := range st.Conversations {
				live := ""
				if open[conv.ID] {
					live = " (live)"
				}
				synced := "never"
				if conv.LastSyncedAt > 0 {
					synced = time.UnixMilli(conv.LastSyncedAt).Format(time.RFC3339)
				}
				fmt.Printf("%-24s synced %s%s\n", conv.ID, synced, live)
			}
			return nil
		})
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync [conversation]",
	Short: "Push pending messages and pull new ones",
	Long:  "Reconcile one conversation with the server, or every known conversation when none is given.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conv := ""
		if len(args) == 1 {
			conv = args[0]
		}
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			res, err := c.Sync(ctx, conv)
			if err != nil {
				return err
			}
			if jsonFlag {
				return outputJSON(res)
			}
			fmt.Printf("Pushed: %d  Pulled: %d  Failed: %d\n", res.Pushed, res.Pulled, res.Failed)
			return nil
		})
	},
}

var openCmd = &cobra.Command{
	Use:   "open <conversation>",
	Short: "Connect the live feed of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			return c.Open(ctx, args[0])
		})
	},
}

var closeCmd = &cobra.Command{
	Use:   "close <conversation>",
	Short: "Disconnect the live feed of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			return c.CloseConversation(ctx, args[0])
		})
	},
}

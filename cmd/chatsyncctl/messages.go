package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/matheus3301/chatsync/internal/session"
	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/tui/client"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(sendCmd, messagesCmd, retryCmd, watchCmd)
}

var sendCmd = &cobra.Command{
	Use:   "send <conversation> <text...>",
	Short: "Queue a message; it is pushed in the background",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			msg, err := c.Send(ctx, args[0], strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			if jsonFlag {
				return outputJSON(msg)
			}
			fmt.Printf("queued %s\n", msg.ID)
			return nil
		})
	},
}

var messagesCmd = &cobra.Command{
	Use:     "messages <conversation>",
	Aliases: []string{"ls"},
	Short:   "List the local messages of a conversation",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			msgs, err := c.ListMessages(ctx, args[0])
			if err != nil {
				return err
			}
			if jsonFlag {
				return outputJSON(msgs)
			}
			printMessages(msgs)
			return nil
		})
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry <message-id>",
	Short: "Re-queue a failed message",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			msg, err := c.Retry(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("requeued %s (%s)\n", msg.ID, msg.Status)
			return nil
		})
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch <conversation>",
	Short: "Print the conversation every time it changes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, err := profile()
		if err != nil {
			return err
		}
		c, err := client.New(session.SocketPath(name))
		if err != nil {
			return err
		}
		defer func() { _ = c.Close() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		err = c.Observe(ctx, args[0], func(msgs []store.Message) error {
			if jsonFlag {
				return outputJSON(msgs)
			}
			fmt.Printf("--- %s (%d messages)\n", args[0], len(msgs))
			printMessages(msgs)
			return nil
		})
		if ctx.Err() != nil {
			return nil
		}
		return err
	},
}

func printMessages(msgs []store.Message) {
	for _, m := range msgs {
		mark := ""
		switch m.Status {
		case store.StatusPending:
			mark = " [pending]"
		case store.StatusFailed:
			mark = " [failed: " + m.LastError + "]"
		}
		ts := time.UnixMilli(m.CreatedAt).Format("2006-01-02 15:04:05")
		fmt.Printf("%s  %-12s %s%s\n", ts, m.SenderID, m.Content, mark)
	}
}

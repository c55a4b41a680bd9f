package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"labchat/internal/chat"
	"labchat/internal/clipboard"
	"labchat/internal/server"
)

func copyCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "copy <message-id>",
		Short: "Copy a message's text to the clipboard",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := contextWithTimeout(cmd, timeout)
			defer cancel()

			conn, err := dial(ctx, chat.Section(cfg.Section))
			if err != nil {
				return err
			}
			defer conn.Close()

			var (
				found *chat.ViewMessage
				seen  bool
			)
			err = readEvents(ctx, conn, func(ev server.Event) bool {
				if ev.Type != server.EventSnapshot {
					return true
				}
				seen = true
				for i := range ev.Messages {
					if ev.Messages[i].ID == args[0] {
						found = &ev.Messages[i]
					}
				}
				return false
			})
			if err != nil {
				return err
			}
			if !seen {
				return fmt.Errorf("no snapshot received from %s", cfg.Section)
			}
			if found == nil {
				return fmt.Errorf("message %s not among the latest %d in %s", args[0], chat.FeedLimit, cfg.Section)
			}

			sess := chat.NewSession(log)
			defer sess.Close()

			var primary chat.Clipboard
			if clipboard.Available() {
				primary = clipboard.System{}
			}
			if !sess.Copy(primary, clipboard.OSC52{W: os.Stderr}, found.ID, found.Text) {
				return fmt.Errorf("could not copy message %s", found.ID)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "copied %s\n", found.ID)
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "how long to wait for the section snapshot")
	return cmd
}

package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/concierge"
	"github.com/hupe1980/concierge/config"
	"github.com/hupe1980/concierge/core"
)

func newSendCmd(configPath *string) *cobra.Command {
	var (
		channelName string
		chatID      string
		timeout     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "send [message]",
		Short: "Run one message through the assistant and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := strings.Join(args, " ")
			if strings.TrimSpace(body) == "" {
				return &core.ValidationError{Field: "message", Message: "message must not be empty"}
			}

			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}

			app, err := concierge.New(func(o *concierge.Options) {
				o.Config = cfg
			})
			if err != nil {
				return err
			}

			reply := make(chan core.Message, 1)
			app.OnOutbound(func(msg core.Message, _ *core.Turn) {
				select {
				case reply <- msg:
				default:
				}
			})

			if err := app.Start(cmd.Context()); err != nil {
				return err
			}

			origin := core.Origin{Channel: channelName, ChatID: chatID, SenderID: chatID}
			if err := app.Submit(core.NewUserMessage(origin, body)); err != nil {
				return err
			}

			select {
			case msg := <-reply:
				fmt.Fprintln(cmd.OutOrStdout(), msg.Body)
			case <-time.After(timeout):
				return fmt.Errorf("no reply within %s", timeout)
			case <-cmd.Context().Done():
				return cmd.Context().Err()
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return app.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&channelName, "channel", "cli", "channel name for the session key")
	cmd.Flags().StringVar(&chatID, "chat", "local", "chat id for the session key")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "how long to wait for the reply")
	return cmd
}

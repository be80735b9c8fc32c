package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/park285/Cheese-Chess-bot/internal/config"
	"github.com/park285/Cheese-Chess-bot/internal/irisfast"
	"github.com/park285/Cheese-Chess-bot/internal/obslog"
)

func irisCheckCmd() *cobra.Command {
	var watch time.Duration
	cmd := &cobra.Command{
		Use:   "iris-check",
		Short: "Probe the Iris HTTP API and print WebSocket traffic",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.ValidateTransport(); err != nil {
				return err
			}
			logger := obslog.L()

			client := irisfast.NewClient(cfg.IrisBaseURL,
				irisfast.WithHeaderProvider(cfg.Headers),
				irisfast.WithTimeout(8*time.Second),
			)
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()
			if err := client.Ready(ctx); err != nil {
				return fmt.Errorf("iris /config: %w", err)
			}
			fmt.Fprintln(os.Stdout, "iris /config ok")

			ws := irisfast.NewWebSocket(cfg.IrisWSURL, 0, time.Second, logger.Named("ws"))
			ws.SetHeaderProvider(cfg.Headers)
			ws.OnStateChange(func(state irisfast.WebSocketState) {
				logger.Info("iris_ws_state", zap.Stringer("state", state))
			})
			ws.OnMessage(func(msg *irisfast.Message) {
				from := "?"
				if msg.Sender != nil {
					from = *msg.Sender
				}
				fmt.Fprintf(os.Stdout, "room=%s conversation=%s from=%s text=%q\n", msg.Room, msg.ConversationID(), from, msg.Msg)
			})
			if err := ws.Connect(cmd.Context()); err != nil {
				return fmt.Errorf("iris websocket: %w", err)
			}

			select {
			case <-time.After(watch):
			case <-cmd.Context().Done():
			}
			closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer closeCancel()
			return ws.Close(closeCtx)
		},
	}
	cmd.Flags().DurationVar(&watch, "watch", 10*time.Second, "how long to print WebSocket messages")
	return cmd
}

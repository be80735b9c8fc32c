package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/spf13/cobra"

	"github.com/park285/Cheese-Chess-bot/internal/adapter/console"
	"github.com/park285/Cheese-Chess-bot/internal/chessbuilder"
	"github.com/park285/Cheese-Chess-bot/internal/config"
	"github.com/park285/Cheese-Chess-bot/internal/obslog"
)

func playCmd() *cobra.Command {
	var (
		boards string
		convID string
	)
	cmd := &cobra.Command{
		Use:   "play",
		Short: "Play in the terminal",
		Long: heredoc.Doc(`
			play reads messages from stdin, one per line, and prints the
			replies. Board images are written to --boards when set. Type
			quit to leave.`),
		Example: heredoc.Doc(`
			$ STOCKFISH_PATH=stockfish chess-bot play --boards /tmp/boards
			/new_game
			white
			e2e4`),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger := obslog.L()
			deps, err := chessbuilder.New(ctx, cfg, console.NewEgress(os.Stdout, boards), logger)
			if err != nil {
				return fmt.Errorf("init chess: %w", err)
			}
			go deps.RunSweeper(ctx)

			runErr := console.Run(ctx, os.Stdin, os.Stderr, convID, deps.Bot.Accept)
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := deps.Close(shutdownCtx); err != nil {
				return err
			}
			if errors.Is(runErr, context.Canceled) {
				return nil
			}
			return runErr
		},
	}
	cmd.Flags().StringVar(&boards, "boards", "", "directory for board PNGs")
	cmd.Flags().StringVar(&convID, "conversation", "console", "conversation id for the game")
	return cmd
}

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/park285/Cheese-Chess-bot/internal/obslog"
)

var rootCmd = &cobra.Command{
	Use:   "chess-bot",
	Short: "Play chess against Stockfish in chat",
	Long: heredoc.Doc(`
		chess-bot runs one game of chess per conversation against a UCI
		engine. Games are started with /new_game; moves are sent in UCI
		notation such as e2e4.

		Settings come from the environment. STOCKFISH_PATH is always
		required; IRIS_BASE_URL and IRIS_WS_URL are required by serve.`),
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if _, err := obslog.InitFromEnv(); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = obslog.L().Sync()
	},
}

func main() {
	rootCmd.AddCommand(serveCmd(), playCmd(), irisCheckCmd())
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		obslog.L().Error("chess_bot_exit", zap.Error(err))
		os.Exit(1)
	}
}

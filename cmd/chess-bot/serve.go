package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/park285/Cheese-Chess-bot/internal/chessbuilder"
	"github.com/park285/Cheese-Chess-bot/internal/config"
	"github.com/park285/Cheese-Chess-bot/internal/irisfast"
	"github.com/park285/Cheese-Chess-bot/internal/obslog"
)

const shutdownTimeout = 15 * time.Second

func serveCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve KakaoTalk rooms through Iris",
		Long: heredoc.Doc(`
			serve listens for chat messages on the Iris WebSocket and replies
			over HTTP, WebSocket or both (EGRESS_MODE). Rooms can be limited
			with ALLOWED_ROOMS. When METRICS_ADDR is set, Prometheus metrics
			and a health check are served there.`),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.ValidateTransport(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, dryRun, obslog.L())
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "log WebSocket replies instead of sending them")
	return cmd
}

func serve(ctx context.Context, cfg *config.AppConfig, dryRun bool, logger *zap.Logger) error {
	client := irisfast.NewClient(cfg.IrisBaseURL, irisfast.WithHeaderProvider(cfg.Headers), irisfast.WithRetry(3))
	if err := client.Ready(ctx); err != nil {
		logger.Warn("iris_not_ready", zap.Error(err))
	}

	ws := irisfast.NewWebSocket(cfg.IrisWSURL, 5, time.Second, logger.Named("ws"))
	ws.SetHeaderProvider(cfg.Headers)
	ws.OnStateChange(func(state irisfast.WebSocketState) {
		logger.Info("iris_ws_state", zap.Stringer("state", state))
	})

	egress := irisfast.NewEgress(cfg.EgressMode, dryRun, client, ws, logger)
	deps, err := chessbuilder.New(ctx, cfg, egress, logger)
	if err != nil {
		return fmt.Errorf("init chess: %w", err)
	}

	ws.OnMessage(func(msg *irisfast.Message) {
		if msg == nil || msg.Msg == "" {
			return
		}
		if !cfg.RoomAllowed(msg.Room) {
			logger.Debug("iris_room_ignored", zap.String("room", msg.Room))
			return
		}
		if err := deps.Bot.Accept(msg.Room, msg.ConversationID(), msg.Msg); err != nil {
			logger.Warn("chess_message_dropped", zap.String("room", msg.Room), zap.Error(err))
		}
	})

	if err := ws.Connect(ctx); err != nil {
		logger.Warn("iris_ws_connect_failed", zap.Error(err))
	}

	go deps.RunSweeper(ctx)
	metricsErr := make(chan error, 1)
	if cfg.MetricsAddr != "" {
		go func() { metricsErr <- deps.Metrics.Serve(ctx, cfg.MetricsAddr, logger) }()
	}
	logger.Info("chess_bot_started",
		zap.String("egress", cfg.EgressMode),
		zap.Int("engine_processes", cfg.EngineMaxProcesses),
		zap.Strings("rooms", cfg.AllowedRooms))

	runErr := waitForShutdown(ctx, metricsErr, logger)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := ws.Close(shutdownCtx); err != nil {
		logger.Warn("iris_ws_close_failed", zap.Error(err))
	}
	if err := deps.Close(shutdownCtx); err != nil {
		logger.Warn("chess_shutdown_incomplete", zap.Error(err))
	}
	logger.Info("chess_bot_stopped")
	return runErr
}

// waitForShutdown blocks until ctx is done or the metrics server fails. A
// metrics server that stops without error only disables metrics.
func waitForShutdown(ctx context.Context, metricsErr <-chan error, logger *zap.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-metricsErr:
			if err != nil {
				return fmt.Errorf("metrics server: %w", err)
			}
			logger.Warn("metrics_server_stopped")
			metricsErr = nil
		}
	}
}

package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"quiz-competition-service/internal/app"
	transport "quiz-competition-service/internal/transport/http"
)

// NewAPICmd builds the CLI subcommand to start the HTTP API.
func NewAPICmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "api",
		Short: "Start the competition HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAPI(cmd.Context(), *configPath, *port)
		},
	}
}

func runAPI(ctx context.Context, configPath, portFlag string) error {
	d, err := buildDeps(ctx, configPath)
	if err != nil {
		return err
	}
	defer d.close()

	if d.cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, d.cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = d.cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	sessions := app.NewSessionManager(d.store, d.questions, d.bots, d.logger)
	answers := app.NewAnswerHandler(d.store, d.questions, d.logger)

	var boards transport.LeaderboardSource
	if d.boards != nil {
		boards = d.boards
	}
	handler := transport.NewHandler(sessions, answers, boards, d.cfg.Server.APIKey, d.logger)
	wsHandler := transport.NewWSHandler(sessions, answers, d.logger)

	mux := http.NewServeMux()
	handler.Register(mux, wsHandler)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		d.logger.Info("starting competition api", zap.String("port", finalPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			d.logger.Error("server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		d.logger.Info("shutting down api")
	case <-ctx.Done():
		d.logger.Info("context canceled, shutting down api")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

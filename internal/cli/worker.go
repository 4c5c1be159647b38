package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"quiz-competition-service/internal/app"
)

// NewWorkerCmd builds the CLI subcommand to start the progression worker.
func NewWorkerCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Start the competition progression worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd.Context(), *configPath)
		},
	}
}

func runWorker(ctx context.Context, configPath string) error {
	d, err := buildDeps(ctx, configPath)
	if err != nil {
		return err
	}
	defer d.close()

	engineCfg := d.engineConfig()
	finalizer := app.NewFinalizer(d.store, d.sink, d.bots, engineCfg.FinalizeLockTTL, d.logger)
	engine := app.NewEngine(d.store, d.questions, d.bots, finalizer, engineCfg, d.logger)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-stop:
			d.logger.Info("shutting down worker")
			cancel()
		case <-runCtx.Done():
		}
	}()

	d.logger.Info("starting competition worker")
	engine.Run(runCtx)
	return nil
}

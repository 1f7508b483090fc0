package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	api "memtex-backend/cmd/api"
	memoryUsecase "memtex-backend/internal/memory/usecase"
	"memtex-backend/pkg/config"
	"memtex-backend/pkg/logger"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "memtex",
		Short:         "Memory retrieval and chat orchestration backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API and the maintenance schedule",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd.Context(), serve)
			},
		},
		&cobra.Command{
			Use:   "worker",
			Short: "Consume summarization jobs",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd.Context(), func(ctx context.Context, app *api.App) error {
					return app.Queue.Consume(ctx, app.Worker.Handle)
				})
			},
		},
		&cobra.Command{
			Use:   "sweep",
			Short: "Delete orphaned vectors and requeue pending summaries once",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd.Context(), func(ctx context.Context, app *api.App) error {
					return app.Maintenance.Run(ctx)
				})
			},
		},
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func withApp(ctx context.Context, run func(ctx context.Context, app *api.App) error) error {
	cfg := config.Load()

	log, err := logger.New(cfg.AppEnv)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Sync()

	app, err := api.NewApp(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize application", "error", err)
		return err
	}
	defer app.Close()

	return run(ctx, app)
}

// serve runs the API. With the in-memory queue the summary worker runs in
// the same process, since no other process can see its jobs.
func serve(ctx context.Context, app *api.App) error {
	scheduler := memoryUsecase.NewMaintenanceScheduler(app.Config.SweepSchedule, app.Maintenance.Run, app.Log)
	if err := scheduler.Start(); err != nil {
		return err
	}
	defer scheduler.Stop()

	g, ctx := errgroup.WithContext(ctx)
	if app.Config.QueueDriver == "memory" {
		g.Go(func() error {
			return app.Queue.Consume(ctx, app.Worker.Handle)
		})
	}
	g.Go(func() error {
		return app.Server().Run(ctx, ":"+app.Config.Port)
	})
	return g.Wait()
}

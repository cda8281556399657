package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lcalmbach/open-data-insights-sub000/internal/api"
	"github.com/lcalmbach/open-data-insights-sub000/internal/api/handlers"
	"github.com/lcalmbach/open-data-insights-sub000/internal/scheduler"
	"github.com/lcalmbach/open-data-insights-sub000/internal/scheduler/jobs"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler and the ops server",
	Long: `Starts the cron scheduler with the sync, generation, and cache
cleanup jobs, plus the ops HTTP server for health and job state.

Registered jobs:
- dataset_sync: incremental dataset synchronization
- story_generation: due-story generation for the current day
- cache_cleanup: removal of stale downloaded extracts

Stop with Ctrl+C.

Example:
  go run ./cmd/insights serve`,
	RunE: runServe,
}

var cacheMaxAge time.Duration

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().DurationVar(&cacheMaxAge, "cache-max-age", 7*24*time.Hour, "age after which cached extracts are removed")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := initApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	syncRunner, err := a.syncRunner()
	if err != nil {
		return err
	}
	storyRunner, err := a.storyRunner()
	if err != nil {
		return err
	}

	sched := scheduler.New(a.log)
	if err := sched.AddJob(jobs.NewSyncJob(syncRunner, a.cfg.SyncSchedule, a.log)); err != nil {
		return err
	}
	if err := sched.AddJob(jobs.NewGenerateJob(storyRunner, a.cfg.GenerateSchedule, a.log)); err != nil {
		return err
	}
	cleanupJob := jobs.NewCacheCleanupJob(a.odsClient(), cacheMaxAge, "0 0 1 * * *", a.log)
	if err := sched.AddJob(cleanupJob); err != nil {
		return err
	}

	jobHandler := handlers.NewJobHandler(sched, a.log)
	statusHandler := handlers.NewStatusHandler(a.db, a.log)
	router := api.NewRouter(jobHandler, statusHandler, a.log)
	server := api.New(a.cfg, a.log, router)

	sched.Start()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	fmt.Println("Scheduler and ops server started")
	fmt.Printf("  sync schedule:     %s\n", a.cfg.SyncSchedule)
	fmt.Printf("  generate schedule: %s\n", a.cfg.GenerateSchedule)
	fmt.Printf("  ops server:        %s\n", a.cfg.StatusAddr)
	fmt.Println("Press Ctrl+C to stop")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case <-quit:
	case err := <-serverErr:
		if err != nil {
			sched.Stop()
			return err
		}
	}

	fmt.Println("\nShutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		a.log.WithError(err).Error("Ops server shutdown failed")
	}
	sched.Stop()
	fmt.Println("Stopped")

	return nil
}

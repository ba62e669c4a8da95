package commands

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/missionctl/am"
	"github.com/teranos/missionctl/logger"
	"github.com/teranos/missionctl/sym"
)

// PulseCmd represents the pulse command - the job execution daemon
var PulseCmd = &cobra.Command{
	Use:   "pulse",
	Short: sym.Pulse + " Run the worker pool and sweep ticker",
	Long: sym.Pulse + ` Pulse daemon - runs jobs without the HTTP API.

The daemon:
- claims queued jobs with a pool of workers and runs them on their engine
- sweeps every dispatch.interval_seconds and after each finished job
- reloads the dispatch policy when am.toml changes
- finishes running jobs before exiting on Ctrl+C

Example:
  mctl pulse start              # workers from pulse.workers
  mctl pulse start --workers 3`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// PulseStartCmd starts the Pulse daemon
var PulseStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the Pulse daemon in the foreground",
	RunE:  runPulseStart,
}

func init() {
	PulseStartCmd.Flags().Int("workers", -1, "Number of concurrent workers (default pulse.workers)")
	PulseCmd.AddCommand(PulseStartCmd)
}

func runPulseStart(cmd *cobra.Command, args []string) error {
	workers, _ := cmd.Flags().GetInt("workers")

	return withDatabase(func(cfg *am.Config, database *sql.DB) error {
		rt, err := newRuntime(cfg, database)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		pool := rt.workerPool(ctx, workers)
		ticker := rt.sweepTicker(ctx)
		watcher := rt.watchConfig()

		pool.Start()
		ticker.Start()
		logger.PulseInfow("Pulse daemon started", "workers", pool.Workers(), "sweep_interval_s", cfg.Dispatch.IntervalSeconds)

		fmt.Printf("%s Pulse daemon started\n", sym.Pulse)
		fmt.Printf("  Database:       %s\n", cfg.GetDatabasePath())
		fmt.Printf("  Workers:        %d\n", pool.Workers())
		fmt.Printf("  Sweep interval: %v\n", time.Duration(cfg.Dispatch.IntervalSeconds)*time.Second)
		fmt.Printf("\n%s Press Ctrl+C for graceful shutdown\n\n", sym.Pulse)

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		fmt.Printf("\n%s Finishing running jobs...\n", sym.Pulse)

		// Reverse order of startup
		if watcher != nil {
			watcher.Stop()
		}
		ticker.Stop()
		pool.Stop()
		cancel()

		pterm.Success.Printf("Pulse daemon stopped after %d job(s)\n", pool.JobsProcessed())
		return nil
	})
}

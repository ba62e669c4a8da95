package commands

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/missionctl/am"
	"github.com/teranos/missionctl/errors"
	"github.com/teranos/missionctl/server"
	"github.com/teranos/missionctl/version"
)

// ServerCmd starts the HTTP API
var ServerCmd = &cobra.Command{
	Use:     "server",
	Aliases: []string{"serve"},
	Short:   "Start the mission control HTTP API",
	Long: `Serve the job API, the run-once/run-batch runner endpoints, the dispatch
sweep trigger and a websocket stream of job updates.

Runner endpoints require server.runner_secret (or MCTL_RUNNER_SECRET) as a
bearer token. With no secret configured they refuse every call.`,
	RunE: runServer,
}

var (
	serverPort    int
	serverWorkers int
)

func init() {
	ServerCmd.Flags().IntVar(&serverPort, "port", 0, "Listen port (default server.port)")
	ServerCmd.Flags().IntVar(&serverWorkers, "workers", 0, "In-process workers next to the API (0 = runners call run-once)")
}

func runServer(cmd *cobra.Command, args []string) error {
	return withDatabase(func(cfg *am.Config, database *sql.DB) error {
		rt, err := newRuntime(cfg, database)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		deps := server.Deps{
			DB:      database,
			Config:  cfg,
			Runner:  rt.runner,
			Sweeper: rt.sweeper,
			Ticker:  rt.sweepTicker(ctx),
			Logger:  rt.logger,
		}
		if serverWorkers > 0 {
			deps.Pool = rt.workerPool(ctx, serverWorkers)
		}
		srv := server.New(deps)

		watcher := rt.watchConfig(srv.ApplyConfig)
		if watcher != nil {
			defer watcher.Stop()
		}

		port := cfg.GetServerPort()
		if serverPort > 0 {
			port = serverPort
		}
		if cfg.Server.RunnerSecret == "" {
			pterm.Warning.Println("server.runner_secret is not set, runner endpoints will answer 401")
		}
		pterm.Info.Printf("%s, database %s\n", version.Get().String(), cfg.GetDatabasePath())

		errChan := make(chan error, 1)
		go func() {
			errChan <- srv.Start(port)
		}()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

		select {
		case err := <-errChan:
			return errors.Wrap(err, "server failed to start")
		case <-sigChan:
			pterm.Info.Println("Shutting down gracefully (press Ctrl+C again to force)...")

			shutdownDone := make(chan error, 1)
			go func() {
				stopCtx, stopCancel := context.WithTimeout(context.Background(), server.ShutdownTimeout)
				defer stopCancel()
				shutdownDone <- srv.Stop(stopCtx)
			}()

			select {
			case err := <-shutdownDone:
				if err != nil {
					return errors.Wrap(err, "shutdown error")
				}
				pterm.Success.Println("Server stopped cleanly")
				return nil
			case <-sigChan:
				pterm.Warning.Println("Force shutdown - exiting immediately")
				os.Exit(1)
				return nil
			}
		}
	})
}

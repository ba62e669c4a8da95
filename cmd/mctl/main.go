package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/missionctl/cmd/mctl/commands"
	"github.com/teranos/missionctl/logger"
)

var rootCmd = &cobra.Command{
	Use:   "mctl",
	Short: "mctl - mission control for agent jobs",
	Long: `mctl - mission control for a fleet of agent jobs.

Jobs are queued, claimed atomically by runners, executed by an engine
(shell or an LLM provider) and reviewed. A periodic sweep detects stalled
jobs, retries failures, dispatches stale research and pauses agents that
keep failing review.

Available commands:
  am        - Manage configuration ("I am")
  db        - Database migrations and statistics
  jobs      - Create, inspect, route, review and run jobs
  agents    - Agent roster, import and resume
  research  - Captured research items
  dispatch  - Run the auto-dispatch sweep
  notify    - Operator notifications
  settings  - Runtime settings (pause_all, max_concurrency)
  pulse     - Run the worker pool and sweep ticker
  server    - Start the HTTP API

Examples:
  mctl am init                          # Write a default am.toml
  mctl jobs add --title "Nightly build" --prompt "make build"
  mctl jobs ls --status queued
  mctl pulse start --workers 3
  mctl server`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		if os.Getenv("MCTL_LOG_JSON") != "" {
			jsonLogs = true
		}
		if err := logger.Initialize(jsonLogs, verbosity); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv, -vvv)")
	rootCmd.PersistentFlags().Bool("json-logs", false, "Log as JSON instead of console lines")
	commands.BindConfigFlag(rootCmd)

	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.JobsCmd)
	rootCmd.AddCommand(commands.AgentsCmd)
	rootCmd.AddCommand(commands.ResearchCmd)
	rootCmd.AddCommand(commands.DispatchCmd)
	rootCmd.AddCommand(commands.NotifyCmd)
	rootCmd.AddCommand(commands.SettingsCmd)
	rootCmd.AddCommand(commands.PulseCmd)
	rootCmd.AddCommand(commands.ServerCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

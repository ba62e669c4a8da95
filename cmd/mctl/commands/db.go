package commands

import (
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/missionctl/ai/tracker"
	"github.com/teranos/missionctl/am"
	"github.com/teranos/missionctl/errors"
	"github.com/teranos/missionctl/logger"
	"github.com/teranos/missionctl/sym"
)

// DbCmd represents the db (database) command
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: sym.DB + " Manage the mctl database",
	Long: sym.DB + ` db - Manage the mctl database

Examples:
  mctl db migrate                 # Apply pending migrations
  mctl db stats                   # Row counts and LLM usage for the last day
  mctl db stats --since 168h      # LLM usage for the last week`,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDatabase(func(cfg *am.Config, database *sql.DB) error {
			var applied int
			var latest string
			err := database.QueryRow(`SELECT COUNT(*), COALESCE(MAX(version), '') FROM schema_migrations`).Scan(&applied, &latest)
			if err != nil {
				return errors.Wrap(err, "failed to read schema_migrations")
			}
			logger.DBInfow("Schema checked", "path", cfg.GetDatabasePath(), "version", latest, logger.FieldCount, applied)
			pterm.Success.Printf("%s is at migration %s (%d applied)\n", cfg.GetDatabasePath(), latest, applied)
			return nil
		})
	},
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show row counts and LLM usage",
	RunE:  runDbStats,
}

var statsSince time.Duration

// statTables are counted by db stats, in display order
var statTables = []string{"jobs", "agents", "reviews", "projects", "research_items", "notifications", "settings", "ai_model_usage"}

func init() {
	dbStatsCmd.Flags().DurationVar(&statsSince, "since", 24*time.Hour, "Window for LLM usage statistics")

	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbStatsCmd)
}

func runDbStats(cmd *cobra.Command, args []string) error {
	return withDatabase(func(cfg *am.Config, database *sql.DB) error {
		ctx := cmd.Context()

		rows := pterm.TableData{{"Table", "Rows"}}
		for _, table := range statTables {
			var n int
			// Table names come from statTables, never from input
			if err := database.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
				return errors.Wrapf(err, "failed to count %s", table)
			}
			rows = append(rows, []string{table, strconv.Itoa(n)})
		}

		fmt.Printf("%s Database %s\n\n", sym.DB, cfg.GetDatabasePath())
		if err := pterm.DefaultTable.WithHasHeader().WithData(rows).Render(); err != nil {
			return err
		}

		usage := tracker.NewUsageTracker(database)
		stats, err := usage.GetUsageStats(ctx, time.Now().Add(-statsSince))
		if err != nil {
			return err
		}
		fmt.Printf("\nLLM usage (last %s)\n", statsSince)
		fmt.Printf("  Requests: %d (%.0f%% ok)\n", stats.TotalRequests, stats.SuccessRate*100)
		fmt.Printf("  Tokens:   %d\n", stats.TotalTokens)
		fmt.Printf("  Cost:     $%.4f\n", stats.TotalCost)

		breakdown, err := usage.GetModelBreakdown(ctx, time.Now().Add(-statsSince))
		if err != nil {
			return err
		}
		if len(breakdown) == 0 {
			return nil
		}
		models := pterm.TableData{{"Model", "Provider", "Requests", "Tokens", "Cost"}}
		for _, mb := range breakdown {
			models = append(models, []string{
				mb.ModelName, mb.ModelProvider,
				strconv.Itoa(mb.RequestCount), strconv.Itoa(mb.TotalTokens),
				fmt.Sprintf("$%.4f", mb.TotalCost),
			})
		}
		fmt.Println()
		return pterm.DefaultTable.WithHasHeader().WithData(models).Render()
	})
}

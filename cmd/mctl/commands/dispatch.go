package commands

import (
	"database/sql"
	"fmt"
	"sort"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/missionctl/am"
	"github.com/teranos/missionctl/display"
	"github.com/teranos/missionctl/pulse/dispatch"
	"github.com/teranos/missionctl/sym"
)

// DispatchCmd groups auto-dispatch commands
var DispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: sym.Dispatch + " Run the auto-dispatch sweep",
	Long: sym.Dispatch + ` dispatch - the auto-dispatch sweep

One sweep applies four rules in order:
  stall     running jobs past dispatch.stall_timeout_minutes go back to queued
  retry     failed jobs are requeued until dispatch.max_retries
  research  stale captured research gets an assessment job
  pause     agents with dispatch.pause_threshold failed reviews in a row are paused

mctl pulse start and mctl server also sweep every dispatch.interval_seconds
and after each finished job.`,
}

var dispatchSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one sweep now",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDatabase(func(cfg *am.Config, database *sql.DB) error {
			rt, err := newRuntime(cfg, database)
			if err != nil {
				return err
			}
			report := rt.sweeper.Sweep(cmd.Context())
			if display.ShouldOutputJSON(cmd) {
				return display.OutputJSON(cmd.OutOrStdout(), report)
			}
			printSweepReport(report)
			return nil
		})
	},
}

var dispatchPolicyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Show the thresholds the sweep runs with",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		p := dispatch.PolicyFromConfig(cfg.Dispatch)
		data := pterm.TableData{
			{"Rule", "Setting", "Value"},
			{"stall", "timeout", p.StallTimeout.String()},
			{"retry", "max retries", fmt.Sprint(p.MaxRetries)},
			{"retry", "batch", fmt.Sprint(p.RetryBatch)},
			{"research", "stale after", p.ResearchStale.String()},
			{"research", "batch", fmt.Sprint(p.ResearchBatch)},
			{"pause", "failure threshold", fmt.Sprint(p.PauseThreshold)},
		}
		return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	},
}

func printSweepReport(r *dispatch.SweepReport) {
	if !r.Acted() && len(r.Errors) == 0 {
		pterm.Info.Printf("%s Nothing to do (%dms)\n", sym.Dispatch, r.DurationMS)
		return
	}
	pterm.Success.Printf("%s stalled=%d retried=%d dispatched=%d paused=%d (%dms)\n",
		sym.Dispatch, r.Stalled, r.Retried, r.Dispatched, r.Paused, r.DurationMS)

	rules := make([]string, 0, len(r.Errors))
	for rule := range r.Errors {
		rules = append(rules, rule)
	}
	sort.Strings(rules)
	for _, rule := range rules {
		pterm.Error.Printf("%s: %s\n", rule, r.Errors[rule])
	}
}

func init() {
	dispatchSweepCmd.Flags().Bool("json", false, "Print the sweep report as JSON")

	DispatchCmd.AddCommand(dispatchSweepCmd)
	DispatchCmd.AddCommand(dispatchPolicyCmd)
}

package commands

import (
	"database/sql"
	"fmt"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/missionctl/agent"
	"github.com/teranos/missionctl/am"
	"github.com/teranos/missionctl/display"
	"github.com/teranos/missionctl/errors"
	"github.com/teranos/missionctl/logger"
	"github.com/teranos/missionctl/sym"
)

// AgentsCmd groups agent roster commands
var AgentsCmd = &cobra.Command{
	Use:     "agents",
	Aliases: []string{"agent"},
	Short:   sym.Agent + " Agent roster, import and resume",
	Long: sym.Agent + ` agents - the agent roster

Agents are imported from a YAML roster and picked by the router. An agent
that fails review too often is paused by the dispatch sweep until an
operator resumes it.

Example roster:
  agents:
    - name: kirby
      role: coder
      default_engine: shell
      cost_tier: low
      department: platform`,
}

var agentsListCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List agents with their quality average",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDatabase(func(cfg *am.Config, database *sql.DB) error {
			agents, err := agent.NewStore(database).List(cmd.Context())
			if err != nil {
				return err
			}
			if display.ShouldOutputJSON(cmd) {
				return display.OutputJSON(cmd.OutOrStdout(), agents)
			}
			if len(agents) == 0 {
				pterm.Info.Println("No agents, import a roster with: mctl agents import roster.yaml")
				return nil
			}
			data := pterm.TableData{{"ID", "Name", "Role", "Engine", "Cost", "Dept", "Status", "Quality", "Done", "Fails"}}
			for _, a := range agents {
				status := string(a.Status)
				if !a.Active {
					status += " (inactive)"
				}
				data = append(data, []string{
					shortID(a.ID), a.Name, string(a.Role), string(a.DefaultEngine), string(a.CostTier),
					a.DepartmentID, status,
					fmt.Sprintf("%.1f", a.QualityScoreAvg),
					strconv.Itoa(a.TotalJobsCompleted),
					strconv.Itoa(a.ConsecutiveFailures),
				})
			}
			return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
		})
	},
}

var agentsImportCmd = &cobra.Command{
	Use:   "import <roster.yaml>",
	Short: "Create or update agents from a YAML roster",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDatabase(func(cfg *am.Config, database *sql.DB) error {
			result, err := agent.NewStore(database).ImportRosterFile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			logger.AddAgentSymbol(logger.Logger).Infow("Roster imported",
				"path", args[0], "created", result.Created, "updated", result.Updated)
			pterm.Success.Printf("Imported %s: %d created, %d updated\n", args[0], result.Created, result.Updated)
			return nil
		})
	},
}

var agentsPauseCmd = &cobra.Command{
	Use:   "pause <id>",
	Short: "Pause an agent so the router skips it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDatabase(func(cfg *am.Config, database *sql.DB) error {
			store := agent.NewStore(database)
			a, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			paused, err := store.Pause(cmd.Context(), a.ID)
			if err != nil {
				return err
			}
			if !paused {
				return errors.NewConflictError("agent %s is not active", a.Name)
			}
			pterm.Success.Printf("Paused %s (%s)\n", a.Name, a.ID)
			return nil
		})
	},
}

var agentsResumeCmd = &cobra.Command{
	Use:   "resume <id>",
	Short: "Resume a paused agent and clear its failure streak",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDatabase(func(cfg *am.Config, database *sql.DB) error {
			a, err := agent.NewStore(database).Resume(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			pterm.Success.Printf("Resumed %s (%s)\n", a.Name, a.ID)
			return nil
		})
	},
}

func init() {
	agentsListCmd.Flags().Bool("json", false, "Print JSON")

	AgentsCmd.AddCommand(agentsListCmd)
	AgentsCmd.AddCommand(agentsImportCmd)
	AgentsCmd.AddCommand(agentsPauseCmd)
	AgentsCmd.AddCommand(agentsResumeCmd)
}

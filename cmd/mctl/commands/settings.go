package commands

import (
	"database/sql"
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/missionctl/am"
	"github.com/teranos/missionctl/pulse/async"
)

// SettingsCmd groups runtime settings commands
var SettingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Runtime settings (pause_all, max_concurrency)",
	Long: `settings - runtime switches read on every claim

  pause_all        true stops every runner from claiming new jobs
  max_concurrency  cap on running jobs across all runners (0 = no cap)

Unlike am.toml these live in the database and apply immediately to every
process sharing it.`,
}

var settingsListCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List stored settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDatabase(func(cfg *am.Config, database *sql.DB) error {
			all, err := async.NewSettingsStore(database).All(cmd.Context())
			if err != nil {
				return err
			}
			if len(all) == 0 {
				pterm.Info.Println("No settings stored, runners use defaults")
				return nil
			}
			data := pterm.TableData{{"Key", "Value"}}
			for _, k := range async.Keys(all) {
				data = append(data, []string{k, all[k]})
			}
			return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
		})
	},
}

var settingsGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print one setting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDatabase(func(cfg *am.Config, database *sql.DB) error {
			value, err := async.NewSettingsStore(database).Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), value)
			return nil
		})
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Store a setting",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDatabase(func(cfg *am.Config, database *sql.DB) error {
			if err := async.NewSettingsStore(database).Set(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			pterm.Success.Printf("%s = %s\n", args[0], args[1])
			return nil
		})
	},
}

func init() {
	SettingsCmd.AddCommand(settingsListCmd)
	SettingsCmd.AddCommand(settingsGetCmd)
	SettingsCmd.AddCommand(settingsSetCmd)
}

package commands

import (
	"database/sql"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/missionctl/am"
	"github.com/teranos/missionctl/errors"
	"github.com/teranos/missionctl/research"
)

// ResearchCmd groups research item commands
var ResearchCmd = &cobra.Command{
	Use:   "research",
	Short: "Captured research items",
	Long: `research - captured links and notes waiting for assessment

Items left in captured longer than dispatch.research_stale_minutes get an
assessment job from the dispatch sweep. The item is closed when that job
finishes.`,
}

var (
	researchURL     string
	researchSummary string
	researchStatus  string
	researchLimit   int
)

var researchAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Capture a research item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDatabase(func(cfg *am.Config, database *sql.DB) error {
			item := &research.Item{Title: args[0], URL: researchURL, Summary: researchSummary}
			if err := research.NewStore(database).Create(cmd.Context(), item); err != nil {
				return err
			}
			pterm.Success.Printf("Captured %s %q\n", item.ID, item.Title)
			return nil
		})
	},
}

var researchListCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List research items, oldest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		if researchStatus != "" && !research.IsValidStatus(researchStatus) {
			return errors.NewInvalidRequestError("unknown research status %q", researchStatus)
		}
		return withDatabase(func(cfg *am.Config, database *sql.DB) error {
			items, err := research.NewStore(database).List(cmd.Context(), research.Status(researchStatus), researchLimit)
			if err != nil {
				return err
			}
			if len(items) == 0 {
				pterm.Info.Println("No research items")
				return nil
			}
			now := time.Now()
			data := pterm.TableData{{"ID", "Status", "Title", "URL", "Captured"}}
			for _, it := range items {
				data = append(data, []string{
					shortID(it.ID), string(it.Status), truncate(it.Title, 48), truncate(it.URL, 40), ago(it.CreatedAt, now),
				})
			}
			return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
		})
	},
}

func init() {
	researchAddCmd.Flags().StringVar(&researchURL, "url", "", "Source URL")
	researchAddCmd.Flags().StringVar(&researchSummary, "summary", "", "Short summary")
	researchListCmd.Flags().StringVar(&researchStatus, "status", "", "captured, assessing, assessed or archived")
	researchListCmd.Flags().IntVar(&researchLimit, "limit", 50, "Maximum items to show")

	ResearchCmd.AddCommand(researchAddCmd)
	ResearchCmd.AddCommand(researchListCmd)
}

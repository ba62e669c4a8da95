package commands

import (
	"context"
	"database/sql"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/missionctl/am"
	"github.com/teranos/missionctl/display"
	"github.com/teranos/missionctl/notify"
	"github.com/teranos/missionctl/sym"
)

// NotifyCmd groups operator notification commands
var NotifyCmd = &cobra.Command{
	Use:     "notify",
	Aliases: []string{"notifications"},
	Short:   sym.Notify + " Operator notifications",
}

var (
	notifyStatus   string
	notifyCategory string
	notifyLimit    int
)

var notifyListCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List notifications, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDatabase(func(cfg *am.Config, database *sql.DB) error {
			items, err := notify.NewStore(database).List(cmd.Context(), notify.Filter{
				Status:   notify.Status(notifyStatus),
				Category: notifyCategory,
				Limit:    notifyLimit,
			})
			if err != nil {
				return err
			}
			if display.ShouldOutputJSON(cmd) {
				return display.OutputJSON(cmd.OutOrStdout(), items)
			}
			if len(items) == 0 {
				pterm.Info.Println("No notifications")
				return nil
			}
			now := time.Now()
			data := pterm.TableData{{"ID", "Priority", "Status", "Title", "Body", "Created"}}
			for _, n := range items {
				data = append(data, []string{
					shortID(n.ID), string(n.Priority), string(n.Status),
					truncate(n.Title, 40), truncate(n.Body, 60), ago(n.CreatedAt, now),
				})
			}
			return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
		})
	},
}

var notifyAckCmd = &cobra.Command{
	Use:   "ack <id>",
	Short: "Acknowledge a notification",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return closeNotification(cmd, args[0], (*notify.Store).Acknowledge)
	},
}

var notifyDismissCmd = &cobra.Command{
	Use:   "dismiss <id>",
	Short: "Dismiss a notification",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return closeNotification(cmd, args[0], (*notify.Store).Dismiss)
	},
}

func closeNotification(cmd *cobra.Command, id string,
	closeFn func(*notify.Store, context.Context, string) (*notify.Notification, error)) error {
	return withDatabase(func(cfg *am.Config, database *sql.DB) error {
		n, err := closeFn(notify.NewStore(database), cmd.Context(), id)
		if err != nil {
			return err
		}
		pterm.Success.Printf("%s %s is %s\n", sym.Notify, n.Title, n.Status)
		return nil
	})
}

func init() {
	notifyListCmd.Flags().StringVar(&notifyStatus, "status", "", "pending, delivered, acknowledged or dismissed")
	notifyListCmd.Flags().StringVar(&notifyCategory, "category", "", "alert or info")
	notifyListCmd.Flags().IntVar(&notifyLimit, "limit", 50, "Maximum notifications to show")
	notifyListCmd.Flags().Bool("json", false, "Print JSON")

	NotifyCmd.AddCommand(notifyListCmd)
	NotifyCmd.AddCommand(notifyAckCmd)
	NotifyCmd.AddCommand(notifyDismissCmd)
}

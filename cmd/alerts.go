package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/invoice-cli/internal/model"
	"github.com/sells-group/invoice-cli/internal/store"
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Inspect and triage anomaly alerts",
}

// -- alerts list --

var alertsListCmd = &cobra.Command{
	Use:   "list [batch]",
	Short: "List alerts, optionally for one batch",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		filter, err := alertFilterFromFlags(cmd)
		if err != nil {
			return err
		}
		if len(args) == 1 {
			b, err := resolveBatch(ctx, st, args[0])
			if err != nil {
				return err
			}
			filter.BatchID = b.ID
		}

		alerts, err := st.ListAlerts(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "alerts list")
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeJSON(os.Stdout, alerts)
		}
		if len(alerts) == 0 {
			fmt.Fprintln(os.Stderr, "No alerts found.")
			return nil
		}
		formatAlerts(os.Stdout, alerts)
		return nil
	},
}

// -- alerts read / dismiss --

var alertsReadCmd = &cobra.Command{
	Use:   "read <alert-id>...",
	Short: "Mark alerts as read",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		for _, id := range args {
			if err := st.MarkAlertRead(ctx, id); err != nil {
				return eris.Wrap(err, "alerts read")
			}
		}
		fmt.Fprintf(os.Stdout, "Marked %d alert(s) read\n", len(args))
		return nil
	},
}

var alertsDismissCmd = &cobra.Command{
	Use:   "dismiss <alert-id>...",
	Short: "Dismiss alerts",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		for _, id := range args {
			if err := st.DismissAlert(ctx, id); err != nil {
				return eris.Wrap(err, "alerts dismiss")
			}
		}
		fmt.Fprintf(os.Stdout, "Dismissed %d alert(s)\n", len(args))
		return nil
	},
}

func alertFilterFromFlags(cmd *cobra.Command) (store.AlertFilter, error) {
	var filter store.AlertFilter
	severities, _ := cmd.Flags().GetStringSlice("severity")
	for _, s := range severities {
		sev := model.Severity(strings.ToLower(strings.TrimSpace(s)))
		if !sev.Valid() {
			return filter, eris.Errorf("unknown severity %q", s)
		}
		filter.Severities = append(filter.Severities, sev)
	}
	filter.UnreadOnly, _ = cmd.Flags().GetBool("unread")
	filter.IncludeDismissed, _ = cmd.Flags().GetBool("all")
	filter.Limit, _ = cmd.Flags().GetInt("limit")
	return filter, nil
}

func formatAlerts(w io.Writer, alerts []model.Alert) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSEVERITY\tTYPE\tREAD\tMESSAGE")
	for _, a := range alerts {
		read := ""
		if a.Read {
			read = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", a.ID, a.Severity, a.Type, read, a.Message)
	}
	_ = tw.Flush()
}

func init() {
	alertsListCmd.Flags().StringSlice("severity", nil, "only these severities (medium,high,critical)")
	alertsListCmd.Flags().Bool("unread", false, "only unread alerts")
	alertsListCmd.Flags().Bool("all", false, "include dismissed alerts")
	alertsListCmd.Flags().Int("limit", 0, "max alerts to list (default 1000)")
	alertsListCmd.Flags().Bool("json", false, "print JSON")

	alertsCmd.AddCommand(alertsListCmd, alertsReadCmd, alertsDismissCmd)
	rootCmd.AddCommand(alertsCmd)
}

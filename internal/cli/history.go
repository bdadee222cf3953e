package cli

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/yapay-ai/usage-sentinel/pkg/model"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Query and manage the alert history",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded alerts, newest first",
	RunE:  runHistoryList,
}

var historyAckCmd = &cobra.Command{
	Use:   "ack <alert-id>",
	Short: "Acknowledge an alert",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryAck,
}

var historyResolveCmd = &cobra.Command{
	Use:   "resolve <alert-id>",
	Short: "Mark an alert resolved",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryResolve,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyAckCmd)
	historyCmd.AddCommand(historyResolveCmd)

	historyListCmd.Flags().StringP("severity", "s", "", "Filter by severity (info, warning, critical)")
	historyListCmd.Flags().StringP("metric", "m", "", "Filter by metric name prefix")
	historyListCmd.Flags().String("since", "", "Only alerts after this time (RFC3339 or duration ago, e.g., 24h)")
	historyListCmd.Flags().String("until", "", "Only alerts before this time (RFC3339 or duration ago)")
	historyListCmd.Flags().IntP("limit", "n", 50, "Maximum rows")
}

// parseTimeFlag accepts either a duration ago (24h) or an RFC3339 timestamp.
func parseTimeFlag(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return time.Now().UTC().Add(-d), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: use RFC3339 or a duration like 24h", s)
	}
	return t, nil
}

func runHistoryList(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	severity, _ := cmd.Flags().GetString("severity")
	metricPrefix, _ := cmd.Flags().GetString("metric")
	sinceStr, _ := cmd.Flags().GetString("since")
	untilStr, _ := cmd.Flags().GetString("until")
	limit, _ := cmd.Flags().GetInt("limit")

	if severity != "" && !model.Severity(severity).Valid() {
		return fmt.Errorf("invalid severity %q: use info, warning, or critical", severity)
	}
	since, err := parseTimeFlag(sinceStr)
	if err != nil {
		return err
	}
	until, err := parseTimeFlag(untilStr)
	if err != nil {
		return err
	}

	store, err := initStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.Query(cmd.Context(), model.HistoryFilter{
		Severity:     model.Severity(severity),
		MetricPrefix: metricPrefix,
		Since:        since,
		Until:        until,
	}, limit)
	if err != nil {
		return fmt.Errorf("query history: %w", err)
	}

	if len(records) == 0 {
		fmt.Println("No alerts recorded.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "TIME\tSEVERITY\tMETRIC\tVALUE\tSTATUS\tDELIVERY\tID\n")
	for _, r := range records {
		status := "open"
		switch {
		case r.ResolvedAt != nil:
			status = "resolved"
		case r.Acknowledged:
			status = "acked"
		}
		delivery := "ok"
		if r.DeliveryFailed {
			delivery = "failed"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%s\t%s\t%s\n",
			r.Timestamp.Format("2006-01-02 15:04"),
			r.Severity, r.Metric, r.CurrentValue,
			status, delivery, r.ID,
		)
	}
	return w.Flush()
}

func runHistoryAck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := initStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Acknowledge(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("acknowledge %s: %w", args[0], err)
	}

	fmt.Printf("Acknowledged alert %s\n", args[0])
	return nil
}

func runHistoryResolve(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := initStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Resolve(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("resolve %s: %w", args[0], err)
	}

	fmt.Printf("Resolved alert %s\n", args[0])
	return nil
}

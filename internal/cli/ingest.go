package cli

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Push a single usage sample to a running daemon",
	Long: `Push one metric sample to the daemon for threshold evaluation. Useful for
scripted sources and for testing thresholds end to end.`,
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().StringP("metric", "m", "", "Metric name (e.g., daily_cost)")
	ingestCmd.Flags().Float64P("value", "v", 0, "Sample value")
	ingestCmd.Flags().String("timestamp", "", "Sample timestamp (RFC3339, default now)")
	ingestCmd.Flags().String("server", "", "Daemon base URL (default from config listen address)")
	_ = ingestCmd.MarkFlagRequired("metric")
	_ = ingestCmd.MarkFlagRequired("value")
}

func runIngest(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	metric, _ := cmd.Flags().GetString("metric")
	value, _ := cmd.Flags().GetFloat64("value")
	timestampStr, _ := cmd.Flags().GetString("timestamp")
	serverURL, _ := cmd.Flags().GetString("server")

	ts := time.Now().UTC()
	if timestampStr != "" {
		ts, err = time.Parse(time.RFC3339, timestampStr)
		if err != nil {
			return fmt.Errorf("parse timestamp %q: %w", timestampStr, err)
		}
	}

	client := newAPIClient(cfg, serverURL)
	req := map[string]any{
		"metric":    metric,
		"value":     value,
		"timestamp": ts,
	}
	var resp struct {
		Accepted int `json:"accepted"`
	}
	if err := client.do(cmd.Context(), http.MethodPost, "/api/v1/samples", req, &resp); err != nil {
		return err
	}

	fmt.Printf("Ingested %s=%.2f (accepted: %d)\n", metric, value, resp.Accepted)
	return nil
}

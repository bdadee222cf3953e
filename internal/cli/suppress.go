package cli

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/spf13/cobra"
)

var suppressCmd = &cobra.Command{
	Use:   "suppress",
	Short: "Manage alert suppressions on a running daemon",
}

var suppressAddCmd = &cobra.Command{
	Use:   "add <alert-key>",
	Short: "Suppress alerts for a key (e.g., daily_cost:daily)",
	Args:  cobra.ExactArgs(1),
	RunE:  runSuppressAdd,
}

var suppressClearCmd = &cobra.Command{
	Use:   "clear <alert-key>",
	Short: "Clear a suppression",
	Args:  cobra.ExactArgs(1),
	RunE:  runSuppressClear,
}

func init() {
	rootCmd.AddCommand(suppressCmd)
	suppressCmd.AddCommand(suppressAddCmd)
	suppressCmd.AddCommand(suppressClearCmd)

	suppressCmd.PersistentFlags().String("server", "", "Daemon base URL (default from config listen address)")
	suppressAddCmd.Flags().StringP("for", "f", "1h", "Suppression duration (e.g., 30m, 2h)")
}

func runSuppressAdd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	serverURL, _ := cmd.Flags().GetString("server")
	durationStr, _ := cmd.Flags().GetString("for")

	d, err := time.ParseDuration(durationStr)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", durationStr, err)
	}

	client := newAPIClient(cfg, serverURL)
	req := map[string]any{
		"alert_key":        args[0],
		"duration_seconds": int(d.Seconds()),
	}
	if err := client.do(cmd.Context(), http.MethodPost, "/api/v1/suppressions", req, nil); err != nil {
		return err
	}

	fmt.Printf("Suppressed %s for %s\n", args[0], d)
	return nil
}

func runSuppressClear(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	serverURL, _ := cmd.Flags().GetString("server")

	client := newAPIClient(cfg, serverURL)
	path := "/api/v1/suppressions/" + url.PathEscape(args[0])
	if err := client.do(cmd.Context(), http.MethodDelete, path, nil, nil); err != nil {
		return err
	}

	fmt.Printf("Cleared suppression for %s\n", args[0])
	return nil
}

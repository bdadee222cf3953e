package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/yapay-ai/usage-sentinel/pkg/model"
	"github.com/yapay-ai/usage-sentinel/pkg/threshold"
)

var thresholdCmd = &cobra.Command{
	Use:   "threshold",
	Short: "Manage alert thresholds",
	Long: `Manage the threshold rules file. The serve daemon loads the file at startup;
use the HTTP API to change thresholds on a running daemon.`,
}

var thresholdSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Add or update a threshold",
	RunE:  runThresholdSet,
}

var thresholdListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured thresholds",
	RunE:  runThresholdList,
}

var thresholdRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a threshold by id (metric:scope)",
	Args:  cobra.ExactArgs(1),
	RunE:  runThresholdRemove,
}

func init() {
	rootCmd.AddCommand(thresholdCmd)
	thresholdCmd.AddCommand(thresholdSetCmd)
	thresholdCmd.AddCommand(thresholdListCmd)
	thresholdCmd.AddCommand(thresholdRemoveCmd)

	thresholdSetCmd.Flags().StringP("metric", "m", "", "Metric name (e.g., daily_cost)")
	thresholdSetCmd.Flags().StringP("scope", "s", "daily", "Scope (daily, weekly, monthly)")
	thresholdSetCmd.Flags().String("mode", "absolute", "Comparison mode (absolute, percentage)")
	thresholdSetCmd.Flags().Float64P("warning", "w", 0, "Warning bound (0 disables)")
	thresholdSetCmd.Flags().Float64P("critical", "c", 0, "Critical bound (0 disables)")
	thresholdSetCmd.Flags().Float64P("budget", "b", 0, "Period budget for percentage mode")
	_ = thresholdSetCmd.MarkFlagRequired("metric")
}

// loadRulesFile reads the configured rules file, tolerating a missing file.
func loadRulesFile(path string) ([]threshold.Rule, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	return threshold.LoadRules(path)
}

func runThresholdSet(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	metric, _ := cmd.Flags().GetString("metric")
	scope, _ := cmd.Flags().GetString("scope")
	mode, _ := cmd.Flags().GetString("mode")
	warning, _ := cmd.Flags().GetFloat64("warning")
	critical, _ := cmd.Flags().GetFloat64("critical")
	budget, _ := cmd.Flags().GetFloat64("budget")

	// Validate via a scratch registry before touching the file.
	scratch := threshold.NewRegistry()
	th, err := scratch.Configure(metric, model.Scope(scope), model.ComparisonMode(mode), warning, critical, budget)
	if err != nil {
		return err
	}

	rules, err := loadRulesFile(cfg.Thresholds.File)
	if err != nil {
		return err
	}

	updated := false
	rule := threshold.Rule{Metric: metric, Scope: scope, Mode: mode, Warning: warning, Critical: critical, Budget: budget}
	for i, r := range rules {
		if r.Metric == metric && r.Scope == scope {
			rules[i] = rule
			updated = true
			break
		}
	}
	if !updated {
		rules = append(rules, rule)
	}

	if err := threshold.SaveRules(cfg.Thresholds.File, rules); err != nil {
		return err
	}

	action := "added"
	if updated {
		action = "updated"
	}
	fmt.Printf("Threshold %s:\n", action)
	fmt.Printf("  ID:       %s\n", th.ID)
	fmt.Printf("  Metric:   %s\n", th.Metric)
	fmt.Printf("  Scope:    %s\n", th.Scope)
	fmt.Printf("  Mode:     %s\n", th.ComparisonMode)
	fmt.Printf("  Warning:  %.2f\n", th.WarningValue)
	fmt.Printf("  Critical: %.2f\n", th.CriticalValue)
	if th.PeriodBudget > 0 {
		fmt.Printf("  Budget:   %.2f\n", th.PeriodBudget)
	}
	fmt.Printf("  File:     %s\n", cfg.Thresholds.File)

	return nil
}

func runThresholdList(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	rules, err := loadRulesFile(cfg.Thresholds.File)
	if err != nil {
		return err
	}
	if len(rules) == 0 {
		fmt.Printf("No thresholds configured in %s\n", cfg.Thresholds.File)
		return nil
	}

	registry := threshold.NewRegistry()
	if err := registry.ApplyRules(rules); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID\tMETRIC\tSCOPE\tMODE\tWARNING\tCRITICAL\tBUDGET\n")
	for _, th := range registry.List() {
		budget := "-"
		if th.PeriodBudget > 0 {
			budget = fmt.Sprintf("%.2f", th.PeriodBudget)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.2f\t%.2f\t%s\n",
			th.ID, th.Metric, th.Scope, th.ComparisonMode,
			th.WarningValue, th.CriticalValue, budget,
		)
	}
	return w.Flush()
}

func runThresholdRemove(_ *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	rules, err := loadRulesFile(cfg.Thresholds.File)
	if err != nil {
		return err
	}

	kept := rules[:0]
	removed := false
	for _, r := range rules {
		if model.ThresholdID(r.Metric, model.Scope(r.Scope)) == args[0] {
			removed = true
			continue
		}
		kept = append(kept, r)
	}
	if !removed {
		return fmt.Errorf("threshold %s not found in %s", args[0], cfg.Thresholds.File)
	}

	if err := threshold.SaveRules(cfg.Thresholds.File, kept); err != nil {
		return err
	}

	fmt.Printf("Removed threshold %s\n", args[0])
	return nil
}

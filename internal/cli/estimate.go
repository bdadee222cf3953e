package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/yapay-ai/usage-sentinel/pkg/model"
	"github.com/yapay-ai/usage-sentinel/pkg/threshold"
	"github.com/yapay-ai/usage-sentinel/pkg/tokenizer"
)

var estimateCmd = &cobra.Command{
	Use:   "estimate",
	Short: "Estimate tokens and cost for a prompt",
	Long: `Count tokens for a prompt file (or stdin) and estimate its cost, then preview
the configured thresholds as if the estimate were the period's usage. Cost
thresholds are checked against the estimated cost, token thresholds against
the token count.`,
	RunE: runEstimate,
}

func init() {
	rootCmd.AddCommand(estimateCmd)

	estimateCmd.Flags().StringP("file", "f", "", "Prompt file (default: read stdin)")
	estimateCmd.Flags().StringP("encoding", "e", tokenizer.EncodingO200k, "Tokenizer encoding (o200k_base, cl100k_base, approx)")
	estimateCmd.Flags().Float64("cost-per-1k", 0.015, "Cost per 1000 tokens in dollars")
	estimateCmd.Flags().IntP("runs", "r", 1, "Multiply the estimate by this many runs")
}

func runEstimate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	file, _ := cmd.Flags().GetString("file")
	encoding, _ := cmd.Flags().GetString("encoding")
	costPer1K, _ := cmd.Flags().GetFloat64("cost-per-1k")
	runs, _ := cmd.Flags().GetInt("runs")
	if runs < 1 {
		runs = 1
	}

	var text []byte
	if file != "" {
		text, err = os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("read prompt file: %w", err)
		}
	} else {
		text, err = io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
	}

	count, err := tokenizer.Count(string(text), encoding)
	if err != nil {
		return err
	}

	tokens := count * int64(runs)
	cost := float64(tokens) / 1000 * costPer1K

	fmt.Printf("Tokens:    %d", tokens)
	if runs > 1 {
		fmt.Printf(" (%d per run x %d runs)", count, runs)
	}
	fmt.Println()
	fmt.Printf("Encoding:  %s\n", encoding)
	fmt.Printf("Est. cost: $%.4f\n", cost)

	rules, err := loadRulesFile(cfg.Thresholds.File)
	if err != nil || len(rules) == 0 {
		return err
	}
	registry := threshold.NewRegistry()
	if err := registry.ApplyRules(rules); err != nil {
		return err
	}

	fmt.Printf("\nThreshold preview:\n")
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID\tMODE\tWARNING\tCRITICAL\tPROJECTED\tSTATUS\n")
	for _, th := range registry.List() {
		var value float64
		switch {
		case strings.HasSuffix(th.Metric, "_cost"):
			value = cost
		case strings.HasSuffix(th.Metric, "_tokens"):
			value = float64(tokens)
		default:
			continue
		}

		unit := ""
		if th.ComparisonMode == model.ComparePercentage && th.PeriodBudget > 0 {
			value = value / th.PeriodBudget * 100
			unit = "%"
		}

		status := "ok"
		switch {
		case th.CriticalValue > 0 && value >= th.CriticalValue:
			status = "critical"
		case th.WarningValue > 0 && value >= th.WarningValue:
			status = "warning"
		}

		fmt.Fprintf(w, "%s\t%s\t%.2f%s\t%.2f%s\t%.2f%s\t%s\n",
			th.ID, th.ComparisonMode,
			th.WarningValue, unit, th.CriticalValue, unit, value, unit,
			status,
		)
	}
	return w.Flush()
}

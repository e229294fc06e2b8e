package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	usageSince    string
	usageDetailed bool
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show AI token usage",
	Long: `Show aggregated verification token usage for cost monitoring.

Examples:
  a11ypipe usage
  a11ypipe usage --since 7d
  a11ypipe usage --detailed`,
	RunE: runUsage,
}

func init() {
	usageCmd.Flags().StringVar(&usageSince, "since", "24h", "time period (e.g., '24h', '7d', '30d')")
	usageCmd.Flags().BoolVar(&usageDetailed, "detailed", false, "show per-model breakdown")
}

func runUsage(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	var since time.Time
	switch usageSince {
	case "24h":
		since = time.Now().Add(-24 * time.Hour)
	case "7d":
		since = time.Now().Add(-7 * 24 * time.Hour)
	case "30d":
		since = time.Now().Add(-30 * 24 * time.Hour)
	default:
		d, err := time.ParseDuration(usageSince)
		if err != nil {
			return fmt.Errorf("invalid duration: %s", usageSince)
		}
		since = time.Now().Add(-d)
	}

	totals, err := dbClient.QueryUsageSince(ctx, since)
	if err != nil {
		return fmt.Errorf("get token usage: %w", err)
	}

	fmt.Printf("Token Usage (since %s)\n", usageSince)
	fmt.Printf("═══════════════════════════════════════\n\n")
	fmt.Printf("Calls:         %d\n", totals.Calls)
	fmt.Printf("Input tokens:  %d\n", totals.InputTokens)
	fmt.Printf("Output tokens: %d\n", totals.OutputTokens)
	fmt.Printf("Total tokens:  %d\n", totals.InputTokens+totals.OutputTokens)

	if !usageDetailed {
		return nil
	}

	byModel, err := dbClient.QueryUsageByModel(ctx, since)
	if err != nil {
		return fmt.Errorf("get usage by model: %w", err)
	}
	if len(byModel) == 0 {
		return nil
	}

	total := totals.InputTokens + totals.OutputTokens
	fmt.Printf("\nBy Model:\n")
	for _, m := range byModel {
		tokens := m.InputTokens + m.OutputTokens
		pct := 0.0
		if total > 0 {
			pct = float64(tokens) / float64(total) * 100
		}
		fmt.Printf("  %-25s %10d (%5.1f%%), %d calls\n", m.Model, tokens, pct, m.Calls)
	}

	return nil
}

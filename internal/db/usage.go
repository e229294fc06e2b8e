package db

import (
	"context"
	"fmt"
	"time"

	"github.com/surrealdb/surrealdb.go"
)

// UsageTotals aggregates token usage over a period.
type UsageTotals struct {
	Calls        int `json:"calls"`
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ModelUsage is per-model aggregated token usage.
type ModelUsage struct {
	Model        string `json:"model"`
	Calls        int    `json:"calls"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

// RecordTokenUsage appends one AI-call usage row.
func (c *Client) RecordTokenUsage(
	ctx context.Context,
	scanID, operation, model string,
	inputTokens, outputTokens int,
) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		CREATE token_usage SET
			scan_id = $scan_id,
			operation = $operation,
			model = $model,
			input_tokens = $input_tokens,
			output_tokens = $output_tokens
	`, map[string]any{
		"scan_id":       scanID,
		"operation":     operation,
		"model":         model,
		"input_tokens":  inputTokens,
		"output_tokens": outputTokens,
	})
	if err != nil {
		return fmt.Errorf("record token usage: %w", wrapQueryError(err))
	}
	return nil
}

// QueryUsageSince returns aggregate token usage since the given time.
func (c *Client) QueryUsageSince(ctx context.Context, since time.Time) (UsageTotals, error) {
	results, err := surrealdb.Query[[]UsageTotals](ctx, c.db, `
		SELECT
			count() AS calls,
			math::sum(input_tokens) AS input_tokens,
			math::sum(output_tokens) AS output_tokens
		FROM token_usage
		WHERE created >= $since
		GROUP ALL
	`, map[string]any{"since": since})
	if err != nil {
		return UsageTotals{}, fmt.Errorf("query usage: %w", err)
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return UsageTotals{}, nil
	}
	return (*results)[0].Result[0], nil
}

// QueryUsageByModel returns per-model aggregated usage since the given time,
// for cost estimation.
func (c *Client) QueryUsageByModel(ctx context.Context, since time.Time) ([]ModelUsage, error) {
	results, err := surrealdb.Query[[]ModelUsage](ctx, c.db, `
		SELECT
			model,
			count() AS calls,
			math::sum(input_tokens) AS input_tokens,
			math::sum(output_tokens) AS output_tokens
		FROM token_usage
		WHERE created >= $since
		GROUP BY model
	`, map[string]any{"since": since})
	if err != nil {
		return nil, fmt.Errorf("query usage by model: %w", err)
	}

	if results == nil || len(*results) == 0 {
		return []ModelUsage{}, nil
	}
	return (*results)[0].Result, nil
}

package usage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nugget/quill/internal/tools"
)

// ToolName is the usage reporting tool.
const ToolName = "cost_summary"

// Provider exposes the store as the cost_summary tool. A nil store
// contributes no tools.
func Provider(store *Store) tools.Provider {
	return tools.ProviderFunc{
		ProviderName: "usage",
		Fn: func(context.Context) ([]*tools.Tool, error) {
			if store == nil {
				return nil, nil
			}
			return []*tools.Tool{costSummaryTool(store)}, nil
		},
	}
}

func costSummaryTool(store *Store) *tools.Tool {
	return &tools.Tool{
		Name:        ToolName,
		Description: "Report Quill's own token usage and estimated model cost for a period, optionally broken down by model, provider, conversation, research request, or source.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"period": map[string]any{
					"type":        "string",
					"enum":        Periods,
					"description": "Time period to summarize.",
				},
				"group_by": map[string]any{
					"type":        "string",
					"enum":        GroupNames(),
					"description": "Optional breakdown.",
				},
			},
			"required": []string{"period"},
		},
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			period := tools.StringArg(args, "period")
			if period == "" {
				period = "today"
			}
			return CostReport(store, period, tools.StringArg(args, "group_by"), time.Now())
		},
	}
}

// CostReport renders a text summary of usage for period.
func CostReport(store *Store, period, groupBy string, now time.Time) (string, error) {
	start, end := ParsePeriod(period, now)

	summary, err := store.Summary(start, end)
	if err != nil {
		return "", fmt.Errorf("query usage summary: %w", err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Cost Summary (%s):\n", period)
	fmt.Fprintf(&sb, "  Research requests: %d\n", summary.ResearchRequests)
	fmt.Fprintf(&sb, "  Model calls: %d (%.1f per request)\n", summary.TotalRecords, summary.CallsPerRequest())
	fmt.Fprintf(&sb, "  Input tokens: %s\n", FormatTokenCount(summary.TotalInputTokens))
	fmt.Fprintf(&sb, "  Output tokens: %s\n", FormatTokenCount(summary.TotalOutputTokens))
	fmt.Fprintf(&sb, "  Estimated cost: $%.4f\n", summary.TotalCostUSD)
	if summary.EstimatedRecords > 0 {
		fmt.Fprintf(&sb, "  Locally estimated calls: %d\n", summary.EstimatedRecords)
	}

	if groupBy == "" {
		return sb.String(), nil
	}
	grouped, err := store.Grouped(groupBy, start, end)
	if err != nil {
		return "", err
	}
	if len(grouped) == 0 {
		return sb.String(), nil
	}

	keys := make([]string, 0, len(grouped))
	for k := range grouped {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Fprintf(&sb, "\nBy %s:\n", groupBy)
	for _, key := range keys {
		sum := grouped[key]
		display := key
		if display == "" {
			display = "(none)"
		}
		fmt.Fprintf(&sb, "  %s: $%.4f (%d calls, %s in / %s out)\n",
			display, sum.TotalCostUSD, sum.TotalRecords,
			FormatTokenCount(sum.TotalInputTokens),
			FormatTokenCount(sum.TotalOutputTokens),
		)
	}
	return sb.String(), nil
}

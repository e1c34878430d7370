package output

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/llmgate/llmgate/internal/core"
)

// TableFormatter renders results as an ASCII table.
type TableFormatter struct{}

func (f *TableFormatter) FormatProviders(reports []core.ProviderReport) (string, error) {
	return providerTable(reports).Render(), nil
}

func (f *TableFormatter) FormatThrottleEvents(events []core.ThrottleEvent) (string, error) {
	return throttleTable(events).Render(), nil
}

func providerTable(reports []core.ProviderReport) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Provider", "Status", "Enabled", "RPM", "Tokens", "Requests", "Failures", "Avg", "P95", "Last Error"})

	var healthy int
	for _, r := range reports {
		if r.Status == core.StatusHealthy {
			healthy++
		}
		t.AppendRow(table.Row{
			r.Provider,
			string(r.Status),
			enabledLabel(r.Enabled),
			fmt.Sprintf("%d/%d", r.RateLimit.WindowCount, r.RateLimit.RPM),
			formatTokens(r.RateLimit),
			r.Metrics.TotalRequests,
			formatRate(r.Metrics.FailureRate),
			formatLatency(r.Metrics.AvgLatencyMs),
			formatLatency(r.Metrics.P95LatencyMs),
			lastErrorNote(r.Metrics),
		})
	}
	if len(reports) > 0 {
		t.AppendFooter(table.Row{"", fmt.Sprintf("%d/%d healthy", healthy, len(reports))})
	}
	return t
}

func throttleTable(events []core.ThrottleEvent) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Time", "Provider", "Action", "RPM", "Burst", "429s"})
	for _, e := range events {
		count := ""
		if e.RateLimitCount > 0 {
			count = fmt.Sprintf("%d", e.RateLimitCount)
		}
		t.AppendRow(table.Row{
			e.CreatedAt.UTC().Format(time.RFC3339),
			e.Provider,
			string(e.Action),
			fmt.Sprintf("%d -> %d", e.OldRPM, e.NewRPM),
			fmt.Sprintf("%d -> %d", e.OldBurst, e.NewBurst),
			count,
		})
	}
	return t
}

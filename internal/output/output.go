package output

import (
	"fmt"
	"strings"

	"github.com/llmgate/llmgate/internal/core"
)

// Format represents an output format.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// Formatter renders provider status and throttle history.
type Formatter interface {
	FormatProviders(reports []core.ProviderReport) (string, error)
	FormatThrottleEvents(events []core.ThrottleEvent) (string, error)
}

// ParseFormat validates and normalizes a format string.
func ParseFormat(value string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case string(FormatMarkdown), "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", value)
	}
}

// NewFormatter returns a formatter for the requested format.
func NewFormatter(format Format) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{Indent: true}
	case FormatMarkdown:
		return &MarkdownFormatter{}
	default:
		return &TableFormatter{}
	}
}

func formatLatency(ms float64) string {
	if ms <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.0fms", ms)
}

func formatRate(rate float64) string {
	return fmt.Sprintf("%.1f%%", rate*100)
}

func formatTokens(state core.RateLimitState) string {
	if state.TokensPerMinute <= 0 {
		return "unlimited"
	}
	return fmt.Sprintf("%d/%d", state.TokensConsumed, state.TokensPerMinute)
}

func enabledLabel(enabled bool) string {
	if enabled {
		return "yes"
	}
	return "no"
}

func lastErrorNote(m core.ProviderMetrics) string {
	msg := strings.TrimSpace(m.LastError)
	if msg == "" {
		return ""
	}
	const max = 60
	if len(msg) > max {
		msg = msg[:max-3] + "..."
	}
	return msg
}

package output

import (
	"github.com/llmgate/llmgate/internal/core"
)

// MarkdownFormatter renders results as GitHub-flavored markdown tables.
type MarkdownFormatter struct{}

func (f *MarkdownFormatter) FormatProviders(reports []core.ProviderReport) (string, error) {
	return providerTable(reports).RenderMarkdown(), nil
}

func (f *MarkdownFormatter) FormatThrottleEvents(events []core.ThrottleEvent) (string, error) {
	return throttleTable(events).RenderMarkdown(), nil
}

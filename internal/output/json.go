package output

import (
	"encoding/json"

	"github.com/llmgate/llmgate/internal/core"
)

// JSONFormatter renders results as JSON.
type JSONFormatter struct {
	Indent bool
}

func (f *JSONFormatter) FormatProviders(reports []core.ProviderReport) (string, error) {
	if reports == nil {
		reports = []core.ProviderReport{}
	}
	return f.marshal(reports)
}

func (f *JSONFormatter) FormatThrottleEvents(events []core.ThrottleEvent) (string, error) {
	if events == nil {
		events = []core.ThrottleEvent{}
	}
	return f.marshal(events)
}

func (f *JSONFormatter) marshal(v any) (string, error) {
	var (
		data []byte
		err  error
	)

	if f.Indent {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return "", err
	}

	return string(data), nil
}

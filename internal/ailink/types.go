package ailink

// ProviderFailure is a caller-facing description of a failed provider call.
type ProviderFailure struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Package appid holds the static identity of the llmgate binary: its name,
// environment prefix and config directory name.
package appid

import (
	"os"
	"strings"
)

// Identity describes how the binary names itself to users and operators.
type Identity struct {
	Vendor      string
	BinaryName  string
	EnvPrefix   string
	ConfigName  string
	Description string
}

// EnvBinaryName overrides the binary name, e.g. when running under a wrapper.
const EnvBinaryName = "LLMGATE_BINARY_NAME"

var defaultIdentity = Identity{
	Vendor:      "llmgate",
	BinaryName:  "llmgate",
	EnvPrefix:   "LLMGATE_",
	ConfigName:  "llmgate",
	Description: "LLM request admission and provider fallback gateway",
}

// Get returns the process identity.
func Get() *Identity {
	identity := defaultIdentity
	if name := strings.TrimSpace(os.Getenv(EnvBinaryName)); name != "" {
		identity.BinaryName = name
	}
	return &identity
}

// TelemetryNamespace is the Prometheus namespace for the binary's metrics.
func (i *Identity) TelemetryNamespace() string {
	if i == nil || strings.TrimSpace(i.BinaryName) == "" {
		return defaultIdentity.BinaryName
	}
	return strings.ReplaceAll(strings.ToLower(i.BinaryName), "-", "_")
}

// EnvVar returns the prefixed environment variable name for suffix.
func (i *Identity) EnvVar(suffix string) string {
	prefix := defaultIdentity.EnvPrefix
	if i != nil && i.EnvPrefix != "" {
		prefix = i.EnvPrefix
	}
	if !strings.HasSuffix(prefix, "_") {
		prefix += "_"
	}
	return prefix + strings.ToUpper(suffix)
}

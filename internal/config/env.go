package config

import (
	"os"
	"strconv"
	"strings"
)

// envValue converts a raw environment value for one config field.
type envValue func(string) any

func envText(v string) any  { return v }
func envLower(v string) any { return strings.ToLower(v) }
func envFlag(v string) any  { return strings.EqualFold(v, "true") }

// envNumber keeps unparsable input as text so validation reports it.
func envNumber(v string) any {
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return v
}

type envField struct {
	key     string
	convert envValue
}

// Field suffixes accepted after LLMGATE_AILINK_PROVIDERS_<ID>_.
var providerEnvFields = map[string]envField{
	"ENABLED":            {"enabled", envFlag},
	"MODEL":              {"model", envText},
	"TIMEOUT":            {"timeout", envText},
	"AI_PROVIDER":        {"ai_provider", envLower},
	"BASE_URL":           {"base_url", envText},
	"DEFAULT_CREDENTIAL": {"default_credential", envText},
	"SELECTION_POLICY":   {"selection_policy", envLower},
	"RPM_LIMIT":          {"rpm_limit", envNumber},
	"TPM_LIMIT":          {"tpm_limit", envNumber},
}

// Field suffixes accepted after LLMGATE_AILINK_PROVIDERS_<ID>_CREDENTIALS_<N>_.
var credentialEnvFields = map[string]envField{
	"ENABLED":     {"enabled", envFlag},
	"PRIORITY":    {"priority", envNumber},
	"LABEL":       {"label", envText},
	"API_KEY":     {"api_key", envText},
	"API_KEY_ENV": {"api_key_env", envText},
}

var rateLimitEnvFields = map[string]envField{
	"RPM":               {"rpm", envNumber},
	"BURST":             {"burst", envNumber},
	"TOKENS_PER_MINUTE": {"tokens_per_minute", envNumber},
}

var agentEnvFields = map[string]envField{
	"PRIMARY":   {"primary", envText},
	"FALLBACKS": {"fallbacks", envText},
}

// applyDynamicEnvOverrides maps the map-keyed sections that fixed env specs
// cannot express: LLMGATE_AILINK_PROVIDERS_<ID>_<FIELD>,
// LLMGATE_RATE_LIMITS_<ID>_<FIELD> and LLMGATE_AGENTS_<NAME>_<FIELD>. Ids
// are lowercased with underscores turned into dashes.
func applyDynamicEnvOverrides(prefix string, overrides map[string]any) {
	if !strings.HasSuffix(prefix, "_") {
		prefix += "_"
	}
	for _, item := range os.Environ() {
		key, value, ok := strings.Cut(item, "=")
		value = strings.TrimSpace(value)
		if !ok || value == "" || !strings.HasPrefix(key, prefix) {
			continue
		}
		key = key[len(prefix):]

		switch {
		case strings.HasPrefix(key, "AILINK_PROVIDERS_"):
			applyProviderOverride(overrides, strings.TrimPrefix(key, "AILINK_PROVIDERS_"), value)
		case strings.HasPrefix(key, "RATE_LIMITS_"):
			if id, field := splitSection(strings.TrimPrefix(key, "RATE_LIMITS_"), "RPM", "BURST", "TOKENS"); id != "" {
				setEnvField(ensureMap(ensureMap(overrides, "rate_limits"), id), rateLimitEnvFields, field, value)
			}
		case strings.HasPrefix(key, "AGENTS_"):
			if name, field := splitSection(strings.TrimPrefix(key, "AGENTS_"), "PRIMARY", "FALLBACKS"); name != "" {
				setEnvField(ensureMap(ensureMap(overrides, "agents"), name), agentEnvFields, field, value)
			}
		}
	}
}

// splitSection splits raw at the first token that starts a known field and
// returns the slug before it and the field suffix. An empty slug means no
// field marker was found.
func splitSection(raw string, markers ...string) (slug, field string) {
	parts := strings.Split(strings.TrimSpace(raw), "_")
	for i := 1; i < len(parts); i++ {
		for _, marker := range markers {
			if parts[i] == marker {
				return strings.ToLower(strings.Join(parts[:i], "-")), strings.Join(parts[i:], "_")
			}
		}
	}
	return "", ""
}

func applyProviderOverride(overrides map[string]any, raw, value string) {
	id, field := splitSection(raw, "ENABLED", "AI", "BASE", "MODEL", "TIMEOUT", "RPM", "TPM", "SELECTION", "DEFAULT", "CREDENTIALS")
	if id == "" {
		return
	}
	provider := ensureMap(ensureMap(ensureMap(overrides, "ailink"), "providers"), id)

	rest, isCredential := strings.CutPrefix(field, "CREDENTIALS_")
	if !isCredential {
		setEnvField(provider, providerEnvFields, field, value)
		return
	}
	index, credField, ok := strings.Cut(rest, "_")
	idx, err := strconv.Atoi(index)
	if !ok || err != nil || idx < 0 {
		return
	}
	creds := ensureSlice(provider, "credentials", idx+1)
	setEnvField(ensureSliceMap(creds, idx), credentialEnvFields, credField, value)
}

func setEnvField(target map[string]any, fields map[string]envField, field, value string) {
	if spec, ok := fields[field]; ok && target != nil {
		target[spec.key] = spec.convert(value)
	}
}

// mergeMaps deep-merges src into dst. Nested maps merge; other values replace.
func mergeMaps(dst, src map[string]any) {
	for key, value := range src {
		if srcMap, ok := value.(map[string]any); ok {
			if dstMap, ok := dst[key].(map[string]any); ok {
				mergeMaps(dstMap, srcMap)
				continue
			}
		}
		dst[key] = value
	}
}

func ensureMap(parent map[string]any, key string) map[string]any {
	if existing, ok := parent[key].(map[string]any); ok {
		return existing
	}
	next := map[string]any{}
	if parent != nil {
		parent[key] = next
	}
	return next
}

func ensureSlice(parent map[string]any, key string, length int) []any {
	existing, _ := parent[key].([]any)
	for len(existing) < length {
		existing = append(existing, map[string]any{})
	}
	parent[key] = existing
	return existing
}

func ensureSliceMap(slice []any, idx int) map[string]any {
	if idx < 0 || idx >= len(slice) {
		return nil
	}
	if typed, ok := slice[idx].(map[string]any); ok {
		return typed
	}
	m := map[string]any{}
	slice[idx] = m
	return m
}

package ailink

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/llmgate/llmgate/internal/ailink/driver"
	"github.com/llmgate/llmgate/internal/ailink/driver/anthropic"
	"github.com/llmgate/llmgate/internal/ailink/driver/compat"
	"github.com/llmgate/llmgate/internal/ailink/driver/openai"
)

const policyRoundRobin = "round_robin"

// driverFactories builds a driver per ai_provider type.
var driverFactories = map[string]func(providerID, baseURL, apiKey string) driver.Driver{
	ProviderTypeOpenAI: func(_, baseURL, apiKey string) driver.Driver {
		return openai.NewClient(baseURL, apiKey)
	},
	ProviderTypeAnthropic: func(_, baseURL, apiKey string) driver.Driver {
		return anthropic.NewClient(baseURL, apiKey)
	},
	ProviderTypeOpenAICompat: func(providerID, baseURL, apiKey string) driver.Driver {
		client := compat.NewClient(baseURL, apiKey)
		client.ProviderID = providerID
		return client
	},
}

// Registry resolves provider ids to drivers. Drivers are cached per
// provider and credential; the cache lives as long as the registry, so a
// config reload swaps in a new Registry.
type Registry struct {
	cfg Config

	mu      sync.Mutex
	drivers map[string]driver.Driver
	rr      map[string]int
}

// ResolvedProvider is a provider ready to be called.
type ResolvedProvider struct {
	ProviderID string
	Provider   ProviderInstanceConfig
	Credential CredentialConfig
	Driver     driver.Driver
	Model      string
	Timeout    time.Duration
}

func NewRegistry(cfg Config) *Registry {
	return &Registry{cfg: cfg, drivers: map[string]driver.Driver{}, rr: map[string]int{}}
}

// Resolve picks a credential and driver for providerID. Ids are matched
// case-insensitively.
func (r *Registry) Resolve(providerID string) (*ResolvedProvider, error) {
	if r == nil {
		return nil, fmt.Errorf("ailink registry not configured")
	}
	id := strings.ToLower(strings.TrimSpace(providerID))
	provider, ok := r.cfg.Providers[id]
	switch {
	case !ok:
		return nil, fmt.Errorf("unknown provider %q", id)
	case !provider.Enabled:
		return nil, fmt.Errorf("provider %q is disabled", id)
	case strings.TrimSpace(provider.Model) == "":
		return nil, fmt.Errorf("model not configured for provider %q", id)
	}

	cred, credKey, err := selectCredential(provider, func(group string, n int) int {
		return r.rrIndex(id+":"+group, n)
	})
	if err != nil {
		return nil, fmt.Errorf("provider %q: %w", id, err)
	}
	drv, err := r.driverFor(id, provider, cred, credKey)
	if err != nil {
		return nil, err
	}

	timeout := provider.Timeout
	if timeout <= 0 {
		timeout = r.cfg.DefaultTimeout
	}
	return &ResolvedProvider{
		ProviderID: id,
		Provider:   provider,
		Credential: cred,
		Driver:     drv,
		Model:      strings.TrimSpace(provider.Model),
		Timeout:    timeout,
	}, nil
}

// selectCredential returns the credential to use and a stable key for driver
// caching. A matching default_credential wins; otherwise the highest
// priority group is used, rotated when the policy is round_robin.
// openai_compat providers may run without credentials.
func selectCredential(cfg ProviderInstanceConfig, rrNext func(group string, n int) int) (CredentialConfig, string, error) {
	if len(cfg.Credentials) == 0 {
		if strings.EqualFold(strings.TrimSpace(cfg.AIProvider), ProviderTypeOpenAICompat) {
			return CredentialConfig{}, "", nil
		}
		return CredentialConfig{}, "", fmt.Errorf("no credentials configured")
	}

	var usable []CredentialConfig
	for _, cred := range cfg.Credentials {
		if cred.usable() {
			usable = append(usable, cred)
		}
	}
	if len(usable) == 0 {
		// Hand back the first entry so the driver reports the missing key.
		first := cfg.Credentials[0]
		return first, labelOr(first, "0"), nil
	}

	if want := strings.TrimSpace(cfg.DefaultCredential); want != "" {
		for _, cred := range usable {
			if strings.EqualFold(strings.TrimSpace(cred.Label), want) {
				return cred, strings.TrimSpace(cred.Label), nil
			}
		}
	}

	top := usable[0].Priority
	for _, cred := range usable {
		top = max(top, cred.Priority)
	}
	var group []CredentialConfig
	for _, cred := range usable {
		if cred.Priority == top {
			group = append(group, cred)
		}
	}

	groupKey := "p" + strconv.Itoa(top)
	roundRobin := strings.EqualFold(strings.TrimSpace(cfg.SelectionPolicy), policyRoundRobin)
	if !roundRobin || rrNext == nil {
		return group[0], labelOr(group[0], groupKey), nil
	}
	cred := group[rrNext(strconv.Itoa(top), len(group))]
	// Unlabelled keys in one priority group still need distinct drivers.
	return cred, labelOr(cred, groupKey+":"+fingerprint(cred.ResolveKey())), nil
}

func labelOr(cred CredentialConfig, fallback string) string {
	if label := strings.TrimSpace(cred.Label); label != "" {
		return label
	}
	return fallback
}

func (r *Registry) driverFor(providerID string, provider ProviderInstanceConfig, cred CredentialConfig, credKey string) (driver.Driver, error) {
	cacheKey := providerID
	if credKey != "" {
		cacheKey += ":" + credKey
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if drv, ok := r.drivers[cacheKey]; ok {
		return drv, nil
	}

	providerType := strings.ToLower(strings.TrimSpace(provider.AIProvider))
	build, ok := driverFactories[providerType]
	if !ok {
		if providerType == "" {
			providerType = "(unset)"
		}
		return nil, fmt.Errorf("unsupported ai_provider %q for provider %q", providerType, providerID)
	}
	drv := build(providerID, provider.BaseURL, cred.ResolveKey())
	r.drivers[cacheKey] = drv
	return drv, nil
}

// rrIndex returns the next rotation index for key in [0, n).
func (r *Registry) rrIndex(key string, n int) int {
	if r == nil || n <= 1 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.rr[key] % n
	r.rr[key]++
	return idx
}

func fingerprint(key string) string {
	if len(key) <= 4 {
		return key
	}
	return key[len(key)-4:]
}

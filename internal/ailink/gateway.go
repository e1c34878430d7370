package ailink

import (
	"context"
	"fmt"
	"sync"

	"github.com/llmgate/llmgate/internal/ailink/driver"
	"github.com/llmgate/llmgate/internal/core"
)

// Gateway makes single provider calls on behalf of the orchestrator.
// Configure swaps the provider set without disturbing in-flight calls.
type Gateway struct {
	mu       sync.RWMutex
	registry *Registry
}

// NewGateway returns a gateway for cfg.
func NewGateway(cfg Config) *Gateway {
	return &Gateway{registry: NewRegistry(cfg)}
}

// Configure replaces the provider configuration. Cached drivers are dropped.
func (g *Gateway) Configure(cfg Config) {
	if g == nil {
		return
	}
	registry := NewRegistry(cfg)
	g.mu.Lock()
	g.registry = registry
	g.mu.Unlock()
}

// Call sends req to provider, bounded by the provider's timeout.
func (g *Gateway) Call(ctx context.Context, provider string, req core.CompletionRequest) (*core.ProviderReply, error) {
	if g == nil {
		return nil, fmt.Errorf("ailink gateway not configured")
	}
	g.mu.RLock()
	registry := g.registry
	g.mu.RUnlock()

	resolved, err := registry.Resolve(provider)
	if err != nil {
		return nil, err
	}

	if resolved.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, resolved.Timeout)
		defer cancel()
	}

	driverReq := &driver.Request{
		Model:        resolved.Model,
		SystemPrompt: req.SystemPrompt,
		UserPrompt:   req.UserPrompt,
		Temperature:  req.Temperature,
	}
	if req.MaxTokens > 0 {
		maxTokens := req.MaxTokens
		driverReq.MaxTokens = &maxTokens
	}

	resp, err := resolved.Driver.Complete(ctx, driverReq)
	if err != nil {
		return nil, err
	}

	reply := &core.ProviderReply{
		Content:      resp.Content,
		FinishReason: resp.FinishReason,
		Model:        resp.Model,
	}
	if reply.Model == "" {
		reply.Model = resolved.Model
	}
	if resp.Usage != nil {
		reply.TokensInput = resp.Usage.PromptTokens
		reply.TokensOutput = resp.Usage.CompletionTokens
	}
	return reply, nil
}

// Ping resolves provider without calling it. Used by readiness and config checks.
func (g *Gateway) Ping(provider string) error {
	if g == nil {
		return fmt.Errorf("ailink gateway not configured")
	}
	g.mu.RLock()
	registry := g.registry
	g.mu.RUnlock()
	_, err := registry.Resolve(provider)
	return err
}

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/llmgate/llmgate/internal/ailink"
	"github.com/llmgate/llmgate/internal/core"
	"github.com/llmgate/llmgate/internal/core/engine"
	"github.com/llmgate/llmgate/internal/core/semaphore"
	apperrors "github.com/llmgate/llmgate/internal/errors"
	"github.com/llmgate/llmgate/internal/history"
	"github.com/llmgate/llmgate/internal/observability"
)

// maxRequestBody caps completion request bodies.
const maxRequestBody = 1 << 20

// GatewayHandler serves completions and provider status.
type GatewayHandler struct {
	Orchestrator *engine.Orchestrator
	Semaphore    *semaphore.Semaphore

	// History is optional; nil disables conversation persistence.
	History history.Store
	Clock   func() time.Time
}

// CompletionResponse is the body of a successful completion.
type CompletionResponse struct {
	*core.CompletionResult
	LatencyMs      int64  `json:"latency_ms"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// AttemptDetail describes one failed candidate in an exhausted chain.
type AttemptDetail struct {
	Provider string                  `json:"provider"`
	Category core.ErrorCategory      `json:"category"`
	Skipped  bool                    `json:"skipped,omitempty"`
	Failure  *ailink.ProviderFailure `json:"failure,omitempty"`
}

// ProvidersResponse lists every configured provider.
type ProvidersResponse struct {
	Providers []core.ProviderReport `json:"providers"`
}

// ConversationResponse returns stored turns.
type ConversationResponse struct {
	ID    string         `json:"id"`
	Turns []history.Turn `json:"turns"`
}

// Complete handles POST /v1/agents/{agent}/completions.
func (h *GatewayHandler) Complete(w http.ResponseWriter, r *http.Request) {
	agent := strings.TrimSpace(chi.URLParam(r, "agent"))
	if agent == "" {
		respondWithError(w, r, apperrors.NewInvalidInputError("agent is required"))
		return
	}

	var req core.CompletionRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "invalid completion request body"))
		return
	}
	if strings.TrimSpace(req.UserPrompt) == "" {
		respondWithError(w, r, apperrors.NewInvalidInputError("user_prompt is required"))
		return
	}
	if req.MaxTokens < 0 {
		respondWithError(w, r, apperrors.NewInvalidInputError("max_tokens must not be negative"))
		return
	}

	result, err := h.Orchestrator.Execute(r.Context(), agent, req)
	if err != nil {
		respondWithError(w, r, completionError(r.Context(), agent, err))
		return
	}

	h.recordTurns(r.Context(), agent, req, result)

	writeJSON(w, http.StatusOK, CompletionResponse{
		CompletionResult: result,
		LatencyMs:        result.Latency.Milliseconds(),
		ConversationID:   req.ConversationID,
	})
}

// recordTurns appends the exchange to the conversation. A history failure
// does not fail the completion.
func (h *GatewayHandler) recordTurns(ctx context.Context, agent string, req core.CompletionRequest, result *core.CompletionResult) {
	if h.History == nil || strings.TrimSpace(req.ConversationID) == "" {
		return
	}
	now := h.now()
	user := history.NewTurn(history.RoleUser, req.UserPrompt, now)
	user.Agent = agent
	assistant := history.NewTurn(history.RoleAssistant, result.Content, now)
	assistant.Agent = agent
	assistant.Provider = result.ProviderUsed

	if err := h.History.Append(ctx, req.ConversationID, user, assistant); err != nil && observability.ServerLogger != nil {
		observability.ServerLogger.Warn("Failed to record conversation turns",
			zap.String("conversation_id", req.ConversationID),
			zap.Error(err))
	}
}

func completionError(ctx context.Context, agent string, err error) error {
	switch {
	case errors.Is(err, engine.ErrUnknownAgent):
		return apperrors.WrapNotFound(ctx, err, "unknown agent: "+agent)
	case errors.Is(err, context.DeadlineExceeded) && !engine.IsExhausted(err):
		return apperrors.WrapTimeout(ctx, err, "completion timed out")
	case errors.Is(err, context.Canceled) && !engine.IsExhausted(err):
		return apperrors.WrapServiceUnavailable(ctx, err, "completion cancelled")
	}

	var exhausted *engine.ExhaustedError
	if !errors.As(err, &exhausted) {
		return apperrors.WrapInternal(ctx, err, "completion failed")
	}

	attempts := make([]AttemptDetail, 0, len(exhausted.Attempts))
	for _, attempt := range exhausted.Attempts {
		attempts = append(attempts, AttemptDetail{
			Provider: attempt.Provider,
			Category: attempt.Category,
			Skipped:  attempt.Skipped,
			Failure:  ailink.DescribeError(attempt.Err),
		})
	}

	envelope := apperrors.WrapServiceUnavailable(ctx, err, "all providers failed for agent "+exhausted.Agent)
	if exhausted.OnlyRateLimited() {
		envelope = apperrors.WrapRateLimited(ctx, err, "all providers are rate limited for agent "+exhausted.Agent)
	}
	return envelope.WithDetails(map[string]interface{}{
		"agent":    exhausted.Agent,
		"attempts": attempts,
	})
}

// Providers handles GET /v1/providers.
func (h *GatewayHandler) Providers(w http.ResponseWriter, r *http.Request) {
	reports := h.Orchestrator.ProviderStatuses()
	if reports == nil {
		reports = []core.ProviderReport{}
	}
	writeJSON(w, http.StatusOK, ProvidersResponse{Providers: reports})
}

// Provider handles GET /v1/providers/{provider}.
func (h *GatewayHandler) Provider(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "provider")
	report, ok := h.Orchestrator.ProviderStatus(name)
	if !ok {
		respondWithError(w, r, apperrors.NewNotFoundError("unknown provider: "+name))
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Concurrency handles GET /v1/concurrency.
func (h *GatewayHandler) Concurrency(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Semaphore.Stats())
}

// Conversation handles GET /v1/conversations/{id}.
func (h *GatewayHandler) Conversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if h.History == nil {
		respondWithError(w, r, apperrors.NewNotFoundError("conversation history is disabled"))
		return
	}
	turns, err := h.History.Get(r.Context(), id)
	if errors.Is(err, history.ErrNotFound) {
		respondWithError(w, r, apperrors.WrapNotFound(r.Context(), err, "conversation not found: "+id))
		return
	}
	if err != nil {
		respondWithError(w, r, apperrors.WrapInternal(r.Context(), err, "failed to read conversation"))
		return
	}
	writeJSON(w, http.StatusOK, ConversationResponse{ID: id, Turns: turns})
}

func (h *GatewayHandler) now() time.Time {
	if h.Clock != nil {
		return h.Clock()
	}
	return time.Now().UTC()
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// Package openai implements driver.Driver on top of the official OpenAI SDK.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/llmgate/llmgate/internal/ailink/driver"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Client calls the chat completions API.
//
// SDK retries are disabled; retries and fallback belong to the orchestrator.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Timeout    time.Duration

	once   sync.Once
	client sdk.Client
}

// NewClient returns a client with defaults applied.
func NewClient(baseURL, apiKey string) *Client {
	url := strings.TrimSpace(baseURL)
	if url == "" {
		url = defaultBaseURL
	}
	return &Client{
		BaseURL: url,
		APIKey:  strings.TrimSpace(apiKey),
	}
}

// Name returns the driver identifier.
func (c *Client) Name() string {
	return "openai"
}

// Complete sends a chat completion request.
func (c *Client) Complete(ctx context.Context, req *driver.Request) (*driver.Response, error) {
	if c == nil {
		return nil, fmt.Errorf("openai client not configured")
	}
	if strings.TrimSpace(c.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	params, err := buildParams(req)
	if err != nil {
		return nil, err
	}

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := c.sdk().Chat.Completions.New(ctx, params)
	duration := time.Since(start)
	if err != nil {
		perr := toProviderError(err)
		entry := driver.TraceEntry{
			Provider:   c.Name(),
			Driver:     c.Name(),
			Endpoint:   strings.TrimRight(c.BaseURL, "/") + "/chat/completions",
			Method:     http.MethodPost,
			Model:      req.Model,
			Error:      err.Error(),
			DurationMs: duration.Milliseconds(),
		}
		if perr != nil {
			entry.StatusCode = perr.StatusCode
			entry.Response = perr.RawResponse
			err = perr
		}
		driver.Trace(entry)
		return nil, fmt.Errorf("openai completion: %w", err)
	}

	driver.Trace(driver.TraceEntry{
		Provider:   c.Name(),
		Driver:     c.Name(),
		Endpoint:   strings.TrimRight(c.BaseURL, "/") + "/chat/completions",
		Method:     http.MethodPost,
		Model:      req.Model,
		StatusCode: http.StatusOK,
		DurationMs: duration.Milliseconds(),
	})
	return toDriverResponse(resp)
}

func (c *Client) sdk() *sdk.Client {
	c.once.Do(func() {
		opts := []option.RequestOption{
			option.WithAPIKey(c.APIKey),
			option.WithBaseURL(c.BaseURL),
			option.WithMaxRetries(0),
		}
		if c.HTTPClient != nil {
			opts = append(opts, option.WithHTTPClient(c.HTTPClient))
		}
		c.client = sdk.NewClient(opts...)
	})
	return &c.client
}

func buildParams(req *driver.Request) (sdk.ChatCompletionNewParams, error) {
	if req == nil {
		return sdk.ChatCompletionNewParams{}, fmt.Errorf("request is required")
	}
	if strings.TrimSpace(req.Model) == "" {
		return sdk.ChatCompletionNewParams{}, fmt.Errorf("model is required")
	}
	if strings.TrimSpace(req.UserPrompt) == "" {
		return sdk.ChatCompletionNewParams{}, fmt.Errorf("user prompt is required")
	}

	messages := make([]sdk.ChatCompletionMessageParamUnion, 0, 2)
	if strings.TrimSpace(req.SystemPrompt) != "" {
		messages = append(messages, sdk.SystemMessage(req.SystemPrompt))
	}
	messages = append(messages, sdk.UserMessage(req.UserPrompt))

	params := sdk.ChatCompletionNewParams{
		Model:    shared.ChatModel(req.Model),
		Messages: messages,
	}
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		params.MaxTokens = sdk.Int(int64(*req.MaxTokens))
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}
	return params, nil
}

func toDriverResponse(resp *sdk.ChatCompletion) (*driver.Response, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return nil, fmt.Errorf("empty response choices")
	}
	choice := resp.Choices[0]
	return &driver.Response{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Model:        resp.Model,
		Usage: &driver.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

func toProviderError(err error) *driver.ProviderError {
	var apiErr *sdk.Error
	if !errors.As(err, &apiErr) || apiErr == nil {
		return nil
	}
	perr := &driver.ProviderError{
		Provider:    "openai",
		StatusCode:  apiErr.StatusCode,
		Message:     strings.TrimSpace(apiErr.Message),
		RawResponse: []byte(apiErr.RawJSON()),
	}
	if perr.Message == "" {
		perr.Message = http.StatusText(apiErr.StatusCode)
	}
	if apiErr.Response != nil {
		perr.RetryAfter = driver.ParseRetryAfter(apiErr.Response.Header)
	}
	return perr
}

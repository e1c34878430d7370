// Package anthropic implements driver.Driver on top of the Anthropic SDK.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/llmgate/llmgate/internal/ailink/driver"
)

const (
	defaultBaseURL = "https://api.anthropic.com"

	// DefaultMaxTokens is sent when the request leaves max_tokens unset;
	// the Messages API requires it.
	DefaultMaxTokens = 1024
)

// Client calls the Messages API.
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
	return "anthropic"
}

// Complete sends a single-turn message request.
func (c *Client) Complete(ctx context.Context, req *driver.Request) (*driver.Response, error) {
	if c == nil {
		return nil, fmt.Errorf("anthropic client not configured")
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

	endpoint := strings.TrimRight(c.BaseURL, "/") + "/v1/messages"
	start := time.Now()
	msg, err := c.sdk().Messages.New(ctx, params)
	duration := time.Since(start)
	if err != nil {
		entry := driver.TraceEntry{
			Provider:   c.Name(),
			Driver:     c.Name(),
			Endpoint:   endpoint,
			Method:     http.MethodPost,
			Model:      req.Model,
			Error:      err.Error(),
			DurationMs: duration.Milliseconds(),
		}
		if perr := toProviderError(err); perr != nil {
			entry.StatusCode = perr.StatusCode
			entry.Response = perr.RawResponse
			err = perr
		}
		driver.Trace(entry)
		return nil, fmt.Errorf("anthropic message: %w", err)
	}

	driver.Trace(driver.TraceEntry{
		Provider:   c.Name(),
		Driver:     c.Name(),
		Endpoint:   endpoint,
		Method:     http.MethodPost,
		Model:      req.Model,
		StatusCode: http.StatusOK,
		DurationMs: duration.Milliseconds(),
	})
	return toDriverResponse(msg)
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

func buildParams(req *driver.Request) (sdk.MessageNewParams, error) {
	if req == nil {
		return sdk.MessageNewParams{}, fmt.Errorf("request is required")
	}
	if strings.TrimSpace(req.Model) == "" {
		return sdk.MessageNewParams{}, fmt.Errorf("model is required")
	}
	if strings.TrimSpace(req.UserPrompt) == "" {
		return sdk.MessageNewParams{}, fmt.Errorf("user prompt is required")
	}

	maxTokens := int64(DefaultMaxTokens)
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		maxTokens = int64(*req.MaxTokens)
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: maxTokens,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(req.UserPrompt)),
		},
	}
	if strings.TrimSpace(req.SystemPrompt) != "" {
		params.System = []sdk.TextBlockParam{{Text: req.SystemPrompt}}
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}
	return params, nil
}

func toDriverResponse(msg *sdk.Message) (*driver.Response, error) {
	if msg == nil {
		return nil, fmt.Errorf("empty response")
	}
	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	input := int(msg.Usage.InputTokens)
	output := int(msg.Usage.OutputTokens)
	return &driver.Response{
		Content:      text.String(),
		FinishReason: string(msg.StopReason),
		Model:        string(msg.Model),
		Usage: &driver.Usage{
			PromptTokens:     input,
			CompletionTokens: output,
			TotalTokens:      input + output,
		},
	}, nil
}

func toProviderError(err error) *driver.ProviderError {
	var apiErr *sdk.Error
	if !errors.As(err, &apiErr) || apiErr == nil {
		return nil
	}
	raw := apiErr.RawJSON()
	perr := &driver.ProviderError{
		Provider:    "anthropic",
		StatusCode:  apiErr.StatusCode,
		Message:     strings.TrimSpace(raw),
		RawResponse: []byte(raw),
	}
	if perr.Message == "" {
		perr.Message = http.StatusText(apiErr.StatusCode)
	}
	if apiErr.Response != nil {
		perr.RetryAfter = driver.ParseRetryAfter(apiErr.Response.Header)
	}
	return perr
}

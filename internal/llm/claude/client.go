// Package claude implements triage.Provider on the Anthropic Messages API.
package claude

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/linnemanlabs/traceback/internal/triage"
)

const defaultTimeout = 120 * time.Second

// Client implements triage.Provider for the Claude API.
type Client struct {
	sdk   anthropic.Client
	model string
}

// Option configures a Client.
type Option func(*[]option.RequestOption)

// WithBaseURL points the client at a different API root, e.g. a gateway or
// a test server.
func WithBaseURL(url string) Option {
	return func(o *[]option.RequestOption) {
		*o = append(*o, option.WithBaseURL(url))
	}
}

// WithMaxRetries sets the SDK retry count for transient failures.
func WithMaxRetries(n int) Option {
	return func(o *[]option.RequestOption) {
		*o = append(*o, option.WithMaxRetries(n))
	}
}

// New creates a Claude client for the given API key and model name.
func New(apiKey, model string, opts ...Option) *Client {
	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithRequestTimeout(defaultTimeout),
	}
	for _, o := range opts {
		o(&reqOpts)
	}
	return &Client{
		sdk:   anthropic.NewClient(reqOpts...),
		model: model,
	}
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// Send issues a single-turn Messages request.
func (c *Client) Send(ctx context.Context, req *triage.LLMRequest) (*triage.LLMResponse, error) {
	msg, err := c.sdk.Messages.New(ctx, toSDKParams(c.model, req))
	if err != nil {
		return nil, fmt.Errorf("claude messages: %w", err)
	}
	return fromSDKResponse(msg), nil
}

func toSDKParams(model string, req *triage.LLMRequest) anthropic.MessageNewParams {
	p := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(req.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		p.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	return p
}

// fromSDKResponse concatenates the text blocks of msg.
func fromSDKResponse(msg *anthropic.Message) *triage.LLMResponse {
	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}

	var stop triage.StopReason
	switch msg.StopReason {
	case anthropic.StopReasonEndTurn:
		stop = triage.StopEnd
	case anthropic.StopReasonMaxTokens:
		stop = triage.StopMaxTokens
	default:
		stop = triage.StopReason(msg.StopReason)
	}

	return &triage.LLMResponse{
		Text:       b.String(),
		StopReason: stop,
		Model:      string(msg.Model),
		Usage: triage.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}
}

// Package openai implements triage.Provider on the OpenAI chat completions API.
package openai

import (
	"context"
	"errors"
	"fmt"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/linnemanlabs/traceback/internal/triage"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gpt-4o-mini"

// temperature for all triage prompts.
const temperature = 0.1

var errNoChoices = errors.New("openai returned no choices")

// Client implements triage.Provider for OpenAI-compatible endpoints.
type Client struct {
	api   *goopenai.Client
	model string
}

// New creates a client. An empty baseURL uses the public OpenAI API; an
// empty model uses DefaultModel.
func New(apiKey, model, baseURL string) *Client {
	conf := goopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		conf.BaseURL = baseURL
	}
	if model == "" {
		model = DefaultModel
	}
	return &Client{
		api:   goopenai.NewClientWithConfig(conf),
		model: model,
	}
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// Send issues a single chat completion.
func (c *Client) Send(ctx context.Context, req *triage.LLMRequest) (*triage.LLMResponse, error) {
	resp, err := c.api.CreateChatCompletion(ctx, toChatRequest(c.model, req))
	if err != nil {
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}
	return fromChatResponse(&resp)
}

func toChatRequest(model string, req *triage.LLMRequest) goopenai.ChatCompletionRequest {
	msgs := make([]goopenai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		msgs = append(msgs, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleSystem, Content: req.System})
	}
	msgs = append(msgs, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleUser, Content: req.Prompt})

	return goopenai.ChatCompletionRequest{
		Model:               model,
		Messages:            msgs,
		Temperature:         temperature,
		MaxCompletionTokens: req.MaxTokens,
	}
}

func fromChatResponse(resp *goopenai.ChatCompletionResponse) (*triage.LLMResponse, error) {
	if len(resp.Choices) == 0 {
		return nil, errNoChoices
	}
	choice := resp.Choices[0]

	var stop triage.StopReason
	switch choice.FinishReason {
	case goopenai.FinishReasonStop:
		stop = triage.StopEnd
	case goopenai.FinishReasonLength:
		stop = triage.StopMaxTokens
	default:
		stop = triage.StopReason(choice.FinishReason)
	}

	return &triage.LLMResponse{
		Text:       choice.Message.Content,
		StopReason: stop,
		Model:      resp.Model,
		Usage: triage.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

package triage

import "context"

// Provider is the interface for any text generation backend.
type Provider interface {
	Send(ctx context.Context, req *LLMRequest) (*LLMResponse, error)
}

// LLMRequest is a single-turn generation request.
type LLMRequest struct {
	MaxTokens int
	System    string
	Prompt    string
}

// LLMResponse is the generated text and its accounting. An empty Text with a
// nil error is a valid, empty generation.
type LLMResponse struct {
	Text       string
	StopReason StopReason
	Usage      Usage
	Model      string
}

// StopReason indicates why the backend stopped generating.
type StopReason string

const (
	StopEnd       StopReason = "end_turn"
	StopMaxTokens StopReason = "max_tokens"
)

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

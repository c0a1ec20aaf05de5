package claude

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/linnemanlabs/traceback/internal/triage"
)

func TestToSDKParams(t *testing.T) {
	t.Parallel()

	p := toSDKParams("claude-test", &triage.LLMRequest{MaxTokens: 256, System: "be brief", Prompt: "what broke?"})

	if p.Model != "claude-test" {
		t.Errorf("model = %q, want claude-test", p.Model)
	}
	if p.MaxTokens != 256 {
		t.Errorf("max tokens = %d, want 256", p.MaxTokens)
	}
	if len(p.System) != 1 || p.System[0].Text != "be brief" {
		t.Errorf("system = %+v", p.System)
	}
	if len(p.Messages) != 1 || p.Messages[0].Role != anthropic.MessageParamRoleUser {
		t.Fatalf("messages = %+v", p.Messages)
	}
	block := p.Messages[0].Content[0]
	if block.OfText == nil || block.OfText.Text != "what broke?" {
		t.Errorf("content = %+v", block)
	}
}

func TestToSDKParams_NoSystem(t *testing.T) {
	t.Parallel()

	p := toSDKParams("m", &triage.LLMRequest{Prompt: "x"})
	if len(p.System) != 0 {
		t.Errorf("system = %+v, want empty", p.System)
	}
}

func TestFromSDKResponse_TextContent(t *testing.T) {
	t.Parallel()

	msg := &anthropic.Message{
		Model: "claude-test",
		Content: []anthropic.ContentBlockUnion{
			{Type: "text", Text: "## Summary\n"},
			{Type: "thinking", Thinking: "hidden"},
			{Type: "text", Text: "late load"},
		},
		StopReason: anthropic.StopReasonEndTurn,
		Usage:      anthropic.Usage{InputTokens: 100, OutputTokens: 50},
	}

	result := fromSDKResponse(msg)

	if result.Text != "## Summary\nlate load" {
		t.Errorf("text = %q", result.Text)
	}
	if result.Model != "claude-test" {
		t.Errorf("model = %q", result.Model)
	}
	if result.Usage.InputTokens != 100 || result.Usage.OutputTokens != 50 {
		t.Errorf("usage = %+v", result.Usage)
	}
}

func TestFromSDKResponse_StopReasons(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		sdk      anthropic.StopReason
		expected triage.StopReason
	}{
		{"end_turn", anthropic.StopReasonEndTurn, triage.StopEnd},
		{"max_tokens", anthropic.StopReasonMaxTokens, triage.StopMaxTokens},
		{"unknown", anthropic.StopReason("refusal"), triage.StopReason("refusal")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			result := fromSDKResponse(&anthropic.Message{StopReason: tt.sdk})
			if result.StopReason != tt.expected {
				t.Errorf("stop reason = %q, want %q", result.StopReason, tt.expected)
			}
		})
	}
}

func TestFromSDKResponse_EmptyContent(t *testing.T) {
	t.Parallel()

	result := fromSDKResponse(&anthropic.Message{StopReason: anthropic.StopReasonEndTurn})
	if result.Text != "" {
		t.Errorf("text = %q, want empty", result.Text)
	}
}

func TestSend_HTTP(t *testing.T) {
	t.Parallel()

	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/v1/messages") {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("X-Api-Key") != "test-key" {
			t.Errorf("x-api-key = %q", r.Header.Get("X-Api-Key"))
		}
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "msg_1", "type": "message", "role": "assistant", "model": "claude-test",
			"content": [{"type": "text", "text": "brief"}],
			"stop_reason": "end_turn", "stop_sequence": null,
			"usage": {"input_tokens": 12, "output_tokens": 3}
		}`)
	}))
	t.Cleanup(srv.Close)

	c := New("test-key", "claude-test", WithBaseURL(srv.URL), WithMaxRetries(0))
	resp, err := c.Send(context.Background(), &triage.LLMRequest{MaxTokens: 64, Prompt: "hello"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.Text != "brief" || resp.StopReason != triage.StopEnd {
		t.Errorf("resp = %+v", resp)
	}
	if resp.Usage.InputTokens != 12 || resp.Usage.OutputTokens != 3 {
		t.Errorf("usage = %+v", resp.Usage)
	}
	if gotBody["model"] != "claude-test" {
		t.Errorf("request model = %v", gotBody["model"])
	}
	if c.Model() != "claude-test" {
		t.Errorf("Model() = %q", c.Model())
	}
}

func TestSend_APIError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"type":"error","error":{"type":"invalid_request_error","message":"bad"}}`)
	}))
	t.Cleanup(srv.Close)

	c := New("k", "m", WithBaseURL(srv.URL), WithMaxRetries(0))
	if _, err := c.Send(context.Background(), &triage.LLMRequest{MaxTokens: 1, Prompt: "x"}); err == nil {
		t.Fatal("expected error on 400")
	}
}

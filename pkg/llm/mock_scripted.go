package llm

import (
	"context"
	"errors"
	"sync"
)

// ScriptedMockProvider is a mock provider that returns a pre-defined sequence
// of responses. Useful for testing the two-call dispatch flow: a decision
// response (possibly carrying a tool call) followed by a synthesis response.
type ScriptedMockProvider struct {
	mu        sync.Mutex
	Responses []*ChatResponse
	Err       error
	// CallCount tracks how many times Chat has been called.
	CallCount int
	// Requests records every request seen, in order.
	Requests []ChatRequest
}

// NewScriptedMockProvider creates a ScriptedMockProvider with the given
// response sequence.
func NewScriptedMockProvider(responses ...*ChatResponse) *ScriptedMockProvider {
	return &ScriptedMockProvider{Responses: responses}
}

// TextResponse builds a plain text response with no tool call.
func TextResponse(content string) *ChatResponse {
	return &ChatResponse{
		Content: content,
		Usage:   Usage{PromptTokens: 10, CompletionTokens: 10, TotalTokens: 20},
	}
}

// ToolCallResponse builds a response proposing a single tool call with the
// given JSON arguments.
func ToolCallResponse(toolName, argsJSON string) *ChatResponse {
	return &ChatResponse{
		ToolCalls: []ToolCall{{
			ID:   "call-1",
			Type: ToolTypeFunction,
			Function: FunctionCall{
				Name:      toolName,
				Arguments: argsJSON,
			},
		}},
		Usage: Usage{PromptTokens: 10, CompletionTokens: 10, TotalTokens: 20},
	}
}

// Chat pops the next scripted response or returns the configured error.
func (s *ScriptedMockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.CallCount++
	s.Requests = append(s.Requests, req)

	if s.Err != nil {
		return nil, s.Err
	}

	if len(s.Responses) == 0 {
		return nil, errors.New("scripted mock: no more responses available")
	}

	resp := s.Responses[0]
	s.Responses = s.Responses[1:]
	return resp, nil
}

// AddResponse appends a response to the queue.
func (s *ScriptedMockProvider) AddResponse(resp *ChatResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Responses = append(s.Responses, resp)
}

// LastRequest returns the most recent request, or nil when none was made.
func (s *ScriptedMockProvider) LastRequest() *ChatRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Requests) == 0 {
		return nil
	}
	req := s.Requests[len(s.Requests)-1]
	return &req
}

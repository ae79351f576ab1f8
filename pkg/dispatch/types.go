// Package dispatch implements the reasoning tier: one dispatch runs a
// tool-decision model call, at most one tool invocation, and a final
// synthesis model call, then returns a well-formed response even when a
// step failed.
package dispatch

import (
	"github.com/google/uuid"
)

// Status classifies the outcome of one dispatch.
type Status string

const (
	// StatusOK means every step the dispatch needed succeeded.
	StatusOK Status = "OK"
	// StatusDegraded means the answer was produced but a non-essential
	// step fell back: the tool payload could not be fully normalized,
	// or the synthesis call failed and the normalized summary stands in.
	StatusDegraded Status = "DEGRADED"
	// StatusFailed means the dispatch could not produce a real answer;
	// the response carries the safe fallback text.
	StatusFailed Status = "FAILED"
)

// Request is one user query to dispatch.
type Request struct {
	// Query is the user's question, passed to tools verbatim.
	Query string `json:"query"`
	// SessionID correlates this dispatch's trace events and is injected
	// into session-reference tool parameters.
	SessionID uuid.UUID `json:"session_id"`
	// SystemPrompt optionally overrides the decision prompt for this
	// dispatch only.
	SystemPrompt string `json:"system_prompt,omitempty"`
}

// ToolOutcome describes the single tool invocation of a dispatch.
type ToolOutcome struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
	Raw       any            `json:"raw,omitempty"`
	Summary   string         `json:"summary"`
	Fields    map[string]any `json:"fields,omitempty"`
	Degraded  bool           `json:"degraded,omitempty"`
}

// Response is the outcome of one dispatch. Always well-formed: a FAILED
// dispatch still carries a safe fallback answer.
type Response struct {
	Answer    string       `json:"answer"`
	SessionID uuid.UUID    `json:"session_id"`
	Status    Status       `json:"status"`
	Tool      *ToolOutcome `json:"tool,omitempty"`
}

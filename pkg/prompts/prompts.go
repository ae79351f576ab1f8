// Package prompts holds the system prompts for the two model calls of a
// dispatch: the tool-decision call and the answer-synthesis call. Defaults
// are compiled in; a YAML file can override either one.
package prompts

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultDecision instructs the model to pick at most one tool. The user
// query must reach the tool verbatim, so the prompt forbids rewriting it.
const DefaultDecision = `You are a dispatch assistant. Analyze the user's question and select the
single most appropriate tool from the tools provided, or answer directly
when no tool applies.

Rules:
- Select at most one tool per question.
- When passing the user's question to a tool, pass it verbatim. Never
  summarize, translate, or rephrase it.
- If the question is a greeting or unrelated to the available tools, do not
  select a tool; answer directly and briefly.`

// DefaultSynthesis turns a tool result into the final user-facing answer.
const DefaultSynthesis = `You are a helpful assistant. Answer the user's question using the tool
result provided in the conversation. Be concise and factual. If the tool
result does not contain the information needed, say so plainly instead of
guessing.`

// Set is a resolved pair of system prompts.
type Set struct {
	Decision  string `yaml:"decision"`
	Synthesis string `yaml:"synthesis"`
}

// Default returns the compiled-in prompt set.
func Default() Set {
	return Set{Decision: DefaultDecision, Synthesis: DefaultSynthesis}
}

// Load reads a prompt set from a YAML file. Missing keys keep their
// defaults; an empty path returns the defaults unchanged.
func Load(path string) (Set, error) {
	set := Default()
	if path == "" {
		return set, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return set, fmt.Errorf("reading prompts file: %w", err)
	}
	var override Set
	if err := yaml.Unmarshal(data, &override); err != nil {
		return set, fmt.Errorf("parsing prompts file %s: %w", path, err)
	}

	if override.Decision != "" {
		set.Decision = override.Decision
	}
	if override.Synthesis != "" {
		set.Synthesis = override.Synthesis
	}
	return set, nil
}

// Package registry maintains the tool catalog loaded from the remote MCP
// tool server. The catalog is an immutable snapshot shared by all concurrent
// dispatches; Reload replaces the whole snapshot atomically instead of
// mutating it in place.
package registry

import (
	"context"
	stderrors "errors"
	"sort"
	"sync/atomic"

	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/FISA5th-AI-Final-Team4/LLMServer/pkg/errors"
	"github.com/FISA5th-AI-Final-Team4/LLMServer/pkg/llm"
	"github.com/FISA5th-AI-Final-Team4/LLMServer/pkg/mcp"
)

// Session-reference flag accepted in a tool parameter's JSON Schema. A
// parameter carrying this flag is always overwritten with the caller's
// session id; name-based heuristics are deliberately not supported.
const (
	sessionRefKey    = "x-session-reference"
	sessionRefKeyAlt = "x_session_reference"
)

// ParameterSpec describes one tool parameter.
type ParameterSpec struct {
	Name             string
	Type             string
	Required         bool
	SessionReference bool
}

// ToolDescriptor describes one tool from the catalog. Immutable after load.
type ToolDescriptor struct {
	Name        string
	Description string
	Parameters  []ParameterSpec

	tool mcpgo.Tool
}

// Parameter returns the spec for the named parameter.
func (d ToolDescriptor) Parameter(name string) (ParameterSpec, bool) {
	for _, p := range d.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return ParameterSpec{}, false
}

// Definition returns the LLM function definition for this tool.
func (d ToolDescriptor) Definition() llm.Tool {
	var params any = d.tool.InputSchema
	if d.tool.RawInputSchema != nil {
		params = d.tool.RawInputSchema
	}
	return llm.Tool{
		Type: llm.ToolTypeFunction,
		Function: llm.FunctionDef{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  params,
		},
	}
}

// Catalog is an immutable snapshot of the tool server's catalog.
type Catalog struct {
	tools map[string]ToolDescriptor
	names []string
}

// Lookup returns the descriptor for a byte-exact tool name match. No fuzzy
// matching: case or whitespace variance is treated as unknown.
func (c *Catalog) Lookup(name string) (ToolDescriptor, bool) {
	if c == nil {
		return ToolDescriptor{}, false
	}
	d, ok := c.tools[name]
	return d, ok
}

// Names returns the sorted tool names.
func (c *Catalog) Names() []string {
	if c == nil {
		return nil
	}
	return append([]string(nil), c.names...)
}

// Len returns the number of tools in the snapshot.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.tools)
}

// Definitions returns LLM function definitions for every tool, in name order.
func (c *Catalog) Definitions() []llm.Tool {
	if c == nil {
		return nil
	}
	defs := make([]llm.Tool, 0, len(c.names))
	for _, name := range c.names {
		defs = append(defs, c.tools[name].Definition())
	}
	return defs
}

// ToolServerClient is the slice of the MCP client the registry needs.
type ToolServerClient interface {
	ListTools(ctx context.Context) ([]mcpgo.Tool, error)
	CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcpgo.CallToolResult, error)
}

// Registry holds the current catalog snapshot and the tool server client.
type Registry struct {
	client   ToolServerClient
	snapshot atomic.Pointer[Catalog]
}

// New creates a Registry around the given tool server client. The catalog is
// empty until Load succeeds.
func New(client ToolServerClient) *Registry {
	return &Registry{client: client}
}

// Load fetches the catalog from the tool server and atomically replaces the
// current snapshot. Returns a REGISTRY_UNAVAILABLE error when the server is
// unreachable or the catalog is malformed; the caller decides backoff.
func (r *Registry) Load(ctx context.Context) error {
	tools, err := r.client.ListTools(ctx)
	if err != nil {
		return errors.New(errors.CodeRegistryUnavailable, "tool catalog fetch failed", err).
			WithRecoverable(true)
	}

	catalog, err := buildCatalog(tools)
	if err != nil {
		return errors.New(errors.CodeRegistryUnavailable, "tool catalog malformed", err).
			WithRecoverable(false)
	}

	r.snapshot.Store(catalog)
	return nil
}

// Catalog returns the current snapshot, or nil when Load never succeeded.
func (r *Registry) Catalog() *Catalog {
	return r.snapshot.Load()
}

// Invoke executes a tool against the tool server. Single attempt, no retry.
// Arguments are validated against the descriptor before the remote call:
// unknown or missing-required arguments are a schema mismatch.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]interface{}) (any, error) {
	catalog := r.Catalog()
	descriptor, ok := catalog.Lookup(name)
	if !ok {
		return nil, errors.New(errors.CodeUnknownTool, "tool not in registry", nil).
			WithContext("tool_name", name).
			WithAttribute("tool.name", name)
	}

	if err := validateArguments(descriptor, args); err != nil {
		return nil, err
	}

	result, err := r.client.CallTool(ctx, name, args)
	if err != nil {
		if stderrors.Is(err, context.DeadlineExceeded) {
			return nil, errors.New(errors.CodeTimeout, "tool invocation timed out", err).
				WithContext("tool_name", name)
		}
		return nil, errors.New(errors.CodeToolFailure, "tool invocation failed", err).
			WithContext("tool_name", name).
			WithAttribute("tool.name", name).
			WithRecoverable(true)
	}

	payload, err := mcp.RawPayload(result)
	if err != nil {
		return nil, errors.New(errors.CodeToolFailure, "tool returned an error result", err).
			WithContext("tool_name", name)
	}
	return payload, nil
}

func validateArguments(descriptor ToolDescriptor, args map[string]interface{}) error {
	for name := range args {
		if _, ok := descriptor.Parameter(name); !ok {
			return errors.New(errors.CodeToolFailure, "argument not in tool schema", nil).
				WithContext("tool_name", descriptor.Name).
				WithContext("argument", name)
		}
	}
	for _, p := range descriptor.Parameters {
		if !p.Required {
			continue
		}
		if _, ok := args[p.Name]; !ok {
			return errors.New(errors.CodeToolFailure, "required argument absent", nil).
				WithContext("tool_name", descriptor.Name).
				WithContext("argument", p.Name)
		}
	}
	return nil
}

func buildCatalog(tools []mcpgo.Tool) (*Catalog, error) {
	catalog := &Catalog{tools: make(map[string]ToolDescriptor, len(tools))}
	for _, tool := range tools {
		if tool.Name == "" {
			return nil, stderrors.New("catalog contains a tool without a name")
		}
		if _, dup := catalog.tools[tool.Name]; dup {
			return nil, stderrors.New("catalog contains duplicate tool name: " + tool.Name)
		}
		catalog.tools[tool.Name] = buildDescriptor(tool)
		catalog.names = append(catalog.names, tool.Name)
	}
	sort.Strings(catalog.names)
	return catalog, nil
}

func buildDescriptor(tool mcpgo.Tool) ToolDescriptor {
	descriptor := ToolDescriptor{
		Name:        tool.Name,
		Description: tool.Description,
		tool:        tool,
	}

	required := make(map[string]bool, len(tool.InputSchema.Required))
	for _, name := range tool.InputSchema.Required {
		required[name] = true
	}

	names := make([]string, 0, len(tool.InputSchema.Properties))
	for name := range tool.InputSchema.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		spec := ParameterSpec{
			Name:     name,
			Required: required[name],
		}
		if prop, ok := tool.InputSchema.Properties[name].(map[string]any); ok {
			if t, ok := prop["type"].(string); ok {
				spec.Type = t
			}
			spec.SessionReference = boolProp(prop, sessionRefKey) || boolProp(prop, sessionRefKeyAlt)
		}
		descriptor.Parameters = append(descriptor.Parameters, spec)
	}
	return descriptor
}

func boolProp(prop map[string]any, key string) bool {
	v, ok := prop[key].(bool)
	return ok && v
}

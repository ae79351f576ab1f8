package dispatch

import (
	"github.com/google/uuid"

	"github.com/FISA5th-AI-Final-Team4/LLMServer/pkg/errors"
	"github.com/FISA5th-AI-Final-Team4/LLMServer/pkg/registry"
)

// injectSession produces the final argument map for a tool invocation from
// the model's proposal. Pure: the proposal map is never mutated.
//
// Every parameter the descriptor flags as a session reference is set to the
// session id, overwriting whatever the model proposed there. After
// injection every required parameter must be present; a gap is a
// MISSING_ARGUMENT error and the tool is not invoked.
func injectSession(descriptor registry.ToolDescriptor, proposed map[string]any, sessionID uuid.UUID) (map[string]any, error) {
	args := make(map[string]any, len(proposed)+1)
	for name, value := range proposed {
		args[name] = value
	}

	for _, p := range descriptor.Parameters {
		if p.SessionReference {
			args[p.Name] = sessionID.String()
		}
	}

	for _, p := range descriptor.Parameters {
		if !p.Required {
			continue
		}
		if _, ok := args[p.Name]; !ok {
			return nil, errors.New(errors.CodeMissingArgument, "required tool argument absent after injection", nil).
				WithContext("tool_name", descriptor.Name).
				WithContext("argument", p.Name)
		}
	}
	return args, nil
}

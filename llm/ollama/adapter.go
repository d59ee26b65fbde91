package ollama

import (
	"github.com/ollama/ollama/api"
	"github.com/samber/lo"

	"github.com/aschepis/llmrelay/llm"
)

// toAPIMessages converts provider-neutral messages to Ollama's message
// format. Ollama has native system and tool roles, so the mapping is direct.
func toAPIMessages(messages []llm.Message) []api.Message {
	return lo.Map(messages, func(msg llm.Message, _ int) api.Message {
		out := api.Message{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
		for _, tc := range msg.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, api.ToolCall{
				Function: api.ToolCallFunction{
					Name:      tc.Name,
					Arguments: api.ToolCallFunctionArguments(tc.Arguments),
				},
			})
		}
		return out
	})
}

// fromToolCalls converts Ollama tool calls back to the neutral form. Ollama
// does not assign call IDs; callers correlate by name.
func fromToolCalls(calls []api.ToolCall) []llm.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	return lo.Map(calls, func(call api.ToolCall, _ int) llm.ToolCall {
		args := map[string]interface{}(call.Function.Arguments)
		if args == nil {
			args = make(map[string]interface{})
		}
		return llm.ToolCall{
			Name:      call.Function.Name,
			Arguments: args,
		}
	})
}

// toAPITools converts tool specs to Ollama's tool format. Property schemas
// are reduced to their type; Ollama ignores richer schema constraints.
func toAPITools(specs []llm.ToolSpec) []api.Tool {
	return lo.Map(specs, func(spec llm.ToolSpec, _ int) api.Tool {
		properties := make(map[string]api.ToolProperty, len(spec.Schema.Properties))
		for name, raw := range spec.Schema.Properties {
			prop := api.ToolProperty{Type: []string{"string"}}
			if propMap, ok := raw.(map[string]interface{}); ok {
				if propType, ok := propMap["type"].(string); ok {
					prop.Type = []string{propType}
				}
				if desc, ok := propMap["description"].(string); ok {
					prop.Description = desc
				}
			}
			properties[name] = prop
		}
		return api.Tool{
			Type: "function",
			Function: api.ToolFunction{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters: api.ToolFunctionParameters{
					Type:       "object",
					Properties: properties,
					Required:   spec.Schema.Required,
				},
			},
		}
	})
}

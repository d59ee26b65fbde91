package openai

import (
	"encoding/json"

	"github.com/samber/lo"
	openai "github.com/sashabaranov/go-openai"

	"github.com/aschepis/llmrelay/llm"
)

// toChatMessages converts provider-neutral messages to OpenAI chat messages.
// Unlike Anthropic, OpenAI has native system and tool roles, so every role
// maps one-to-one.
func toChatMessages(messages []llm.Message) ([]openai.ChatCompletionMessage, error) {
	result := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		converted, err := toChatMessage(msg)
		if err != nil {
			return nil, err
		}
		result = append(result, converted)
	}
	return result, nil
}

func toChatMessage(msg llm.Message) (openai.ChatCompletionMessage, error) {
	out := openai.ChatCompletionMessage{Content: msg.Content}

	switch msg.Role {
	case llm.RoleSystem:
		out.Role = openai.ChatMessageRoleSystem
	case llm.RoleAssistant:
		out.Role = openai.ChatMessageRoleAssistant
		for _, tc := range msg.ToolCalls {
			args, err := json.Marshal(tc.Arguments)
			if err != nil {
				return openai.ChatCompletionMessage{}, llm.NewValidationError(llm.ProviderOpenAI, "tool call arguments are not serializable")
			}
			out.ToolCalls = append(out.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: string(args),
				},
			})
		}
	case llm.RoleTool:
		out.Role = openai.ChatMessageRoleTool
		out.ToolCallID = msg.ToolCallID
	default:
		out.Role = openai.ChatMessageRoleUser
	}
	return out, nil
}

// fromToolCalls converts OpenAI tool calls back to the neutral form,
// tolerating unparseable argument payloads.
func fromToolCalls(calls []openai.ToolCall) ([]llm.ToolCall, error) {
	if len(calls) == 0 {
		return nil, nil
	}
	result := make([]llm.ToolCall, 0, len(calls))
	for _, call := range calls {
		args := make(map[string]interface{})
		if call.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
				args = make(map[string]interface{})
			}
		}
		result = append(result, llm.ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: args,
		})
	}
	return result, nil
}

// toTools converts tool specs to OpenAI function definitions.
func toTools(specs []llm.ToolSpec) []openai.Tool {
	return lo.Map(specs, func(spec llm.ToolSpec, _ int) openai.Tool {
		parameters := map[string]interface{}{
			"type":       "object",
			"properties": spec.Schema.Properties,
		}
		if len(spec.Schema.Required) > 0 {
			parameters["required"] = spec.Schema.Required
		}
		for k, v := range spec.Schema.ExtraFields {
			parameters[k] = v
		}
		return openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  parameters,
			},
		}
	})
}

package anthropic

import (
	"encoding/json"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/samber/lo"

	"github.com/aschepis/llmrelay/llm"
)

// toMessageParams converts provider-neutral messages to Anthropic message
// params. System-role messages are not representable in the messages array;
// their contents are returned separately for the request's system blocks.
// Tool-role messages become tool_result blocks inside a user message, which
// is Anthropic's wire representation of tool output.
func toMessageParams(messages []llm.Message) ([]anthropic.MessageParam, []string) {
	params := make([]anthropic.MessageParam, 0, len(messages))
	var system []string

	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleSystem:
			system = append(system, msg.Content)

		case llm.RoleAssistant:
			blocks := make([]anthropic.ContentBlockParamUnion, 0, 1+len(msg.ToolCalls))
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, tc.Arguments, tc.Name))
			}
			params = append(params, anthropic.NewAssistantMessage(blocks...))

		case llm.RoleTool:
			params = append(params, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false),
			))

		default:
			params = append(params, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	return params, system
}

// fromToolUseBlock converts an Anthropic tool_use block to a ToolCall.
func fromToolUseBlock(block anthropic.ToolUseBlock) llm.ToolCall {
	var args map[string]interface{}
	if block.Input != nil {
		if inputBytes, err := json.Marshal(block.Input); err == nil {
			if err := json.Unmarshal(inputBytes, &args); err != nil {
				args = make(map[string]interface{})
			}
		}
	}
	if args == nil {
		args = make(map[string]interface{})
	}
	return llm.ToolCall{
		ID:        block.ID,
		Name:      block.Name,
		Arguments: args,
	}
}

// toToolUnionParams converts tool specs to Anthropic tool params.
func toToolUnionParams(specs []llm.ToolSpec) []anthropic.ToolUnionParam {
	return lo.Map(specs, func(spec llm.ToolSpec, _ int) anthropic.ToolUnionParam {
		return anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        spec.Name,
				Description: anthropic.String(spec.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Type:        "object",
					Properties:  spec.Schema.Properties,
					Required:    spec.Schema.Required,
					ExtraFields: spec.Schema.ExtraFields,
				},
			},
		}
	})
}

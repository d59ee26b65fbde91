package openai

import (
	"errors"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/aschepis/llmrelay/llm"
)

// chatStream adapts OpenAI's delta stream to llm.Stream. Tool call arguments
// arrive fragmented across deltas and are assembled before being emitted with
// the final chunk.
type chatStream struct {
	stream *openai.ChatCompletionStream

	chunk *llm.Chunk
	tools []pendingTool
	usage *llm.Usage
	err   error
	done  bool
}

type pendingTool struct {
	id   string
	name string
	args strings.Builder
}

func newChatStream(stream *openai.ChatCompletionStream) *chatStream {
	return &chatStream{stream: stream}
}

// Next implements llm.Stream.Next.
func (s *chatStream) Next() bool {
	if s.done || s.err != nil {
		return false
	}

	for {
		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			s.done = true
			s.chunk = &llm.Chunk{
				ToolCalls:    s.finishTools(),
				FinishReason: "stop",
				Usage:        s.usage,
			}
			return true
		}
		if err != nil {
			s.done = true
			s.err = convertError(err)
			return false
		}

		if resp.Usage != nil {
			s.usage = &llm.Usage{
				PromptTokens:     int64(resp.Usage.PromptTokens),
				CompletionTokens: int64(resp.Usage.CompletionTokens),
				TotalTokens:      int64(resp.Usage.TotalTokens),
			}
		}
		if len(resp.Choices) == 0 {
			continue
		}

		choice := resp.Choices[0]
		for _, tc := range choice.Delta.ToolCalls {
			s.accumulateTool(tc)
		}

		if choice.FinishReason != "" {
			s.done = true
			s.chunk = &llm.Chunk{
				ToolCalls:    s.finishTools(),
				FinishReason: finishReason(choice.FinishReason),
				Usage:        s.usage,
			}
			return true
		}
		if choice.Delta.Content != "" {
			s.chunk = &llm.Chunk{Content: choice.Delta.Content}
			return true
		}
	}
}

// accumulateTool merges a tool call delta into the pending set. The index
// field identifies which call a fragment belongs to.
func (s *chatStream) accumulateTool(tc openai.ToolCall) {
	idx := 0
	if tc.Index != nil {
		idx = *tc.Index
	}
	for len(s.tools) <= idx {
		s.tools = append(s.tools, pendingTool{})
	}

	pending := &s.tools[idx]
	if tc.ID != "" {
		pending.id = tc.ID
	}
	if tc.Function.Name != "" {
		pending.name = tc.Function.Name
	}
	pending.args.WriteString(tc.Function.Arguments)
}

func (s *chatStream) finishTools() []llm.ToolCall {
	if len(s.tools) == 0 {
		return nil
	}
	result := make([]llm.ToolCall, 0, len(s.tools))
	for i := range s.tools {
		pending := &s.tools[i]
		call := llm.ToolCall{
			ID:        pending.id,
			Name:      pending.name,
			Arguments: make(map[string]interface{}),
		}
		if pending.args.Len() > 0 {
			calls, _ := fromToolCalls([]openai.ToolCall{{
				ID:       pending.id,
				Function: openai.FunctionCall{Name: pending.name, Arguments: pending.args.String()},
			}})
			if len(calls) == 1 {
				call = calls[0]
			}
		}
		result = append(result, call)
	}
	s.tools = nil
	return result
}

// Chunk implements llm.Stream.Chunk.
func (s *chatStream) Chunk() *llm.Chunk { return s.chunk }

// Err implements llm.Stream.Err.
func (s *chatStream) Err() error { return s.err }

// Close implements llm.Stream.Close.
func (s *chatStream) Close() error {
	s.done = true
	if s.stream != nil {
		return s.stream.Close()
	}
	return nil
}

var _ llm.Stream = (*chatStream)(nil)

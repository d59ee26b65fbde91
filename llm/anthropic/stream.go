package anthropic

import (
	"encoding/json"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/aschepis/llmrelay/llm"
)

// chatStream adapts Anthropic's SSE event stream to llm.Stream, flattening
// the event protocol into text and tool-call chunks.
type chatStream struct {
	stream *ssestream.Stream[anthropic.MessageStreamEventUnion]

	chunk        *llm.Chunk
	pendingTool  *llm.ToolCall
	toolJSON     strings.Builder
	usage        *llm.Usage
	finishReason string
	err          error
	done         bool
}

func newChatStream(stream *ssestream.Stream[anthropic.MessageStreamEventUnion]) *chatStream {
	return &chatStream{stream: stream}
}

// Next implements llm.Stream.Next.
func (s *chatStream) Next() bool {
	if s.done || s.err != nil {
		return false
	}

	for s.stream.Next() {
		event := s.stream.Current()
		switch evt := event.AsAny().(type) {
		case anthropic.ContentBlockStartEvent:
			if block, ok := evt.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
				s.pendingTool = &llm.ToolCall{ID: block.ID, Name: block.Name}
				s.toolJSON.Reset()
			}

		case anthropic.ContentBlockDeltaEvent:
			switch delta := evt.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if delta.Text != "" {
					s.chunk = &llm.Chunk{Content: delta.Text}
					return true
				}
			case anthropic.InputJSONDelta:
				if s.pendingTool != nil {
					s.toolJSON.WriteString(delta.PartialJSON)
				}
			}

		case anthropic.ContentBlockStopEvent:
			if s.pendingTool != nil {
				s.chunk = &llm.Chunk{ToolCalls: []llm.ToolCall{s.finishTool()}}
				return true
			}

		case anthropic.MessageDeltaEvent:
			s.usage = &llm.Usage{
				PromptTokens:     evt.Usage.InputTokens,
				CompletionTokens: evt.Usage.OutputTokens,
				TotalTokens:      evt.Usage.InputTokens + evt.Usage.OutputTokens,
			}
			s.finishReason = string(evt.Delta.StopReason)

		case anthropic.MessageStopEvent:
			finish := s.finishReason
			if finish == "" {
				finish = "stop"
			}
			s.chunk = &llm.Chunk{FinishReason: finish, Usage: s.usage}
			s.done = true
			return true
		}
	}

	s.done = true
	if err := s.stream.Err(); err != nil {
		s.err = convertError(err)
	}
	return false
}

// finishTool parses the accumulated input JSON and clears the pending call.
func (s *chatStream) finishTool() llm.ToolCall {
	tc := *s.pendingTool
	tc.Arguments = make(map[string]interface{})
	if s.toolJSON.Len() > 0 {
		if err := json.Unmarshal([]byte(s.toolJSON.String()), &tc.Arguments); err != nil {
			tc.Arguments = make(map[string]interface{})
		}
	}
	s.pendingTool = nil
	s.toolJSON.Reset()
	return tc
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

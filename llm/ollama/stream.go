package ollama

import (
	"context"

	"github.com/ollama/ollama/api"

	"github.com/aschepis/llmrelay/llm"
)

// chatStream adapts Ollama's push-style callback API to the pull-style
// llm.Stream. A goroutine runs the chat call and feeds chunks through a
// channel; Next blocks on that channel.
type chatStream struct {
	ctx     context.Context
	cancel  context.CancelFunc
	client  *api.Client
	req     *api.ChatRequest
	chunks  chan *llm.Chunk
	result  chan error
	chunk   *llm.Chunk
	err     error
	started bool
	done    bool
}

func newChatStream(ctx context.Context, client *api.Client, req *api.ChatRequest) *chatStream {
	ctx, cancel := context.WithCancel(ctx)
	return &chatStream{
		ctx:    ctx,
		cancel: cancel,
		client: client,
		req:    req,
		chunks: make(chan *llm.Chunk),
		result: make(chan error, 1),
	}
}

func (s *chatStream) run() {
	err := s.client.Chat(s.ctx, s.req, func(resp api.ChatResponse) error {
		chunk := &llm.Chunk{
			Content:   resp.Message.Content,
			ToolCalls: fromToolCalls(resp.Message.ToolCalls),
		}
		if resp.Done {
			chunk.FinishReason = "stop"
			chunk.Usage = &llm.Usage{
				PromptTokens:     int64(resp.PromptEvalCount),
				CompletionTokens: int64(resp.EvalCount),
				TotalTokens:      int64(resp.PromptEvalCount + resp.EvalCount),
			}
		}
		select {
		case s.chunks <- chunk:
			return nil
		case <-s.ctx.Done():
			return s.ctx.Err()
		}
	})
	s.result <- err
	close(s.chunks)
}

// Next implements llm.Stream.Next.
func (s *chatStream) Next() bool {
	if s.done || s.err != nil {
		return false
	}
	if !s.started {
		s.started = true
		go s.run()
	}

	chunk, ok := <-s.chunks
	if !ok {
		s.done = true
		if err := <-s.result; err != nil && s.ctx.Err() == nil {
			s.err = convertError(err)
		}
		return false
	}

	s.chunk = chunk
	if chunk.FinishReason != "" {
		s.done = true
	}
	return true
}

// Chunk implements llm.Stream.Chunk.
func (s *chatStream) Chunk() *llm.Chunk { return s.chunk }

// Err implements llm.Stream.Err.
func (s *chatStream) Err() error { return s.err }

// Close implements llm.Stream.Close.
func (s *chatStream) Close() error {
	s.cancel()
	s.done = true
	return nil
}

var _ llm.Stream = (*chatStream)(nil)

// Package aitest provides a scripted chat model for tests.
package aitest

import (
	"context"
	"strings"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// ChatModel replays canned replies and records every call.
type ChatModel struct {
	mu      sync.Mutex
	replies []string
	err     error
	calls   [][]*schema.Message
	options []*model.Options
}

// NewChatModel returns a model answering with replies in order; the last one repeats.
func NewChatModel(replies ...string) *ChatModel {
	return &ChatModel{replies: replies}
}

// NewFailingChatModel returns a model whose every call fails with err.
func NewFailingChatModel(err error) *ChatModel {
	return &ChatModel{err: err}
}

func (m *ChatModel) Generate(_ context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	content, err := m.next(input, opts)
	if err != nil {
		return nil, err
	}
	return schema.AssistantMessage(content, nil), nil
}

func (m *ChatModel) Stream(_ context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	content, err := m.next(input, opts)
	if err != nil {
		return nil, err
	}

	words := strings.SplitAfter(content, " ")
	chunks := make([]*schema.Message, 0, len(words))
	for _, w := range words {
		if w == "" {
			continue
		}
		chunks = append(chunks, schema.AssistantMessage(w, nil))
	}
	return schema.StreamReaderFromArray(chunks), nil
}

func (m *ChatModel) BindTools(_ []*schema.ToolInfo) error {
	return nil
}

// Calls returns the prompts the model received.
func (m *ChatModel) Calls() [][]*schema.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]*schema.Message(nil), m.calls...)
}

// LastOptions returns the common options of the latest call, or nil.
func (m *ChatModel) LastOptions() *model.Options {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.options) == 0 {
		return nil
	}
	return m.options[len(m.options)-1]
}

func (m *ChatModel) next(input []*schema.Message, opts []model.Option) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, input)
	m.options = append(m.options, model.GetCommonOptions(nil, opts...))
	if m.err != nil {
		return "", m.err
	}
	if len(m.replies) == 0 {
		return "", nil
	}

	reply := m.replies[0]
	if len(m.replies) > 1 {
		m.replies = m.replies[1:]
	}
	return reply, nil
}

// BlockingChatModel never answers on its own; every call waits for ctx to end.
type BlockingChatModel struct{}

// NewBlockingChatModel returns a model that only returns once ctx is done.
func NewBlockingChatModel() *BlockingChatModel {
	return &BlockingChatModel{}
}

func (BlockingChatModel) Generate(ctx context.Context, _ []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (BlockingChatModel) Stream(ctx context.Context, _ []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (BlockingChatModel) BindTools(_ []*schema.ToolInfo) error {
	return nil
}

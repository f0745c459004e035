package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/serenity/backend/internal/analysis/mood"
	"github.com/zhouzirui/serenity/backend/internal/config"
	"github.com/zhouzirui/serenity/backend/internal/model/chat"
)

var (
	ErrEmptyReply      = errors.New("model returned an empty reply")
	ErrStreamDisabled  = errors.New("streaming disabled in configuration")
	ErrModelNotEnabled = errors.New("chat model not configured")
)

// Service wraps the chat model behind a prompt chain.
type Service struct {
	chatModel model.ChatModel
	cfg       config.AIConfig
	chain     compose.Runnable[map[string]any, *schema.Message]
}

// Option tunes a single generation call.
type Option func(*callOptions)

type callOptions struct {
	mood mood.Label
}

// WithMood 将识别出的情绪注入系统提示。
func WithMood(label mood.Label) Option {
	return func(o *callOptions) {
		o.mood = label
	}
}

// NewService creates the chat model from configuration and builds the chain.
func NewService(ctx context.Context, cfg config.AIConfig) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return NewServiceWithModel(ctx, chatModel, cfg)
}

// NewServiceWithModel builds the chain around an existing chat model.
func NewServiceWithModel(ctx context.Context, chatModel model.ChatModel, cfg config.AIConfig) (*Service, error) {
	if chatModel == nil {
		return nil, ErrModelNotEnabled
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Service{
		chatModel: chatModel,
		cfg:       cfg,
		chain:     runnable,
	}, nil
}

// StreamingEnabled 指示是否开启 SSE 流式输出。
func (s *Service) StreamingEnabled() bool {
	return s.cfg.StreamResponse
}

// ChatModel 返回底层的聊天模型，供情绪分类复用。
func (s *Service) ChatModel() model.ChatModel {
	return s.chatModel
}

// Generate returns a cleaned reply for message given prior exchanges.
func (s *Service) Generate(ctx context.Context, message string, history []chat.HistoryEntry, opts ...Option) (string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	response, err := s.chain.Invoke(ctx, s.buildChainInput(message, history, opts), s.modelOptions())
	if err != nil {
		return "", fmt.Errorf("failed to run AI chain: %w", err)
	}
	if response == nil {
		return "", ErrEmptyReply
	}

	reply := CleanReply(response.Content)
	if reply == "" {
		return "", ErrEmptyReply
	}

	log.Printf("[ai] generated response, length=%d", len(reply))
	return reply, nil
}

// Stream streams reply chunks. The caller owns the returned reader; the
// configured timeout covers the whole stream, not only its start.
func (s *Service) Stream(ctx context.Context, message string, history []chat.HistoryEntry, opts ...Option) (*schema.StreamReader[*schema.Message], error) {
	if !s.StreamingEnabled() {
		return nil, ErrStreamDisabled
	}

	ctx, cancel := s.withTimeout(ctx)
	stream, err := s.chain.Stream(ctx, s.buildChainInput(message, history, opts), s.modelOptions())
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to stream AI chain output: %w", err)
	}

	// 转发到新管道，流结束或读取方关闭后再释放超时上下文
	out, writer := schema.Pipe[*schema.Message](8)
	go func() {
		defer cancel()
		defer writer.Close()
		defer stream.Close()

		for {
			chunk, recvErr := stream.Recv()
			if errors.Is(recvErr, io.EOF) {
				return
			}
			if closed := writer.Send(chunk, recvErr); closed || recvErr != nil {
				return
			}
		}
	}()
	return out, nil
}

func (s *Service) buildChainInput(message string, history []chat.HistoryEntry, opts []Option) map[string]any {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}
	return map[string]any{
		"system":  buildSystemPrompt(o.mood),
		"history": buildHistoryMessages(history),
		"query":   message,
	}
}

func (s *Service) modelOptions() compose.Option {
	var opts []model.Option
	if s.cfg.Temperature > 0 {
		opts = append(opts, model.WithTemperature(s.cfg.Temperature))
	}
	if s.cfg.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(s.cfg.MaxTokens))
	}
	return compose.WithChatModelOption(opts...)
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.Timeout)
}
